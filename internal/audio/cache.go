package audio

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/hammamikhairi/avsclient/internal/logger"
)

const defaultCacheEntries = 16

// StreamCache keeps fetched media bodies in memory and, when dir is set,
// on disk. Keys are sha256 of the stream URL. The disk layer is always
// consulted so a restart begins warm.
type StreamCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	order   []string // oldest first
	max     int
	dir     string
	log     *logger.Logger
	hits    int64
	misses  int64
}

// NewStreamCache creates a cache. An empty dir keeps it in memory only.
func NewStreamCache(dir string, log *logger.Logger) *StreamCache {
	c := &StreamCache{
		entries: make(map[string][]byte),
		max:     defaultCacheEntries,
		dir:     dir,
		log:     log,
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Error("cache: failed to create cache dir %s: %v", dir, err)
			c.dir = ""
		}
	}
	return c
}

// Get returns the cached body for url.
func (c *StreamCache) Get(url string) ([]byte, bool) {
	key := hashKey(url)

	c.mu.Lock()
	data, ok := c.entries[key]
	if ok {
		c.hits++
	}
	c.mu.Unlock()
	if ok {
		c.log.Debug("cache hit (mem): %s (%d bytes)", url, len(data))
		return data, true
	}

	if c.dir != "" {
		if data, err := os.ReadFile(c.path(key)); err == nil {
			c.mu.Lock()
			c.hits++
			c.storeLocked(key, data)
			c.mu.Unlock()
			c.log.Debug("cache hit (disk): %s (%d bytes)", url, len(data))
			return data, true
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil, false
}

// Put stores body for url.
func (c *StreamCache) Put(url string, body []byte) {
	key := hashKey(url)

	c.mu.Lock()
	c.storeLocked(key, body)
	c.mu.Unlock()

	if c.dir == "" {
		return
	}
	if err := os.WriteFile(c.path(key), body, 0o644); err != nil {
		c.log.Error("cache: disk write failed for %s: %v", url, err)
	}
}

// Stats returns hit and miss counts.
func (c *StreamCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *StreamCache) storeLocked(key string, body []byte) {
	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = body
	for len(c.order) > c.max {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *StreamCache) path(key string) string {
	return filepath.Join(c.dir, key+".bin")
}

func hashKey(url string) string {
	h := sha256.Sum256([]byte(url))
	return hex.EncodeToString(h[:])
}
