package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
)

var _ domain.AlertStore = (*FileStore)(nil)

// alertsFile is the on-disk layout.
type alertsFile struct {
	Alerts []domain.Alert `yaml:"alerts"`
}

// FileStore keeps alerts in a YAML file. Writes go to a temp file that is
// renamed over the target, so a crash never leaves a torn file. The
// previous version is kept as <path>.bak.
type FileStore struct {
	path string
	log  *logger.Logger

	mu sync.Mutex
}

// NewFileStore creates a store backed by path. The file need not exist.
func NewFileStore(path string, log *logger.Logger) *FileStore {
	return &FileStore{path: path, log: log}
}

// Load reads the alert file. A missing file is an empty set.
func (s *FileStore) Load(ctx context.Context) ([]domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Debug("alert file %s not found, starting empty", s.path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var f alertsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	s.log.Debug("loaded %d alerts from %s", len(f.Alerts), s.path)
	return f.Alerts, nil
}

// Save atomically replaces the alert file.
func (s *FileStore) Save(ctx context.Context, alerts []domain.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	content, err := yaml.Marshal(alertsFile{Alerts: alerts})
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := atomicWrite(s.path, content); err != nil {
		return err
	}
	s.log.Debug("saved %d alerts to %s", len(alerts), s.path)
	return nil
}

func atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".alerts-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if prev, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", prev, 0o644); err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
