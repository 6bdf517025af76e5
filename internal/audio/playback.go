package audio

import (
	"sync"
	"time"
)

// playback tracks one track's pause/stop state and position.
type playback struct {
	track Track

	mu      sync.Mutex
	paused  bool
	stopped bool
	started time.Time
	elapsed time.Duration
}

func newPlayback(track Track, offset time.Duration) *playback {
	return &playback{track: track, elapsed: offset}
}

// begin starts playing, or leaves the track parked if paused is set.
func (p *playback) begin(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.paused = true
		return
	}
	p.started = time.Now()
	p.track.Play()
}

func (p *playback) pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused || p.stopped {
		return
	}
	p.track.Pause()
	p.elapsed += time.Since(p.started)
	p.paused = true
}

func (p *playback) resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused || p.stopped {
		return
	}
	p.paused = false
	p.started = time.Now()
	p.track.Play()
}

func (p *playback) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if !p.paused {
		p.elapsed += time.Since(p.started)
	}
	p.stopped = true
	p.track.Pause()
}

func (p *playback) setVolume(v float64) {
	p.track.SetVolume(v)
}

// offset is the playback position.
func (p *playback) offset() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused || p.stopped || p.started.IsZero() {
		return p.elapsed
	}
	return p.elapsed + time.Since(p.started)
}

// wait blocks until the track runs out or stop is called, then releases
// the track. It reports whether playback was stopped.
func (p *playback) wait(poll time.Duration) bool {
	defer p.track.Close()
	for {
		p.mu.Lock()
		stopped := p.stopped
		done := !p.paused && !p.track.IsPlaying()
		p.mu.Unlock()

		if stopped {
			return true
		}
		if done {
			return false
		}
		time.Sleep(poll)
	}
}
