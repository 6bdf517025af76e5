package mic

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
)

// stubMic fails with ErrLineUnavailable for the first `busy` opens.
type stubMic struct {
	mu      sync.Mutex
	busy    int
	opens   []time.Time
	stopped int
}

func (m *stubMic) Open(context.Context, domain.RMSFunc) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens = append(m.opens, time.Now())
	if m.busy < 0 || len(m.opens) <= m.busy {
		return nil, domain.ErrLineUnavailable
	}
	return io.NopCloser(strings.NewReader("pcm")), nil
}

func (m *stubMic) StopCapture() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
}

type stubIPC struct {
	mu   sync.Mutex
	sent []domain.WakeWordCommand
	err  error
}

func (s *stubIPC) SendCommand(_ context.Context, cmd domain.WakeWordCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, cmd)
	return s.err
}

func (s *stubIPC) commands() []domain.WakeWordCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.WakeWordCommand(nil), s.sent...)
}

type detectCounter struct {
	mu sync.Mutex
	n  int
}

func (d *detectCounter) OnWakeWordDetected() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n++
}

func (d *detectCounter) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

const testDelay = 20 * time.Millisecond

func newTestArbitrator(m *stubMic, ipc *stubIPC) (*Arbitrator, *detectCounter) {
	a := New(m, logger.New(logger.LevelOff, nil),
		WithWakeWordEngine(ipc),
		WithReleasePolicy(DefaultReleaseTries, testDelay))
	d := &detectCounter{}
	a.SetDetectedHandler(d)
	return a, d
}

func TestAcquireGivesUpAfterFiveAttempts(t *testing.T) {
	m := &stubMic{busy: -1}
	ipc := &stubIPC{}
	a, _ := newTestArbitrator(m, ipc)

	stream, err := a.Acquire(context.Background(), nil)
	require.Nil(t, stream)
	require.ErrorIs(t, err, domain.ErrLineUnavailable)

	require.Len(t, m.opens, 5)
	for i := 1; i < len(m.opens); i++ {
		assert.GreaterOrEqual(t, m.opens[i].Sub(m.opens[i-1]), testDelay)
	}

	assert.Equal(t, []domain.WakeWordCommand{domain.WakeWordPause, domain.WakeWordResume}, ipc.commands())
	assert.True(t, a.AcceptingWakeWord())
}

func TestAcquireSucceedsOnceEngineReleases(t *testing.T) {
	m := &stubMic{busy: 2}
	ipc := &stubIPC{}
	a, d := newTestArbitrator(m, ipc)

	stream, err := a.Acquire(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, stream)
	assert.Len(t, m.opens, 3)
	assert.Equal(t, []domain.WakeWordCommand{domain.WakeWordPause}, ipc.commands())

	// Gate stays closed while recording.
	assert.False(t, a.AcceptingWakeWord())
	a.OnWakeWordDetected()
	assert.Equal(t, 0, d.count())

	a.Release(context.Background())
	assert.Equal(t, 1, m.stopped)
	assert.Equal(t, []domain.WakeWordCommand{domain.WakeWordPause, domain.WakeWordResume}, ipc.commands())
	assert.True(t, a.AcceptingWakeWord())

	a.OnWakeWordDetected()
	assert.Equal(t, 1, d.count())
}

func TestAcquireWithoutEngineTriesOnce(t *testing.T) {
	m := &stubMic{busy: -1}
	a := New(m, logger.New(logger.LevelOff, nil))

	_, err := a.Acquire(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrLineUnavailable)
	assert.Len(t, m.opens, 1)
	assert.False(t, a.WakeWordEnabled())
}

func TestInitFallsBackToDirectProbe(t *testing.T) {
	m := &stubMic{}
	ipc := &stubIPC{err: errors.New("connection refused")}
	a, _ := newTestArbitrator(m, ipc)

	require.NoError(t, a.Init(context.Background()))

	// Every handshake attempt failed at PAUSE, then one direct probe.
	assert.Len(t, ipc.commands(), DefaultReleaseTries)
	assert.Len(t, m.opens, 1)
	assert.Equal(t, 1, m.stopped)
}

func TestInitPausesAndResumesEngine(t *testing.T) {
	m := &stubMic{}
	ipc := &stubIPC{}
	a, _ := newTestArbitrator(m, ipc)

	require.NoError(t, a.Init(context.Background()))
	assert.Equal(t, []domain.WakeWordCommand{domain.WakeWordPause, domain.WakeWordResume}, ipc.commands())
	assert.Len(t, m.opens, 1)
}
