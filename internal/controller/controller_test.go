package controller

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
	"github.com/hammamikhairi/avsclient/internal/protocol"
	"github.com/hammamikhairi/avsclient/internal/storage"
)

type fakeSender struct {
	mu       sync.Mutex
	events   []*domain.Event
	listener domain.RequestListener
	token    string
}

func (f *fakeSender) SendEvent(_ context.Context, e *domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeSender) SendAudioEvent(ctx context.Context, e *domain.Event, _ io.Reader, l domain.RequestListener) error {
	f.mu.Lock()
	f.listener = l
	f.mu.Unlock()
	return f.SendEvent(ctx, e)
}

func (f *fakeSender) SetAccessToken(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *fakeSender) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Name)
	}
	return out
}

func (f *fakeSender) last(name string) *domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Name == name {
			return f.events[i]
		}
	}
	return nil
}

func (f *fakeSender) requestListener() domain.RequestListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener
}

type fakePlayer struct {
	mu         sync.Mutex
	spoken     []string
	earcons    []domain.Earcon
	interrupts int
	resumes    int
	alarms     int
	alarmStops int
	speaking   bool
	volume     int64
	listeners  []domain.SpeechStateListener
}

func (p *fakePlayer) HandleSpeak(_ context.Context, _ *domain.Directive, sp *domain.SpeakPayload) error {
	p.mu.Lock()
	p.spoken = append(p.spoken, sp.Token)
	p.mu.Unlock()
	return nil
}
func (p *fakePlayer) HandlePlay(context.Context, *domain.Directive, *domain.PlayPayload) error {
	return nil
}
func (p *fakePlayer) HandleStop(context.Context) error { return nil }
func (p *fakePlayer) HandleClearQueue(context.Context, *domain.ClearQueuePayload) error {
	return nil
}

func (p *fakePlayer) HandleSetVolume(_ context.Context, v *domain.VolumePayload) error {
	p.mu.Lock()
	p.volume = v.Volume
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) HandleAdjustVolume(context.Context, *domain.VolumePayload) error { return nil }
func (p *fakePlayer) HandleSetMute(context.Context, *domain.SetMutePayload) error { return nil }

func (p *fakePlayer) InterruptAllOutput() { p.mu.Lock(); p.interrupts++; p.mu.Unlock() }
func (p *fakePlayer) ResumeAllOutput() { p.mu.Lock(); p.resumes++; p.mu.Unlock() }
func (p *fakePlayer) StartAlert() { p.mu.Lock(); p.alarms++; p.mu.Unlock() }
func (p *fakePlayer) StopAlert() { p.mu.Lock(); p.alarmStops++; p.mu.Unlock() }

func (p *fakePlayer) PlayEarcon(e domain.Earcon) {
	p.mu.Lock()
	p.earcons = append(p.earcons, e)
	p.mu.Unlock()
}

func (p *fakePlayer) IsSpeaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

func (p *fakePlayer) IsPlaying() bool { return false }
func (p *fakePlayer) PlaybackState() domain.PlaybackState { return domain.PlaybackState{} }
func (p *fakePlayer) SpeechState() domain.SpeechState { return domain.SpeechState{} }
func (p *fakePlayer) VolumeState() domain.VolumeState { return domain.VolumeState{} }
func (p *fakePlayer) Stop() {}

func (p *fakePlayer) AddSpeechStateListener(l domain.SpeechStateListener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
}

// speechStarted and speechFinished play the part of the audio device
// reporting its speech channel.
func (p *fakePlayer) speechStarted() {
	for _, l := range p.speechListeners() {
		l.OnSpeechStarted()
	}
}

func (p *fakePlayer) speechFinished() {
	for _, l := range p.speechListeners() {
		l.OnSpeechFinished()
	}
}

func (p *fakePlayer) speechListeners() []domain.SpeechStateListener {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.SpeechStateListener(nil), p.listeners...)
}

type playerSnapshot struct {
	spoken     []string
	earcons    []domain.Earcon
	interrupts int
	resumes    int
	alarms     int
	alarmStops int
	volume     int64
}

func (p *fakePlayer) snapshot() playerSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return playerSnapshot{
		spoken:     append([]string(nil), p.spoken...),
		earcons:    append([]domain.Earcon(nil), p.earcons...),
		interrupts: p.interrupts,
		resumes:    p.resumes,
		alarms:     p.alarms,
		alarmStops: p.alarmStops,
		volume:     p.volume,
	}
}

type fakeMic struct {
	mu    sync.Mutex
	err   error
	opens int
	stops int
}

func (m *fakeMic) Open(context.Context, domain.RMSFunc) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.err != nil {
		return nil, m.err
	}
	return io.NopCloser(strings.NewReader("")), nil
}

func (m *fakeMic) StopCapture() {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
}

type outcome struct {
	mu      sync.Mutex
	success int
	errs    []error
}

func (o *outcome) OnRequestSuccess() { o.mu.Lock(); o.success++; o.mu.Unlock() }
func (o *outcome) OnRequestError(err error) { o.mu.Lock(); o.errs = append(o.errs, err); o.mu.Unlock() }

type expectCounter struct {
	mu sync.Mutex
	n  int
}

func (e *expectCounter) OnExpectSpeechDirective() { e.mu.Lock(); e.n++; e.mu.Unlock() }

func (e *expectCounter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.n
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *fakeSender, *fakePlayer, *fakeMic) {
	t.Helper()
	sender := &fakeSender{}
	player := &fakePlayer{}
	m := &fakeMic{}
	n := 0
	opts = append([]Option{WithDialogIDFunc(func() string {
		n++
		return "dialog-" + string(rune('0'+n))
	})}, opts...)
	c := New(sender, player, m, logger.New(logger.LevelOff, io.Discard), opts...)
	return c, sender, player, m
}

func runController(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("controller did not stop")
		}
	})
}

func TestStartRecordingSendsRecognize(t *testing.T) {
	c, sender, player, m := newTestController(t)
	result := &outcome{}

	require.NoError(t, c.StartRecording(nil, result))
	assert.True(t, c.IsRecording())

	e := sender.last(protocol.EventRecognize)
	require.NotNil(t, e)
	assert.Equal(t, "dialog-1", e.DialogRequestID)
	assert.Equal(t, []domain.Earcon{domain.EarconStart}, player.snapshot().earcons)
	assert.Equal(t, 1, player.snapshot().interrupts)

	c.StopRecording()
	assert.False(t, c.IsRecording())
	assert.Equal(t, 1, m.stops)

	sender.requestListener().OnRequestSuccess()
	assert.Equal(t, 1, result.success)

	// Nothing pending and no speech, so the turn ends and media resumes.
	assert.Eventually(t, func() bool { return player.snapshot().resumes == 1 }, time.Second, 5*time.Millisecond)
}

func TestStartRecordingMicrophoneFailure(t *testing.T) {
	c, sender, player, m := newTestController(t)
	m.err = domain.ErrLineUnavailable

	err := c.StartRecording(nil, &outcome{})
	require.ErrorIs(t, err, domain.ErrLineUnavailable)
	assert.False(t, c.IsRecording())
	assert.Nil(t, sender.last(protocol.EventRecognize))
	assert.Equal(t, []domain.Earcon{domain.EarconError}, player.snapshot().earcons)
	assert.Eventually(t, func() bool { return player.snapshot().resumes == 1 }, time.Second, 5*time.Millisecond)
}

func TestRequestErrorPlaysErrorEarcon(t *testing.T) {
	c, sender, player, _ := newTestController(t)
	result := &outcome{}

	require.NoError(t, c.StartRecording(nil, result))
	c.StopRecording()
	sender.requestListener().OnRequestError(errors.New("boom"))

	require.Len(t, result.errs, 1)
	assert.Equal(t, []domain.Earcon{domain.EarconStart, domain.EarconStop, domain.EarconError}, player.snapshot().earcons)
}

func TestEachRecordingMintsDialogID(t *testing.T) {
	c, sender, _, _ := newTestController(t)

	require.NoError(t, c.StartRecording(nil, nil))
	c.StopRecording()
	require.NoError(t, c.StartRecording(nil, nil))
	c.StopRecording()

	e := sender.last(protocol.EventRecognize)
	require.NotNil(t, e)
	assert.Equal(t, "dialog-2", e.DialogRequestID)
}

func TestNewTurnDropsPriorTurnDirectives(t *testing.T) {
	var c *Controller
	n := 0
	c, _, player, _ := newTestController(t, WithDialogIDFunc(func() string {
		n++
		if n == 2 {
			// A directive of the first turn arrives while the second
			// turn is starting.
			require.NoError(t, c.Dispatch(context.Background(), speak("dialog-1", "late")))
		}
		return "dialog-" + string(rune('0'+n))
	}))

	require.NoError(t, c.StartRecording(nil, nil))
	c.StopRecording()
	require.NoError(t, c.Dispatch(context.Background(), speak("dialog-1", "first")))
	assert.Equal(t, 1, c.enqueuer.PendingDependent())

	require.NoError(t, c.StartRecording(nil, nil))
	c.StopRecording()
	assert.Equal(t, 0, c.enqueuer.PendingDependent())

	require.NoError(t, c.Dispatch(context.Background(), speak("dialog-1", "later")))
	assert.Equal(t, 0, c.enqueuer.PendingDependent())

	runController(t, c)
	require.NoError(t, c.Dispatch(context.Background(), speak("dialog-2", "answer")))
	assert.Eventually(t, func() bool {
		return len(player.snapshot().spoken) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"answer"}, player.snapshot().spoken)
}

func TestIndependentDirectivesRunWhileSpeaking(t *testing.T) {
	c, sender, player, _ := newTestController(t)
	runController(t, c)
	assert.Eventually(t, func() bool {
		return sender.last(protocol.EventSynchronizeState) != nil
	}, time.Second, 5*time.Millisecond)

	player.speechStarted()

	require.NoError(t, c.Dispatch(context.Background(), speak("", "s1")))
	require.NoError(t, c.Dispatch(context.Background(), speak("", "s2")))
	require.NoError(t, c.Dispatch(context.Background(), &domain.Directive{
		Namespace: domain.NamespaceSpeaker,
		Name:      domain.DirectiveSetVolume,
		MessageID: "vol",
		Payload:   &domain.VolumePayload{Volume: 40},
	}))

	assert.Eventually(t, func() bool { return player.snapshot().volume == 40 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, player.snapshot().spoken)
	assert.Equal(t, 2, c.enqueuer.PendingDependent())

	player.speechFinished()

	assert.Eventually(t, func() bool {
		return len(player.snapshot().spoken) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"s1", "s2"}, player.snapshot().spoken)
}

func speak(dialogID, token string) *domain.Directive {
	return &domain.Directive{
		Namespace:       domain.NamespaceSpeechSynthesizer,
		Name:            domain.DirectiveSpeak,
		MessageID:       "speak-" + token,
		DialogRequestID: dialogID,
		Payload:         &domain.SpeakPayload{Format: "AUDIO_MPEG", Token: token, URL: "cid:" + token},
	}
}

func TestDispatchRoutesDirectives(t *testing.T) {
	c, sender, player, _ := newTestController(t)
	expect := &expectCounter{}
	c.AddExpectSpeechListener(expect)
	runController(t, c)

	assert.Eventually(t, func() bool {
		return sender.last(protocol.EventSynchronizeState) != nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Dispatch(context.Background(), &domain.Directive{
		Namespace: domain.NamespaceSpeaker,
		Name:      domain.DirectiveSetVolume,
		MessageID: "m1",
		Payload:   &domain.VolumePayload{Volume: 70},
	}))
	require.NoError(t, c.Dispatch(context.Background(), &domain.Directive{
		Namespace: domain.NamespaceSpeechRecognizer,
		Name:      domain.DirectiveExpectSpeech,
		MessageID: "m2",
		Payload:   &domain.ExpectSpeechPayload{TimeoutInMilliseconds: 8000},
	}))
	require.NoError(t, c.Dispatch(context.Background(), &domain.Directive{
		Namespace:  "Navigation",
		Name:       "Go",
		MessageID:  "m3",
		RawMessage: `{"directive":{}}`,
	}))

	assert.Eventually(t, func() bool { return player.snapshot().volume == 70 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return expect.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return sender.last(protocol.EventExceptionEncountered) != nil
	}, time.Second, 5*time.Millisecond)

	assert.Error(t, c.Dispatch(context.Background(), nil))
}

func TestPlaybackActions(t *testing.T) {
	c, sender, _, _ := newTestController(t)

	c.HandlePlaybackAction(domain.PlaybackNext)
	c.HandlePlaybackAction(domain.PlaybackPlay)
	c.HandlePlaybackAction(domain.PlaybackAction(42))

	assert.Equal(t, []string{protocol.EventNextCommandIssued, protocol.EventPlayCommandIssued}, sender.names())
}

func TestPlayStopsSoundingAlert(t *testing.T) {
	store := storage.NewMemoryStore(logger.New(logger.LevelOff, io.Discard), domain.Alert{
		Token:         "wake-up",
		Type:          domain.AlertAlarm,
		ScheduledTime: time.Now().Add(-time.Second),
	})
	c, sender, player, _ := newTestController(t, WithAlertStore(store))
	runController(t, c)

	assert.Eventually(t, func() bool { return player.snapshot().alarms == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return sender.last(protocol.EventAlertForeground) != nil
	}, time.Second, 5*time.Millisecond)

	c.HandlePlaybackAction(domain.PlaybackPause)

	assert.Nil(t, sender.last(protocol.EventPauseCommandIssued))
	assert.Eventually(t, func() bool {
		return sender.last(protocol.EventAlertStopped) != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, player.snapshot().alarmStops)
}

func TestAlertStartedBehindSpeech(t *testing.T) {
	c, sender, player, _ := newTestController(t)
	player.speaking = true

	c.OnAlertStarted("t1")

	assert.Equal(t, []string{protocol.EventAlertStarted, protocol.EventAlertBackground}, sender.names())
}

func TestSetLocale(t *testing.T) {
	c, sender, _, _ := newTestController(t)

	require.ErrorIs(t, c.SetLocale("xx-XX"), domain.ErrUnsupportedLocale)
	require.NoError(t, c.SetLocale("en-US"))
	assert.Empty(t, sender.names())

	require.NoError(t, c.SetLocale("de-DE"))
	assert.Equal(t, "de-DE", c.Locale())
	assert.Equal(t, []string{protocol.EventSettingsUpdated}, sender.names())
}

func TestTransportCallbacks(t *testing.T) {
	c, sender, _, _ := newTestController(t)

	c.OnAccessTokenReceived("tok")
	assert.Equal(t, "tok", sender.token)

	c.OnParsingFailed("{garbage")
	assert.NotNil(t, sender.last(protocol.EventExceptionEncountered))

	c.OnPlaybackStarted("song", 1500*time.Millisecond)
	c.OnSpeechFinished("speech")
	assert.Equal(t, []string{
		protocol.EventExceptionEncountered,
		protocol.EventPlaybackStarted,
		protocol.EventSpeechFinished,
	}, sender.names())
}
