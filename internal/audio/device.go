package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
)

// maxStreamBytes caps a fetched media body.
const maxStreamBytes = 64 << 20

// Listener is told about playback transitions so they can be reported to
// the service.
type Listener interface {
	OnSpeechStarted(token string)
	OnSpeechFinished(token string)
	OnPlaybackStarted(token string, offset time.Duration)
	OnPlaybackFinished(token string, offset time.Duration)
	OnPlaybackStopped(token string, offset time.Duration)
	OnPlaybackFailed(token string, err error)
	OnVolumeChanged(state domain.VolumeState)
	OnMuteChanged(state domain.VolumeState)
}

type nopListener struct{}

func (nopListener) OnSpeechStarted(string) {}
func (nopListener) OnSpeechFinished(string) {}
func (nopListener) OnPlaybackStarted(string, time.Duration) {}
func (nopListener) OnPlaybackFinished(string, time.Duration) {}
func (nopListener) OnPlaybackStopped(string, time.Duration) {}
func (nopListener) OnPlaybackFailed(string, error) {}
func (nopListener) OnVolumeChanged(domain.VolumeState) {}
func (nopListener) OnMuteChanged(domain.VolumeState) {}

// DeviceOption configures the Device.
type DeviceOption func(*Device)

// WithHTTPClient sets the client used to fetch remote media streams.
func WithHTTPClient(c *http.Client) DeviceOption {
	return func(d *Device) {
		d.client = c
	}
}

// WithPollInterval sets how often playback completion is checked.
func WithPollInterval(interval time.Duration) DeviceOption {
	return func(d *Device) {
		d.poll = interval
	}
}

// WithStreamCache keeps fetched remote streams for replays.
func WithStreamCache(c *StreamCache) DeviceOption {
	return func(d *Device) {
		d.cache = c
	}
}

// WithVolume sets the initial speaker volume (0-100).
func WithVolume(v int64) DeviceOption {
	return func(d *Device) {
		d.volume = clampVolume(v)
	}
}

type queuedStream struct {
	stream domain.Stream
	data   []byte // resolved attachment, nil for remote streams
}

// Device executes speech, media, speaker and alert playback on one output.
// Speech and media are separate channels; media is paused while the user
// is talking to the service.
type Device struct {
	out    Output
	client *http.Client
	cache  *StreamCache
	log    *logger.Logger
	poll   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener Listener
	speechLs []domain.SpeechStateListener
	volume   int64
	muted    bool

	speech         *playback
	speechToken    string
	speechActivity domain.PlayerActivity
	speechOffset   time.Duration

	media         *playback
	mediaToken    string
	mediaActivity domain.PlayerActivity
	mediaOffset   time.Duration
	mediaRunning  bool
	queue         []queuedStream
	interrupted   bool

	alarm chan struct{}
}

var _ domain.AudioPlayer = (*Device)(nil)

// NewDevice creates a player on out.
func NewDevice(out Output, log *logger.Logger, opts ...DeviceOption) *Device {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Device{
		out:    out,
		log:    log,
		poll:   10 * time.Millisecond,
		ctx:    ctx,
		cancel: cancel,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
		listener:       nopListener{},
		volume:         50,
		speechActivity: domain.ActivityIdle,
		mediaActivity:  domain.ActivityIdle,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetListener installs the receiver of playback transitions.
func (d *Device) SetListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l == nil {
		l = nopListener{}
	}
	d.listener = l
}

// AddSpeechStateListener registers l for speech start/finish.
func (d *Device) AddSpeechStateListener(l domain.SpeechStateListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speechLs = append(d.speechLs, l)
}

// ── Speech ───────────────────────────────────────────────────────

// HandleSpeak starts playing the speech attachment. Speech start is
// signalled before returning so the dependent queue blocks behind it;
// playback itself runs in the background.
func (d *Device) HandleSpeak(ctx context.Context, dir *domain.Directive, p *domain.SpeakPayload) error {
	data, ok := dir.Attachment(p.URL)
	if !ok {
		return domain.NewDirectiveError(domain.ExceptionUnexpectedInformation, "speech audio %s not attached", p.URL)
	}

	pcm, err := decode(data, p.Format)
	if err != nil {
		d.log.Warn("speech %s (%s) not playable, skipping audio: %v", p.Token, p.Format, err)
		pcm = nil
	}

	d.mu.Lock()
	if prev := d.speech; prev != nil {
		prev.stop()
	}
	pb := newPlayback(d.out.NewTrack(pcm), 0)
	pb.setVolume(d.gainLocked())
	pb.begin(false)
	d.speech = pb
	d.speechToken = p.Token
	d.speechActivity = domain.ActivityPlaying
	d.speechOffset = 0
	l := d.listener
	ls := append([]domain.SpeechStateListener(nil), d.speechLs...)
	d.mu.Unlock()

	d.log.Debug("speaking %s (%s)", p.Token, duration(pcm))
	l.OnSpeechStarted(p.Token)
	for _, sl := range ls {
		sl.OnSpeechStarted()
	}

	go d.finishSpeech(pb, p.Token)
	return nil
}

func (d *Device) finishSpeech(pb *playback, token string) {
	stopped := pb.wait(d.poll)

	d.mu.Lock()
	current := d.speech == pb
	if current {
		d.speech = nil
		d.speechOffset = pb.offset()
		if stopped {
			d.speechActivity = domain.ActivityStopped
		} else {
			d.speechActivity = domain.ActivityFinished
		}
	}
	l := d.listener
	ls := append([]domain.SpeechStateListener(nil), d.speechLs...)
	d.mu.Unlock()

	d.log.Debug("speech %s finished (stopped=%t)", token, stopped)
	l.OnSpeechFinished(token)
	// A superseded speech must not end the session of its replacement.
	if !current {
		return
	}
	for _, sl := range ls {
		sl.OnSpeechFinished()
	}
}

// IsSpeaking reports whether speech is playing.
func (d *Device) IsSpeaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speech != nil
}

// SpeechState is the SpeechSynthesizer context.
func (d *Device) SpeechState() domain.SpeechState {
	d.mu.Lock()
	defer d.mu.Unlock()
	offset := d.speechOffset
	if d.speech != nil {
		offset = d.speech.offset()
	}
	return domain.SpeechState{
		Token:                d.speechToken,
		OffsetInMilliseconds: offset.Milliseconds(),
		PlayerActivity:       d.speechActivity,
	}
}

// ── Media ────────────────────────────────────────────────────────

// HandlePlay queues a stream according to its play behavior.
func (d *Device) HandlePlay(ctx context.Context, dir *domain.Directive, p *domain.PlayPayload) error {
	item := queuedStream{stream: p.AudioItem.Stream}
	if strings.HasPrefix(item.stream.URL, "cid:") {
		data, ok := dir.Attachment(item.stream.URL)
		if !ok {
			return domain.NewDirectiveError(domain.ExceptionUnexpectedInformation, "stream %s not attached", item.stream.URL)
		}
		item.data = data
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch p.PlayBehavior {
	case domain.PlayBehaviorReplaceAll:
		d.queue = d.queue[:0]
		if d.media != nil {
			d.media.stop()
		}
	case domain.PlayBehaviorReplaceEnqueued:
		d.queue = d.queue[:0]
	case domain.PlayBehaviorEnqueue, "":
	default:
		return domain.NewDirectiveError(domain.ExceptionUnexpectedInformation, "unknown play behavior %q", p.PlayBehavior)
	}

	d.queue = append(d.queue, item)
	d.log.Debug("queued stream %s (behavior=%s, queue_len=%d)", item.stream.Token, p.PlayBehavior, len(d.queue))

	if !d.mediaRunning {
		d.mediaRunning = true
		go d.runMedia()
	}
	return nil
}

// runMedia plays queued streams one after another until the queue is empty.
func (d *Device) runMedia() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mediaRunning = false
			if d.mediaActivity == domain.ActivityPlaying {
				d.mediaActivity = domain.ActivityFinished
			}
			d.mu.Unlock()
			return
		}
		item := d.queue[0]
		d.queue = d.queue[1:]
		l := d.listener
		d.mu.Unlock()

		token := item.stream.Token
		start := time.Duration(item.stream.OffsetInMilliseconds) * time.Millisecond

		pcm, err := d.load(item)
		if err != nil {
			d.log.Warn("stream %s failed: %v", token, err)
			d.mu.Lock()
			d.mediaToken = token
			d.mediaActivity = domain.ActivityStopped
			d.mediaOffset = 0
			d.mu.Unlock()
			l.OnPlaybackFailed(token, err)
			continue
		}
		pcm = skip(pcm, start)

		d.mu.Lock()
		pb := newPlayback(d.out.NewTrack(pcm), start)
		pb.setVolume(d.gainLocked())
		pb.begin(d.interrupted)
		d.media = pb
		d.mediaToken = token
		if d.interrupted {
			d.mediaActivity = domain.ActivityPaused
		} else {
			d.mediaActivity = domain.ActivityPlaying
		}
		d.mu.Unlock()

		d.log.Debug("playing stream %s from %s", token, start)
		l.OnPlaybackStarted(token, start)

		stopped := pb.wait(d.poll)
		offset := pb.offset()

		d.mu.Lock()
		d.media = nil
		d.mediaOffset = offset
		if stopped {
			d.mediaActivity = domain.ActivityStopped
		}
		d.mu.Unlock()

		if stopped {
			l.OnPlaybackStopped(token, offset)
		} else {
			l.OnPlaybackFinished(token, offset)
		}
	}
}

// load resolves a stream to PCM, fetching remote URLs.
func (d *Device) load(item queuedStream) ([]byte, error) {
	if item.data != nil {
		return decode(item.data, item.stream.StreamFormat)
	}

	url := item.stream.URL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("stream url %q: %w", url, ErrUnsupportedFormat)
	}
	if d.cache != nil {
		if body, ok := d.cache.Get(url); ok {
			return decode(body, item.stream.StreamFormat)
		}
	}

	req, err := http.NewRequestWithContext(d.ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building stream request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching stream: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStreamBytes))
	if err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	if d.cache != nil {
		d.cache.Put(url, body)
	}
	return decode(body, item.stream.StreamFormat)
}

// skip drops the first offset worth of samples.
func skip(pcm []byte, offset time.Duration) []byte {
	if offset <= 0 {
		return pcm
	}
	n := int(offset.Seconds()*SampleRate) * bytesPerSample * ChannelCount
	if n >= len(pcm) {
		return nil
	}
	return pcm[n:]
}

// HandleStop stops media playback and drops the queue.
func (d *Device) HandleStop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = d.queue[:0]
	if d.media != nil {
		d.media.stop()
	}
	return nil
}

// HandleClearQueue drops queued streams, and with CLEAR_ALL the playing
// one too.
func (d *Device) HandleClearQueue(ctx context.Context, p *domain.ClearQueuePayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch p.ClearBehavior {
	case domain.ClearBehaviorEnqueued:
		d.queue = d.queue[:0]
	case domain.ClearBehaviorAll:
		d.queue = d.queue[:0]
		if d.media != nil {
			d.media.stop()
		}
	default:
		return domain.NewDirectiveError(domain.ExceptionUnexpectedInformation, "unknown clear behavior %q", p.ClearBehavior)
	}
	return nil
}

// IsPlaying reports whether media is audible.
func (d *Device) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.media != nil && d.mediaActivity == domain.ActivityPlaying
}

// PlaybackState is the AudioPlayer context.
func (d *Device) PlaybackState() domain.PlaybackState {
	d.mu.Lock()
	defer d.mu.Unlock()
	offset := d.mediaOffset
	if d.media != nil {
		offset = d.media.offset()
	}
	return domain.PlaybackState{
		Token:                d.mediaToken,
		OffsetInMilliseconds: offset.Milliseconds(),
		PlayerActivity:       d.mediaActivity,
	}
}

// InterruptAllOutput cuts speech and pauses media.
func (d *Device) InterruptAllOutput() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.interrupted = true
	if d.speech != nil {
		d.speech.stop()
	}
	if d.media != nil {
		d.media.pause()
		d.mediaActivity = domain.ActivityPaused
	}
	d.log.Debug("output interrupted")
}

// ResumeAllOutput resumes media paused by InterruptAllOutput.
func (d *Device) ResumeAllOutput() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.interrupted {
		return
	}
	d.interrupted = false
	if d.media != nil {
		d.media.resume()
		d.mediaActivity = domain.ActivityPlaying
	}
	d.log.Debug("output resumed")
}

// ── Speaker ──────────────────────────────────────────────────────

// HandleSetVolume sets the absolute volume.
func (d *Device) HandleSetVolume(ctx context.Context, p *domain.VolumePayload) error {
	d.setVolume(func(int64) int64 { return p.Volume })
	return nil
}

// HandleAdjustVolume changes the volume by a relative amount.
func (d *Device) HandleAdjustVolume(ctx context.Context, p *domain.VolumePayload) error {
	d.setVolume(func(cur int64) int64 { return cur + p.Volume })
	return nil
}

func (d *Device) setVolume(next func(cur int64) int64) {
	d.mu.Lock()
	d.volume = clampVolume(next(d.volume))
	d.applyGainLocked()
	state := d.volumeLocked()
	l := d.listener
	d.mu.Unlock()

	d.log.Info("volume set to %d", state.Volume)
	l.OnVolumeChanged(state)
}

// HandleSetMute mutes or unmutes the speaker.
func (d *Device) HandleSetMute(ctx context.Context, p *domain.SetMutePayload) error {
	d.mu.Lock()
	d.muted = p.Mute
	d.applyGainLocked()
	state := d.volumeLocked()
	l := d.listener
	d.mu.Unlock()

	d.log.Info("mute set to %t", state.Muted)
	l.OnMuteChanged(state)
	return nil
}

// VolumeState is the Speaker context.
func (d *Device) VolumeState() domain.VolumeState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volumeLocked()
}

func (d *Device) volumeLocked() domain.VolumeState {
	return domain.VolumeState{Volume: d.volume, Muted: d.muted}
}

func (d *Device) gainLocked() float64 {
	if d.muted {
		return 0
	}
	return float64(d.volume) / 100
}

func (d *Device) applyGainLocked() {
	g := d.gainLocked()
	if d.speech != nil {
		d.speech.setVolume(g)
	}
	if d.media != nil {
		d.media.setVolume(g)
	}
}

func clampVolume(v int64) int64 {
	return max(0, min(100, v))
}

// ── Alerts and cues ──────────────────────────────────────────────

// StartAlert loops the alarm sound until StopAlert. Calling it while the
// alarm is already sounding does nothing.
func (d *Device) StartAlert() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.alarm != nil {
		return
	}
	stop := make(chan struct{})
	d.alarm = stop
	go d.soundAlarm(stop)
	d.log.Debug("alarm started")
}

// StopAlert silences the alarm.
func (d *Device) StopAlert() {
	d.mu.Lock()
	stop := d.alarm
	d.alarm = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		d.log.Debug("alarm stopped")
	}
}

func (d *Device) soundAlarm(stop <-chan struct{}) {
	pcm := alarmPCM()
	for {
		track := d.out.NewTrack(pcm)
		track.Play()
		for track.IsPlaying() {
			select {
			case <-stop:
				track.Pause()
				track.Close()
				return
			case <-time.After(d.poll):
			}
		}
		track.Close()
	}
}

// PlayEarcon plays a short cue in the background.
func (d *Device) PlayEarcon(e domain.Earcon) {
	var pcm []byte
	switch e {
	case domain.EarconStart:
		pcm = earconPCM(880, 120*time.Millisecond)
	case domain.EarconStop:
		pcm = earconPCM(660, 120*time.Millisecond)
	case domain.EarconError:
		pcm = earconPCM(220, 300*time.Millisecond)
	default:
		return
	}

	d.mu.Lock()
	gain := d.gainLocked()
	d.mu.Unlock()

	go func() {
		pb := newPlayback(d.out.NewTrack(pcm), 0)
		pb.setVolume(gain)
		pb.begin(false)
		pb.wait(d.poll)
	}()
}

// Stop halts all output and background fetches.
func (d *Device) Stop() {
	d.mu.Lock()
	d.queue = d.queue[:0]
	if d.speech != nil {
		d.speech.stop()
	}
	if d.media != nil {
		d.media.stop()
	}
	d.mu.Unlock()

	d.StopAlert()
	d.cancel()
}
