// Package controller wires the directive pipelines, speech session,
// alerts, microphone and activity tracking into one client runtime.
package controller

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hammamikhairi/avsclient/internal/activity"
	"github.com/hammamikhairi/avsclient/internal/alert"
	"github.com/hammamikhairi/avsclient/internal/dialog"
	"github.com/hammamikhairi/avsclient/internal/directive"
	"github.com/hammamikhairi/avsclient/internal/dispatch"
	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
	"github.com/hammamikhairi/avsclient/internal/mic"
	"github.com/hammamikhairi/avsclient/internal/protocol"
	"github.com/hammamikhairi/avsclient/internal/speechsession"
	"github.com/hammamikhairi/avsclient/internal/storage"
)

// Option configures the controller.
type Option func(*Controller)

// WithAlertStore sets where alerts are persisted. Defaults to memory.
func WithAlertStore(store domain.AlertStore) Option {
	return func(c *Controller) {
		c.store = store
	}
}

// WithWakeWordEngine attaches the wake-word engine's command channel.
func WithWakeWordEngine(ipc domain.WakeWordIPC) Option {
	return func(c *Controller) {
		c.micOpts = append(c.micOpts, mic.WithWakeWordEngine(ipc))
	}
}

// WithReleasePolicy sets how often and how long to wait for the wake-word
// engine to release the microphone.
func WithReleasePolicy(tries int, delay time.Duration) Option {
	return func(c *Controller) {
		c.micOpts = append(c.micOpts, mic.WithReleasePolicy(tries, delay))
	}
}

// WithInactivityPeriod sets the UserInactivityReport interval.
func WithInactivityPeriod(d time.Duration) Option {
	return func(c *Controller) {
		c.activityOpts = append(c.activityOpts, activity.WithPeriod(d))
	}
}

// WithLocale sets the initial locale.
func WithLocale(locale string) Option {
	return func(c *Controller) {
		c.locale = locale
	}
}

// WithMessageIDFunc overrides event message id generation.
func WithMessageIDFunc(fn func() string) Option {
	return func(c *Controller) {
		c.eventOpts = append(c.eventOpts, protocol.WithMessageIDFunc(fn))
	}
}

// WithDialogIDFunc overrides dialog request id generation.
func WithDialogIDFunc(fn func() string) Option {
	return func(c *Controller) {
		c.dialogOpts = append(c.dialogOpts, dialog.WithIDFunc(fn))
	}
}

// WithAlertOptions passes options to the alert coordinator.
func WithAlertOptions(opts ...alert.Option) Option {
	return func(c *Controller) {
		c.alertOpts = append(c.alertOpts, opts...)
	}
}

// Controller is the client runtime. It depends only on interfaces and is
// fully testable with fakes.
type Controller struct {
	sender domain.EventSender
	player domain.AudioPlayer
	log    *logger.Logger
	store  domain.AlertStore

	micOpts      []mic.Option
	activityOpts []activity.Option
	eventOpts    []protocol.Option
	dialogOpts   []dialog.Option
	alertOpts    []alert.Option

	dialogs     *dialog.Authority
	enqueuer    *directive.Enqueuer
	dependent   *directive.Processor
	independent *directive.Processor
	router      *dispatch.Router
	speech      *speechsession.Coordinator
	alerts      *alert.Coordinator
	mic         *mic.Arbitrator
	activity    *activity.Tracker
	events      *protocol.Factory

	mu           sync.Mutex
	ctx          context.Context
	locale       string
	recording    io.ReadCloser
	expectSpeech []domain.ExpectSpeechListener
	stopCapture  []domain.StopCaptureListener
}

var (
	_ dispatch.ExceptionReporter       = (*Controller)(nil)
	_ domain.AlertEventListener        = (*Controller)(nil)
	_ speechsession.AlertFocusListener = (*Controller)(nil)
	_ activity.Reporter                = (*Controller)(nil)
	_ domain.ExpectSpeechListener      = (*Controller)(nil)
	_ domain.StopCaptureListener       = (*Controller)(nil)
	_ domain.AccessTokenListener       = (*Controller)(nil)
	_ domain.UserActivityListener      = (*Controller)(nil)
)

// New builds the runtime around the transport, the audio player and the
// microphone.
func New(sender domain.EventSender, player domain.AudioPlayer, microphone domain.Microphone, log *logger.Logger, opts ...Option) *Controller {
	c := &Controller{
		sender: sender,
		player: player,
		log:    log,
		ctx:    context.Background(),
		locale: domain.SupportedLocales[0],
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = storage.NewMemoryStore(log.Named("store"))
	}

	c.dialogs = dialog.NewAuthority(c.dialogOpts...)

	dependentQ := directive.NewQueue("dependent")
	independentQ := directive.NewQueue("independent")
	c.enqueuer = directive.NewEnqueuer(c.dialogs, dependentQ, independentQ, log.Named("enqueuer"))

	// The processors dispatch through the router, which needs the speech
	// coordinator, which blocks the dependent processor.
	var router *dispatch.Router
	dispatchFn := func(ctx context.Context, d *domain.Directive) error {
		return router.Dispatch(ctx, d)
	}
	c.dependent = directive.NewProcessor(dependentQ, dispatchFn, log.Named("dependent"), directive.WithErrorHook(c.onDispatchError))
	c.independent = directive.NewProcessor(independentQ, dispatchFn, log.Named("independent"), directive.WithErrorHook(c.onDispatchError))

	c.alerts = alert.New(c.store, c, alertPlayback{player}, log.Named("alerts"), c.alertOpts...)
	c.speech = speechsession.New(c.dependent, player, c.alerts, c, log.Named("speech"))
	router = dispatch.NewRouter(c.dialogs, c.speech, c, log.Named("router"))
	c.router = router

	c.events = protocol.NewFactory(player, c.alerts, c.eventOpts...)
	c.mic = mic.New(microphone, log.Named("mic"), c.micOpts...)
	c.activity = activity.New(c, log.Named("activity"), c.activityOpts...)

	router.Register(domain.NamespaceSpeechRecognizer, dispatch.SpeechRecognizerHandler(c, c))
	router.Register(domain.NamespaceSpeechSynthesizer, dispatch.SpeechSynthesizerHandler(player))
	router.Register(domain.NamespaceAudioPlayer, dispatch.AudioPlayerHandler(player))
	router.Register(domain.NamespaceAlerts, dispatch.AlertsHandler(c.alerts))
	router.Register(domain.NamespaceSpeaker, dispatch.SpeakerHandler(player))
	router.Register(domain.NamespaceSystem, dispatch.SystemHandler(c.activity))

	player.AddSpeechStateListener(c.speech)
	return c
}

// Run loads alerts, synchronizes state with the service and runs the two
// directive processors and the inactivity reporter until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	if err := c.mic.Init(ctx); err != nil {
		c.log.Error("microphone unavailable: %v", err)
	}

	if err := c.alerts.Load(ctx); err != nil {
		c.log.Error("loading alerts: %v", err)
	}
	c.send(ctx, c.events.SynchronizeState())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.dependent.Run(gctx) })
	g.Go(func() error { return c.independent.Run(gctx) })
	g.Go(func() error { return c.activity.Run(gctx) })

	c.log.Info("controller running")
	err := g.Wait()
	c.log.Info("controller stopped")
	return err
}

// Close stops recording, playback and alert timers.
func (c *Controller) Close() {
	c.StopRecording()
	c.alerts.Close()
	c.player.Stop()
}

// Dispatch hands a directive from the transport to the pipelines.
func (c *Controller) Dispatch(ctx context.Context, d *domain.Directive) error {
	if d == nil {
		return fmt.Errorf("dispatch: nil directive")
	}
	c.enqueuer.Enqueue(d)
	return nil
}

// AddExpectSpeechListener registers l for ExpectSpeech directives.
func (c *Controller) AddExpectSpeechListener(l domain.ExpectSpeechListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expectSpeech = append(c.expectSpeech, l)
}

// AddStopCaptureListener registers l for StopCapture directives.
func (c *Controller) AddStopCaptureListener(l domain.StopCaptureListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCapture = append(c.stopCapture, l)
}

// SetWakeWordHandler installs the receiver of accepted wake-word
// detections.
func (c *Controller) SetWakeWordHandler(h domain.WakeWordDetectedHandler) {
	c.mic.SetDetectedHandler(h)
}

// WakeWordDetector is what the wake-word engine's reader should signal.
// Detections are dropped while the microphone is held for recording.
func (c *Controller) WakeWordDetector() domain.WakeWordDetectedHandler {
	return c.mic
}

// AddTurnListener registers l for speech turn start/finish.
func (c *Controller) AddTurnListener(l speechsession.TurnListener) {
	c.speech.AddTurnListener(l)
}

// ── Recording ────────────────────────────────────────────────────

// StartRecording begins a speech turn: media is interrupted, the
// dependent backlog dropped, a new dialog request id minted, the
// microphone acquired and the audio streamed to the service. The
// outcome of the request arrives on listener.
func (c *Controller) StartRecording(rms domain.RMSFunc, listener domain.RequestListener) error {
	ctx := c.baseContext()

	c.activity.RecordActivity()
	c.speech.StartSpeechRequest()
	// The new id must be current before the clear, or a late directive of
	// the previous turn can slip in behind it.
	dialogID := c.dialogs.CreateNewDialogRequestID()
	c.enqueuer.ClearDependent()

	stream, err := c.mic.Acquire(ctx, rms)
	if err != nil {
		c.player.PlayEarcon(domain.EarconError)
		c.speech.FinishedListening()
		c.speech.SpeechRequestProcessingFinished(0)
		return fmt.Errorf("acquiring microphone: %w", err)
	}

	c.mu.Lock()
	c.recording = stream
	c.mu.Unlock()

	c.player.PlayEarcon(domain.EarconStart)
	c.log.Info("recording (dialog=%s)", dialogID)

	req := &speechRequest{c: c, listener: listener}
	if err := c.sender.SendAudioEvent(ctx, c.events.Recognize(dialogID), stream, req); err != nil {
		c.StopRecording()
		c.player.PlayEarcon(domain.EarconError)
		c.speech.SpeechRequestProcessingFinished(0)
		return fmt.Errorf("sending speech request: %w", err)
	}
	return nil
}

// StopRecording ends the capture of the current turn and hands the
// microphone back to the wake-word engine.
func (c *Controller) StopRecording() {
	c.mu.Lock()
	stream := c.recording
	c.recording = nil
	c.mu.Unlock()

	if stream == nil {
		return
	}

	c.mic.Release(c.baseContext())
	c.speech.FinishedListening()
	c.player.PlayEarcon(domain.EarconStop)
	c.log.Info("recording stopped")
}

// IsRecording reports whether a recording is in progress.
func (c *Controller) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording != nil
}

// processingFinished is called when the service completed the turn's
// request. The turn ends once the dependent backlog has drained.
func (c *Controller) processingFinished() {
	c.speech.SpeechRequestProcessingFinished(c.enqueuer.PendingDependent())
}

// speechRequest observes one Recognize request.
type speechRequest struct {
	c        *Controller
	listener domain.RequestListener
}

func (r *speechRequest) OnRequestSuccess() {
	r.c.processingFinished()
	if r.listener != nil {
		r.listener.OnRequestSuccess()
	}
}

func (r *speechRequest) OnRequestError(err error) {
	r.c.log.Error("speech request failed: %v", err)
	r.c.player.PlayEarcon(domain.EarconError)
	r.c.processingFinished()
	if r.listener != nil {
		r.listener.OnRequestError(err)
	}
}

// ── Directive listeners ──────────────────────────────────────────

// OnExpectSpeechDirective keeps media interrupted for the follow-up turn
// and tells the registered listeners to record again.
func (c *Controller) OnExpectSpeechDirective() {
	c.speech.OnExpectSpeechDirective()

	c.mu.Lock()
	listeners := append([]domain.ExpectSpeechListener(nil), c.expectSpeech...)
	c.mu.Unlock()
	for _, l := range listeners {
		l.OnExpectSpeechDirective()
	}
}

// OnStopCaptureDirective tells the registered listeners the service has
// heard enough.
func (c *Controller) OnStopCaptureDirective() {
	c.mu.Lock()
	listeners := append([]domain.StopCaptureListener(nil), c.stopCapture...)
	c.mu.Unlock()
	for _, l := range listeners {
		l.OnStopCaptureDirective()
	}
}

func (c *Controller) onDispatchError(d *domain.Directive, err error) {
	c.log.Error("directive %s failed: %v", d.Key(), err)
}

// ── User actions ─────────────────────────────────────────────────

// HandlePlaybackAction handles a media button. Play and pause silence a
// sounding alert instead of reaching the service.
func (c *Controller) HandlePlaybackAction(action domain.PlaybackAction) {
	c.activity.RecordActivity()

	switch action {
	case domain.PlaybackPlay, domain.PlaybackPause:
		if c.alerts.HasActiveAlerts() {
			c.log.Info("%s stops the sounding alert", action)
			c.alerts.StopActiveAlerts()
			return
		}
	}

	e := c.events.PlaybackCommand(action)
	if e == nil {
		c.log.Warn("unknown playback action %d", int(action))
		return
	}
	c.send(c.baseContext(), e)
}

// StopAlerts silences every sounding alert.
func (c *Controller) StopAlerts() {
	c.activity.RecordActivity()
	c.alerts.StopActiveAlerts()
}

// OnUserActivity records a user interaction.
func (c *Controller) OnUserActivity() {
	c.activity.RecordActivity()
}

// OnAccessTokenReceived hands a refreshed bearer token to the transport.
func (c *Controller) OnAccessTokenReceived(token string) {
	c.sender.SetAccessToken(token)
	c.log.Debug("access token updated")
}

// SetLocale switches the service locale.
func (c *Controller) SetLocale(locale string) error {
	if !domain.IsSupportedLocale(locale) {
		return fmt.Errorf("locale %q: %w", locale, domain.ErrUnsupportedLocale)
	}

	c.mu.Lock()
	changed := c.locale != locale
	c.locale = locale
	c.mu.Unlock()

	if !changed {
		return nil
	}
	c.log.Info("locale set to %s", locale)
	return c.sender.SendEvent(c.baseContext(), c.events.SettingsUpdated(locale))
}

// Locale returns the current locale.
func (c *Controller) Locale() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locale
}

// OnParsingFailed reports a service message the transport could not parse.
func (c *Controller) OnParsingFailed(raw string) {
	c.ReportException(c.baseContext(), raw, domain.ExceptionUnexpectedInformation,
		"Failed to parse message from the service")
}

// ── Status ───────────────────────────────────────────────────────

// Alerts exposes the alert state for status displays.
func (c *Controller) Alerts() domain.AlertsState {
	return c.alerts.State()
}

// Speaking reports whether the speech session is in SPEAKING.
func (c *Controller) Speaking() bool {
	return c.speech.State() == speechsession.Speaking
}

// ── Outbound events ──────────────────────────────────────────────

// ReportException sends System.ExceptionEncountered.
func (c *Controller) ReportException(ctx context.Context, raw string, t domain.ExceptionType, message string) {
	c.log.Warn("reporting %s: %s", t, message)
	c.send(ctx, c.events.ExceptionEncountered(raw, t, message))
}

// ReportInactivity sends System.UserInactivityReport.
func (c *Controller) ReportInactivity(ctx context.Context, inactive time.Duration) error {
	return c.sender.SendEvent(ctx, c.events.UserInactivityReport(inactive))
}

// OnAlertStarted reports the alert and whether it sounds in the
// foreground or behind speech.
func (c *Controller) OnAlertStarted(token string) {
	ctx := c.baseContext()
	c.send(ctx, c.events.AlertStarted(token))
	if c.player.IsSpeaking() {
		c.send(ctx, c.events.AlertEnteredBackground(token))
	} else {
		c.send(ctx, c.events.AlertEnteredForeground(token))
	}
}

func (c *Controller) OnAlertStopped(token string) {
	c.send(c.baseContext(), c.events.AlertStopped(token))
}

func (c *Controller) OnAlertSet(token string, success bool) {
	c.send(c.baseContext(), c.events.SetAlert(token, success))
}

func (c *Controller) OnAlertDelete(token string, success bool) {
	c.send(c.baseContext(), c.events.DeleteAlert(token, success))
}

func (c *Controller) OnAlertEnteredForeground(token string) {
	c.send(c.baseContext(), c.events.AlertEnteredForeground(token))
}

func (c *Controller) OnAlertEnteredBackground(token string) {
	c.send(c.baseContext(), c.events.AlertEnteredBackground(token))
}

// Player transitions, reported by the audio device.

func (c *Controller) OnSpeechStarted(token string) {
	c.send(c.baseContext(), c.events.SpeechStarted(token))
}

func (c *Controller) OnSpeechFinished(token string) {
	c.send(c.baseContext(), c.events.SpeechFinished(token))
}

func (c *Controller) OnPlaybackStarted(token string, offset time.Duration) {
	c.send(c.baseContext(), c.events.Playback(protocol.EventPlaybackStarted, token, offset))
}

func (c *Controller) OnPlaybackFinished(token string, offset time.Duration) {
	c.send(c.baseContext(), c.events.Playback(protocol.EventPlaybackFinished, token, offset))
}

func (c *Controller) OnPlaybackStopped(token string, offset time.Duration) {
	c.send(c.baseContext(), c.events.Playback(protocol.EventPlaybackStopped, token, offset))
}

func (c *Controller) OnPlaybackFailed(token string, err error) {
	c.send(c.baseContext(), c.events.PlaybackFailed(token, err))
}

func (c *Controller) OnVolumeChanged(state domain.VolumeState) {
	c.send(c.baseContext(), c.events.VolumeChanged(state))
}

func (c *Controller) OnMuteChanged(state domain.VolumeState) {
	c.send(c.baseContext(), c.events.MuteChanged(state))
}

// send delivers e, logging failures.
func (c *Controller) send(ctx context.Context, e *domain.Event) {
	if err := c.sender.SendEvent(ctx, e); err != nil {
		c.log.Error("sending %s: %v", e.Key(), err)
	}
}

func (c *Controller) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// alertPlayback maps alert start/stop onto the player's single alarm.
type alertPlayback struct {
	player domain.AudioPlayer
}

func (a alertPlayback) StartAlert(string) { a.player.StartAlert() }
func (a alertPlayback) StopAlert(string) { a.player.StopAlert() }
