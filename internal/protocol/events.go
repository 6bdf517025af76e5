package protocol

import (
	"time"

	"github.com/google/uuid"

	"github.com/hammamikhairi/avsclient/internal/domain"
)

// Event names.
const (
	EventRecognize            = "Recognize"
	EventSynchronizeState     = "SynchronizeState"
	EventExceptionEncountered = "ExceptionEncountered"
	EventUserInactivityReport = "UserInactivityReport"
	EventSettingsUpdated      = "SettingsUpdated"

	EventPlayCommandIssued     = "PlayCommandIssued"
	EventPauseCommandIssued    = "PauseCommandIssued"
	EventNextCommandIssued     = "NextCommandIssued"
	EventPreviousCommandIssued = "PreviousCommandIssued"

	EventSetAlertSucceeded    = "SetAlertSucceeded"
	EventSetAlertFailed       = "SetAlertFailed"
	EventDeleteAlertSucceeded = "DeleteAlertSucceeded"
	EventDeleteAlertFailed    = "DeleteAlertFailed"
	EventAlertStarted         = "AlertStarted"
	EventAlertStopped         = "AlertStopped"
	EventAlertForeground      = "AlertEnteredForeground"
	EventAlertBackground      = "AlertEnteredBackground"

	EventSpeechStarted  = "SpeechStarted"
	EventSpeechFinished = "SpeechFinished"

	EventPlaybackStarted  = "PlaybackStarted"
	EventPlaybackFinished = "PlaybackFinished"
	EventPlaybackStopped  = "PlaybackStopped"
	EventPlaybackFailed   = "PlaybackFailed"

	EventVolumeChanged = "VolumeChanged"
	EventMuteChanged   = "MuteChanged"
)

// Recognize parameters for 16 kHz mono linear PCM from a close-talk mic.
const (
	RecognizeProfile = "CLOSE_TALK"
	RecognizeFormat  = "AUDIO_L16_RATE_16000_CHANNELS_1"
)

// PlayerState supplies the audio, speech and volume context.
type PlayerState interface {
	PlaybackState() domain.PlaybackState
	SpeechState() domain.SpeechState
	VolumeState() domain.VolumeState
}

// AlertState supplies the alerts context.
type AlertState interface {
	State() domain.AlertsState
}

// Option configures the Factory.
type Option func(*Factory)

// WithMessageIDFunc replaces the message id generator.
func WithMessageIDFunc(fn func() string) Option {
	return func(f *Factory) {
		f.newID = fn
	}
}

// Factory builds outbound events. Events that the service needs device
// state for carry a context block snapshotted at build time.
type Factory struct {
	player PlayerState
	alerts AlertState
	newID  func() string
}

// NewFactory creates an event factory. Either state source may be set
// later with SetStateSources when construction order requires it.
func NewFactory(player PlayerState, alerts AlertState, opts ...Option) *Factory {
	f := &Factory{
		player: player,
		alerts: alerts,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetStateSources replaces the context providers.
func (f *Factory) SetStateSources(player PlayerState, alerts AlertState) {
	f.player = player
	f.alerts = alerts
}

// Context returns the current device state as a context block.
func (f *Factory) Context() []domain.ContextItem {
	var items []domain.ContextItem
	if f.player != nil {
		items = append(items,
			domain.ContextItem{Namespace: domain.NamespaceAudioPlayer, Name: "PlaybackState", Payload: f.player.PlaybackState()},
			domain.ContextItem{Namespace: domain.NamespaceSpeechSynthesizer, Name: "SpeechState", Payload: f.player.SpeechState()},
		)
	}
	if f.alerts != nil {
		items = append(items, domain.ContextItem{Namespace: domain.NamespaceAlerts, Name: "AlertsState", Payload: f.alerts.State()})
	}
	if f.player != nil {
		items = append(items, domain.ContextItem{Namespace: domain.NamespaceSpeaker, Name: "VolumeState", Payload: f.player.VolumeState()})
	}
	return items
}

func (f *Factory) event(namespace, name string, payload any) *domain.Event {
	return &domain.Event{
		Namespace: namespace,
		Name:      name,
		MessageID: f.newID(),
		Payload:   payload,
	}
}

func (f *Factory) withContext(e *domain.Event) *domain.Event {
	e.Context = f.Context()
	return e
}

type tokenPayload struct {
	Token string `json:"token"`
}

// Recognize starts a speech turn. Audio follows as the event's stream.
func (f *Factory) Recognize(dialogRequestID string) *domain.Event {
	e := f.event(domain.NamespaceSpeechRecognizer, EventRecognize, struct {
		Profile string `json:"profile"`
		Format  string `json:"format"`
	}{RecognizeProfile, RecognizeFormat})
	e.DialogRequestID = dialogRequestID
	return f.withContext(e)
}

// SynchronizeState reports the full device state.
func (f *Factory) SynchronizeState() *domain.Event {
	return f.withContext(f.event(domain.NamespaceSystem, EventSynchronizeState, nil))
}

// ExceptionEncountered reports a directive the device could not handle.
func (f *Factory) ExceptionEncountered(unparsed string, t domain.ExceptionType, message string) *domain.Event {
	type errorInfo struct {
		Type    domain.ExceptionType `json:"type"`
		Message string               `json:"message"`
	}
	return f.withContext(f.event(domain.NamespaceSystem, EventExceptionEncountered, struct {
		UnparsedDirective string    `json:"unparsedDirective"`
		Error             errorInfo `json:"error"`
	}{unparsed, errorInfo{t, message}}))
}

// UserInactivityReport reports whole seconds since the last user action.
func (f *Factory) UserInactivityReport(inactive time.Duration) *domain.Event {
	return f.event(domain.NamespaceSystem, EventUserInactivityReport, struct {
		InactiveTimeInSeconds int64 `json:"inactiveTimeInSeconds"`
	}{int64(inactive / time.Second)})
}

// SettingsUpdated reports a locale change.
func (f *Factory) SettingsUpdated(locale string) *domain.Event {
	type setting struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	return f.event(domain.NamespaceSettings, EventSettingsUpdated, struct {
		Settings []setting `json:"settings"`
	}{[]setting{{Key: "locale", Value: locale}}})
}

// PlaybackCommand reports a user media-control button press.
func (f *Factory) PlaybackCommand(action domain.PlaybackAction) *domain.Event {
	var name string
	switch action {
	case domain.PlaybackPlay:
		name = EventPlayCommandIssued
	case domain.PlaybackPause:
		name = EventPauseCommandIssued
	case domain.PlaybackNext:
		name = EventNextCommandIssued
	case domain.PlaybackPrevious:
		name = EventPreviousCommandIssued
	default:
		return nil
	}
	return f.withContext(f.event(domain.NamespacePlaybackController, name, nil))
}

// SetAlert acknowledges a SetAlert directive.
func (f *Factory) SetAlert(token string, success bool) *domain.Event {
	name := EventSetAlertSucceeded
	if !success {
		name = EventSetAlertFailed
	}
	return f.event(domain.NamespaceAlerts, name, tokenPayload{token})
}

// DeleteAlert acknowledges a DeleteAlert directive.
func (f *Factory) DeleteAlert(token string, success bool) *domain.Event {
	name := EventDeleteAlertSucceeded
	if !success {
		name = EventDeleteAlertFailed
	}
	return f.event(domain.NamespaceAlerts, name, tokenPayload{token})
}

// AlertStarted reports that an alert began sounding.
func (f *Factory) AlertStarted(token string) *domain.Event {
	return f.event(domain.NamespaceAlerts, EventAlertStarted, tokenPayload{token})
}

// AlertStopped reports that an alert stopped sounding.
func (f *Factory) AlertStopped(token string) *domain.Event {
	return f.event(domain.NamespaceAlerts, EventAlertStopped, tokenPayload{token})
}

// AlertEnteredForeground reports that an alert is audible at full focus.
func (f *Factory) AlertEnteredForeground(token string) *domain.Event {
	return f.event(domain.NamespaceAlerts, EventAlertForeground, tokenPayload{token})
}

// AlertEnteredBackground reports that an alert was ducked behind speech.
func (f *Factory) AlertEnteredBackground(token string) *domain.Event {
	return f.event(domain.NamespaceAlerts, EventAlertBackground, tokenPayload{token})
}

// SpeechStarted reports that a Speak directive began playing.
func (f *Factory) SpeechStarted(token string) *domain.Event {
	return f.event(domain.NamespaceSpeechSynthesizer, EventSpeechStarted, tokenPayload{token})
}

// SpeechFinished reports that a Speak directive finished playing.
func (f *Factory) SpeechFinished(token string) *domain.Event {
	return f.event(domain.NamespaceSpeechSynthesizer, EventSpeechFinished, tokenPayload{token})
}

// Playback reports an AudioPlayer lifecycle transition (PlaybackStarted,
// PlaybackFinished, PlaybackStopped).
func (f *Factory) Playback(name, token string, offset time.Duration) *domain.Event {
	return f.event(domain.NamespaceAudioPlayer, name, struct {
		Token                string `json:"token"`
		OffsetInMilliseconds int64  `json:"offsetInMilliseconds"`
	}{token, offset.Milliseconds()})
}

// PlaybackFailed reports a stream that could not be played.
func (f *Factory) PlaybackFailed(token string, err error) *domain.Event {
	type errorInfo struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	return f.event(domain.NamespaceAudioPlayer, EventPlaybackFailed, struct {
		Token string    `json:"token"`
		Error errorInfo `json:"error"`
	}{token, errorInfo{"MEDIA_ERROR_UNKNOWN", err.Error()}})
}

// VolumeChanged reports a new speaker volume.
func (f *Factory) VolumeChanged(state domain.VolumeState) *domain.Event {
	return f.event(domain.NamespaceSpeaker, EventVolumeChanged, state)
}

// MuteChanged reports a new mute setting.
func (f *Factory) MuteChanged(state domain.VolumeState) *domain.Event {
	return f.event(domain.NamespaceSpeaker, EventMuteChanged, state)
}
