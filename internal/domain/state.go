package domain

import "time"

// PlayerActivity is the state reported for the audio and speech players.
type PlayerActivity string

const (
	ActivityIdle           PlayerActivity = "IDLE"
	ActivityPlaying        PlayerActivity = "PLAYING"
	ActivityPaused         PlayerActivity = "PAUSED"
	ActivityBufferUnderrun PlayerActivity = "BUFFER_UNDERRUN"
	ActivityFinished       PlayerActivity = "FINISHED"
	ActivityStopped        PlayerActivity = "STOPPED"
)

// PlaybackState is the AudioPlayer context snapshot.
type PlaybackState struct {
	Token                string         `json:"token"`
	OffsetInMilliseconds int64          `json:"offsetInMilliseconds"`
	PlayerActivity       PlayerActivity `json:"playerActivity"`
}

// SpeechState is the SpeechSynthesizer context snapshot.
type SpeechState struct {
	Token                string         `json:"token"`
	OffsetInMilliseconds int64          `json:"offsetInMilliseconds"`
	PlayerActivity       PlayerActivity `json:"playerActivity"`
}

// VolumeState is the Speaker context snapshot.
type VolumeState struct {
	Volume int64 `json:"volume"`
	Muted  bool  `json:"muted"`
}

// AlertRef is how an alert appears in the Alerts context.
type AlertRef struct {
	Token         string    `json:"token"`
	Type          AlertType `json:"type"`
	ScheduledTime string    `json:"scheduledTime"`
}

// AlertsState is the Alerts context snapshot.
type AlertsState struct {
	AllAlerts    []AlertRef `json:"allAlerts"`
	ActiveAlerts []AlertRef `json:"activeAlerts"`
}

// AlertType classifies an alert.
type AlertType string

const (
	AlertTimer AlertType = "TIMER"
	AlertAlarm AlertType = "ALARM"
)

// Alert is a scheduled timer or alarm, keyed by its server token.
type Alert struct {
	Token         string    `yaml:"token" json:"token"`
	Type          AlertType `yaml:"type" json:"type"`
	ScheduledTime time.Time `yaml:"scheduled_time" json:"scheduledTime"`
}

// Ref converts the alert to its context representation.
func (a Alert) Ref() AlertRef {
	return AlertRef{
		Token:         a.Token,
		Type:          a.Type,
		ScheduledTime: a.ScheduledTime.UTC().Format(time.RFC3339),
	}
}

// PlaybackAction is a user-initiated media control.
type PlaybackAction int

const (
	PlaybackPlay PlaybackAction = iota
	PlaybackPause
	PlaybackPrevious
	PlaybackNext
)

// String returns a human-readable playback action.
func (a PlaybackAction) String() string {
	switch a {
	case PlaybackPlay:
		return "play"
	case PlaybackPause:
		return "pause"
	case PlaybackPrevious:
		return "previous"
	case PlaybackNext:
		return "next"
	default:
		return "unknown"
	}
}

// WakeWordCommand is sent to the wake-word engine over its command channel.
type WakeWordCommand int

// Values match the wake-word agent's wire protocol.
const (
	WakeWordDisconnect WakeWordCommand = 1
	WakeWordDetected   WakeWordCommand = 2
	WakeWordConfirm    WakeWordCommand = 3
	WakeWordPause      WakeWordCommand = 4
	WakeWordResume     WakeWordCommand = 5
)

// String returns the command name.
func (c WakeWordCommand) String() string {
	switch c {
	case WakeWordDisconnect:
		return "disconnect"
	case WakeWordDetected:
		return "wake_word_detected"
	case WakeWordConfirm:
		return "confirm"
	case WakeWordPause:
		return "pause_engine"
	case WakeWordResume:
		return "resume_engine"
	default:
		return "unknown"
	}
}

// Event is a client-to-server message. The protocol package turns it into
// the wire envelope; Context is attached for events that require it.
type Event struct {
	Namespace       string
	Name            string
	MessageID       string
	DialogRequestID string
	Payload         any
	Context         []ContextItem
}

// Key returns "Namespace.Name".
func (e *Event) Key() string {
	return e.Namespace + "." + e.Name
}

// ContextItem is one state entry in an event's context block.
type ContextItem struct {
	Namespace string
	Name      string
	Payload   any
}

// SupportedLocales lists the locales the service accepts in
// Settings.SettingsUpdated.
var SupportedLocales = []string{"en-US", "en-GB", "de-DE"}

// IsSupportedLocale reports whether locale is in SupportedLocales.
func IsSupportedLocale(locale string) bool {
	for _, l := range SupportedLocales {
		if l == locale {
			return true
		}
	}
	return false
}
