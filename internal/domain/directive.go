// Package domain defines the core types and interfaces for the voice-service client.
// All other packages depend on domain; domain depends on nothing.
package domain

// Protocol namespaces.
const (
	NamespaceSpeechRecognizer   = "SpeechRecognizer"
	NamespaceSpeechSynthesizer  = "SpeechSynthesizer"
	NamespaceAudioPlayer        = "AudioPlayer"
	NamespacePlaybackController = "PlaybackController"
	NamespaceAlerts             = "Alerts"
	NamespaceSpeaker            = "Speaker"
	NamespaceSystem             = "System"
	NamespaceSettings           = "Settings"
)

// Directive names, grouped by namespace.
const (
	// SpeechRecognizer
	DirectiveExpectSpeech = "ExpectSpeech"
	DirectiveStopCapture  = "StopCapture"

	// SpeechSynthesizer
	DirectiveSpeak = "Speak"

	// AudioPlayer
	DirectivePlay       = "Play"
	DirectiveStop       = "Stop"
	DirectiveClearQueue = "ClearQueue"

	// Alerts
	DirectiveSetAlert    = "SetAlert"
	DirectiveDeleteAlert = "DeleteAlert"

	// Speaker
	DirectiveSetVolume    = "SetVolume"
	DirectiveAdjustVolume = "AdjustVolume"
	DirectiveSetMute      = "SetMute"

	// System
	DirectiveResetUserInactivity = "ResetUserInactivity"
)

// Directive is a server-to-client command. It is never mutated after the
// transport hands it over.
type Directive struct {
	Namespace       string
	Name            string
	MessageID       string
	DialogRequestID string

	// Payload is one of the typed payloads below for known directives,
	// or the raw JSON payload bytes for anything else.
	Payload any

	// RawMessage is the directive exactly as received, echoed back in
	// exception reports.
	RawMessage string

	// Attachments holds binary parts referenced by "cid:" URLs.
	Attachments map[string][]byte
}

// Key returns "Namespace.Name".
func (d *Directive) Key() string {
	return d.Namespace + "." + d.Name
}

// Attachment resolves a "cid:" reference against the directive's attachments.
func (d *Directive) Attachment(url string) ([]byte, bool) {
	const prefix = "cid:"
	if len(url) > len(prefix) && url[:len(prefix)] == prefix {
		url = url[len(prefix):]
	}
	data, ok := d.Attachments[url]
	return data, ok
}

// ── Typed payloads ───────────────────────────────────────────────

// SpeakPayload carries synthesized speech for SpeechSynthesizer.Speak.
type SpeakPayload struct {
	URL    string `json:"url"`
	Format string `json:"format"`
	Token  string `json:"token"`
}

// PlayBehavior controls how a Play directive interacts with the queue.
type PlayBehavior string

const (
	PlayBehaviorReplaceAll      PlayBehavior = "REPLACE_ALL"
	PlayBehaviorEnqueue         PlayBehavior = "ENQUEUE"
	PlayBehaviorReplaceEnqueued PlayBehavior = "REPLACE_ENQUEUED"
)

// Stream describes a playable audio stream.
type Stream struct {
	URL                   string `json:"url"`
	StreamFormat          string `json:"streamFormat,omitempty"`
	OffsetInMilliseconds  int64  `json:"offsetInMilliseconds"`
	ExpiryTime            string `json:"expiryTime,omitempty"`
	Token                 string `json:"token"`
	ExpectedPreviousToken string `json:"expectedPreviousToken,omitempty"`
}

// AudioItem wraps a stream for AudioPlayer.Play.
type AudioItem struct {
	AudioItemID string `json:"audioItemId"`
	Stream      Stream `json:"stream"`
}

// PlayPayload is the AudioPlayer.Play payload.
type PlayPayload struct {
	PlayBehavior PlayBehavior `json:"playBehavior"`
	AudioItem    AudioItem    `json:"audioItem"`
}

// ClearBehavior controls AudioPlayer.ClearQueue.
type ClearBehavior string

const (
	ClearBehaviorEnqueued ClearBehavior = "CLEAR_ENQUEUED"
	ClearBehaviorAll      ClearBehavior = "CLEAR_ALL"
)

// ClearQueuePayload is the AudioPlayer.ClearQueue payload.
type ClearQueuePayload struct {
	ClearBehavior ClearBehavior `json:"clearBehavior"`
}

// SetAlertPayload is the Alerts.SetAlert payload.
type SetAlertPayload struct {
	Token         string    `json:"token"`
	Type          AlertType `json:"type"`
	ScheduledTime string    `json:"scheduledTime"`
}

// DeleteAlertPayload is the Alerts.DeleteAlert payload.
type DeleteAlertPayload struct {
	Token string `json:"token"`
}

// VolumePayload is shared by Speaker.SetVolume and Speaker.AdjustVolume.
type VolumePayload struct {
	Volume int64 `json:"volume"`
}

// SetMutePayload is the Speaker.SetMute payload.
type SetMutePayload struct {
	Mute bool `json:"mute"`
}

// ExpectSpeechPayload is the SpeechRecognizer.ExpectSpeech payload.
type ExpectSpeechPayload struct {
	TimeoutInMilliseconds int64 `json:"timeoutInMilliseconds"`
}

// ResetUserInactivityPayload is empty on the wire.
type ResetUserInactivityPayload struct{}
