package domain

import (
	"context"
	"io"
)

// RequestListener receives the asynchronous outcome of an event that
// streams audio (a speech turn).
type RequestListener interface {
	OnRequestSuccess()
	OnRequestError(err error)
}

// RMSFunc receives the microphone input level (0-100) while recording.
type RMSFunc func(rms int)

// EventSender carries client events to the service. Implementations can be
// websocket, HTTP/2 or in-memory.
type EventSender interface {
	SendEvent(ctx context.Context, event *Event) error
	// SendAudioEvent starts streaming audio alongside the event. It returns
	// once the request is under way; the outcome arrives on listener.
	SendAudioEvent(ctx context.Context, event *Event, audio io.Reader, listener RequestListener) error
	SetAccessToken(token string)
}

// SpeechStateListener is told when synthesized speech starts and stops.
type SpeechStateListener interface {
	OnSpeechStarted()
	OnSpeechFinished()
}

// AudioPlayer executes speech and media directives and reports player state
// for event context. Long-running playback must not block the handler call.
type AudioPlayer interface {
	HandleSpeak(ctx context.Context, d *Directive, payload *SpeakPayload) error
	HandlePlay(ctx context.Context, d *Directive, payload *PlayPayload) error
	HandleStop(ctx context.Context) error
	HandleClearQueue(ctx context.Context, payload *ClearQueuePayload) error
	HandleSetVolume(ctx context.Context, payload *VolumePayload) error
	HandleAdjustVolume(ctx context.Context, payload *VolumePayload) error
	HandleSetMute(ctx context.Context, payload *SetMutePayload) error

	// InterruptAllOutput pauses media while the user talks to the service;
	// ResumeAllOutput undoes it.
	InterruptAllOutput()
	ResumeAllOutput()

	StartAlert()
	StopAlert()
	PlayEarcon(e Earcon)

	IsSpeaking() bool
	IsPlaying() bool
	PlaybackState() PlaybackState
	SpeechState() SpeechState
	VolumeState() VolumeState

	AddSpeechStateListener(l SpeechStateListener)
	Stop()
}

// Earcon is a short local cue sound.
type Earcon int

const (
	EarconStart Earcon = iota
	EarconStop
	EarconError
)

// String returns the earcon name.
func (e Earcon) String() string {
	switch e {
	case EarconStart:
		return "start"
	case EarconStop:
		return "stop"
	case EarconError:
		return "error"
	default:
		return "unknown"
	}
}

// AlertStore persists the alert set. Implementations can be in-memory,
// YAML files, or any other backend.
type AlertStore interface {
	Load(ctx context.Context) ([]Alert, error)
	Save(ctx context.Context, alerts []Alert) error
}

// AlertEventListener is told about alert lifecycle transitions.
type AlertEventListener interface {
	OnAlertStarted(token string)
	OnAlertStopped(token string)
	OnAlertSet(token string, success bool)
	OnAlertDelete(token string, success bool)
}

// AlertHandler drives local alert playback.
type AlertHandler interface {
	StartAlert(token string)
	StopAlert(token string)
}

// WakeWordIPC is the command channel of the wake-word engine.
type WakeWordIPC interface {
	SendCommand(ctx context.Context, cmd WakeWordCommand) error
}

// WakeWordDetectedHandler is told when the wake word is heard.
type WakeWordDetectedHandler interface {
	OnWakeWordDetected()
}

// Microphone acquires the capture device. Open fails with
// ErrLineUnavailable while another process holds the device.
type Microphone interface {
	Open(ctx context.Context, rms RMSFunc) (io.ReadCloser, error)
	StopCapture()
}

// ExpectSpeechListener is told when the service asks for more speech.
type ExpectSpeechListener interface {
	OnExpectSpeechDirective()
}

// StopCaptureListener is told when the service has heard enough.
type StopCaptureListener interface {
	OnStopCaptureDirective()
}

// AccessTokenListener receives refreshed bearer tokens.
type AccessTokenListener interface {
	OnAccessTokenReceived(token string)
}

// UserActivityListener is told about user-initiated actions.
type UserActivityListener interface {
	OnUserActivity()
}
