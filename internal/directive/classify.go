package directive

import "github.com/hammamikhairi/avsclient/internal/domain"

// Class tells which pipeline a directive belongs to.
type Class int

const (
	// Independent directives are handled promptly, even mid-turn.
	Independent Class = iota
	// Dependent directives are serialized against the current turn's
	// speech and playback.
	Dependent
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case Dependent:
		return "dependent"
	case Independent:
		return "independent"
	default:
		return "unknown"
	}
}

// classes covers the full protocol vocabulary. Anything missing is
// independent and rejected by the router as unsupported.
var classes = map[string]Class{
	domain.NamespaceSpeechSynthesizer + "." + domain.DirectiveSpeak:       Dependent,
	domain.NamespaceAudioPlayer + "." + domain.DirectivePlay:              Dependent,
	domain.NamespaceAudioPlayer + "." + domain.DirectiveStop:              Dependent,
	domain.NamespaceAudioPlayer + "." + domain.DirectiveClearQueue:        Dependent,
	domain.NamespaceSpeechRecognizer + "." + domain.DirectiveExpectSpeech: Dependent,

	domain.NamespaceSpeechRecognizer + "." + domain.DirectiveStopCapture: Independent,
	domain.NamespaceAlerts + "." + domain.DirectiveSetAlert:              Independent,
	domain.NamespaceAlerts + "." + domain.DirectiveDeleteAlert:           Independent,
	domain.NamespaceSpeaker + "." + domain.DirectiveSetVolume:            Independent,
	domain.NamespaceSpeaker + "." + domain.DirectiveAdjustVolume:         Independent,
	domain.NamespaceSpeaker + "." + domain.DirectiveSetMute:              Independent,
	domain.NamespaceSystem + "." + domain.DirectiveResetUserInactivity:   Independent,
}

// Classify returns the pipeline for a (namespace, name) pair and whether
// the pair is part of the known vocabulary.
func Classify(namespace, name string) (Class, bool) {
	c, ok := classes[namespace+"."+name]
	if !ok {
		return Independent, false
	}
	return c, true
}
