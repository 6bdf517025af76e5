package dispatch

import (
	"context"
	"time"

	"github.com/hammamikhairi/avsclient/internal/domain"
)

// AlertManager is the part of the alert coordinator the Alerts handler uses.
type AlertManager interface {
	SetAlert(token string, typ domain.AlertType, at time.Time) error
	DeleteAlert(token string) error
}

// SpeechRecognizerHandler handles ExpectSpeech and StopCapture.
func SpeechRecognizerHandler(expect domain.ExpectSpeechListener, stop domain.StopCaptureListener) Handler {
	return HandlerFunc(func(_ context.Context, d *domain.Directive) error {
		switch d.Name {
		case domain.DirectiveExpectSpeech:
			expect.OnExpectSpeechDirective()
			return nil
		case domain.DirectiveStopCapture:
			stop.OnStopCaptureDirective()
			return nil
		default:
			return unsupported(d)
		}
	})
}

// SpeechSynthesizerHandler hands Speak to the player.
func SpeechSynthesizerHandler(player domain.AudioPlayer) Handler {
	return HandlerFunc(func(ctx context.Context, d *domain.Directive) error {
		if d.Name != domain.DirectiveSpeak {
			return unsupported(d)
		}
		p, err := payload[domain.SpeakPayload](d)
		if err != nil {
			return err
		}
		return player.HandleSpeak(ctx, d, p)
	})
}

// AudioPlayerHandler handles Play, Stop and ClearQueue.
func AudioPlayerHandler(player domain.AudioPlayer) Handler {
	return HandlerFunc(func(ctx context.Context, d *domain.Directive) error {
		switch d.Name {
		case domain.DirectivePlay:
			p, err := payload[domain.PlayPayload](d)
			if err != nil {
				return err
			}
			return player.HandlePlay(ctx, d, p)
		case domain.DirectiveStop:
			return player.HandleStop(ctx)
		case domain.DirectiveClearQueue:
			p, err := payload[domain.ClearQueuePayload](d)
			if err != nil {
				return err
			}
			return player.HandleClearQueue(ctx, p)
		default:
			return unsupported(d)
		}
	})
}

// AlertsHandler reconciles SetAlert and DeleteAlert against the alert set.
func AlertsHandler(alerts AlertManager) Handler {
	return HandlerFunc(func(_ context.Context, d *domain.Directive) error {
		switch d.Name {
		case domain.DirectiveSetAlert:
			p, err := payload[domain.SetAlertPayload](d)
			if err != nil {
				return err
			}
			at, err := time.Parse(time.RFC3339, p.ScheduledTime)
			if err != nil {
				return domain.NewDirectiveError(domain.ExceptionUnexpectedInformation,
					"invalid scheduledTime %q", p.ScheduledTime)
			}
			return alerts.SetAlert(p.Token, p.Type, at)
		case domain.DirectiveDeleteAlert:
			p, err := payload[domain.DeleteAlertPayload](d)
			if err != nil {
				return err
			}
			return alerts.DeleteAlert(p.Token)
		default:
			return unsupported(d)
		}
	})
}

// SpeakerHandler handles SetVolume, AdjustVolume and SetMute.
func SpeakerHandler(player domain.AudioPlayer) Handler {
	return HandlerFunc(func(ctx context.Context, d *domain.Directive) error {
		switch d.Name {
		case domain.DirectiveSetVolume, domain.DirectiveAdjustVolume:
			p, err := payload[domain.VolumePayload](d)
			if err != nil {
				return err
			}
			if d.Name == domain.DirectiveSetVolume {
				return player.HandleSetVolume(ctx, p)
			}
			return player.HandleAdjustVolume(ctx, p)
		case domain.DirectiveSetMute:
			p, err := payload[domain.SetMutePayload](d)
			if err != nil {
				return err
			}
			return player.HandleSetMute(ctx, p)
		default:
			return unsupported(d)
		}
	})
}

// SystemHandler treats ResetUserInactivity as user activity.
func SystemHandler(activity domain.UserActivityListener) Handler {
	return HandlerFunc(func(_ context.Context, d *domain.Directive) error {
		if d.Name != domain.DirectiveResetUserInactivity {
			return unsupported(d)
		}
		activity.OnUserActivity()
		return nil
	})
}

func unsupported(d *domain.Directive) error {
	return domain.NewDirectiveError(domain.ExceptionUnsupportedOperation,
		"unsupported directive %s", d.Key())
}

func payload[T any](d *domain.Directive) (*T, error) {
	p, ok := d.Payload.(*T)
	if !ok || p == nil {
		return nil, domain.NewDirectiveError(domain.ExceptionUnexpectedInformation,
			"%s: unexpected payload %T", d.Key(), d.Payload)
	}
	return p, nil
}
