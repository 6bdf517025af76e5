package audio

import (
	"bytes"

	"github.com/ebitengine/oto/v3"

	"github.com/hammamikhairi/avsclient/internal/logger"
)

// Track is one playing buffer. *oto.Player satisfies it.
type Track interface {
	Play()
	Pause()
	IsPlaying() bool
	SetVolume(volume float64)
	Close() error
}

// Output creates tracks on the sound device.
type Output interface {
	NewTrack(pcm []byte) Track
}

// OtoOutput is the system speaker, backed by a single oto context.
type OtoOutput struct {
	ctx *oto.Context
}

var _ Output = (*OtoOutput)(nil)

// NewOtoOutput initializes the system audio context. Returns an error if
// the audio device is unavailable. Only one may exist per process.
func NewOtoOutput(log *logger.Logger) (*OtoOutput, error) {
	op := &oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: ChannelCount,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-readyChan

	log.Debug("audio output initialized (rate=%d, channels=%d)", SampleRate, ChannelCount)
	return &OtoOutput{ctx: ctx}, nil
}

// NewTrack prepares pcm for playback. The track starts paused.
func (o *OtoOutput) NewTrack(pcm []byte) Track {
	return o.ctx.NewPlayer(bytes.NewReader(pcm))
}
