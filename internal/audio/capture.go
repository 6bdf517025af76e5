package audio

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
)

// Capture records from the default input device through miniaudio.
type Capture struct {
	log *logger.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	pw     *io.PipeWriter
}

var _ domain.Microphone = (*Capture)(nil)

// NewCapture initializes the miniaudio context. The device itself is only
// opened per recording.
func NewCapture(log *logger.Logger) (*Capture, error) {
	mCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debug("miniaudio: %s", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	return &Capture{log: log, ctx: mCtx}, nil
}

// Open starts recording and returns the PCM stream. It fails with
// domain.ErrLineUnavailable while the device cannot be opened, which
// includes the wake-word engine still holding it.
func (c *Capture) Open(ctx context.Context, rms domain.RMSFunc) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return nil, fmt.Errorf("%w: capture already running", domain.ErrLineUnavailable)
	}
	if c.ctx == nil {
		return nil, fmt.Errorf("%w: capture closed", domain.ErrLineUnavailable)
	}

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * ChannelCount

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = SampleRate
	cfg.Capture.Format = format
	cfg.Capture.Channels = ChannelCount
	cfg.Alsa.NoMMap = 1
	cfg.PerformanceProfile = malgo.LowLatency

	pr, pw := io.Pipe()

	device, err := malgo.InitDevice(c.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(input) < n || n == 0 {
				return
			}
			chunk := make([]byte, n)
			copy(chunk, input[:n])
			if rms != nil {
				rms(rmsLevel(chunk))
			}
			// A slow reader back-pressures the device callback; a closed
			// reader just drops audio.
			_, _ = pw.Write(chunk)
		},
	})
	if err != nil {
		pw.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrLineUnavailable, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		pw.Close()
		return nil, fmt.Errorf("%w: starting capture: %v", domain.ErrLineUnavailable, err)
	}

	c.device = device
	c.pw = pw
	c.log.Debug("capture started (rate=%d)", SampleRate)

	return &captureStream{PipeReader: pr, stop: c.StopCapture}, nil
}

// StopCapture ends the recording; the stream returned by Open reaches EOF.
func (c *Capture) StopCapture() {
	c.mu.Lock()
	device, pw := c.device, c.pw
	c.device, c.pw = nil, nil
	c.mu.Unlock()

	if device == nil {
		return
	}
	// Close the pipe first so a blocked callback write returns.
	pw.Close()
	if err := device.Stop(); err != nil {
		c.log.Warn("stopping capture device: %v", err)
	}
	device.Uninit()
	c.log.Debug("capture stopped")
}

// Close releases the miniaudio context.
func (c *Capture) Close() error {
	c.StopCapture()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return nil
	}
	err := c.ctx.Uninit()
	c.ctx.Free()
	c.ctx = nil
	return err
}

type captureStream struct {
	*io.PipeReader
	stop func()
}

func (s *captureStream) Close() error {
	s.stop()
	return s.PipeReader.Close()
}
