package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// Player streams a buffer to an audio output device.
type Player interface {
	// Play blocks until the buffer has been played or ctx is done.
	Play(ctx context.Context, b *Buffer) error
}

var _ Player = (*DevicePlayer)(nil)

// DevicePlayer plays through the system default output device.
type DevicePlayer struct{}

func NewDevicePlayer() *DevicePlayer {
	return &DevicePlayer{}
}

func (p *DevicePlayer) Play(ctx context.Context, b *Buffer) error {
	if b.Frames() == 0 {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("initializing audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	src := &playbackSource{samples: b.Samples, channels: b.Channels, done: make(chan struct{})}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceCfg.Playback.Format = malgo.FormatF32
	deviceCfg.Playback.Channels = uint32(b.Channels)
	deviceCfg.SampleRate = uint32(b.SampleRate)

	device, err := malgo.InitDevice(mctx.Context, deviceCfg, malgo.DeviceCallbacks{
		Data: src.onData,
	})
	if err != nil {
		return fmt.Errorf("initializing playback device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("starting playback device: %w", err)
	}

	select {
	case <-src.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// playbackSource feeds samples to the device callback.
type playbackSource struct {
	mu       sync.Mutex
	samples  []float32
	pos      int
	channels int
	done     chan struct{}
	closed   bool
}

// onData is the malgo callback asking for frameCount frames of output.
func (s *playbackSource) onData(pOutput, _ []byte, frameCount uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := int(frameCount) * s.channels
	n := copyFloat32(pOutput, s.samples[s.pos:], want)
	s.pos += n

	// Pad the rest of the period with silence.
	for i := n * 4; i < want*4 && i < len(pOutput); i++ {
		pOutput[i] = 0
	}

	if s.pos >= len(s.samples) && !s.closed {
		s.closed = true
		close(s.done)
	}
}

// copyFloat32 writes up to max samples as little-endian float32 into dst and
// returns how many were written.
func copyFloat32(dst []byte, samples []float32, max int) int {
	n := 0
	for n < max && n < len(samples) && (n+1)*4 <= len(dst) {
		binary.LittleEndian.PutUint32(dst[n*4:], math.Float32bits(samples[n]))
		n++
	}
	return n
}
