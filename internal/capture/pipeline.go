package capture

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/intervoxai/intervox/internal/audio"
	"github.com/intervoxai/intervox/internal/codec"
)

var (
	// ErrPermissionDenied means the OS refused microphone access. Retrying
	// without user action cannot succeed.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable means no usable capture device was found.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// Frame is one captured microphone block, little-endian PCM16.
type Frame struct {
	PCM        []byte
	SampleRate int
}

// Source abstracts the capture hardware.
type Source interface {
	Start() error
	Stop() error
	Close() error
}

// SourceFactory opens the hardware and routes raw blocks to onBlock. The
// callback runs on the audio thread and must not block.
type SourceFactory func(sampleRate, frameSize int, onBlock func([]int16)) (Source, error)

// Pipeline owns the microphone source and fans captured frames out to the
// session. Muting keeps the volume stream alive while dropping the audio;
// muted frames are discarded, never buffered for later delivery.
type Pipeline struct {
	sampleRate int
	frameSize  int
	open       SourceFactory

	mu       sync.Mutex
	source   Source
	started  bool
	muted    bool
	disposed bool

	frames chan Frame
	levels chan float64
}

// NewPipeline builds a capture pipeline. A nil factory selects the default
// hardware source.
func NewPipeline(sampleRate, frameSize int, open SourceFactory) *Pipeline {
	if open == nil {
		open = OpenDefaultSource
	}
	return &Pipeline{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		open:       open,
		frames:     make(chan Frame, 64),
		levels:     make(chan float64, 16),
	}
}

// Frames returns the captured frame stream.
func (p *Pipeline) Frames() <-chan Frame { return p.frames }

// Levels returns the input volume stream, normalized to [0, 1]. Levels keep
// flowing while muted.
func (p *Pipeline) Levels() <-chan float64 { return p.levels }

// Start opens and starts the hardware. Calling Start on a running pipeline
// is a no-op.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return ErrDeviceUnavailable
	}
	if p.started {
		p.mu.Unlock()
		log.Printf("capture: already started")
		return nil
	}
	p.mu.Unlock()

	source, err := p.open(p.sampleRate, p.frameSize, p.handleBlock)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := source.Start(); err != nil {
		_ = source.Close()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		_ = source.Stop()
		_ = source.Close()
		return ErrDeviceUnavailable
	}
	p.source = source
	p.started = true
	p.mu.Unlock()
	return nil
}

// SetMuted toggles frame delivery without touching the hardware.
func (p *Pipeline) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
}

// Muted reports the current mute flag.
func (p *Pipeline) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Stop halts the hardware stream but keeps the pipeline reusable. It always
// succeeds; the source is released either way, so a teardown failure is only
// worth a log line.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	source := p.source
	p.source = nil
	p.started = false
	p.mu.Unlock()

	if source == nil {
		return nil
	}
	if err := source.Stop(); err != nil {
		log.Printf("capture: stop source: %v", err)
	}
	if err := source.Close(); err != nil {
		log.Printf("capture: close source: %v", err)
	}
	return nil
}

// Close permanently disposes the pipeline. Idempotent. The disposed flag is
// set before the hardware is torn down so late audio-thread callbacks cannot
// write to closed channels.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil
	}
	p.disposed = true
	source := p.source
	p.source = nil
	p.started = false
	close(p.frames)
	close(p.levels)
	p.mu.Unlock()

	if source != nil {
		_ = source.Stop()
		return source.Close()
	}
	return nil
}

// handleBlock runs on the audio thread for every captured block.
func (p *Pipeline) handleBlock(block []int16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed || !p.started {
		return
	}

	select {
	case p.levels <- audio.Level16(block):
	default:
	}

	if p.muted {
		return
	}
	frame := Frame{PCM: codec.Int16ToBytes(block), SampleRate: p.sampleRate}
	select {
	case p.frames <- frame:
	default:
		log.Printf("capture: frame buffer full, dropped %d samples", len(block))
	}
}
