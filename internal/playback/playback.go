package playback

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/intervoxai/intervox/internal/audio"
	"github.com/intervoxai/intervox/internal/codec"
)

// ErrSinkUnavailable means no usable output device was found.
var ErrSinkUnavailable = errors.New("playback device unavailable")

// Sink abstracts the output hardware.
type Sink interface {
	Start() error
	Stop() error
	Close() error
}

// SinkFactory opens the hardware and routes render requests to the callback.
// The callback runs on the audio thread and must not block.
type SinkFactory func(sampleRate, frameSize int, render func(out []float32)) (Sink, error)

// Pipeline schedules decoded agent audio onto the output device. The sink is
// opened lazily on the first frame and keeps running between turns; silence
// renders as zeros.
type Pipeline struct {
	sampleRate int
	frameSize  int
	open       SinkFactory
	lookahead  time.Duration

	mu       sync.Mutex
	sched    *Scheduler
	sink     Sink
	started  bool
	disposed bool

	levels   chan float64
	complete chan struct{}
}

// NewPipeline builds a playback pipeline. A nil factory selects the default
// hardware sink.
func NewPipeline(sampleRate, frameSize int, lookahead time.Duration, open SinkFactory) *Pipeline {
	if open == nil {
		open = OpenDefaultSink
	}
	return &Pipeline{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		open:       open,
		lookahead:  lookahead,
		sched:      NewScheduler(sampleRate, lookahead),
		levels:     make(chan float64, 16),
		complete:   make(chan struct{}, 1),
	}
}

// Levels returns the output volume stream, normalized to [0, 1].
func (p *Pipeline) Levels() <-chan float64 { return p.levels }

// Complete signals each time the last scheduled sample finishes playing.
func (p *Pipeline) Complete() <-chan struct{} { return p.complete }

// AddFrame decodes and schedules one PCM16 frame. The sink starts on the
// first frame; a disposed pipeline drops frames without error so late
// deliveries during teardown stay harmless.
func (p *Pipeline) AddFrame(pcm []byte) error {
	samples, err := codec.PCM16ToFloat32(pcm)
	if err != nil {
		return fmt.Errorf("decode playback frame: %w", err)
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil
	}
	p.sched.Add(samples)
	needStart := !p.started
	if needStart {
		p.started = true
	}
	p.mu.Unlock()

	if needStart {
		if err := p.startSink(); err != nil {
			p.mu.Lock()
			p.started = false
			p.mu.Unlock()
			return err
		}
	}
	return nil
}

func (p *Pipeline) startSink() error {
	sink, err := p.open(p.sampleRate, p.frameSize, p.render)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	if err := sink.Start(); err != nil {
		_ = sink.Close()
		return fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		_ = sink.Stop()
		_ = sink.Close()
		return nil
	}
	p.sink = sink
	p.mu.Unlock()
	return nil
}

// Stop drops all scheduled audio immediately.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return
	}
	p.sched.Stop()
}

// FadeOut ramps scheduled audio to silence over d, then drops it. Used on
// interruption so the cutoff does not click.
func (p *Pipeline) FadeOut(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return
	}
	p.sched.FadeOut(d)
}

// Close permanently disposes the pipeline. Idempotent. The disposed flag is
// set before hardware teardown so late render callbacks observe it.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil
	}
	p.disposed = true
	p.sched.Stop()
	sink := p.sink
	p.sink = nil
	p.started = false
	close(p.levels)
	close(p.complete)
	p.mu.Unlock()

	if sink != nil {
		_ = sink.Stop()
		return sink.Close()
	}
	return nil
}

// render runs on the audio thread for every output block.
func (p *Pipeline) render(out []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		for i := range out {
			out[i] = 0
		}
		return
	}

	drained := p.sched.Render(out)

	select {
	case p.levels <- audio.Level(out):
	default:
	}
	if drained {
		select {
		case p.complete <- struct{}{}:
		default:
			log.Printf("playback: completion signal dropped")
		}
	}
}
