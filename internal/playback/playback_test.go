package playback

import (
	"testing"
	"time"

	"github.com/intervoxai/intervox/internal/codec"
)

type fakeSink struct {
	started bool
	stopped bool
	closed  bool
}

func (s *fakeSink) Start() error { s.started = true; return nil }
func (s *fakeSink) Stop() error  { s.stopped = true; return nil }
func (s *fakeSink) Close() error { s.closed = true; return nil }

func fakeSinkFactory(sink *fakeSink) (SinkFactory, *func([]float32)) {
	var render func([]float32)
	factory := func(_, _ int, cb func([]float32)) (Sink, error) {
		render = cb
		return sink, nil
	}
	return factory, &render
}

func pcmOf(n int, value int16) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return codec.Int16ToBytes(samples)
}

func TestPipelineStartsSinkOnFirstFrame(t *testing.T) {
	sink := &fakeSink{}
	factory, render := fakeSinkFactory(sink)
	p := NewPipeline(24000, 480, 20*time.Millisecond, factory)
	defer p.Close()

	if sink.started {
		t.Fatalf("sink started before any frame")
	}
	if err := p.AddFrame(pcmOf(480, 16000)); err != nil {
		t.Fatalf("AddFrame() error = %v", err)
	}
	if !sink.started {
		t.Fatalf("sink not started on first frame")
	}

	// Lookahead is 480 samples at 24 kHz; the second render block carries
	// the frame.
	out := make([]float32, 480)
	(*render)(out)
	(*render)(out)
	if out[0] == 0 {
		t.Fatalf("scheduled frame never rendered")
	}
}

func TestPipelineRejectsMalformedFrame(t *testing.T) {
	sink := &fakeSink{}
	factory, _ := fakeSinkFactory(sink)
	p := NewPipeline(24000, 480, 20*time.Millisecond, factory)
	defer p.Close()

	if err := p.AddFrame([]byte{0x01}); err == nil {
		t.Fatalf("AddFrame() with odd byte count error = nil, want error")
	}
	if sink.started {
		t.Fatalf("sink started for a rejected frame")
	}
}

func TestPipelineCompletionSignal(t *testing.T) {
	sink := &fakeSink{}
	factory, render := fakeSinkFactory(sink)
	p := NewPipeline(24000, 480, 0, factory)
	defer p.Close()

	if err := p.AddFrame(pcmOf(480, 16000)); err != nil {
		t.Fatalf("AddFrame() error = %v", err)
	}

	out := make([]float32, 480)
	(*render)(out)
	select {
	case <-p.Complete():
	default:
		t.Fatalf("no completion signal after final block")
	}
}

func TestPipelineLevels(t *testing.T) {
	sink := &fakeSink{}
	factory, render := fakeSinkFactory(sink)
	p := NewPipeline(24000, 480, 0, factory)
	defer p.Close()

	if err := p.AddFrame(pcmOf(480, 16000)); err != nil {
		t.Fatalf("AddFrame() error = %v", err)
	}
	(*render)(make([]float32, 480))

	select {
	case level := <-p.Levels():
		if level <= 0 {
			t.Fatalf("level = %v, want > 0", level)
		}
	default:
		t.Fatalf("no level emitted")
	}
}

func TestPipelineCloseGuardsRenderCallback(t *testing.T) {
	sink := &fakeSink{}
	factory, render := fakeSinkFactory(sink)
	p := NewPipeline(24000, 480, 0, factory)

	if err := p.AddFrame(pcmOf(480, 16000)); err != nil {
		t.Fatalf("AddFrame() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if !sink.closed {
		t.Fatalf("sink not closed")
	}

	// A straggler audio-thread callback after dispose must only zero-fill.
	out := []float32{1, 1, 1}
	(*render)(out)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %v after Close, want 0", i, v)
		}
	}

	// Frames arriving after dispose are dropped without error.
	if err := p.AddFrame(pcmOf(480, 16000)); err != nil {
		t.Fatalf("AddFrame() after Close error = %v, want nil", err)
	}
}

func TestPipelineStopDropsScheduledAudio(t *testing.T) {
	sink := &fakeSink{}
	factory, render := fakeSinkFactory(sink)
	p := NewPipeline(24000, 480, 0, factory)
	defer p.Close()

	if err := p.AddFrame(pcmOf(480, 16000)); err != nil {
		t.Fatalf("AddFrame() error = %v", err)
	}
	p.Stop()

	out := make([]float32, 480)
	(*render)(out)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %v after Stop, want 0", i, v)
		}
	}
}
