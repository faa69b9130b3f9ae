package playback

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var initOnce sync.Once

type portaudioSink struct {
	stream *portaudio.Stream
}

// OpenDefaultSink opens the default output device through PortAudio. Render
// requests arrive on the PortAudio callback thread.
func OpenDefaultSink(sampleRate, frameSize int, render func(out []float32)) (Sink, error) {
	var initErr error
	initOnce.Do(func() { initErr = portaudio.Initialize() })
	if initErr != nil {
		return nil, fmt.Errorf("portaudio init: %w", initErr)
	}

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), frameSize,
		func(out []float32) { render(out) })
	if err != nil {
		return nil, fmt.Errorf("open playback stream: %w", err)
	}
	return &portaudioSink{stream: stream}, nil
}

func (s *portaudioSink) Start() error { return s.stream.Start() }
func (s *portaudioSink) Stop() error  { return s.stream.Stop() }
func (s *portaudioSink) Close() error { return s.stream.Close() }
