package capture

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var initOnce sync.Once

type portaudioSource struct {
	stream *portaudio.Stream
}

// OpenDefaultSource opens the default microphone through PortAudio. Blocks
// arrive on the PortAudio callback thread.
func OpenDefaultSource(sampleRate, frameSize int, onBlock func([]int16)) (Source, error) {
	var initErr error
	initOnce.Do(func() { initErr = portaudio.Initialize() })
	if initErr != nil {
		return nil, fmt.Errorf("portaudio init: %w", initErr)
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frameSize,
		func(in []int16) { onBlock(in) })
	if err != nil {
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	return &portaudioSource{stream: stream}, nil
}

func (s *portaudioSource) Start() error { return s.stream.Start() }
func (s *portaudioSource) Stop() error  { return s.stream.Stop() }
func (s *portaudioSource) Close() error { return s.stream.Close() }
