package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	wavNumChannels   = 1
	wavBitsPerSample = 16
	wavHeaderSize    = 44
)

// Recorder streams PCM16LE mono audio to a WAV file, patching the RIFF sizes
// on Close. Used for session recording dumps.
type Recorder struct {
	f          *os.File
	sampleRate int
	dataBytes  uint32
	closed     bool
}

// NewRecorder creates path and writes a provisional WAV header.
func NewRecorder(path string, sampleRate int) (*Recorder, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	if err := writeWAVHeader(f, sampleRate, 0); err != nil {
		f.Close()
		return nil, err
	}
	return &Recorder{f: f, sampleRate: sampleRate}, nil
}

// Write appends raw PCM16LE bytes to the recording.
func (r *Recorder) Write(pcm []byte) error {
	if r == nil || r.closed {
		return nil
	}
	n, err := r.f.Write(pcm)
	r.dataBytes += uint32(n)
	return err
}

// Close patches the header sizes and closes the file. Safe to call twice.
func (r *Recorder) Close() error {
	if r == nil || r.closed {
		return nil
	}
	r.closed = true
	if _, err := r.f.Seek(0, io.SeekStart); err != nil {
		r.f.Close()
		return err
	}
	if err := writeWAVHeader(r.f, r.sampleRate, r.dataBytes); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}

func writeWAVHeader(w io.Writer, sampleRate int, dataSize uint32) error {
	byteRate := uint32(sampleRate * wavNumChannels * wavBitsPerSample / 8)
	blockAlign := uint16(wavNumChannels * wavBitsPerSample / 8)

	var hdr bytes.Buffer
	hdr.Grow(wavHeaderSize)
	hdr.WriteString("RIFF")
	binary.Write(&hdr, binary.LittleEndian, uint32(36)+dataSize)
	hdr.WriteString("WAVE")
	hdr.WriteString("fmt ")
	binary.Write(&hdr, binary.LittleEndian, uint32(16))
	binary.Write(&hdr, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&hdr, binary.LittleEndian, uint16(wavNumChannels))
	binary.Write(&hdr, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&hdr, binary.LittleEndian, byteRate)
	binary.Write(&hdr, binary.LittleEndian, blockAlign)
	binary.Write(&hdr, binary.LittleEndian, uint16(wavBitsPerSample))
	hdr.WriteString("data")
	binary.Write(&hdr, binary.LittleEndian, dataSize)

	_, err := w.Write(hdr.Bytes())
	return err
}
