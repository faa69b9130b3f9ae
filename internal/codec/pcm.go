package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedFrame reports a PCM16 buffer that cannot represent whole samples.
var ErrMalformedFrame = errors.New("malformed pcm16 frame")

// PCM16ToFloat32 decodes little-endian signed 16-bit samples into normalized
// float samples in [-1.0, 1.0].
func PCM16ToFloat32(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrMalformedFrame, len(data))
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		s := int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
		out[i] = float32(s) / 32768.0
	}
	return out, nil
}

// Float32ToPCM16 quantizes normalized float samples back to little-endian
// PCM16, clamping out-of-range input.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := math.Round(float64(f) * 32768.0)
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		s := int16(v)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// Int16ToBytes serializes raw hardware samples as little-endian PCM16.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// EncodeBase64 converts a binary frame to its transport-safe text form.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 is the inverse of EncodeBase64.
func DecodeBase64(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return data, nil
}

// FrameDuration returns the playback duration of a mono PCM16 buffer.
func FrameDuration(byteLen, sampleRate int) time.Duration {
	if byteLen <= 0 || sampleRate <= 0 {
		return 0
	}
	samples := byteLen / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
