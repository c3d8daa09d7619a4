package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeError reports an inbound audio chunk that could not be turned into a
// [Buffer]: either the base64 payload is invalid or the PCM byte length does
// not hold a whole number of 16-bit sample frames.
type DecodeError struct {
	Bytes    int
	Channels int
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio: decode chunk: %v", e.Err)
	}
	return fmt.Sprintf("audio: decode chunk: %d bytes is not a multiple of %d", e.Bytes, 2*e.Channels)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeFrame converts normalized samples to a capture [Blob]. Each sample is
// scaled by 32768 and truncated toward zero; values outside the int16 range
// are clamped and NaN becomes silence.
func EncodeFrame(samples []float32) Blob {
	return Blob{
		Data:     base64.StdEncoding.EncodeToString(FloatToPCM16(samples)),
		MIMEType: CaptureMIMEType,
	}
}

// FloatToPCM16 packs normalized samples as 16-bit signed little-endian PCM.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(s)))
	}
	return out
}

func toInt16(s float32) int16 {
	v := float64(s) * 32768
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// DecodeChunk base64-decodes an inbound chunk and converts it to a [Buffer]
// with the given sample rate and channel count.
func DecodeChunk(data string, sampleRate, channels int) (Buffer, error) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Buffer{}, &DecodeError{Bytes: len(data), Channels: channels, Err: err}
	}
	return DecodePCM(pcm, sampleRate, channels)
}

// DecodePCM converts 16-bit signed little-endian PCM into a [Buffer]. Each
// sample becomes int16 / 32768. The byte length must be a multiple of
// 2*channels.
func DecodePCM(pcm []byte, sampleRate, channels int) (Buffer, error) {
	if channels <= 0 {
		return Buffer{}, &DecodeError{Bytes: len(pcm), Channels: channels, Err: fmt.Errorf("invalid channel count %d", channels)}
	}
	if len(pcm)%(2*channels) != 0 {
		return Buffer{}, &DecodeError{Bytes: len(pcm), Channels: channels}
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// Mono returns the buffer's samples mixed down to a single channel by
// averaging each frame. A mono buffer is returned as-is.
func (b Buffer) Mono() []float32 {
	if b.Channels <= 1 {
		return b.Samples
	}
	frames := b.Frames()
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range b.Channels {
			sum += b.Samples[i*b.Channels+c]
		}
		out[i] = sum / float32(b.Channels)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If the rates match the input is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}

	out := make([]float32, n)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
