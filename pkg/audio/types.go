package audio

import "time"

// Sample rates and framing used by a live call. The capture side sends 16 kHz
// mono; the model answers with 24 kHz mono.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000

	// DefaultFrameSize is the number of samples per captured frame.
	DefaultFrameSize = 4096

	// CaptureMIMEType labels every outbound [Blob].
	CaptureMIMEType = "audio/pcm;rate=16000"
)

// Frame is one fixed-length block of normalized mono samples in [-1, 1] read
// from the microphone. Frames are ephemeral: the capture pipeline encodes and
// forgets them.
type Frame []float32

// Blob is the wire representation of a chunk of audio: base64 (standard
// encoding) of 16-bit signed little-endian PCM, plus its MIME type.
type Blob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// Buffer is decoded audio ready for playback. Samples are interleaved when
// Channels > 1.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer, rounded to the nearest
// nanosecond.
func (b Buffer) Duration() time.Duration {
	return FramesToDuration(int64(b.Frames()), b.SampleRate)
}

// FramesToDuration converts a sample frame count at rate Hz into a duration,
// rounding to the nearest nanosecond. It returns 0 for a non-positive rate.
func FramesToDuration(frames int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	r := int64(rate)
	return time.Duration((frames*int64(time.Second) + r/2) / r)
}

// DurationToFrames converts d into the nearest sample frame index at rate Hz.
// Negative durations map to 0.
func DurationToFrames(d time.Duration, rate int) int64 {
	if d <= 0 || rate <= 0 {
		return 0
	}
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}
