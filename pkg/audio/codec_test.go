package audio_test

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/healthguide/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestEncodeFrame(t *testing.T) {
	t.Parallel()

	blob := audio.EncodeFrame([]float32{0, 0.5, -0.5, -1})
	if blob.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q, want audio/pcm;rate=16000", blob.MIMEType)
	}

	raw, err := base64.StdEncoding.DecodeString(blob.Data)
	if err != nil {
		t.Fatalf("data is not base64: %v", err)
	}
	got := bytesToSamples(raw)
	want := []int16{0, 16384, -16384, -32768}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEncodeFrame_Truncates(t *testing.T) {
	t.Parallel()

	// 0.00005 * 32768 = 1.6384 -> 1; -0.00005 * 32768 = -1.6384 -> -1.
	raw, _ := base64.StdEncoding.DecodeString(audio.EncodeFrame([]float32{0.00005, -0.00005}).Data)
	got := bytesToSamples(raw)
	if got[0] != 1 || got[1] != -1 {
		t.Errorf("got %v, want [1 -1]", got)
	}
}

func TestEncodeFrame_Clamping(t *testing.T) {
	t.Parallel()

	nan := float32(math.NaN())
	raw, _ := base64.StdEncoding.DecodeString(audio.EncodeFrame([]float32{1, 2, -3, nan}).Data)
	got := bytesToSamples(raw)
	want := []int16{32767, 32767, -32768, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEncodeFrame_Empty(t *testing.T) {
	t.Parallel()

	blob := audio.EncodeFrame(nil)
	if blob.Data != "" {
		t.Errorf("Data = %q, want empty", blob.Data)
	}
}

func TestDecodeChunk(t *testing.T) {
	t.Parallel()

	data := base64.StdEncoding.EncodeToString(samplesToBytes([]int16{0, 16384, -32768, 32767}))
	buf, err := audio.DecodeChunk(data, 24000, 1)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if buf.SampleRate != 24000 || buf.Channels != 1 {
		t.Errorf("format = %dHz/%dch, want 24000Hz/1ch", buf.SampleRate, buf.Channels)
	}
	want := []float32{0, 0.5, -1, 32767.0 / 32768}
	if len(buf.Samples) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(buf.Samples), len(want))
	}
	for i := range want {
		if buf.Samples[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, buf.Samples[i], want[i])
		}
	}
}

func TestDecodeChunk_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     string
		channels int
	}{
		{name: "invalid base64", data: "not base64!!", channels: 1},
		{name: "odd byte count", data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), channels: 1},
		{name: "partial stereo frame", data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4, 5, 6}), channels: 2},
		{name: "zero channels", data: base64.StdEncoding.EncodeToString([]byte{1, 2}), channels: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.DecodeChunk(tt.data, 24000, tt.channels)
			var de *audio.DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("error = %v, want *audio.DecodeError", err)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	// Any sample in [-1, 1-1/32768] survives encode then decode within 1/32768.
	in := make([]float32, 0, 2001)
	for i := -1000; i <= 1000; i++ {
		in = append(in, float32(i)/1000*(1-1.0/32768))
	}
	in = append(in, -1, 1-1.0/32768, 1e-6, -1e-6)

	blob := audio.EncodeFrame(in)
	buf, err := audio.DecodeChunk(blob.Data, audio.CaptureSampleRate, 1)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if len(buf.Samples) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(buf.Samples), len(in))
	}
	for i := range in {
		if diff := math.Abs(float64(buf.Samples[i] - in[i])); diff > 1.0/32768 {
			t.Errorf("sample %d: in %v, out %v, diff %v", i, in[i], buf.Samples[i], diff)
		}
	}
}

func TestBufferDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		buf  audio.Buffer
		want time.Duration
	}{
		{name: "100ms mono", buf: audio.Buffer{Samples: make([]float32, 2400), SampleRate: 24000, Channels: 1}, want: 100 * time.Millisecond},
		{name: "stereo counts frames", buf: audio.Buffer{Samples: make([]float32, 4800), SampleRate: 24000, Channels: 2}, want: 100 * time.Millisecond},
		{name: "rounds to nearest ns", buf: audio.Buffer{Samples: make([]float32, 1000), SampleRate: 24000, Channels: 1}, want: 41666667},
		{name: "empty", buf: audio.Buffer{SampleRate: 24000, Channels: 1}, want: 0},
		{name: "no rate", buf: audio.Buffer{Samples: make([]float32, 10), Channels: 1}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.buf.Duration(); got != tt.want {
				t.Errorf("Duration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDurationToFrames(t *testing.T) {
	t.Parallel()

	if got := audio.DurationToFrames(41666667, 24000); got != 1000 {
		t.Errorf("DurationToFrames(41666667ns) = %d, want 1000", got)
	}
	if got := audio.DurationToFrames(-time.Second, 24000); got != 0 {
		t.Errorf("DurationToFrames(-1s) = %d, want 0", got)
	}
	if got := audio.DurationToFrames(time.Second, 24000); got != 24000 {
		t.Errorf("DurationToFrames(1s) = %d, want 24000", got)
	}
}

func TestBufferMono(t *testing.T) {
	t.Parallel()

	buf := audio.Buffer{Samples: []float32{0.2, 0.4, -1, 0}, SampleRate: 24000, Channels: 2}
	got := buf.Mono()
	want := []float32{0.3, -0.5}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("frame %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.5, 1, 0.5}
	if got := audio.Resample(in, 24000, 24000); &got[0] != &in[0] {
		t.Error("same rate should return the input unchanged")
	}

	up := audio.Resample(in, 12000, 24000)
	if len(up) != 8 {
		t.Fatalf("upsampled length = %d, want 8", len(up))
	}
	if up[1] != 0.25 {
		t.Errorf("interpolated sample = %v, want 0.25", up[1])
	}

	down := audio.Resample(in, 24000, 12000)
	if len(down) != 2 || down[0] != 0 || down[1] != 1 {
		t.Errorf("downsampled = %v, want [0 1]", down)
	}
}
