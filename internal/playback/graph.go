package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/healthguide/pkg/audio"
)

var _ Output = (*Graph)(nil)

// Graph is a sample-accurate software output. Its clock is the number of
// frames rendered so far; a sound card drives it by calling [Graph.Render]
// from the device callback. Graph is safe for concurrent use.
type Graph struct {
	rate int

	mu     sync.Mutex
	pos    int64
	voices []*graphVoice
	closed bool

	warnRate sync.Once
}

type graphVoice struct {
	g       *Graph
	samples []float32
	start   int64
	onEnded func()
}

// NewGraph returns a mono graph running at sampleRate Hz.
func NewGraph(sampleRate int) *Graph {
	return &Graph{rate: sampleRate}
}

// SampleRate returns the graph's output rate.
func (g *Graph) SampleRate() int { return g.rate }

// Now returns the duration of audio rendered so far.
func (g *Graph) Now() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return audio.FramesToDuration(g.pos, g.rate)
}

// Start schedules buf at at, or at the current clock if at has passed. Buffers
// at another rate are resampled and multi-channel buffers mixed down to mono.
func (g *Graph) Start(buf audio.Buffer, at time.Duration, onEnded func()) Voice {
	samples := buf.Mono()
	if buf.SampleRate != g.rate {
		g.warnRate.Do(func() {
			slog.Warn("playback: resampling buffer to output rate", "from", buf.SampleRate, "to", g.rate)
		})
		samples = audio.Resample(samples, buf.SampleRate, g.rate)
	}

	v := &graphVoice{
		g:       g,
		samples: samples,
		start:   audio.DurationToFrames(at, g.rate),
		onEnded: onEnded,
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return v
	}
	v.start = max(v.start, g.pos)
	g.voices = append(g.voices, v)
	return v
}

// Stop removes the voice from the graph. It is a no-op once the voice has
// ended or been stopped.
func (v *graphVoice) Stop() {
	g := v.g
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, other := range g.voices {
		if other == v {
			g.voices = append(g.voices[:i], g.voices[i+1:]...)
			return
		}
	}
}

// Render mixes the next len(dst) frames into dst, advances the clock and
// fires the end notification of every voice that finished inside the block.
// Output is clamped to [-1, 1]. After Close, Render writes silence.
func (g *Graph) Render(dst []float32) {
	clear(dst)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}

	from := g.pos
	to := from + int64(len(dst))
	var ended []func()
	kept := g.voices[:0]
	for _, v := range g.voices {
		end := v.start + int64(len(v.samples))
		for p := max(v.start, from); p < min(end, to); p++ {
			dst[p-from] += v.samples[p-v.start]
		}
		if end <= to {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(g.voices[len(kept):])
	g.voices = kept
	g.pos = to
	g.mu.Unlock()

	for i, s := range dst {
		dst[i] = min(max(s, -1), 1)
	}
	for _, fn := range ended {
		fn()
	}
}

// Pending returns the number of voices that have not yet ended.
func (g *Graph) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.voices)
}

// Close silences and drops every voice. Dropped voices never fire their end
// notification. Idempotent.
func (g *Graph) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.voices = nil
}
