//go:build portaudio

// Package device opens the local sound card through PortAudio.
//
// Build with -tags portaudio to link against the PortAudio C library; without
// the tag every open fails with [ErrUnavailable].
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/healthguide/pkg/audio"
	"github.com/gordonklaus/portaudio"
)

var _ audio.Devices = (*PortAudio)(nil)

// speakerBlock is the number of frames the output callback renders per call.
const speakerBlock = 1024

// PortAudio implements [audio.Devices] on the default input and output
// devices.
type PortAudio struct {
	logger *slog.Logger
}

// New returns a PortAudio device opener. A nil logger uses slog.Default.
func New(logger *slog.Logger) *PortAudio {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortAudio{logger: logger}
}

// OpenMicrophone opens the default input device as a blocking mono stream.
func (p *PortAudio) OpenMicrophone(sampleRate, frameSize int) (audio.Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("device: initialize portaudio: %w", err)
	}

	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frameSize, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("device: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("device: start input stream: %w", err)
	}

	p.logger.Info("microphone started", "sampleRate", sampleRate, "frameSize", frameSize)
	return &microphone{stream: stream, buf: buf, logger: p.logger}, nil
}

// OpenSpeaker opens the default output device. PortAudio calls render from
// its audio thread for every block.
func (p *PortAudio) OpenSpeaker(sampleRate int, render func(out []float32)) (io.Closer, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("device: initialize portaudio: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), speakerBlock, func(out []float32) {
		render(out)
	})
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("device: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("device: start output stream: %w", err)
	}

	p.logger.Info("speaker started", "sampleRate", sampleRate)
	return &speaker{stream: stream}, nil
}

// ── microphone ─────────────────────────────────────────────────────────────────

type microphone struct {
	stream *portaudio.Stream
	buf    []float32
	logger *slog.Logger

	// mu serialises stream reads against Close. A pending read holds it for at
	// most one frame period.
	mu           sync.Mutex
	closed       atomic.Bool
	warnOverflow sync.Once
}

func (m *microphone) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return nil, audio.ErrSourceClosed
	}

	if err := m.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, fmt.Errorf("device: read input stream: %w", err)
		}
		m.warnOverflow.Do(func() {
			m.logger.Warn("microphone input overflowed, samples were lost")
		})
	}

	frame := make(audio.Frame, len(m.buf))
	copy(frame, m.buf)
	return frame, nil
}

func (m *microphone) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	err := errors.Join(m.stream.Stop(), m.stream.Close())
	portaudio.Terminate()
	if err != nil {
		return fmt.Errorf("device: close input stream: %w", err)
	}
	return nil
}

// ── speaker ────────────────────────────────────────────────────────────────────

type speaker struct {
	stream    *portaudio.Stream
	closeOnce sync.Once
	err       error
}

func (s *speaker) Close() error {
	s.closeOnce.Do(func() {
		s.err = errors.Join(s.stream.Stop(), s.stream.Close())
		portaudio.Terminate()
		if s.err != nil {
			s.err = fmt.Errorf("device: close output stream: %w", s.err)
		}
	})
	return s.err
}
