//go:build !portaudio

// Package device opens the local sound card through PortAudio.
//
// This build was compiled without the portaudio tag: every open fails with
// [ErrUnavailable]. Rebuild with -tags portaudio to use real devices.
package device

import (
	"io"
	"log/slog"

	"github.com/MrWong99/healthguide/pkg/audio"
)

var _ audio.Devices = (*PortAudio)(nil)

// PortAudio is a stub when PortAudio is not available.
type PortAudio struct {
	logger *slog.Logger
}

// New returns a stub device opener.
func New(logger *slog.Logger) *PortAudio {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortAudio{logger: logger}
}

func (p *PortAudio) OpenMicrophone(_, _ int) (audio.Source, error) {
	return nil, ErrUnavailable
}

func (p *PortAudio) OpenSpeaker(_ int, _ func([]float32)) (io.Closer, error) {
	return nil, ErrUnavailable
}
