// Package audio defines the sample formats, wire codec and device
// abstractions used by a Health Guide voice call.
//
// The two device abstractions are:
//
//   - [Source]: a microphone that yields fixed-size [Frame]s.
//   - [Devices]: opens a [Source] and a render-pull speaker.
//
// The PortAudio implementation lives in audio/device.
package audio

import (
	"context"
	"errors"
	"io"
)

// ErrSourceClosed is returned by [Source.ReadFrame] once the source has been
// closed.
var ErrSourceClosed = errors.New("audio: source closed")

// Source is an open microphone stream.
//
// ReadFrame blocks until a full frame is available, ctx is cancelled, or the
// source is closed. Close releases the underlying device (stops the
// microphone tracks); it is safe to call more than once and unblocks any
// pending ReadFrame with [ErrSourceClosed].
type Source interface {
	ReadFrame(ctx context.Context) (Frame, error)
	Close() error
}

// Devices opens the local sound hardware for a call.
type Devices interface {
	// OpenMicrophone opens a mono input stream delivering frames of frameSize
	// samples at sampleRate Hz.
	OpenMicrophone(sampleRate, frameSize int) (Source, error)

	// OpenSpeaker opens a mono output stream at sampleRate Hz. The device
	// calls render from its own goroutine to fill each output block.
	OpenSpeaker(sampleRate int, render func(out []float32)) (io.Closer, error)
}
