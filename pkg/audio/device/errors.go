package device

import "errors"

// ErrUnavailable is returned by every open when the binary was built without
// PortAudio support.
var ErrUnavailable = errors.New("device: audio devices not available: rebuild with -tags portaudio")
