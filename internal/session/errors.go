package session

import "fmt"

// PermissionError reports that a sound device could not be opened: the
// microphone was denied or missing, or the output device failed.
type PermissionError struct {
	// Device is "microphone" or "speaker".
	Device string
	Err    error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("session: open %s: %v", e.Device, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }
