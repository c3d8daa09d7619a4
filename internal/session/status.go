package session

// Phase is the lifecycle state of a voice [Session].
type Phase int

const (
	// PhaseIdle means the session holds no resources yet.
	PhaseIdle Phase = iota

	// PhaseConnecting covers device acquisition and the transport handshake.
	PhaseConnecting

	// PhaseConnected is entered when the transport handshake succeeded.
	PhaseConnected

	// PhaseListening means capture is streaming and no model audio is playing.
	PhaseListening

	// PhaseSpeaking means model audio is scheduled or playing.
	PhaseSpeaking

	// PhaseDisconnected means the service closed the connection cleanly.
	PhaseDisconnected

	// PhaseError is terminal for setup failures and mid-session transport
	// errors.
	PhaseError

	// PhaseClosed is entered once the caller closed the session.
	PhaseClosed
)

// String returns the human-readable name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseConnecting:
		return "CONNECTING"
	case PhaseConnected:
		return "CONNECTED"
	case PhaseListening:
		return "LISTENING"
	case PhaseSpeaking:
		return "SPEAKING"
	case PhaseDisconnected:
		return "DISCONNECTED"
	case PhaseError:
		return "ERROR"
	case PhaseClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Status is the label reported to the caller on every phase change.
type Status string

// Status labels shown to the user.
const (
	StatusConnecting       Status = "Connecting..."
	StatusConnected        Status = "Connected"
	StatusListening        Status = "Listening..."
	StatusSpeaking         Status = "Speaking..."
	StatusDisconnected     Status = "Disconnected"
	StatusError            Status = "Error"
	StatusConnectionFailed Status = "Connection Failed"
)

// FailureMessage is the user-facing explanation shown next to
// [StatusConnectionFailed].
const FailureMessage = "Could not access microphone or connect to service."
