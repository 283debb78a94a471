package protocol

// ConnectionStatus is the session's phase, per §4.6. Transitions form a DAG
// with Closed as the sole terminal state.
type ConnectionStatus int

const (
	// WaitingCommand is the phase in which bytes extend the command buffer
	// and, once CRLF-terminated, are handed to the dispatcher.
	WaitingCommand ConnectionStatus = iota
	// WaitingData is the phase entered after DATA; bytes extend the mail
	// buffer until the dot-stuffed CRLF.CRLF sentinel.
	WaitingData
	// StartTLS is the transient phase during the TLS handshake.
	StartTLS
	// Closed is terminal; no further reads are attempted.
	Closed
)

func (s ConnectionStatus) String() string {
	switch s {
	case WaitingCommand:
		return "WaitingCommand"
	case WaitingData:
		return "WaitingData"
	case StartTLS:
		return "StartTLS"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}
