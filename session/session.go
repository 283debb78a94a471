package session

import (
	"sync"
	"time"

	"gosmtpd/address"
	"gosmtpd/handler"
	"gosmtpd/logging"
	"gosmtpd/protocol"
)

// Session is the mutable state of one SMTP connection: the Connection
// itself, the envelope being assembled, and the embedder's own
// per-connection state S. It is grounded on the teacher's server.Session
// struct (conn/connReader/connTP/state/heloName/mailFrom/rcptTo/
// authenticated/capabilities), trimmed of BadSMTP-specific fields
// (pipelining detection, error-simulation results, metadata map) that
// have no place once those behaviors are pushed out to the handler
// registry.
//
// Per §5, mu is the session-scoped guard: the loop MUST release it
// before awaiting any handler.Call method and may re-acquire it
// afterwards to apply results.
type Session[S any] struct {
	mu sync.Mutex

	Conn   *Connection
	Config Config
	Logger *logging.SMTPLogger

	status ConnectionStatus

	heloName      string
	mailFrom      *address.EmailAddress
	rcptTo        []address.EmailAddress
	authenticated bool
	trace         []protocol.Command

	State    *S
	Registry handler.Call[S]

	startedAt time.Time
}

// ConnectionStatus is an alias kept local for readability; it is the
// same enum package protocol defines for the dispatcher's next-state
// value.
type ConnectionStatus = protocol.ConnectionStatus

// New constructs a Session ready to run. The caller owns sending
// nothing before Run — the greeting is the loop's responsibility.
func New[S any](conn *Connection, cfg Config, reg handler.Registry[S], state *S, logger *logging.SMTPLogger) *Session[S] {
	return &Session[S]{
		Conn:      conn,
		Config:    cfg.WithDefaults(),
		Logger:    logger,
		status:    protocol.WaitingCommand,
		State:     state,
		Registry:  handler.NewCall(reg),
		startedAt: time.Now(),
	}
}

func (s *Session[S]) lock() {
	s.mu.Lock()
}

func (s *Session[S]) unlock() {
	s.mu.Unlock()
}

// Status returns the current connection status under the session guard.
func (s *Session[S]) Status() protocol.ConnectionStatus {
	s.lock()
	defer s.unlock()
	return s.status
}

func (s *Session[S]) setStatus(status protocol.ConnectionStatus) {
	s.lock()
	from := s.status
	s.status = status
	s.unlock()

	if s.Logger != nil && from != status {
		cmd := ""
		if verb, ok := s.lastVerb(); ok {
			cmd = verb.String()
		}
		s.Logger.LogStateTransition(from.String(), status.String(), cmd)
	}
}

// Trace returns a snapshot of the tracing_commands list (§4.4, §8).
func (s *Session[S]) Trace() []protocol.Command {
	s.lock()
	defer s.unlock()
	out := make([]protocol.Command, len(s.trace))
	copy(out, s.trace)
	return out
}

func (s *Session[S]) pushTrace(cmd protocol.Command) {
	s.lock()
	defer s.unlock()
	s.trace = append(s.trace, cmd)
}

func (s *Session[S]) lastVerb() (protocol.Verb, bool) {
	s.lock()
	defer s.unlock()
	if len(s.trace) == 0 {
		return protocol.Unknown, false
	}
	return s.trace[len(s.trace)-1].Verb, true
}

// resetEnvelope clears MAIL FROM/RCPT TO, mirroring RSET and the
// implicit reset before a new MAIL FROM (§4.4).
func (s *Session[S]) resetEnvelope() {
	s.lock()
	defer s.unlock()
	s.mailFrom = nil
	s.rcptTo = nil
}

func (s *Session[S]) setMailFrom(addr address.EmailAddress) {
	s.lock()
	defer s.unlock()
	s.mailFrom = &addr
	s.rcptTo = nil
}

func (s *Session[S]) addRcptTo(addr address.EmailAddress) {
	s.lock()
	defer s.unlock()
	s.rcptTo = append(s.rcptTo, addr)
}

func (s *Session[S]) envelope() (*address.EmailAddress, []address.EmailAddress) {
	s.lock()
	defer s.unlock()
	return s.mailFrom, append([]address.EmailAddress(nil), s.rcptTo...)
}

func (s *Session[S]) setAuthenticated(v bool) {
	s.lock()
	defer s.unlock()
	s.authenticated = v
}

func (s *Session[S]) setHeloName(name string) {
	s.lock()
	defer s.unlock()
	s.heloName = name
}
