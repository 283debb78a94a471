package session

import (
	"context"
	"fmt"

	"gosmtpd/address"
	"gosmtpd/handler"
	"gosmtpd/protocol"
)

// Dispatch runs the §4.4 Command Dispatcher for one already-lexed
// command and returns the reply to send and the resulting connection
// status. AUTH is intercepted by the session loop before reaching here
// because its exchange needs bidirectional I/O the dispatcher's pure
// (Message, status) shape cannot express; DATA's payload likewise is
// read by the loop once it observes the WaitingData status this
// returns.
//
// Grounded on the teacher's server.Session.handleCommand switch
// (server/session.go), generalized to the hook registry and the
// Ok(reply)/Err(reply) convention of §4.4/§9.
func (s *Session[S]) Dispatch(ctx context.Context, cmd protocol.Command) (msg protocol.Message, next protocol.ConnectionStatus) {
	defer func() { s.pushTrace(cmd) }()

	if !s.Config.isAllowed(cmd.Verb) {
		return s.dispatchUnknown(ctx, cmd)
	}

	switch cmd.Verb {
	case protocol.HELO:
		return s.dispatchHelo(cmd)
	case protocol.EHLO:
		return s.dispatchEhlo(cmd)
	case protocol.MAIL:
		return s.dispatchMail(ctx, cmd)
	case protocol.RCPT:
		return s.dispatchRcpt(ctx, cmd)
	case protocol.DATA:
		return protocol.NewMessage(protocol.StatusStartMailInput, "Start mail input; end with <CRLF>.<CRLF>"), protocol.WaitingData
	case protocol.RSET:
		s.resetEnvelope()
		if err := s.Registry.OnReset(ctx, s.State); err != nil {
			return protocol.NewMessage(protocol.StatusTransactionFailed, err.Error()), protocol.Closed
		}
		return protocol.NewMessage(protocol.StatusOK, "OK"), protocol.WaitingCommand
	case protocol.VRFY:
		return protocol.NewMessage(protocol.StatusCannotVrfy, "Cannot VRFY user, but will accept message and attempt delivery"), protocol.WaitingCommand
	case protocol.EXPN:
		return protocol.NewMessage(protocol.StatusNotImplemented, "Command not implemented"), protocol.WaitingCommand
	case protocol.HELP:
		return protocol.NewMessage(protocol.StatusHelp, "See RFC 5321"), protocol.WaitingCommand
	case protocol.NOOP:
		return protocol.NewMessage(protocol.StatusOK, "OK"), protocol.WaitingCommand
	case protocol.QUIT:
		return protocol.NewMessage(protocol.StatusClosing, "Service closing transmission channel"), protocol.Closed
	case protocol.STARTTLS:
		return s.dispatchStartTLS()
	case protocol.AUTH:
		// Reached only when no AUTH handler could run the interactive
		// exchange (e.g. the embedder registered no on_auth).
		if !s.Registry.HasAuth() {
			return protocol.NewMessage(protocol.StatusNotImplemented, "Command not implemented"), protocol.WaitingCommand
		}
		return protocol.NewMessage(protocol.StatusBadSequence, "Bad sequence of commands"), protocol.WaitingCommand
	default:
		return s.dispatchUnknown(ctx, cmd)
	}
}

func (s *Session[S]) dispatchUnknown(ctx context.Context, cmd protocol.Command) (protocol.Message, protocol.ConnectionStatus) {
	verb := cmd.Raw
	if verb == "" {
		verb = cmd.Verb.String()
	}
	if msg, err, installed := s.Registry.OnUnknownCmd(ctx, s.State, verb, cmd.Data); installed {
		if err != nil {
			return msg, protocol.Closed
		}
		return msg, protocol.WaitingCommand
	}
	return protocol.NewMessage(protocol.StatusNotImplemented, "Command not implemented"), protocol.WaitingCommand
}

func (s *Session[S]) dispatchHelo(cmd protocol.Command) (protocol.Message, protocol.ConnectionStatus) {
	s.setHeloName(cmd.Data)
	greeting := fmt.Sprintf("Hello %s", s.Config.Hostname)
	return protocol.NewMessage(protocol.StatusOK, greeting), protocol.WaitingCommand
}

func (s *Session[S]) dispatchEhlo(cmd protocol.Command) (protocol.Message, protocol.ConnectionStatus) {
	s.setHeloName(cmd.Data)

	lines := []string{
		"Hello",
		fmt.Sprintf("SIZE %d", s.Config.MaxSize),
		"8BITMIME",
		"PIPELINING",
		"HELP",
	}
	if !s.Conn.IsTLS() {
		lines = append(lines, "STARTTLS")
	}
	if s.Registry.HasAuth() {
		lines = append(lines, "AUTH PLAIN LOGIN CRAM-MD5 DIGEST-MD5 GSSAPI NTLM XOAUTH2")
	}
	return protocol.NewMultilineMessage(protocol.StatusOK, lines...), protocol.WaitingCommand
}

func (s *Session[S]) dispatchMail(ctx context.Context, cmd protocol.Command) (protocol.Message, protocol.ConnectionStatus) {
	raw := protocol.ParseMailCommandData(cmd.Data)
	addr, err := address.FromCommandArg(raw)
	if err != nil {
		return protocol.NewMessage(protocol.StatusSyntaxErrorParams, err.Error()), protocol.WaitingCommand
	}
	s.setMailFrom(addr)

	params := protocol.ParseCommandParams(cmd.Data)
	if msg, err, installed := s.Registry.OnMailCmd(ctx, s.State, handler.MailCmdInfo{From: addr, Params: params}); installed {
		if err != nil {
			return msg, protocol.Closed
		}
		return msg, protocol.WaitingCommand
	}
	return protocol.NewMessage(protocol.StatusOK, "OK"), protocol.WaitingCommand
}

func (s *Session[S]) dispatchRcpt(ctx context.Context, cmd protocol.Command) (protocol.Message, protocol.ConnectionStatus) {
	// Per §4.4/§9's resolved Open Question, the sequence check runs
	// before the handler: the last accepted command must be MAIL or
	// RCPT.
	if last, ok := s.lastVerb(); !ok || (last != protocol.MAIL && last != protocol.RCPT) {
		return protocol.NewMessage(protocol.StatusBadSequence, "Bad sequence of commands"), protocol.WaitingCommand
	}

	raw := protocol.ParseRcptCommandData(cmd.Data)
	addr, err := address.FromCommandArg(raw)
	if err != nil {
		return protocol.NewMessage(protocol.StatusSyntaxErrorParams, err.Error()), protocol.WaitingCommand
	}
	s.addRcptTo(addr)

	params := protocol.ParseCommandParams(cmd.Data)
	if msg, err, installed := s.Registry.OnRcptCmd(ctx, s.State, handler.RcptCmdInfo{To: addr, Params: params}); installed {
		if err != nil {
			return msg, protocol.Closed
		}
		return msg, protocol.WaitingCommand
	}
	return protocol.NewMessage(protocol.StatusOK, "OK"), protocol.WaitingCommand
}

func (s *Session[S]) dispatchStartTLS() (protocol.Message, protocol.ConnectionStatus) {
	if s.Conn.IsTLS() || s.Config.TLSConfig == nil {
		return protocol.NewMessage(protocol.StatusTransactionFailed, "TLS not available"), protocol.WaitingCommand
	}
	return protocol.NewMessage(protocol.StatusServiceReady, "Ready to start TLS"), protocol.StartTLS
}
