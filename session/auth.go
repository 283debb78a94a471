package session

import (
	"context"
	"strings"

	"gosmtpd/auth"
	"gosmtpd/handler"
	"gosmtpd/protocol"
)

// HandleAuth runs the AUTH command's interactive mechanism exchange.
// Unlike the other verbs, this cannot be expressed as a pure
// Dispatch call: RFC 4954 requires a 334-challenge/response round trip
// before on_auth has anything to validate, so the loop calls this
// directly instead of routing AUTH through Dispatch. respond writes one
// base64 challenge line and blocks for the client's response line; the
// loop supplies it so there is still exactly one reader per connection
// (see the package doc on Decoder in package auth).
func (s *Session[S]) HandleAuth(ctx context.Context, cmd protocol.Command, respond auth.Respond) (msg protocol.Message, next protocol.ConnectionStatus) {
	defer func() { s.pushTrace(cmd) }()

	if !s.Config.isAllowed(protocol.AUTH) {
		return s.dispatchUnknown(ctx, cmd)
	}
	if !s.Registry.HasAuth() {
		return protocol.NewMessage(protocol.StatusNotImplemented, "Command not implemented"), protocol.WaitingCommand
	}

	mechanism, initial := splitAuthArg(cmd.Data)
	decoder, err := auth.NewDecoder(mechanism)
	if err != nil {
		return protocol.NewMessage(protocol.StatusParamNotImplemented, "Unrecognized authentication mechanism"), protocol.WaitingCommand
	}

	creds, err := decoder.Exchange(initial, respond)
	if err != nil {
		return protocol.NewMessage(protocol.StatusSyntaxErrorParams, "Authentication exchange failed"), protocol.WaitingCommand
	}

	attempt := handler.AuthAttempt{
		Mechanism: string(decoder.Mechanism()),
		Identity:  creds.Identity,
		Secret:    creds.Secret,
		Params:    creds.Extra,
	}
	reply, authErr, _ := s.Registry.OnAuth(ctx, s.State, attempt)
	if authErr != nil {
		return reply, protocol.Closed
	}
	s.setAuthenticated(true)
	return reply, protocol.WaitingCommand
}

// splitAuthArg splits an "AUTH <mechanism> [initial-response]" argument
// into its mechanism token and optional inline response.
func splitAuthArg(data string) (mechanism, initial string) {
	data = strings.TrimSpace(data)
	if sp := strings.IndexByte(data, ' '); sp >= 0 {
		return strings.ToUpper(data[:sp]), strings.TrimSpace(data[sp+1:])
	}
	return strings.ToUpper(data), ""
}
