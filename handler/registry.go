// Package handler defines the embedder-facing hook surface described in
// §6: eight named hook points a consuming application can populate,
// parameterised over the application's own per-session state type S.
//
// The teacher's analogous surface (server/extensions.go) shapes each hook
// as a Go interface implemented by a single struct; per the redesign note
// in §9, this module keeps that "capability interface, not dynamic
// dispatch" idiom rather than reproducing the original's trait-object
// registry, and threads the Ok(reply)/Err(reply) convention through
// ordinary Go (Message, error) returns instead of a Result type.
package handler

import (
	"context"
	"net"

	"gosmtpd/address"
	"gosmtpd/mailmsg"
	"gosmtpd/protocol"
)

// ConnInfo describes a newly accepted connection, passed to OnConn before
// the greeting is written.
type ConnInfo struct {
	RemoteAddr net.Addr
	LocalAddr  net.Addr
	Hostname   string
}

// AuthAttempt carries the decoded credentials of an AUTH exchange. Secret
// is a cleartext password for PLAIN/LOGIN/XOAUTH2 but an HMAC digest for
// the CRAM mechanisms; Params carries mechanism-specific extras (e.g. the
// CRAM challenge string needed to verify that digest).
type AuthAttempt struct {
	Mechanism string
	Identity  string
	Secret    string
	Params    map[string]string
}

// MailCmdInfo carries the parsed MAIL FROM envelope sender and any ESMTP
// parameters that followed it.
type MailCmdInfo struct {
	From   address.EmailAddress
	Params map[string]string
}

// RcptCmdInfo carries one parsed RCPT TO recipient.
type RcptCmdInfo struct {
	To     address.EmailAddress
	Params map[string]string
}

// SPFResult mirrors the spf package's evaluation outcome, shaped here to
// avoid an import cycle (package spf does not depend on handler).
type SPFResult struct {
	Allowed        bool
	Domain         string
	MatchedPattern string
}

// DMARCResult mirrors the dmarc package's reader outcome for the same
// reason.
type DMARCResult struct {
	Policy string
	Domain string
}

// EmailInfo is handed to OnEmail once DATA has been fully reassembled and
// parsed. SPF and DMARC are nil unless the session was configured to
// evaluate them automatically; handlers remain free to call the spf and
// dmarc packages directly instead.
type EmailInfo struct {
	From  address.EmailAddress
	To    []address.EmailAddress
	Mail  *mailmsg.Mail
	SPF   *SPFResult
	DMARC *DMARCResult
}

// OnConnFunc runs immediately after accept, before the greeting line is
// sent. Returning an error closes the connection without a greeting.
type OnConnFunc[S any] func(ctx context.Context, state *S, info ConnInfo) error

// OnAuthFunc validates an AUTH attempt. Per §4.4's Ok/Err convention, the
// returned Message is always sent to the client; a non-nil error also
// closes the connection after it is sent.
type OnAuthFunc[S any] func(ctx context.Context, state *S, attempt AuthAttempt) (protocol.Message, error)

// OnMailCmdFunc runs after MAIL FROM parses successfully. Ok(reply) keeps
// the session open; Err(reply) sends the reply and closes.
type OnMailCmdFunc[S any] func(ctx context.Context, state *S, info MailCmdInfo) (protocol.Message, error)

// OnRcptCmdFunc runs after RCPT TO parses successfully and the sequence
// check (§4.4) has already passed. Ok/Err behaves as OnMailCmdFunc.
type OnRcptCmdFunc[S any] func(ctx context.Context, state *S, info RcptCmdInfo) (protocol.Message, error)

// OnEmailFunc runs once a complete message has been reassembled and
// parsed. Per §7, its reply is always sent and the session always
// returns to WaitingCommand, whether or not it returns an error.
type OnEmailFunc[S any] func(ctx context.Context, state *S, info EmailInfo) (protocol.Message, error)

// OnUnknownCmdFunc runs when the dispatcher sees a verb outside
// AllowedCommands or one it does not recognise at all.
type OnUnknownCmdFunc[S any] func(ctx context.Context, state *S, verb string, raw string) (protocol.Message, error)

// OnResetFunc runs when RSET clears the envelope, and when the session
// loop discards an over-long command line or DATA payload. It is not
// called on MAIL FROM. On RSET an error replaces the 250 reply with a
// 554 carrying the error text and closes the connection; on an
// overflow its error is ignored.
type OnResetFunc[S any] func(ctx context.Context, state *S) error

// OnCloseFunc runs when the session loop exits, successfully or not.
type OnCloseFunc[S any] func(ctx context.Context, state *S, cause error)

// Registry holds the optional hook implementations for one Acceptor. Any
// field left nil falls back to the default behaviour documented on each
// hook type and in §4.4.
type Registry[S any] struct {
	OnConn       OnConnFunc[S]
	OnAuth       OnAuthFunc[S]
	OnMailCmd    OnMailCmdFunc[S]
	OnRcptCmd    OnRcptCmdFunc[S]
	OnEmail      OnEmailFunc[S]
	OnUnknownCmd OnUnknownCmdFunc[S]
	OnReset      OnResetFunc[S]
	OnClose      OnCloseFunc[S]
}

// HasAuth reports whether an AUTH handler is installed, which §4.4's
// EHLO advertisement and the AUTH command both need to know.
func (r Registry[S]) HasAuth() bool {
	return r.OnAuth != nil
}

// Call wraps a Registry with nil-safe dispatch methods, used by package
// session so the zero Registry value needs no special-casing at call
// sites.
type Call[S any] struct {
	reg Registry[S]
}

// NewCall wraps a Registry for internal dispatch use.
func NewCall[S any](reg Registry[S]) Call[S] {
	return Call[S]{reg: reg}
}

// HasAuth reports whether an AUTH handler is installed.
func (c Call[S]) HasAuth() bool {
	return c.reg.HasAuth()
}

func (c Call[S]) OnConn(ctx context.Context, state *S, info ConnInfo) error {
	if c.reg.OnConn == nil {
		return nil
	}
	return c.reg.OnConn(ctx, state, info)
}

func (c Call[S]) OnAuth(ctx context.Context, state *S, attempt AuthAttempt) (protocol.Message, error, bool) {
	if c.reg.OnAuth == nil {
		return protocol.Message{}, nil, false
	}
	msg, err := c.reg.OnAuth(ctx, state, attempt)
	return msg, err, true
}

func (c Call[S]) OnMailCmd(ctx context.Context, state *S, info MailCmdInfo) (protocol.Message, error, bool) {
	if c.reg.OnMailCmd == nil {
		return protocol.Message{}, nil, false
	}
	msg, err := c.reg.OnMailCmd(ctx, state, info)
	return msg, err, true
}

func (c Call[S]) OnRcptCmd(ctx context.Context, state *S, info RcptCmdInfo) (protocol.Message, error, bool) {
	if c.reg.OnRcptCmd == nil {
		return protocol.Message{}, nil, false
	}
	msg, err := c.reg.OnRcptCmd(ctx, state, info)
	return msg, err, true
}

func (c Call[S]) OnEmail(ctx context.Context, state *S, info EmailInfo) (protocol.Message, error, bool) {
	if c.reg.OnEmail == nil {
		return protocol.Message{}, nil, false
	}
	msg, err := c.reg.OnEmail(ctx, state, info)
	return msg, err, true
}

func (c Call[S]) OnUnknownCmd(ctx context.Context, state *S, verb, raw string) (protocol.Message, error, bool) {
	if c.reg.OnUnknownCmd == nil {
		return protocol.Message{}, nil, false
	}
	msg, err := c.reg.OnUnknownCmd(ctx, state, verb, raw)
	return msg, err, true
}

func (c Call[S]) OnReset(ctx context.Context, state *S) error {
	if c.reg.OnReset == nil {
		return nil
	}
	return c.reg.OnReset(ctx, state)
}

func (c Call[S]) OnClose(ctx context.Context, state *S, cause error) {
	if c.reg.OnClose == nil {
		return
	}
	c.reg.OnClose(ctx, state, cause)
}
