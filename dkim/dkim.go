// Package dkim is an unimplemented extension point. spec.md explicitly
// scopes DKIM verification out; this package only gives embedders a
// typed place to plug one in later, per the redesign note in §8 asking
// for a documented extension point rather than a reproduced
// implementation.
package dkim

import (
	"context"

	"gosmtpd/mailmsg"
)

// Result is the verdict a DKIM verifier would attach to a message.
type Result int

const (
	// NotSigned means the message carried no DKIM-Signature header.
	NotSigned Result = iota
	// Pass means signature verification succeeded.
	Pass
	// Fail means a DKIM-Signature header was present but did not verify.
	Fail
)

func (r Result) String() string {
	switch r {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	default:
		return "none"
	}
}

// Verifier is the interface a DKIM verifier satisfies. The only
// implementation in this module is NopVerifier below, which reports
// NotSigned or Fail and never Pass.
type Verifier interface {
	Verify(ctx context.Context, mail *mailmsg.Mail) (Result, error)
}

// NopVerifier is the default Verifier: it inspects only whether a
// DKIM-Signature header is present, and never attempts cryptographic
// verification.
type NopVerifier struct{}

// Verify reports NotSigned unless a DKIM-Signature header exists, in
// which case it reports Fail — a verifier that cannot check a signature
// must not report Pass for it.
func (NopVerifier) Verify(ctx context.Context, mail *mailmsg.Mail) (Result, error) {
	if _, ok := mail.GetRaw("DKIM-Signature"); ok {
		return Fail, nil
	}
	return NotSigned, nil
}
