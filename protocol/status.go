// Package protocol implements the wire-level pieces of the SMTP conversation:
// reply formatting, command lexing and the connection state enum. It has no
// knowledge of sockets or DNS; those live in session, dnsresolve, spf and dmarc.
package protocol

import "fmt"

// StatusCode is an SMTP reply code as defined by RFC 5321.
type StatusCode int

// Reply codes used by the dispatcher. Names follow RFC 5321 §4.2.
const (
	StatusServiceReady        StatusCode = 220
	StatusClosing             StatusCode = 221
	StatusAuthSuccess         StatusCode = 235
	StatusOK                  StatusCode = 250
	StatusUserNotLocal        StatusCode = 251
	StatusCannotVrfy          StatusCode = 252
	StatusHelp                StatusCode = 214
	StatusAuthContinue        StatusCode = 334
	StatusStartMailInput      StatusCode = 354
	StatusServiceNotAvailable StatusCode = 421
	StatusMailboxBusy         StatusCode = 450
	StatusLocalError          StatusCode = 451
	StatusInsufficientStorage StatusCode = 452
	StatusSyntaxError         StatusCode = 500
	StatusSyntaxErrorParams   StatusCode = 501
	StatusNotImplemented      StatusCode = 502
	StatusBadSequence         StatusCode = 503
	StatusParamNotImplemented StatusCode = 504
	StatusAuthRequired        StatusCode = 530
	StatusAuthFailed          StatusCode = 535
	StatusMailboxUnavailable  StatusCode = 550
	StatusUserNotLocalErr     StatusCode = 551
	StatusExceededStorage     StatusCode = 552
	StatusMailboxNameInvalid  StatusCode = 553
	StatusTransactionFailed   StatusCode = 554
)

// Name returns the RFC 5321 symbolic name for the code, or "" if unknown.
func (c StatusCode) Name() string {
	switch c {
	case StatusServiceReady:
		return "ServiceReady"
	case StatusClosing:
		return "ServiceClosingTransmissionChannel"
	case StatusAuthSuccess:
		return "AuthenticationSuccessful"
	case StatusOK:
		return "OK"
	case StatusUserNotLocal:
		return "UserNotLocalWillForward"
	case StatusCannotVrfy:
		return "CannotVrfyButWillAccept"
	case StatusHelp:
		return "HelpMessage"
	case StatusAuthContinue:
		return "AuthContinue"
	case StatusStartMailInput:
		return "StartMailInput"
	case StatusServiceNotAvailable:
		return "ServiceNotAvailable"
	case StatusMailboxBusy:
		return "MailboxUnavailable"
	case StatusLocalError:
		return "LocalError"
	case StatusInsufficientStorage:
		return "InsufficientSystemStorage"
	case StatusSyntaxError:
		return "SyntaxError"
	case StatusSyntaxErrorParams:
		return "SyntaxErrorInParameters"
	case StatusNotImplemented:
		return "CommandNotImplemented"
	case StatusBadSequence:
		return "BadSequenceOfCommands"
	case StatusParamNotImplemented:
		return "ParameterNotImplemented"
	case StatusAuthRequired:
		return "AuthenticationRequired"
	case StatusAuthFailed:
		return "AuthenticationFailed"
	case StatusMailboxUnavailable:
		return "MailboxUnavailable"
	case StatusUserNotLocalErr:
		return "UserNotLocal"
	case StatusExceededStorage:
		return "ExceededStorageAllocation"
	case StatusMailboxNameInvalid:
		return "MailboxNameNotAllowed"
	case StatusTransactionFailed:
		return "TransactionFailed"
	default:
		return ""
	}
}

func (c StatusCode) String() string {
	if name := c.Name(); name != "" {
		return fmt.Sprintf("%d %s", int(c), name)
	}
	return fmt.Sprintf("%d", int(c))
}
