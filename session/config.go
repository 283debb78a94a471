package session

import (
	"crypto/tls"
	"time"

	"gosmtpd/dnsresolve"
	"gosmtpd/protocol"
	"gosmtpd/spf"
)

const (
	// DefaultMaxCommandLength is the §4.7 command buffer cap.
	DefaultMaxCommandLength = 2048
	// DefaultMaxSize is the §4.7 default DATA payload cap (10 MiB).
	DefaultMaxSize = 10 * 1024 * 1024
	// DefaultPerOpTimeout brackets one loop iteration, per §5.
	DefaultPerOpTimeout = 30 * time.Second
	// DefaultPerSessionTimeout bounds the whole connection, per §5.
	DefaultPerSessionTimeout = 300 * time.Second
	// DefaultStartTLSTimeout bounds the STARTTLS handshake, per §4.5/§5.
	DefaultStartTLSTimeout = 10 * time.Second
)

// allVerbs is the default allowed_commands set: the full closed set,
// per §6.
var allVerbs = []protocol.Verb{
	protocol.HELO, protocol.EHLO, protocol.MAIL, protocol.RCPT, protocol.DATA,
	protocol.RSET, protocol.VRFY, protocol.EXPN, protocol.HELP, protocol.NOOP,
	protocol.QUIT, protocol.AUTH, protocol.STARTTLS,
}

// Config is the per-session behavior an Acceptor shares across every
// connection it spawns (§6's configuration surface, minus the
// worker-pool and bind-address knobs that belong to package smtpd).
type Config struct {
	// Hostname is advertised in the greeting and EHLO banner.
	Hostname string

	MaxCommandLength int
	MaxSize          int64

	// AllowedCommands restricts which verbs the dispatcher accepts; a nil
	// or empty set means the full closed set is allowed.
	AllowedCommands map[protocol.Verb]bool

	PerOpTimeout      time.Duration
	PerSessionTimeout time.Duration
	StartTLSTimeout   time.Duration

	// TLSConfig is the optional TLS acceptor. When nil, STARTTLS always
	// answers with a 554-class error, per §6.
	TLSConfig *tls.Config

	// SPFEvaluator, when set, is run against the MAIL FROM domain once
	// DATA completes and its result attached to EmailInfo.SPF before
	// on_email runs. Handlers remain free to call package spf directly
	// instead; this is a convenience, not a requirement.
	SPFEvaluator *spf.Evaluator

	// DMARCResolver, when set, is used to fetch the MAIL FROM domain's
	// DMARC record before on_email runs, attaching it as EmailInfo.DMARC.
	DMARCResolver dnsresolve.Resolver
}

// WithDefaults returns a copy of cfg with zero-valued fields replaced by
// their §4.7/§5/§6 defaults.
func (cfg Config) WithDefaults() Config {
	if cfg.MaxCommandLength <= 0 {
		cfg.MaxCommandLength = DefaultMaxCommandLength
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.PerOpTimeout <= 0 {
		cfg.PerOpTimeout = DefaultPerOpTimeout
	}
	if cfg.PerSessionTimeout <= 0 {
		cfg.PerSessionTimeout = DefaultPerSessionTimeout
	}
	if cfg.StartTLSTimeout <= 0 {
		cfg.StartTLSTimeout = DefaultStartTLSTimeout
	}
	if len(cfg.AllowedCommands) == 0 {
		cfg.AllowedCommands = make(map[protocol.Verb]bool, len(allVerbs))
		for _, v := range allVerbs {
			cfg.AllowedCommands[v] = true
		}
	}
	return cfg
}

func (cfg Config) isAllowed(v protocol.Verb) bool {
	return cfg.AllowedCommands[v]
}
