// Package spf implements the DNS-driven SPF evaluator described in §4.8:
// TXT record fetch, token parsing, redirect/include chasing, and CIDR
// matching for both address families.
//
// The walk over record tokens and the include/redirect recursion follow
// the shape of blitiri.com.ar/go/spf's resolution type (vendored as a
// dependency in the retrieved pack's chasquid tree), adapted to resolve
// through the dnsresolve.Resolver abstraction instead of calling
// net.LookupTXT/net.LookupIP directly, and to the narrower token set and
// outcome table §4.8 specifies (single-level includes, explicit
// Aggressive/Passive/Permissive policy rather than RFC 7208's full
// qualifier space).
package spf

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"gosmtpd/dnsresolve"
)

// Policy is the disposition a record's "all" mechanism (or an include's)
// selects, per §4.8's outcome table.
type Policy int

const (
	// Unspecified means the record carried no "all" token; treated like
	// Passive (no hard error on a non-match) since neither +all nor -all
	// was asserted.
	Unspecified Policy = iota
	// Aggressive is "-all": a non-match is an error.
	Aggressive
	// Passive is "~all": a non-match is denied without an error.
	Passive
	// Permissive is "+all": always allow.
	Permissive
)

func (p Policy) String() string {
	switch p {
	case Aggressive:
		return "Aggressive"
	case Passive:
		return "Passive"
	case Permissive:
		return "Permissive"
	default:
		return "Unspecified"
	}
}

// Record is a parsed SPF TXT record, per the SPFRecord row in §3's data
// model.
type Record struct {
	Version  string
	IPv4     []*net.IPNet
	IPv6     []*net.IPNet
	All      Policy
	Include  []string
	Included []string
	Redirect string
	Exists   []string
}

// Result is the outcome of evaluating one envelope domain/caller-IP pair.
type Result struct {
	Allowed        bool
	Record         *Record
	MatchedPattern string
	Domain         string
}

// Evaluator holds the DNS handle and chase limits an evaluation run needs.
type Evaluator struct {
	Resolver         dnsresolve.Resolver
	MaxDepthRedirect int
	MaxInclude       int
}

// NewEvaluator builds an Evaluator with the given chase limits.
func NewEvaluator(resolver dnsresolve.Resolver, maxDepthRedirect, maxInclude int) *Evaluator {
	return &Evaluator{Resolver: resolver, MaxDepthRedirect: maxDepthRedirect, MaxInclude: maxInclude}
}

// Evaluate runs the SPF check for callerIP against domain's published
// record.
func (e *Evaluator) Evaluate(ctx context.Context, callerIP net.IP, domain string) (Result, error) {
	return e.evaluate(ctx, callerIP, domain, e.MaxDepthRedirect)
}

func (e *Evaluator) evaluate(ctx context.Context, callerIP net.IP, domain string, remainingRedirect int) (Result, error) {
	record, err := e.fetchRecord(ctx, domain)
	if err != nil {
		return Result{Domain: domain}, err
	}

	aggregate := familyFilter(record.IPv4, record.IPv6, callerIP)

	for i, inc := range record.Include {
		if i >= e.MaxInclude {
			break
		}
		incRecord, err := e.fetchRecord(ctx, inc)
		if err != nil {
			continue
		}
		record.Included = append(record.Included, inc)
		aggregate = append(aggregate, familyFilter(incRecord.IPv4, incRecord.IPv6, callerIP)...)
	}

	if net, ok := firstMatch(aggregate, callerIP); ok {
		return e.outcome(record, domain, true, net.String())
	}

	for _, host := range record.Exists {
		qtype := "A"
		if callerIP.To4() == nil {
			qtype = "AAAA"
		}
		ips, err := e.Resolver.LookupIP(ctx, host)
		if err == nil && len(ips) > 0 {
			return e.outcome(record, domain, true, fmt.Sprintf("exists:%s(%s)", host, qtype))
		}
	}

	if record.Redirect != "" {
		if remainingRedirect <= 0 {
			return Result{Domain: domain, Record: record}, fmt.Errorf("spf: redirect depth exceeded at %s", domain)
		}
		return e.evaluate(ctx, callerIP, record.Redirect, remainingRedirect-1)
	}

	return e.outcome(record, domain, false, "")
}

func (e *Evaluator) outcome(record *Record, domain string, matched bool, pattern string) (Result, error) {
	res := Result{Record: record, Domain: domain, MatchedPattern: pattern}
	if matched {
		res.Allowed = true
		return res, nil
	}
	switch record.All {
	case Aggressive:
		return res, fmt.Errorf("spf: IP not allowed")
	case Permissive:
		res.Allowed = true
		return res, nil
	default: // Passive, Unspecified
		res.Allowed = false
		return res, nil
	}
}

func familyFilter(v4, v6 []*net.IPNet, callerIP net.IP) []*net.IPNet {
	if callerIP.To4() != nil {
		return v4
	}
	return v6
}

func firstMatch(nets []*net.IPNet, ip net.IP) (*net.IPNet, bool) {
	for _, n := range nets {
		if n.Contains(ip) {
			return n, true
		}
	}
	return nil, false
}

func (e *Evaluator) fetchRecord(ctx context.Context, domain string) (*Record, error) {
	txts, err := e.Resolver.LookupTXT(ctx, domain+".")
	if err != nil {
		return nil, fmt.Errorf("spf: TXT lookup %s: %w", domain, err)
	}

	var text string
	for _, t := range txts {
		if strings.HasPrefix(strings.ToLower(t), "v=spf1") {
			text = t
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("spf: no v=spf1 record for %s", domain)
	}

	return ParseRecord(text)
}

// ParseRecord parses a raw "v=spf1 ..." TXT record body into a Record.
func ParseRecord(text string) (*Record, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "v=spf1") {
		return nil, fmt.Errorf("spf: missing v=spf1 prefix")
	}

	rec := &Record{Version: "spf1"}

	for _, tok := range fields[1:] {
		switch {
		case strings.HasPrefix(tok, "ip4:"):
			n, err := parseCIDR(tok[len("ip4:"):], 32)
			if err != nil {
				return nil, err
			}
			rec.IPv4 = append(rec.IPv4, n)
		case strings.HasPrefix(tok, "ip6:"):
			n, err := parseCIDR(tok[len("ip6:"):], 128)
			if err != nil {
				return nil, err
			}
			rec.IPv6 = append(rec.IPv6, n)
		case strings.HasPrefix(tok, "include:"):
			rec.Include = append(rec.Include, tok[len("include:"):])
		case strings.HasPrefix(tok, "redirect="):
			rec.Redirect = tok[len("redirect="):]
		case strings.HasPrefix(tok, "exists:"):
			rec.Exists = append(rec.Exists, tok[len("exists:"):])
		case tok == "-all":
			rec.All = Aggressive
		case tok == "~all":
			rec.All = Passive
		case tok == "+all", tok == "all":
			rec.All = Permissive
		case tok == "?all":
			rec.All = Unspecified
		default:
			// Unsupported mechanisms (a, mx, ptr, macros) are ignored rather
			// than rejected, matching §4.8's recognized-token list.
		}
	}

	return rec, nil
}

func parseCIDR(s string, defaultBits int) (*net.IPNet, error) {
	if !strings.Contains(s, "/") {
		s = s + "/" + strconv.Itoa(defaultBits)
	}
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		return nil, fmt.Errorf("spf: invalid CIDR %q: %w", s, err)
	}
	return n, nil
}
