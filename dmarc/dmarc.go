// Package dmarc implements the DMARC TXT record reader described in
// §4.9. It looks up and parses records only; alignment evaluation and
// aggregate/forensic reporting are out of scope, per spec.md's
// Non-goals.
//
// The "_dmarc." prefix lookup itself follows
// HouzuoGuo/laitos's daemon/smtpd/dmarc_workaround.go, which queries
// net.LookupTXT("_dmarc."+domain) directly; this package instead goes
// through dnsresolve.Resolver so it shares the same DNS handle (and
// resolver override) as the spf package.
package dmarc

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gosmtpd/address"
	"gosmtpd/dnsresolve"
)

// AlignmentMode is the relaxed|strict selector for "adkim"/"aspf".
type AlignmentMode int

const (
	// AlignmentUnspecified means the key was absent from the record.
	AlignmentUnspecified AlignmentMode = iota
	AlignmentRelaxed
	AlignmentStrict
)

func parseAlignment(v string) (AlignmentMode, error) {
	switch strings.ToLower(v) {
	case "r":
		return AlignmentRelaxed, nil
	case "s":
		return AlignmentStrict, nil
	default:
		return AlignmentUnspecified, fmt.Errorf("dmarc: invalid alignment mode %q", v)
	}
}

// Record is a parsed DMARC TXT record (§3's data model / §4.9).
type Record struct {
	Version string
	Policy  string // "p": none|quarantine|reject
	Rua     []address.EmailAddress
	Ruf     []address.EmailAddress
	ADKIM   AlignmentMode
	ASPF    AlignmentMode
	RF      string
	Pct     *int
	Ri      *int
}

// Fetch performs the "_dmarc.{domain}." TXT lookup and parses the first
// v=DMARC1 record found. domain must already be the qualified organisational
// or subdomain the caller wants checked; §4.9 and this module's Open
// Questions leave the choice of qualification (bare domain vs. walking up
// to an organisational domain) to the embedder.
func Fetch(ctx context.Context, resolver dnsresolve.Resolver, domain string) (*Record, error) {
	txts, err := resolver.LookupTXT(ctx, "_dmarc."+domain+".")
	if err != nil {
		return nil, fmt.Errorf("dmarc: TXT lookup _dmarc.%s: %w", domain, err)
	}

	var text string
	for _, t := range txts {
		if strings.HasPrefix(strings.ToLower(t), "v=dmarc1") {
			text = t
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("dmarc: no v=DMARC1 record for %s", domain)
	}

	return ParseRecord(text)
}

// ParseRecord parses a raw "v=DMARC1; ..." TXT record body.
func ParseRecord(text string) (*Record, error) {
	rec := &Record{Version: "DMARC1"}

	for _, rawTag := range strings.Split(text, ";") {
		rawTag = strings.TrimSpace(rawTag)
		if rawTag == "" {
			continue
		}
		eq := strings.IndexByte(rawTag, '=')
		if eq < 0 {
			return nil, fmt.Errorf("dmarc: malformed tag %q", rawTag)
		}
		key := strings.ToLower(strings.TrimSpace(rawTag[:eq]))
		value := strings.TrimSpace(rawTag[eq+1:])

		switch key {
		case "v":
			// already consumed as the record selector
		case "p":
			rec.Policy = strings.ToLower(value)
		case "rua":
			addrs, err := parseMailtoList(value)
			if err != nil {
				return nil, err
			}
			rec.Rua = addrs
		case "ruf":
			addrs, err := parseMailtoList(value)
			if err != nil {
				return nil, err
			}
			rec.Ruf = addrs
		case "adkim":
			mode, err := parseAlignment(value)
			if err != nil {
				return nil, err
			}
			rec.ADKIM = mode
		case "aspf":
			mode, err := parseAlignment(value)
			if err != nil {
				return nil, err
			}
			rec.ASPF = mode
		case "rf":
			rec.RF = value
		case "pct":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 || n > 100 {
				return nil, fmt.Errorf("dmarc: invalid pct %q", value)
			}
			rec.Pct = &n
		case "ri":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("dmarc: invalid ri %q", value)
			}
			rec.Ri = &n
		default:
			// Unrecognized tags are ignored, matching §4.9's recognized-key list.
		}
	}

	return rec, nil
}

func parseMailtoList(value string) ([]address.EmailAddress, error) {
	var out []address.EmailAddress
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		// Each entry may carry an optional "!<size>" report-size limit; strip
		// it before validating the mailbox.
		if bang := strings.IndexByte(entry, '!'); bang >= 0 {
			entry = entry[:bang]
		}
		raw := strings.TrimPrefix(entry, "mailto:")
		if raw == entry {
			return nil, fmt.Errorf("dmarc: report URI %q is not a mailto: address", entry)
		}
		addr, err := address.FromString(raw)
		if err != nil {
			return nil, fmt.Errorf("dmarc: invalid report address %q: %w", raw, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
