// Package dnsresolve provides the DNS lookups the spf and dmarc packages
// need (TXT, A, AAAA). It is deliberately thin: timeouts come from the
// caller's context, failed queries are not retried, and this package
// just shapes the query.
//
// The default Resolver uses github.com/miekg/dns directly against a
// configured server, following the query/exchange pattern used for the
// rest of the example pack's DNS traffic; a StdResolver fallback wraps
// net.Resolver for embedders who would rather inherit the host's
// resolv.conf behaviour.
package dnsresolve

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// Resolver is the lookup surface spf and dmarc depend on. Embedders may
// supply their own implementation (e.g. backed by a caching proxy); see
// §6's "DNS resolver override" configuration knob.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupIP(ctx context.Context, name string) ([]net.IP, error)
}

// Client resolves via direct DNS queries against Server, using
// github.com/miekg/dns for message construction and exchange.
type Client struct {
	// Server is "host:port" of the recursive resolver to query.
	Server string
}

// NewClient builds a Client pointed at server ("host:port").
func NewClient(server string) *Client {
	return &Client{Server: server}
}

// LookupTXT returns the TXT record strings for name, each already
// concatenated from its constituent character-strings.
func (c *Client) LookupTXT(ctx context.Context, name string) ([]string, error) {
	msg, err := c.exchange(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rr := range msg.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, joinTXT(txt.Txt))
		}
	}
	return out, nil
}

// LookupIP returns the A and AAAA records for name.
func (c *Client) LookupIP(ctx context.Context, name string) ([]net.IP, error) {
	var ips []net.IP

	msgA, err := c.exchange(ctx, name, dns.TypeA)
	if err == nil {
		for _, rr := range msgA.Answer {
			if a, ok := rr.(*dns.A); ok {
				ips = append(ips, a.A)
			}
		}
	}

	msgAAAA, err6 := c.exchange(ctx, name, dns.TypeAAAA)
	if err6 == nil {
		for _, rr := range msgAAAA.Answer {
			if aaaa, ok := rr.(*dns.AAAA); ok {
				ips = append(ips, aaaa.AAAA)
			}
		}
	}

	if len(ips) == 0 && err != nil {
		return nil, err
	}
	return ips, nil
}

func (c *Client) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	if name == "" {
		return nil, fmt.Errorf("dnsresolve: empty query name")
	}
	fqdn := dns.Fqdn(name)

	client := new(dns.Client)
	query := new(dns.Msg)
	query.RecursionDesired = true
	query.SetQuestion(fqdn, qtype)

	resp, _, err := client.ExchangeContext(ctx, query, c.Server)
	if err != nil {
		return nil, fmt.Errorf("dnsresolve: query %s %s: %w", fqdn, dns.TypeToString[qtype], err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dnsresolve: %s %s: rcode %s", fqdn, dns.TypeToString[qtype], dns.RcodeToString[resp.Rcode])
	}
	return resp, nil
}

func joinTXT(parts []string) string {
	out := ""
	for _, p := range parts {
		out += p
	}
	return out
}

// StdResolver adapts the standard library's net.Resolver to the Resolver
// interface, for embedders who prefer the host's configured resolver
// instead of a direct github.com/miekg/dns query.
type StdResolver struct {
	Resolver *net.Resolver
}

// NewStdResolver wraps net.DefaultResolver.
func NewStdResolver() *StdResolver {
	return &StdResolver{Resolver: net.DefaultResolver}
}

func (s *StdResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return s.Resolver.LookupTXT(ctx, name)
}

func (s *StdResolver) LookupIP(ctx context.Context, name string) ([]net.IP, error) {
	addrs, err := s.Resolver.LookupIPAddr(ctx, name)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}
