package netresolve

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// LookupError reports a failed name resolution. Callers treat it as a
// degraded-result condition rather than a hard failure: the template
// layer substitutes an empty string and logs a warning.
type LookupError struct {
	Name string
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("resolving %s: %v", e.Name, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Resolver answers A-record queries against an explicit nameserver
// list. Build-time lookups target lab nameservers that often differ
// from the host's own resolver configuration, so servers and search
// domains are injectable; a zero Resolver falls back to the host's
// /etc/resolv.conf.
type Resolver struct {
	// Servers are nameserver addresses, host or host:port.
	Servers []string

	// Search domains tried in order for names without a trailing dot
	// that contain no dot at all.
	Search []string

	// Timeout bounds each individual query. Zero means two seconds.
	Timeout time.Duration
}

// FromSystem builds a Resolver from the host's /etc/resolv.conf.
func FromSystem() (*Resolver, error) {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, fmt.Errorf("reading resolver config: %w", err)
	}
	return &Resolver{Servers: conf.Servers, Search: conf.Search}, nil
}

// LookupA resolves name to its first A record, returned as a dotted
// quad. Failures come back as *LookupError.
func (r *Resolver) LookupA(ctx context.Context, name string) (string, error) {
	servers := r.Servers
	search := r.Search
	if len(servers) == 0 {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return "", &LookupError{Name: name, Err: err}
		}
		servers = conf.Servers
		if len(search) == 0 {
			search = conf.Search
		}
	}

	candidates := r.candidates(name, search)
	client := &dns.Client{Timeout: r.timeout()}

	var lastErr error
	for _, fqdn := range candidates {
		msg := new(dns.Msg)
		msg.SetQuestion(fqdn, dns.TypeA)
		msg.RecursionDesired = true

		for _, server := range servers {
			resp, _, err := client.ExchangeContext(ctx, msg, withPort(server))
			if err != nil {
				lastErr = err
				continue
			}
			if resp.Rcode != dns.RcodeSuccess {
				lastErr = fmt.Errorf("%s: %s", fqdn, dns.RcodeToString[resp.Rcode])
				continue
			}
			for _, rr := range resp.Answer {
				if a, ok := rr.(*dns.A); ok {
					return a.A.String(), nil
				}
			}
			lastErr = fmt.Errorf("%s: no A records", fqdn)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no nameservers configured")
	}
	return "", &LookupError{Name: name, Err: lastErr}
}

func (r *Resolver) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 2 * time.Second
}

// candidates lists the fully qualified names to try. A name with a dot
// or trailing dot queries as-is; a bare label walks the search list.
func (r *Resolver) candidates(name string, search []string) []string {
	if strings.HasSuffix(name, ".") {
		return []string{name}
	}
	if strings.Contains(name, ".") || len(search) == 0 {
		return []string{dns.Fqdn(name)}
	}
	out := make([]string, 0, len(search)+1)
	for _, domain := range search {
		out = append(out, dns.Fqdn(name+"."+domain))
	}
	out = append(out, dns.Fqdn(name))
	return out
}

func withPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, "53")
}
