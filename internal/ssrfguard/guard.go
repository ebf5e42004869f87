package ssrfguard

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/miekg/dns"

	"github.com/kestrelsoft/hxpipe/pkg/failure"
)

/*
Responsibilities

- Restrict fetch targets to http/https
- Resolve the host once and reject loopback/link-local/private addresses
- Hand the caller the exact resolved address it checked, so the dialer
  never re-resolves and risks a different, unchecked address

Blocked, not checked

- robots.txt policy, rate limiting, and content classification all live
  elsewhere; this package answers exactly one question: is it safe to
  open a connection to this target.
*/

// Guard validates fetch targets against SSRF and resolves them once so the
// caller's dialer can reuse the exact address that passed the check.
type Guard struct {
	resolver   *dns.Client
	nameserver string
	allowlist  map[string]struct{}
}

// New builds a Guard that resolves names through nameserver (host:port,
// e.g. "1.1.1.1:53"). allowedHosts bypass the private-range check entirely
// (loopback test fixtures, internal mirrors explicitly trusted by operators).
func New(nameserver string, allowedHosts []string) *Guard {
	allow := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		allow[strings.ToLower(h)] = struct{}{}
	}
	return &Guard{
		resolver:   &dns.Client{},
		nameserver: nameserver,
		allowlist:  allow,
	}
}

// GuardError classifies why a target was rejected.
type GuardError struct {
	Message string
	Cause   GuardErrorCause
}

type GuardErrorCause string

const (
	ErrCauseSchemeDisallowed GuardErrorCause = "scheme disallowed"
	ErrCauseResolutionFailed GuardErrorCause = "resolution failed"
	ErrCausePrivateAddress   GuardErrorCause = "private address"
	ErrCauseNoAddress        GuardErrorCause = "no address"
)

func (e *GuardError) Error() string {
	return fmt.Sprintf("ssrfguard: %s: %s", e.Cause, e.Message)
}

func (e *GuardError) Severity() failure.Severity {
	return failure.SeverityFatal
}

var _ failure.ClassifiedError = (*GuardError)(nil)

// ResolvedTarget carries the single address the guard approved. Dialers
// MUST connect to Address, never re-resolve Host, or the guard's check is
// meaningless against a DNS-rebinding attacker.
type ResolvedTarget struct {
	Host    string
	Port    string
	Address net.IP
}

// Check validates target's scheme and resolves its host, rejecting
// loopback, link-local, and RFC1918 private ranges unless the host is on
// the explicit allowlist.
func (g *Guard) Check(ctx context.Context, target url.URL) (ResolvedTarget, failure.ClassifiedError) {
	scheme := strings.ToLower(target.Scheme)
	if scheme != "http" && scheme != "https" {
		return ResolvedTarget{}, &GuardError{
			Message: fmt.Sprintf("scheme %q", target.Scheme),
			Cause:   ErrCauseSchemeDisallowed,
		}
	}

	host := target.Hostname()
	port := target.Port()
	if port == "" {
		if scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	if _, allowed := g.allowlist[strings.ToLower(host)]; allowed {
		ip, err := g.resolveOne(ctx, host)
		if err != nil {
			return ResolvedTarget{}, err
		}
		return ResolvedTarget{Host: host, Port: port, Address: ip}, nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isDisallowedAddress(ip) {
			return ResolvedTarget{}, &GuardError{
				Message: ip.String(),
				Cause:   ErrCausePrivateAddress,
			}
		}
		return ResolvedTarget{Host: host, Port: port, Address: ip}, nil
	}

	ip, err := g.resolveOne(ctx, host)
	if err != nil {
		return ResolvedTarget{}, err
	}
	if isDisallowedAddress(ip) {
		return ResolvedTarget{}, &GuardError{
			Message: fmt.Sprintf("%s resolves to %s", host, ip),
			Cause:   ErrCausePrivateAddress,
		}
	}
	return ResolvedTarget{Host: host, Port: port, Address: ip}, nil
}

// resolveOne performs a single A-record lookup via the dedicated resolver
// and returns the first address, so the same process that approved the
// address is the one the dialer connects to.
func (g *Guard) resolveOne(ctx context.Context, host string) (net.IP, *GuardError) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	reply, _, err := g.resolver.ExchangeContext(ctx, msg, g.nameserver)
	if err != nil {
		return nil, &GuardError{Message: err.Error(), Cause: ErrCauseResolutionFailed}
	}
	if reply.Rcode != dns.RcodeSuccess {
		return nil, &GuardError{Message: dns.RcodeToString[reply.Rcode], Cause: ErrCauseResolutionFailed}
	}

	for _, rr := range reply.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A, nil
		}
	}
	return nil, &GuardError{Message: host, Cause: ErrCauseNoAddress}
}

func isDisallowedAddress(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// DialAddress returns the pinned "host:port" address to dial: the
// returned string is always the pinned address, so callers constructing an
// http.Transport with DialContext can pass this directly and guarantee no
// second resolution occurs between check and connect.
func (t ResolvedTarget) DialAddress() string {
	return net.JoinHostPort(t.Address.String(), t.Port)
}
