// Package nettools backs the /checkport and /dnslookup commands.
package nettools

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrRateLimited = errors.New("rate limited")
	ErrInvalidHost = errors.New("invalid host")
	ErrInvalidPort = errors.New("port must be between 1 and 65535")
	ErrRestricted  = errors.New("loopback, link-local and unspecified addresses are not allowed")
)

const idleLimiter = 3 * time.Minute

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Tools struct {
	mu         sync.Mutex
	limiters   map[string]*userLimiter
	perMinute  int
	maxTimeout time.Duration
	lastPrune  time.Time
	dialer     Dialer
	resolver   Resolver
}

func New(perMinute int, maxTimeout time.Duration) *Tools {
	if perMinute <= 0 {
		perMinute = 3
	}
	if maxTimeout <= 0 {
		maxTimeout = 10 * time.Second
	}
	return &Tools{
		limiters:   make(map[string]*userLimiter),
		perMinute:  perMinute,
		maxTimeout: maxTimeout,
		dialer:     &net.Dialer{},
		resolver:   net.DefaultResolver,
	}
}

func (t *Tools) WithDialer(dialer Dialer) {
	t.dialer = dialer
}

func (t *Tools) WithResolver(resolver Resolver) {
	t.resolver = resolver
}

// Allow spends one token from the user's bucket, which refills perMinute
// tokens per minute with a burst of perMinute.
func (t *Tools) Allow(userID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastPrune) > time.Minute {
		for id, entry := range t.limiters {
			if now.Sub(entry.lastSeen) > idleLimiter {
				delete(t.limiters, id)
			}
		}
		t.lastPrune = now
	}

	entry := t.limiters[userID]
	if entry == nil {
		entry = &userLimiter{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(t.perMinute)), t.perMinute)}
		t.limiters[userID] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

type PortResult struct {
	Address string
	Open    bool
	Latency time.Duration
	Err     error
}

func (r PortResult) String() string {
	if r.Open {
		return fmt.Sprintf("%s is open (%s)", r.Address, r.Latency.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s is closed or filtered: %v", r.Address, r.Err)
}

// CheckPort makes a single TCP connection attempt to the first resolved
// address of host. A refused or timed out connection is a result, not an
// error.
func (t *Tools) CheckPort(ctx context.Context, host string, port int, timeout time.Duration) (PortResult, error) {
	host, err := cleanHost(host)
	if err != nil {
		return PortResult{}, err
	}
	if port < 1 || port > 65535 {
		return PortResult{}, ErrInvalidPort
	}
	timeout = t.clampTimeout(timeout)

	address := net.JoinHostPort(host, strconv.Itoa(port))
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target, err := t.resolveTarget(ctx, host)
	if err != nil {
		return PortResult{}, err
	}

	started := time.Now()
	conn, err := t.dialer.DialContext(ctx, "tcp", net.JoinHostPort(target.String(), strconv.Itoa(port)))
	result := PortResult{Address: address, Latency: time.Since(started)}
	if err != nil {
		result.Err = err
		return result, nil
	}
	_ = conn.Close()
	result.Open = true
	return result, nil
}

type LookupResult struct {
	Host  string
	CNAME string
	Addrs []string
}

func (r LookupResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", r.Host)
	if r.CNAME != "" && strings.TrimSuffix(r.CNAME, ".") != r.Host {
		fmt.Fprintf(&b, "CNAME %s\n", r.CNAME)
	}
	for _, addr := range r.Addrs {
		kind := "A"
		if strings.Contains(addr, ":") {
			kind = "AAAA"
		}
		fmt.Fprintf(&b, "%s %s\n", kind, addr)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (t *Tools) Lookup(ctx context.Context, host string) (LookupResult, error) {
	host, err := cleanHost(host)
	if err != nil {
		return LookupResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, t.maxTimeout)
	defer cancel()

	addrs, err := t.resolver.LookupHost(ctx, host)
	if err != nil {
		return LookupResult{}, fmt.Errorf("lookup %s: %w", host, err)
	}
	sort.Strings(addrs)
	result := LookupResult{Host: host, Addrs: addrs}
	if cname, err := t.resolver.LookupCNAME(ctx, host); err == nil {
		result.CNAME = cname
	}
	return result, nil
}

// resolveTarget resolves host once and refuses it when any address points
// back at the bot's own machine or network segment. The returned IP is the
// one dialled, so a second resolution cannot swap it.
func (t *Tools) resolveTarget(ctx context.Context, host string) (net.IP, error) {
	addrs := []string{host}
	if net.ParseIP(host) == nil {
		resolved, err := t.resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", host, err)
		}
		addrs = resolved
	}

	var target net.IP
	for _, addr := range addrs {
		ip := net.ParseIP(addr)
		if ip == nil {
			continue
		}
		if restricted(ip) {
			return nil, ErrRestricted
		}
		if target == nil {
			target = ip
		}
	}
	if target == nil {
		return nil, ErrInvalidHost
	}
	return target, nil
}

func restricted(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() || ip.IsMulticast()
}

func (t *Tools) clampTimeout(timeout time.Duration) time.Duration {
	if timeout < time.Second {
		return time.Second
	}
	if timeout > t.maxTimeout {
		return t.maxTimeout
	}
	return timeout
}

func cleanHost(host string) (string, error) {
	host = strings.TrimSpace(strings.ToLower(host))
	host = strings.TrimSuffix(host, ".")
	if host == "" || strings.ContainsAny(host, " /\\@") || len(host) > 253 {
		return "", ErrInvalidHost
	}
	return host, nil
}
