// Package netutil holds the address checks used before a host or signing
// helper is accepted.
package netutil

import (
	"context"
	"fmt"
	"net"
	"time"
)

// ValidIPv4 reports whether ip is a well-formed IPv4 address usable as a
// host: not unspecified, not multicast and not broadcast.
func ValidIPv4(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	v4 := parsed.To4()
	if v4 == nil {
		return false
	}
	if v4.IsUnspecified() || v4.IsMulticast() || v4.Equal(net.IPv4bcast) {
		return false
	}
	return true
}

// CheckAddress opens and closes a TCP connection to addr within timeout.
func CheckAddress(ctx context.Context, addr string, timeout time.Duration) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// LocalIdentity decides whether an address belongs to the manager itself.
type LocalIdentity struct {
	extra     map[string]struct{}
	addrsFunc func() ([]net.Addr, error)
}

// NewLocalIdentity creates a LocalIdentity that also treats extra as local.
func NewLocalIdentity(extra []string) *LocalIdentity {
	l := &LocalIdentity{extra: make(map[string]struct{}, len(extra)), addrsFunc: net.InterfaceAddrs}
	for _, ip := range extra {
		l.extra[ip] = struct{}{}
	}
	return l
}

// IsLocal reports whether ip is loopback, one of the configured extra
// addresses, or bound to a local interface.
func (l *LocalIdentity) IsLocal(ip string) (bool, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false, fmt.Errorf("invalid ip %q", ip)
	}
	if parsed.IsLoopback() {
		return true, nil
	}
	if _, ok := l.extra[ip]; ok {
		return true, nil
	}
	addrs, err := l.addrsFunc()
	if err != nil {
		return false, fmt.Errorf("failed to list interface addresses: %w", err)
	}
	for _, a := range addrs {
		var local net.IP
		switch v := a.(type) {
		case *net.IPNet:
			local = v.IP
		case *net.IPAddr:
			local = v.IP
		}
		if local != nil && local.Equal(parsed) {
			return true, nil
		}
	}
	return false, nil
}
