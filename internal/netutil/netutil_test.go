package netutil

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidIPv4(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"10.0.0.1", true},
		{"192.168.1.20", true},
		{"0.0.0.0", false},
		{"255.255.255.255", false},
		{"224.0.0.1", false},
		{"10.0.0", false},
		{"::1", false},
		{"host.example", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidIPv4(tt.ip))
		})
	}
}

func TestCheckAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	assert.NoError(t, CheckAddress(context.Background(), ln.Addr().String(), time.Second))
	assert.Error(t, CheckAddress(context.Background(), "not-an-address", time.Second))

	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	assert.Error(t, CheckAddress(context.Background(), addr, 200*time.Millisecond))
}

func TestLocalIdentity(t *testing.T) {
	l := NewLocalIdentity([]string{"10.9.9.9"})
	l.addrsFunc = func() ([]net.Addr, error) {
		return []net.Addr{&net.IPNet{IP: net.ParseIP("192.168.0.5"), Mask: net.CIDRMask(24, 32)}}, nil
	}

	for ip, want := range map[string]bool{
		"127.0.0.1":   true,
		"10.9.9.9":    true,
		"192.168.0.5": true,
		"10.0.0.1":    false,
	} {
		got, err := l.IsLocal(ip)
		require.NoError(t, err)
		assert.Equal(t, want, got, ip)
	}

	_, err := l.IsLocal("bogus")
	assert.Error(t, err)
}
