// Package limiter locks out peers that keep presenting invalid bearer tokens.
package limiter

import (
	"context"
	"crypto/sha256"
	"net"
	"time"
)

// Limiter tracks authentication failures per peer.
type Limiter interface {
	// Allow reports whether the peer may attempt authentication and, if not, for how long it is blocked.
	Allow(ctx context.Context, peer []byte) (bool, time.Duration, error)
	// Failure records a rejected token and reports whether the peer is now blocked.
	Failure(ctx context.Context, peer []byte) (bool, time.Duration, error)
}

// PeerKey hashes the host part of a remote address so raw addresses are never stored.
func PeerKey(addr string) []byte {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	h := sha256.Sum256([]byte(addr))
	return h[:]
}
