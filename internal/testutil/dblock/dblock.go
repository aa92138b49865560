// Package dblock serializes tests that share one external database across
// package test binaries.
package dblock

import (
	"net"
	"testing"
	"time"
)

const lockAddr = "127.0.0.1:45432"

// Acquire blocks until this process holds the lock and releases it when the
// test finishes.
func Acquire(t testing.TB) {
	t.Helper()
	for {
		ln, err := net.Listen("tcp", lockAddr)
		if err == nil {
			t.Cleanup(func() { ln.Close() })
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
