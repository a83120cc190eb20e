// Package ratelimit guards Host's receive loop against a flood of
// handshake REQUEST packets from a single source address, so a spoofed or
// misbehaving sender cannot force the Host to mint unbounded
// ConnectionRequest values and invoke on_receive_request repeatedly.
//
// Grounded on the teacher's ratelimiter/ratelimiter.go: a per-address
// token bucket with a background cleanup goroutine that evicts idle
// entries, adapted here from "rate limit handshake-initiation packets
// before we spend CPU on them" (WireGuard's exact purpose) to "rate limit
// REQUEST packets before Host synthesizes a ConnectionRequest".
package ratelimit

import (
	"net/netip"
	"sync"
	"time"
)

const (
	requestsPerSecond = 20
	requestCost       = int64(time.Second) / requestsPerSecond
	burst             = 5
	maxTokens         = requestCost * burst
	cleanupInterval   = time.Second
)

type entry struct {
	mu       sync.Mutex
	tokens   int64
	lastTime time.Time
}

// Limiter is a per-source-address token bucket.
type Limiter struct {
	mu          sync.RWMutex
	table       map[netip.Addr]*entry
	now         func() time.Time
	stopOrReset chan struct{}
}

// New starts a Limiter and its background cleanup goroutine.
func New() *Limiter {
	l := &Limiter{
		table: make(map[netip.Addr]*entry),
		now:   time.Now,
	}
	l.stopOrReset = make(chan struct{})
	stopOrReset := l.stopOrReset
	go func() {
		ticker := time.NewTicker(time.Second)
		ticker.Stop()
		for {
			select {
			case _, ok := <-stopOrReset:
				ticker.Stop()
				if !ok {
					return
				}
				ticker = time.NewTicker(time.Second)
			case <-ticker.C:
				if l.cleanup() {
					ticker.Stop()
				}
			}
		}
	}()
	return l
}

func (l *Limiter) cleanup() (empty bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range l.table {
		v.mu.Lock()
		if l.now().Sub(v.lastTime) > cleanupInterval {
			delete(l.table, k)
		}
		v.mu.Unlock()
	}
	return len(l.table) == 0
}

// Allow reports whether a REQUEST from addr should be processed now.
func (l *Limiter) Allow(addr netip.Addr) bool {
	l.mu.RLock()
	e, ok := l.table[addr]
	l.mu.RUnlock()
	if !ok {
		e = &entry{tokens: maxTokens - requestCost, lastTime: l.now()}
		l.mu.Lock()
		l.table[addr] = e
		isFirst := len(l.table) == 1
		l.mu.Unlock()
		if isFirst {
			l.stopOrReset <- struct{}{}
		}
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := l.now()
	e.tokens += now.Sub(e.lastTime).Nanoseconds()
	e.lastTime = now
	if e.tokens > maxTokens {
		e.tokens = maxTokens
	}
	if e.tokens > requestCost {
		e.tokens -= requestCost
		return true
	}
	return false
}

// Close stops the background cleanup goroutine.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopOrReset != nil {
		close(l.stopOrReset)
		l.stopOrReset = nil
	}
}
