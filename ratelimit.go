package main

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter hands out one token bucket per client IP. Entries idle for an
// hour are dropped on the next lookup pass so the map cannot grow unbounded.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipEntry
	rps      rate.Limit
	burst    int
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const ipEntryMaxIdle = time.Hour

func newIPLimiter(rps float64, burst int) *ipLimiter {
	return &ipLimiter{
		limiters: map[string]*ipEntry{},
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether the client behind remoteAddr may make a request now.
func (l *ipLimiter) Allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	l.mu.Lock()
	entry, ok := l.limiters[host]
	if !ok {
		entry = &ipEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[host] = entry
		if len(l.limiters)%256 == 0 {
			l.evictIdleLocked()
		}
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()

	return entry.limiter.Allow()
}

func (l *ipLimiter) evictIdleLocked() {
	cutoff := time.Now().Add(-ipEntryMaxIdle)
	for host, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, host)
		}
	}
}
