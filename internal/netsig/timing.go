package netsig

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Tracker stores last-request times per client IP for interval analysis.
type Tracker interface {
	RecordRequest(ip string, ts time.Time)
	LastRequest(ip string) (time.Time, bool)
}

// MemoryTracker is the in-process Tracker. A distributed deployment would
// back this with shared storage; per-instance timing is good enough for the
// precision heuristic.
type MemoryTracker struct {
	mu   sync.RWMutex
	last map[string]time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{last: make(map[string]time.Time)}
}

func (t *MemoryTracker) RecordRequest(ip string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[ip] = ts
}

func (t *MemoryTracker) LastRequest(ip string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.last[ip]
	return ts, ok
}

func analyzeTiming(ip string, tracker Tracker) TimingAnalysis {
	analysis := TimingAnalysis{}
	if tracker == nil {
		return analysis
	}

	now := time.Now()

	if last, ok := tracker.LastRequest(ip); ok {
		interval := now.Sub(last)
		analysis.RequestIntervalMS = float64(interval.Nanoseconds()) / 1e6
		analysis.HasPreviousRequest = true
		if analysis.RequestIntervalMS > 0 {
			analysis.RequestsPerSecond = 1000.0 / analysis.RequestIntervalMS
		}

		// Automation tends to fire on suspiciously round intervals.
		intervalMS := interval.Milliseconds()
		if intervalMS > 0 {
			switch {
			case intervalMS%1000 == 0:
				analysis.IntervalPrecision = 1000
			case intervalMS%500 == 0:
				analysis.IntervalPrecision = 500
			case intervalMS%100 == 0:
				analysis.IntervalPrecision = 100
			case intervalMS%50 == 0:
				analysis.IntervalPrecision = 50
			case intervalMS%10 == 0:
				analysis.IntervalPrecision = 10
			}
		}
	}

	tracker.RecordRequest(ip, now)
	return analysis
}

// ClientIP extracts the client address, honoring proxy headers when trusted.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
