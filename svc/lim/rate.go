package lim

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pastebox/svc/db"
	"pastebox/svc/util"
)

const (
	maxLimiters     = 10000
	cleanupInterval = 5 * time.Minute
	limiterTTL      = 30 * time.Minute
)

// Limiter applies a per-IP token bucket locally and, when Redis is
// available, a fixed-window counter shared across instances.
type Limiter struct {
	rdb            *db.Redis
	trustedProxies []string
	localLimiters  map[string]*limiterEntry
	mu             sync.Mutex
	burstLimit     int
	globalRPM      int
	quit           chan struct{}
	stopOnce       sync.Once
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

func New(globalRPM, perIPBurst int, rdb *db.Redis, trustedProxies []string) *Limiter {
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				panic(fmt.Sprintf("invalid CIDR in trustedProxies: %s: %v", proxy, err))
			}
		} else {
			if net.ParseIP(proxy) == nil {
				panic(fmt.Sprintf("invalid IP in trustedProxies: %s", proxy))
			}
		}
	}
	l := &Limiter{
		rdb:            rdb,
		trustedProxies: trustedProxies,
		localLimiters:  make(map[string]*limiterEntry),
		burstLimit:     perIPBurst,
		globalRPM:      globalRPM,
		quit:           make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
	})
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictStale()
		case <-l.quit:
			return
		}
	}
}

func (l *Limiter) evictStale() {
	cutoff := time.Now().Add(-limiterTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, entry := range l.localLimiters {
		if entry.lastAccess.Before(cutoff) {
			delete(l.localLimiters, ip)
		}
	}
}

// CheckLimit consults the shared Redis window first, then the local bucket.
// A Redis outage degrades to local-only limiting rather than blocking.
func (l *Limiter) CheckLimit(r *http.Request, endpoint string) RateLimitResult {
	ip := GetRealIP(r, l.trustedProxies)
	window := time.Minute
	reset := time.Now().Add(window)
	if l.rdb != nil {
		key := "ratelimit:" + endpoint + ":" + ip
		usage, err := l.rdb.RateLimit(r.Context(), key, l.globalRPM, window)
		if err != nil {
			util.Warn().Err(err).Str("ip", util.RedactIP(ip)).Msg("redis rate limit unavailable")
		} else if usage > l.globalRPM {
			return RateLimitResult{Allowed: false, Limit: l.globalRPM, Remaining: 0, Reset: reset}
		} else {
			remaining := l.globalRPM - usage
			if !l.localAllow(ip) {
				return RateLimitResult{Allowed: false, Limit: l.globalRPM, Remaining: remaining, Reset: reset}
			}
			return RateLimitResult{Allowed: true, Limit: l.globalRPM, Remaining: remaining, Reset: reset}
		}
	}
	if !l.localAllow(ip) {
		return RateLimitResult{Allowed: false, Limit: l.globalRPM, Remaining: 0, Reset: reset}
	}
	return RateLimitResult{Allowed: true, Limit: l.globalRPM, Remaining: l.burstLimit, Reset: reset}
}

func (l *Limiter) localAllow(ip string) bool {
	l.mu.Lock()
	entry, ok := l.localLimiters[ip]
	if !ok {
		if len(l.localLimiters) >= maxLimiters {
			l.mu.Unlock()
			l.evictStale()
			l.mu.Lock()
		}
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(l.globalRPM)/60.0), l.burstLimit),
		}
		l.localLimiters[ip] = entry
	}
	entry.lastAccess = time.Now()
	lim := entry.limiter
	l.mu.Unlock()
	return lim.Allow()
}

// GetRealIP trusts X-Forwarded-For only when the direct peer is a
// configured proxy.
func GetRealIP(r *http.Request, trustedProxies []string) string {
	remoteIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remoteIP); err == nil {
		remoteIP = host
	}
	if len(trustedProxies) == 0 || !ipTrusted(remoteIP, trustedProxies) {
		return remoteIP
	}
	fwd := r.Header.Get("X-Forwarded-For")
	if fwd == "" {
		return remoteIP
	}
	parts := strings.Split(fwd, ",")
	candidate := strings.TrimSpace(parts[0])
	if net.ParseIP(candidate) == nil {
		return remoteIP
	}
	return candidate
}

func ipTrusted(ip string, trustedProxies []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			if _, cidr, err := net.ParseCIDR(proxy); err == nil && cidr.Contains(parsed) {
				return true
			}
		} else if proxy == ip {
			return true
		}
	}
	return false
}
