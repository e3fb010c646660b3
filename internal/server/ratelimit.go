package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"meeting-insights-go/internal/logger"
)

const redisLimitTimeout = 200 * time.Millisecond

// RateLimiter caps submissions per client IP per clock minute. Counters live
// in Redis when a client is configured; on Redis errors, and without Redis,
// an in-process counter is used.
type RateLimiter struct {
	rpm     int
	redis   *redis.Client
	trusted []netip.Prefix
	now     func() time.Time
	log     *logger.Logger

	mu     sync.Mutex
	window int64
	counts map[string]int
}

// NewRateLimiter keys quotas by client IP. Forwarding headers are only
// believed when the socket peer falls inside trusted.
func NewRateLimiter(rpm int, rdb *redis.Client, trusted []netip.Prefix, log *logger.Logger) *RateLimiter {
	return &RateLimiter{
		rpm:     rpm,
		redis:   rdb,
		trusted: trusted,
		now:     time.Now,
		log:     log.Component("ratelimit"),
		counts:  map[string]int{},
	}
}

// Allow records one request from ip and reports whether it is within quota,
// along with the remaining quota.
func (l *RateLimiter) Allow(ctx context.Context, ip string) (bool, int) {
	if l.rpm <= 0 {
		return true, 0
	}
	minute := l.now().Unix() / 60
	if l.redis != nil {
		ctx, cancel := context.WithTimeout(ctx, redisLimitTimeout)
		defer cancel()
		key := fmt.Sprintf("ratelimit:%s:%d", ip, minute)
		n, err := l.redis.Incr(ctx, key).Result()
		if err == nil {
			if n == 1 {
				_ = l.redis.Expire(ctx, key, 65*time.Second).Err()
			}
			return int(n) <= l.rpm, l.rpm - int(n)
		}
		l.log.WithError(err).Debug("redis rate limit unavailable, counting in memory")
	}
	return l.allowInMem(ip, minute)
}

func (l *RateLimiter) allowInMem(ip string, minute int64) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if minute != l.window {
		l.counts = map[string]int{}
		l.window = minute
	}
	l.counts[ip]++
	n := l.counts[ip]
	return n <= l.rpm, l.rpm - n
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r, l.trusted)
		ok, remaining := l.Allow(r.Context(), ip)
		if l.rpm > 0 {
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.rpm))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}
		if !ok {
			l.log.WithField("ip", ip).Warn("rate limit exceeded")
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Detail: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the socket peer unless that peer is a trusted proxy. Behind
// one, X-Forwarded-For is walked right to left past trusted hops and the first
// untrusted address wins; X-Real-IP is used when there is no chain.
func ClientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		peer = host
	}
	if !isTrusted(peer, trusted) {
		return peer
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hops = append(hops, h)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if _, err := netip.ParseAddr(hops[i]); err != nil {
			// a hop our own proxies would never write; stop believing the chain
			return peer
		}
		if !isTrusted(hops[i], trusted) || i == 0 {
			return hops[i]
		}
	}

	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		if _, err := netip.ParseAddr(rip); err == nil {
			return rip
		}
	}
	return peer
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
