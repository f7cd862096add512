package middleware

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eldtechnologies/campus/internal/metrics"
)

// RateLimit defines limits for an endpoint pattern.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

type routeLimit struct {
	pattern string
	limit   RateLimit
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Enable auto-blocking after repeated violations
}

// limitBackend counts requests per key.
type limitBackend interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time)
}

// RateLimiter applies per-endpoint limits. With a Redis client it uses a
// shared sliding window and can auto-block abusive IPs; without one it falls
// back to in-process token buckets.
type RateLimiter struct {
	client           *redis.Client
	backend          limitBackend
	limits           []routeLimit
	blocker          *IPBlocker
	logger           zerolog.Logger
	whitelist        []*net.IPNet
	whitelistIPs     map[string]bool
	autoBlockEnabled bool
}

// NewRateLimiter creates a new rate limiter. client may be nil.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:           client,
		logger:           logger,
		whitelistIPs:     make(map[string]bool),
		autoBlockEnabled: cfg.AutoBlockEnabled && client != nil,
		limits:           defaultLimits(),
	}
	if client != nil {
		rl.backend = &redisWindow{client: client}
		rl.blocker = NewIPBlocker(client)
	} else {
		rl.backend = newLocalBuckets(maxLocalKeys)
	}

	// Parse whitelist entries
	for _, entry := range cfg.Whitelist {
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			rl.whitelist = append(rl.whitelist, ipNet)
		} else {
			rl.whitelistIPs[entry] = true
		}
	}

	if len(cfg.Whitelist) > 0 {
		logger.Info().
			Int("ips", len(rl.whitelistIPs)).
			Int("cidrs", len(rl.whitelist)).
			Msg("rate limit whitelist configured")
	}

	return rl
}

func defaultLimits() []routeLimit {
	limits := []routeLimit{
		{"POST /auth/signup", RateLimit{10, time.Hour, ipKey}},
		{"POST /auth/login", RateLimit{20, 15 * time.Minute, ipKey}},
		{"POST /auth/verify", RateLimit{20, 15 * time.Minute, ipKey}},
		{"POST /auth/resend", RateLimit{5, time.Hour, ipKey}},
		{"POST /auth/password", RateLimit{10, time.Hour, tokenOrIPKey}},
		{"GET /conversations", RateLimit{120, time.Minute, tokenOrIPKey}},
		{"POST /conversations", RateLimit{30, time.Minute, tokenOrIPKey}},
		{"POST /conversations/", RateLimit{60, time.Minute, tokenOrIPKey}},
		{"GET /inbox", RateLimit{20, time.Minute, tokenOrIPKey}},
		{"POST /feed", RateLimit{30, time.Hour, tokenOrIPKey}},
		{"POST /listings/", RateLimit{30, time.Hour, tokenOrIPKey}},
		{"GET /listings/", RateLimit{120, time.Minute, tokenOrIPKey}},
		{"POST /profile/", RateLimit{20, time.Hour, tokenOrIPKey}},
		{"GET /community", RateLimit{60, time.Minute, tokenOrIPKey}},
		{"GET /search", RateLimit{30, time.Minute, ipKey}},
	}
	// Longest pattern first so "POST /conversations/" wins over "POST /conversations".
	sort.SliceStable(limits, func(i, j int) bool {
		return len(limits[i].pattern) > len(limits[j].pattern)
	})
	return limits
}

// Blocker returns the IP blocker, or nil when running without Redis.
func (rl *RateLimiter) Blocker() *IPBlocker {
	return rl.blocker
}

// isWhitelisted checks if an IP is in the whitelist.
func (rl *RateLimiter) isWhitelisted(ipStr string) bool {
	if rl.whitelistIPs[ipStr] {
		return true
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range rl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// ipKey returns rate limit key based on client IP.
func ipKey(r *http.Request) string {
	return "ratelimit:ip:" + RealIP(r)
}

// tokenOrIPKey keys on a digest of the access token when present, otherwise on the IP.
// The limiter runs before authentication, so the token is not verified here.
func tokenOrIPKey(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		sum := sha256.Sum256([]byte(token))
		return "ratelimit:token:" + hex.EncodeToString(sum[:8])
	}
	return "ratelimit:ip:" + RealIP(r)
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("Fly-Client-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// CheckAndIncrement checks rate limit and increments counter.
// Returns (allowed, remaining, resetAt).
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time) {
	return rl.backend.Allow(ctx, key, limit, window)
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)

		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if rl.blocker != nil && rl.blocker.IsBlocked(r.Context(), ip) {
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		pattern, limit := rl.findLimit(r)
		if limit == nil {
			next.ServeHTTP(w, r)
			return
		}

		// Each endpoint pattern has its own budget.
		key := limit.KeyFunc(r) + ":" + pattern
		allowed, remaining, resetAt := rl.CheckAndIncrement(r.Context(), key, limit.Requests, limit.Window)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retry := int(math.Ceil(time.Until(resetAt).Seconds()))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))

			rl.trackViolation(r.Context(), ip)
			metrics.RateLimitHits.WithLabelValues(pattern).Inc()

			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Str("key", key).
				Msg("rate limit exceeded")

			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// findLimit finds the matching rate limit for a request.
func (rl *RateLimiter) findLimit(r *http.Request) (string, *RateLimit) {
	key := r.Method + " " + r.URL.Path

	for _, rt := range rl.limits {
		if key == rt.pattern || (strings.HasSuffix(rt.pattern, "/") && strings.HasPrefix(key, rt.pattern)) {
			l := rt.limit
			return rt.pattern, &l
		}
	}
	return "", nil
}

// trackViolation tracks rate limit violations and auto-blocks repeat offenders.
func (rl *RateLimiter) trackViolation(ctx context.Context, ip string) {
	if !rl.autoBlockEnabled {
		return
	}

	key := fmt.Sprintf("violations:ip:%s", ip)
	count, _ := rl.client.Incr(ctx, key).Result()
	rl.client.Expire(ctx, key, time.Hour)

	if count >= 10 {
		rl.blocker.Block(ctx, ip, 24*time.Hour, "repeated rate limit violations")
		rl.logger.Warn().
			Str("type", "security").
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Int64("violations", count).
			Msg("IP auto-blocked for repeated violations")
	}
}

// redisWindow is a sliding window over a sorted set, shared by all instances.
type redisWindow struct {
	client *redis.Client
}

func (b *redisWindow) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time) {
	now := time.Now()
	windowStart := now.Add(-window)

	pipe := b.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart.UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, window*2)

	// Fail open: an unreachable Redis must not take the API down.
	if _, err := pipe.Exec(ctx); err != nil {
		return true, limit, now.Add(window)
	}

	count := countCmd.Val()
	remaining := limit - int(count) - 1
	if remaining < 0 {
		remaining = 0
	}
	return count < int64(limit), remaining, now.Add(window)
}

const maxLocalKeys = 50_000

// localBuckets keeps one token bucket per key in process memory. When full,
// the least recently used bucket is dropped so active keys keep their state.
type localBuckets struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front is most recently used
	max     int
	now     func() time.Time
}

type bucketEntry struct {
	key string
	lim *rate.Limiter
}

func newLocalBuckets(max int) *localBuckets {
	return &localBuckets{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		max:     max,
		now:     time.Now,
	}
}

func (b *localBuckets) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, int, time.Time) {
	every := window / time.Duration(limit)

	b.mu.Lock()
	var lim *rate.Limiter
	if el, ok := b.entries[key]; ok {
		b.order.MoveToFront(el)
		lim = el.Value.(*bucketEntry).lim
	} else {
		for b.order.Len() >= b.max {
			oldest := b.order.Back()
			b.order.Remove(oldest)
			delete(b.entries, oldest.Value.(*bucketEntry).key)
		}
		lim = rate.NewLimiter(rate.Every(every), limit)
		b.entries[key] = b.order.PushFront(&bucketEntry{key: key, lim: lim})
	}
	b.mu.Unlock()

	now := b.now()
	allowed := lim.AllowN(now, 1)
	remaining := int(lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, now.Add(every)
}

func (b *localBuckets) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.order.Len()
}

// IPBlocker manages temporary IP blocks.
type IPBlocker struct {
	client *redis.Client
}

// NewIPBlocker creates a new IP blocker.
func NewIPBlocker(client *redis.Client) *IPBlocker {
	return &IPBlocker{client: client}
}

// IsBlocked checks if an IP is blocked.
func (b *IPBlocker) IsBlocked(ctx context.Context, ip string) bool {
	key := fmt.Sprintf("blocked:ip:%s", ip)
	exists, _ := b.client.Exists(ctx, key).Result()
	return exists > 0
}

// Block blocks an IP for the specified duration.
func (b *IPBlocker) Block(ctx context.Context, ip string, duration time.Duration, reason string) {
	key := fmt.Sprintf("blocked:ip:%s", ip)
	b.client.Set(ctx, key, reason, duration)
}

// Unblock removes an IP block.
func (b *IPBlocker) Unblock(ctx context.Context, ip string) {
	key := fmt.Sprintf("blocked:ip:%s", ip)
	b.client.Del(ctx, key)
}
