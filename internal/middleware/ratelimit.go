package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// maxTrackedCallers caps the bucket map so an address-rotating client
// cannot exhaust memory.
const maxTrackedCallers = 100000

// exemptPrefixes are never rate limited: health probes fire on tight
// intervals and the reviewer WebSocket connects once per session.
var exemptPrefixes = []string{"/health", "/ws"}

// RateLimiter applies a per-caller token bucket to the consultation
// API. Consultation creation blocks for the full wait window, so a
// runaway orchestrator retrying in a loop can pin every server slot;
// the limiter sheds that load before a session is opened.
type RateLimiter struct {
	rps   float64
	burst float64

	mu      sync.Mutex
	callers map[string]*callerBucket

	now func() time.Time // injectable for tests
}

type callerBucket struct {
	tokens   float64
	refilled time.Time
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing a sustained rps with the
// given burst headroom per caller.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		rps:     rps,
		burst:   float64(burst),
		callers: make(map[string]*callerBucket),
		now:     time.Now,
	}
}

// Handler returns middleware enforcing the per-caller limit.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, p := range exemptPrefixes {
			if strings.HasPrefix(r.URL.Path, p) {
				next.ServeHTTP(w, r)
				return
			}
		}

		remaining, retryAfter, allowed := rl.take(callerKey(r))

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", rl.burst))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", rl.now().Add(time.Second).Unix()))

		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(retryAfter)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// take consumes one token for the caller. It reports the tokens left,
// and when denied, the seconds until the next token accrues.
func (rl *RateLimiter) take(caller string) (remaining int, retryAfter float64, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.callers[caller]
	if !ok {
		if len(rl.callers) >= maxTrackedCallers {
			return 0, 1.0 / rl.rps, false
		}
		b = &callerBucket{tokens: rl.burst, refilled: now}
		rl.callers[caller] = b
	} else {
		b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.refilled).Seconds()*rl.rps)
		b.refilled = now
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return 0, (1 - b.tokens) / rl.rps, false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// StartCleanup spawns a goroutine that drops buckets idle longer than
// maxIdle, checking every interval. The returned function stops it.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
	return func() { close(stop) }
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for caller, b := range rl.callers {
		if b.lastSeen.Before(cutoff) {
			delete(rl.callers, caller)
		}
	}
}

// Len returns the number of tracked callers.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.callers)
}

// callerKey identifies a caller by connection address. Proxy headers
// (X-Forwarded-For, X-Real-Ip) are not trusted: they are attacker
// controlled and would let a single host mint fresh buckets at will.
func callerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
