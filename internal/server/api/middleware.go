package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"kkerang/internal/server/session"

	"github.com/labstack/echo/v4"
)

const (
	msgTooManyRequests = "요청이 너무 많습니다. 잠시 후 다시 시도하세요"

	visitorSweepInterval = 5 * time.Minute
	visitorIdleTimeout   = 10 * time.Minute
)

// visitor is one client's token bucket.
type visitor struct {
	tokens   float64
	lastSeen time.Time
}

// take refills the bucket for the time since it was last seen and spends
// one token if there is one.
func (v *visitor) take(now time.Time, rate float64, burst int) bool {
	v.tokens += now.Sub(v.lastSeen).Seconds() * rate
	if v.tokens > float64(burst) {
		v.tokens = float64(burst)
	}
	v.lastSeen = now

	if v.tokens < 1 {
		return false
	}
	v.tokens--
	return true
}

// RateLimiter throttles the account and upload form submissions per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     float64 // tokens per second
	burst    int
	now      func() time.Time
}

// NewRateLimiter creates a limiter refilling rps tokens a second up to burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rps,
		burst:    burst,
		now:      time.Now,
	}

	go func() {
		ticker := time.NewTicker(visitorSweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			rl.cleanup()
		}
	}()

	return rl
}

// Middleware rejects submissions over the limit with 429.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !rl.allow(ip) {
				slog.Warn("form submission throttled",
					"ip", ip,
					"route", c.Path(),
					"user_id", session.From(c).UserID,
				)
				return c.String(http.StatusTooManyRequests, msgTooManyRequests)
			}
			return next(c)
		}
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{tokens: float64(rl.burst), lastSeen: now}
		rl.visitors[ip] = v
	}
	return v.take(now, rl.rate, rl.burst)
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-visitorIdleTimeout)
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// RequestLogger logs one line per request with the route, the session's
// user and the video the request touched, if any.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()
			s := session.From(c)

			attrs := []any{
				"method", req.Method,
				"route", c.Path(),
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"session_id", s.ID,
				"user_id", s.UserID,
				"bytes_out", res.Size,
			}
			if id := c.Param("id"); id != "" {
				attrs = append(attrs, "video_id", id)
			}
			if filename := c.Param("filename"); filename != "" {
				attrs = append(attrs, "filename", filename)
			}
			slog.Info("request", attrs...)

			return err
		}
	}
}
