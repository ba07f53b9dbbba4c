package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/tradejournal-api/internal/auth"
	"github.com/ksred/tradejournal-api/pkg/response"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// UserIDKey is the gin context key holding the authenticated user id
const UserIDKey = "userID"

// Limit is a per-visitor request budget for one route prefix
type Limit struct {
	Prefix string
	Rate   rate.Limit
	Burst  int
}

// DefaultLimits throttle the token, webhook and upload routes
var DefaultLimits = []Limit{
	{Prefix: "/api/v1/auth", Rate: rate.Limit(10.0 / 60.0), Burst: 1},       // 10 requests per minute
	{Prefix: "/api/v1/webhooks", Rate: rate.Limit(120.0 / 60.0), Burst: 10}, // bridges flush in bursts
	{Prefix: "/api/v1/imports", Rate: rate.Limit(30.0 / 60.0), Burst: 3},
	{Prefix: "/api/v1/connections", Rate: rate.Limit(60.0 / 60.0), Burst: 5},
}

// RateLimiter keeps one token bucket per visitor and route; idle visitors expire
type RateLimiter struct {
	limits   []Limit
	visitors *cache.Cache
}

func NewRateLimiter(limits []Limit) *RateLimiter {
	return &RateLimiter{
		limits:   limits,
		visitors: cache.New(3*time.Minute, time.Minute),
	}
}

func (rl *RateLimiter) limiter(path, visitor string) *rate.Limiter {
	key := visitor + ":" + path
	if v, ok := rl.visitors.Get(key); ok {
		rl.visitors.SetDefault(key, v)
		return v.(*rate.Limiter)
	}

	limit, burst := rate.Inf, 1 // No limit for other paths
	for _, l := range rl.limits {
		if strings.HasPrefix(path, l.Prefix) {
			limit, burst = l.Rate, l.Burst
			break
		}
	}

	lim := rate.NewLimiter(limit, burst)
	// Add fails when a concurrent request won the race; use its limiter
	if err := rl.visitors.Add(key, lim, cache.DefaultExpiration); err != nil {
		if v, ok := rl.visitors.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// Middleware throttles by authenticated user when known, otherwise by client IP
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		visitor := c.GetString(UserIDKey)
		if visitor == "" {
			visitor = c.ClientIP()
		}

		if !rl.limiter(c.FullPath(), visitor).Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// TokenValidator validates session tokens
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// SessionAuth requires a bearer session token and stores the user id in the context
func SessionAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearerToken := strings.Split(c.GetHeader("Authorization"), " ")
		if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(bearerToken[1])
		if err != nil {
			response.Unauthorized(c, "Invalid or expired session")
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// UserID returns the authenticated user id set by SessionAuth
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
