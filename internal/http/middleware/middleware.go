// Package middleware holds the Fiber middleware chain shared by every route.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/xid"

	"logorender/internal/config"
	"logorender/internal/infra/logging"
	"logorender/internal/tokens"
)

// Locals keys set by the chain.
const (
	LocalAPIKey = "api_key"
	LocalUserID = "token_user_id"
)

var (
	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrTokenStoreNotReady signals that the token table has not been loaded yet.
	ErrTokenStoreNotReady = errors.New("token store not ready")
)

// publicPaths never require an API key.
var publicPaths = map[string]bool{
	"/":           true,
	"/health":     true,
	"/ops/health": true,
	"/ops/ready":  true,
}

// Register attaches the global middleware to app.
func Register(app *fiber.App, cfg config.Config, tok *tokens.Cache, store fiber.Storage) {
	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint:  "/ops/health",
		ReadinessEndpoint: "/ops/ready",
		ReadinessProbe: func(c *fiber.Ctx) bool {
			return !cfg.Auth.Required || tok.Ready()
		},
	}))

	app.Use(KeyAuth(tok, cfg.Auth.Required))

	limits := NewTokenLimiters(tok, store, cfg.RateLimiter.Interval)
	app.Use(limits.Handler())

	if cfg.RateLimiter.EnableUserLimiter || cfg.RateLimiter.UserLimit > 0 {
		app.Use(UserRateLimit(cfg.RateLimiter.UserLimit, cfg.RateLimiter.Interval, store))
	}

	app.Use(RequestLog())
}

// KeyAuth validates X-API-Key against the token cache and binds the token's
// user id. Requests without the header pass through unless required is set.
func KeyAuth(tok *tokens.Cache, required bool) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:X-API-Key",
		ContextKey: LocalAPIKey,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if !tok.Ready() {
				return false, ErrTokenStoreNotReady
			}
			entry, ok := tok.Lookup(key)
			if !ok {
				return false, ErrInvalidAPIKey
			}
			if entry.UserID != "" {
				c.Locals(LocalUserID, entry.UserID)
			}
			return true, nil
		},
		Next: func(c *fiber.Ctx) bool {
			if c.Method() == fiber.MethodOptions || publicPaths[c.Path()] {
				return true
			}
			return !required && c.Get("X-API-Key") == ""
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// keyauth may pass a nil error.
			status := fiber.StatusUnauthorized
			if err == nil {
				err = fiber.ErrUnauthorized
			}
			if errors.Is(err, ErrTokenStoreNotReady) {
				status = fiber.StatusServiceUnavailable
			}
			return c.Status(status).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    status,
					"message": err.Error(),
				},
			})
		},
	})
}

// APIKey returns the authenticated token, if any.
func APIKey(c *fiber.Ctx) string {
	k, _ := c.Locals(LocalAPIKey).(string)
	return k
}

// TokenUserID returns the user id bound to the authenticated token, if any.
func TokenUserID(c *fiber.Ctx) string {
	u, _ := c.Locals(LocalUserID).(string)
	return u
}

// TokenLimiters applies each token's own sliding-window limit. One limiter
// is built per distinct limit value.
type TokenLimiters struct {
	tok      *tokens.Cache
	store    fiber.Storage
	interval time.Duration

	mu       sync.RWMutex
	handlers map[int]fiber.Handler
}

// NewTokenLimiters creates per-token limiters backed by store.
func NewTokenLimiters(tok *tokens.Cache, store fiber.Storage, interval time.Duration) *TokenLimiters {
	return &TokenLimiters{tok: tok, store: store, interval: interval, handlers: make(map[int]fiber.Handler)}
}

func (l *TokenLimiters) limiterFor(limit int) fiber.Handler {
	l.mu.RLock()
	h, ok := l.handlers[limit]
	l.mu.RUnlock()
	if ok {
		return h
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.handlers[limit]; ok {
		return h
	}
	h = limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        l.interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           l.store,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "token:" + APIKey(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			logging.Warn("Rate limit exceeded", "token", maskToken(APIKey(c)), "path", c.Path())
			return tooManyRequests(c)
		},
	})
	l.handlers[limit] = h
	return h
}

// Handler returns the middleware. Anonymous requests and tokens with a zero
// limit pass through.
func (l *TokenLimiters) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := APIKey(c)
		if token == "" {
			return c.Next()
		}
		limit := l.tok.RateLimit(token)
		if limit <= 0 {
			return c.Next()
		}
		return l.limiterFor(limit)(c)
	}
}

// UserRateLimit limits anonymous callers by client IP and User-Agent.
// Authenticated requests skip it; token limits already apply to them.
func UserRateLimit(limit int, interval time.Duration, store fiber.Storage) fiber.Handler {
	if limit <= 0 {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	userLimiter := limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           store,
		KeyGenerator:      clientKey,
		LimitReached: func(c *fiber.Ctx) error {
			logging.Warn("Rate limit exceeded", "user", clientKey(c), "path", c.Path())
			return tooManyRequests(c)
		},
	})
	return func(c *fiber.Ctx) error {
		if APIKey(c) != "" {
			return c.Next()
		}
		return userLimiter(c)
	}
}

// RequestLog logs one line per request after the response is produced.
// Errors from later handlers are resolved here through the app error handler.
func RequestLog() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		if err := c.Next(); err != nil {
			// Let the app error handler set the status before it is logged.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = c.GetRespHeader(fiber.HeaderXRequestID)
		}
		logging.Info("Request handled",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID,
		)
		return nil
	}
}

func clientKey(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get(fiber.HeaderUserAgent)))
	return "client:" + hex.EncodeToString(sum[:])
}

func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}

func tooManyRequests(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    fiber.StatusTooManyRequests,
			"message": "Too Many Requests",
		},
	})
}
