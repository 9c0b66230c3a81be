package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"logorender/internal/infra/logging"
	"logorender/internal/tokens"
)

type memStore struct {
	sync.RWMutex
	m map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string][]byte)}
}

func (s *memStore) Get(key string) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()
	val, ok := s.m[key]
	if !ok {
		return nil, nil
	}
	return val, nil
}

func (s *memStore) Set(key string, val []byte, exp time.Duration) error {
	s.Lock()
	s.m[key] = val
	s.Unlock()
	return nil
}

func (s *memStore) Delete(key string) error {
	s.Lock()
	delete(s.m, key)
	s.Unlock()
	return nil
}

func (s *memStore) Reset() error {
	s.Lock()
	s.m = make(map[string][]byte)
	s.Unlock()
	return nil
}

func (s *memStore) Close() error { return nil }

func tokenCache(m map[string]tokens.Entry) *tokens.Cache {
	c := tokens.NewCache()
	c.Replace(m)
	return c
}

func request(path, token string) *http.Request {
	req := httptest.NewRequest("GET", path, nil)
	req.Header.Set("User-Agent", "test-agent")
	req.RemoteAddr = "1.2.3.4:5678"
	if token != "" {
		req.Header.Set("X-API-Key", token)
	}
	return req
}

func expectStatus(t *testing.T, app *fiber.App, req *http.Request, want int) *http.Response {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != want {
		t.Fatalf("expected %d but got %d", want, resp.StatusCode)
	}
	return resp
}

func TestTokenRateLimit(t *testing.T) {
	tok := tokenCache(map[string]tokens.Entry{"test-token": {RateLimit: 2}})

	app := fiber.New()
	app.Use(KeyAuth(tok, false))
	app.Use(NewTokenLimiters(tok, newMemStore(), time.Hour).Handler())
	app.Get("/v1/x", func(c *fiber.Ctx) error { return c.SendString("ok") })

	makeReq := func() *http.Request {
		req := httptest.NewRequest("GET", "/v1/x", nil)
		req.Header.Set("X-API-Key", "test-token")
		return req
	}
	for i := 0; i < 2; i++ {
		expectStatus(t, app, makeReq(), fiber.StatusOK)
	}
	expectStatus(t, app, makeReq(), fiber.StatusTooManyRequests)
}

func TestTokenWithZeroLimitIsUnlimited(t *testing.T) {
	tok := tokenCache(map[string]tokens.Entry{"free": {RateLimit: 0}})

	app := fiber.New()
	app.Use(KeyAuth(tok, false))
	app.Use(NewTokenLimiters(tok, newMemStore(), time.Hour).Handler())
	app.Get("/v1/x", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/v1/x", nil)
		req.Header.Set("X-API-Key", "free")
		expectStatus(t, app, req, fiber.StatusOK)
	}
}

func TestTokenBasedLimitOverridesUserBasedLimit(t *testing.T) {
	tok := tokenCache(map[string]tokens.Entry{"test-token": {RateLimit: 100}})
	store := newMemStore()

	app := fiber.New()
	app.Use(KeyAuth(tok, false))
	app.Use(NewTokenLimiters(tok, store, time.Hour).Handler())
	app.Use(UserRateLimit(2, time.Hour, store))
	app.Get("/v1/x", func(c *fiber.Ctx) error { return c.SendString("ok") })

	makeReq := func(token string) *http.Request { return request("/v1/x", token) }
	for i := 0; i < 2; i++ {
		expectStatus(t, app, makeReq(""), fiber.StatusOK)
	}
	expectStatus(t, app, makeReq(""), fiber.StatusTooManyRequests)
	expectStatus(t, app, makeReq("test-token"), fiber.StatusOK)
}

func TestUserRateLimit(t *testing.T) {
	app := fiber.New()
	app.Use(UserRateLimit(2, time.Hour, newMemStore()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 2; i++ {
		expectStatus(t, app, request("/", ""), fiber.StatusOK)
	}
	resp := expectStatus(t, app, request("/", ""), fiber.StatusTooManyRequests)

	var body struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	assert.Equal(t, fiber.StatusTooManyRequests, body.Error.Code)

	other := request("/", "")
	other.Header.Set("User-Agent", "other-agent")
	expectStatus(t, app, other, fiber.StatusOK)
}

func TestUserRateLimit_DisabledWhenZero(t *testing.T) {
	app := fiber.New()
	app.Use(UserRateLimit(0, time.Hour, newMemStore()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 5; i++ {
		expectStatus(t, app, request("/", ""), fiber.StatusOK)
	}
}

func authApp(tok *tokens.Cache, required bool) *fiber.App {
	app := fiber.New()
	app.Use(KeyAuth(tok, required))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("banner") })
	app.Get("/v1/whoami", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"key": APIKey(c), "user": TokenUserID(c)})
	})
	return app
}

func whoami(token string) *http.Request {
	req := httptest.NewRequest("GET", "/v1/whoami", nil)
	if token != "" {
		req.Header.Set("X-API-Key", token)
	}
	return req
}

func TestKeyAuth(t *testing.T) {
	tok := tokenCache(map[string]tokens.Entry{"bound": {UserID: "alice", RateLimit: 10}, "service": {RateLimit: 10}})

	t.Run("anonymous allowed", func(t *testing.T) {
		expectStatus(t, authApp(tok, false), whoami(""), fiber.StatusOK)
	})
	t.Run("anonymous rejected when required", func(t *testing.T) {
		expectStatus(t, authApp(tok, true), whoami(""), fiber.StatusUnauthorized)
	})
	t.Run("public path open when required", func(t *testing.T) {
		expectStatus(t, authApp(tok, true), httptest.NewRequest("GET", "/", nil), fiber.StatusOK)
	})
	t.Run("invalid key", func(t *testing.T) {
		resp := expectStatus(t, authApp(tok, false), whoami("nope"), fiber.StatusUnauthorized)
		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), ErrInvalidAPIKey.Error())
	})
	t.Run("token binds user", func(t *testing.T) {
		resp := expectStatus(t, authApp(tok, false), whoami("bound"), fiber.StatusOK)
		var got map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		assert.Equal(t, "bound", got["key"])
		assert.Equal(t, "alice", got["user"])
	})
	t.Run("service token has no user", func(t *testing.T) {
		resp := expectStatus(t, authApp(tok, false), whoami("service"), fiber.StatusOK)
		var got map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		assert.Equal(t, "", got["user"])
	})
}

func TestKeyAuth_StoreNotReady(t *testing.T) {
	app := authApp(tokens.NewCache(), false)
	resp := expectStatus(t, app, whoami("any"), fiber.StatusServiceUnavailable)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), ErrTokenStoreNotReady.Error())
}

func TestRequestLog_RecordsErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	logging.SetLoggerForTest(zerolog.New(&buf))

	app := fiber.New()
	app.Use(RequestLog())
	app.Get("/teapot", func(c *fiber.Ctx) error { return fiber.NewError(fiber.StatusTeapot, "short and stout") })

	expectStatus(t, app, httptest.NewRequest("GET", "/teapot", nil), fiber.StatusTeapot)

	out := buf.String()
	if !strings.Contains(out, `"status":418`) || !strings.Contains(out, `"path":"/teapot"`) {
		t.Fatalf("expected request line with status, got %s", out)
	}
}
