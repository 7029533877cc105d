package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newLimitedServer(t *testing.T, cfg RateLimitConfig, rdb *redis.Client) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.Use(NewTokenBucket(cfg, rdb, zap.NewNop()))
	e.POST("/cb", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	return e
}

func hit(e *echo.Echo) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/cb", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTokenBucketBlocksAfterCapacity(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := RateLimitConfig{Enabled: true, Prefix: "rl:test", Capacity: 2, RefillTokens: 2, RefillInterval: time.Minute, TTL: 2 * time.Minute}
	e := newLimitedServer(t, cfg, rdb)

	for i := 0; i < 2; i++ {
		if rec := hit(e); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec := hit(e)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After missing")
	}
}

func TestTokenBucketPassThrough(t *testing.T) {
	cfg := RateLimitConfig{Enabled: true, Capacity: 1, RefillInterval: time.Minute}
	e := newLimitedServer(t, cfg, nil)
	for i := 0; i < 3; i++ {
		if rec := hit(e); rec.Code != http.StatusOK {
			t.Fatalf("status %d without redis", rec.Code)
		}
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()
	e = newLimitedServer(t, cfg, rdb)
	if rec := hit(e); rec.Code != http.StatusOK {
		t.Fatalf("status %d with redis down", rec.Code)
	}
}
