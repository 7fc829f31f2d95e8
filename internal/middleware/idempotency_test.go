package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pezkuwi/pezkuwi_wallet/internal/logging"
)

type idemApp struct {
	app   *fiber.App
	mr    *miniredis.Miniredis
	sends atomic.Int32
	fails atomic.Int32
}

func setupTestApp(t *testing.T) *idemApp {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	a := &idemApp{app: fiber.New(), mr: mr}
	a.app.Use(Idempotency(cache, time.Minute, logging.Discard(), "/auth/"))
	a.app.Post("/wallet/send", func(c *fiber.Ctx) error {
		n := a.sends.Add(1)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"tx": n})
	})
	a.app.Post("/payments/pay", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"paid": true})
	})
	a.app.Post("/auth/login", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	a.app.Post("/flaky", func(c *fiber.Ctx) error {
		a.fails.Add(1)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "chain unavailable"})
	})
	return a
}

func (a *idemApp) post(t *testing.T, path, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := a.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	a := setupTestApp(t)
	if status, _ := a.post(t, "/wallet/send", ""); status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	a := setupTestApp(t)

	status, first := a.post(t, "/wallet/send", "abc123")
	if status != fiber.StatusAccepted {
		t.Fatalf("expected status %d got %d", fiber.StatusAccepted, status)
	}
	status, second := a.post(t, "/wallet/send", "abc123")
	if status != fiber.StatusAccepted {
		t.Fatalf("expected replayed status %d got %d", fiber.StatusAccepted, status)
	}
	if first != second {
		t.Fatalf("expected replayed payload %s got %s", first, second)
	}
	if n := a.sends.Load(); n != 1 {
		t.Fatalf("handler ran %d times, want 1", n)
	}
}

func TestIdempotencyKeysAreScopedToRoute(t *testing.T) {
	a := setupTestApp(t)
	a.post(t, "/wallet/send", "shared")
	status, body := a.post(t, "/payments/pay", "shared")
	if status != fiber.StatusAccepted || !strings.Contains(body, "paid") {
		t.Fatalf("expected the payments handler to run, got %d %s", status, body)
	}
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	a := setupTestApp(t)
	a.post(t, "/flaky", "retry-me")
	a.post(t, "/flaky", "retry-me")
	if n := a.fails.Load(); n != 2 {
		t.Fatalf("expected the retry to reach the handler, ran %d times", n)
	}
}

func TestIdempotencyRejectsInFlightDuplicate(t *testing.T) {
	a := setupTestApp(t)
	if err := a.mr.Set(idempotencyPrefix+"POST:/wallet/send:busy", inProgressMarker); err != nil {
		t.Fatalf("seed marker: %v", err)
	}
	if status, _ := a.post(t, "/wallet/send", "busy"); status != fiber.StatusConflict {
		t.Fatalf("expected %d got %d", fiber.StatusConflict, status)
	}
	if n := a.sends.Load(); n != 0 {
		t.Fatalf("handler must not run for an in-flight key, ran %d times", n)
	}
}

func TestIdempotencyExemptPaths(t *testing.T) {
	a := setupTestApp(t)
	if status, _ := a.post(t, "/auth/login", ""); status != fiber.StatusOK {
		t.Fatalf("expected exempt path to pass without a key, got %d", status)
	}
}
