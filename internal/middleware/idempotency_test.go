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

	"github.com/helix-pay/helix_custody/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, *atomic.Int64) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	var handlerCalls atomic.Int64
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/withdrawals", func(c *fiber.Ctx) error {
		handlerCalls.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"attempt": handlerCalls.Load()})
	})
	app.Post("/wallets", func(c *fiber.Ctx) error {
		handlerCalls.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"attempt": handlerCalls.Load()})
	})

	return app, &handlerCalls
}

func postJSON(t *testing.T, app *fiber.App, path, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode, string(body)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	app, _ := setupTestApp(t)

	status, _ := postJSON(t, app, "/withdrawals", "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	app, handlerCalls := setupTestApp(t)

	status, body := postJSON(t, app, "/withdrawals", "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}

	replayStatus, replayBody := postJSON(t, app, "/withdrawals", "abc123")
	if replayStatus != status || replayBody != body {
		t.Fatalf("expected a byte-identical replay, got %d %q vs %d %q", replayStatus, replayBody, status, body)
	}
	if handlerCalls.Load() != 1 {
		t.Fatalf("handler ran %d times for one key", handlerCalls.Load())
	}
}

func TestIdempotencyScopesKeysByEndpoint(t *testing.T) {
	app, handlerCalls := setupTestApp(t)

	postJSON(t, app, "/withdrawals", "abc123")
	status, _ := postJSON(t, app, "/wallets", "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}
	if handlerCalls.Load() != 2 {
		t.Fatalf("the same key on a different endpoint must not replay, handler ran %d times", handlerCalls.Load())
	}
}
