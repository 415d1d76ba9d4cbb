package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/blacknout/nomada-backend-sub000/internal/identity"
	"github.com/blacknout/nomada-backend-sub000/pkg/config"
)

func limiterRequest(t *testing.T, cfg config.ConnectionLimitConfig, count int, cycled *bool) (int, bool) {
	t.Helper()
	var reached bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})

	limiter := NewConnectionLimiter(newTestLogger(),
		func(string) int { return count },
		func(string) { *cycled = true },
		cfg,
	)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	reqMeta := &RequestMetadata{IP: "127.0.0.1", User: identity.Identity{ID: "u1"}}
	ctx := context.WithValue(req.Context(), reqMetaKey, reqMeta)
	rec := httptest.NewRecorder()
	limiter(inner).ServeHTTP(rec, req.WithContext(ctx))
	return rec.Code, reached
}

func TestLimiterAllowsUnderLimit(t *testing.T) {
	var cycled bool
	code, reached := limiterRequest(t, config.ConnectionLimitConfig{MaxPerUser: 3, Mode: "reject"}, 2, &cycled)
	if code != http.StatusOK || !reached {
		t.Errorf("Expected pass, got %d", code)
	}
	if cycled {
		t.Error("No cycling should happen under the limit")
	}
}

func TestLimiterRejectMode(t *testing.T) {
	var cycled bool
	code, reached := limiterRequest(t, config.ConnectionLimitConfig{MaxPerUser: 2, Mode: "reject"}, 2, &cycled)
	if code != http.StatusTooManyRequests || reached {
		t.Errorf("Expected 429, got %d", code)
	}
}

func TestLimiterCycleMode(t *testing.T) {
	var cycled bool
	code, reached := limiterRequest(t, config.ConnectionLimitConfig{MaxPerUser: 2, Mode: "cycle"}, 2, &cycled)
	if code != http.StatusOK || !reached {
		t.Errorf("Expected pass after cycling, got %d", code)
	}
	if !cycled {
		t.Error("Cycle mode must close the oldest connection")
	}
}

func TestLimiterDisabledWhenZero(t *testing.T) {
	var cycled bool
	code, reached := limiterRequest(t, config.ConnectionLimitConfig{MaxPerUser: 0}, 100, &cycled)
	if code != http.StatusOK || !reached {
		t.Errorf("Expected limiter to be disabled, got %d", code)
	}
}
