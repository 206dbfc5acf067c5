package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type body struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Stats  map[string]any    `json:"stats"`
}

func serve(t *testing.T, h *Handler, path string) (int, body) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var b body
	if err := json.NewDecoder(rec.Body).Decode(&b); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, b
}

func ok(context.Context) error { return nil }

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New([]Checker{{Name: "capture", Check: func(context.Context) error { return errors.New("down") }}})
	code, b := serve(t, h, "/healthz")
	if code != http.StatusOK || b.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok even with failing checkers", code, b.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "capture", Check: ok}, {Name: "ring", Check: ok}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"capture": "ok", "ring": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "capture", Check: ok},
				{Name: "ring", Check: func(context.Context) error { return errors.New("ring saturated") }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"capture": "ok", "ring": "fail: ring saturated"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, b := serve(t, New(tc.checkers), "/readyz")
			if code != tc.wantCode || b.Status != tc.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, b.Status, tc.wantCode, tc.wantStatus)
			}
			for k, want := range tc.wantChecks {
				if b.Checks[k] != want {
					t.Errorf("checks[%s] = %q, want %q", k, b.Checks[k], want)
				}
			}
		})
	}
}

func TestReadyz_IncludesStats(t *testing.T) {
	t.Parallel()
	h := New(nil, WithStats(func() any {
		return map[string]uint64{"emitted": 3}
	}))
	_, b := serve(t, h, "/readyz")
	if got, _ := b.Stats["emitted"].(float64); got != 3 {
		t.Errorf("stats.emitted = %v, want 3", b.Stats["emitted"])
	}
}

func TestReadyz_CheckerDeadline(t *testing.T) {
	t.Parallel()
	h := New([]Checker{{Name: "slow", Check: func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
			return nil
		}
	}}})
	code, b := serve(t, h, "/readyz")
	if code != http.StatusOK || b.Checks["slow"] != "ok" {
		t.Errorf("readyz = %d %v", code, b.Checks)
	}
}
