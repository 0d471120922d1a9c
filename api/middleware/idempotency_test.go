package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/schooldesk/schooldesk-backend/pkg/errors"
)

// memStore is an in-process stand-in for the Redis idempotency store.
type memStore map[string]string

func (m memStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m memStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m[key]; ok {
		return false, nil
	}
	m[key], _ = value.(string)
	return true, nil
}

func (m memStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m, k)
	}
	return nil
}

func (m memStore) IdempotencyKey(scope, id string) string {
	return "mem:" + scope + ":" + id
}

func guardedRequest(t *testing.T, method, path, body, idemKey string) *http.Request {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	return req
}

func countingHandler(calls *int, status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		if body != "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		if body != "" {
			_, _ = w.Write([]byte(body))
		}
	})
}

func TestRouteTTLSelection(t *testing.T) {
	cases := []struct {
		name    string
		method  string
		path    string
		want    time.Duration
		guarded bool
	}{
		{"invoice create", http.MethodPost, "/api/v1/invoices", defaultIdempotencyTTL, true},
		{"invoice create trailing slash", http.MethodPost, "/api/v1/invoices/", defaultIdempotencyTTL, true},
		{"invoice issue", http.MethodPost, "/api/v1/invoices/123/issue", defaultIdempotencyTTL, true},
		{"invoice cancel", http.MethodPost, "/api/v1/invoices/456/cancel", defaultIdempotencyTTL, true},
		{"payment record", http.MethodPost, "/api/v1/payments", criticalIdempotencyTTL, true},
		{"invoice read", http.MethodGet, "/api/v1/invoices/123", 0, false},
		{"receipt read", http.MethodGet, "/api/v1/receipts/789", 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ttl, guarded := routeTTL(tc.method, tc.path)
			if guarded != tc.guarded {
				t.Fatalf("guarded = %v, want %v", guarded, tc.guarded)
			}
			if guarded && ttl != tc.want {
				t.Fatalf("ttl = %v, want %v", ttl, tc.want)
			}
		})
	}
}

// TestIdempotencyGuardsSubrouterMount wires the middleware the same way the
// production router does, with Use inside a versioned Route block. Inside
// that mount chi's RoutePattern still reads "/api/v1/*" when the middleware
// runs, so the guard has to key off the request path to engage at all.
func TestIdempotencyGuardsSubrouterMount(t *testing.T) {
	store := memStore{}
	var calls int

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Idempotency(store, nil))
		r.Post("/payments", countingHandler(&calls, http.StatusCreated, `{"receipt":"r-1"}`).ServeHTTP)
	})

	keyless := httptest.NewRecorder()
	r.ServeHTTP(keyless, guardedRequest(t, http.MethodPost, "/api/v1/payments", `{"amount":"50.00"}`, ""))
	if keyless.Code != http.StatusBadRequest {
		t.Fatalf("keyless status = %d, want 400", keyless.Code)
	}
	if calls != 0 {
		t.Fatal("handler ran without an idempotency key")
	}

	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, guardedRequest(t, http.MethodPost, "/api/v1/payments", `{"amount":"50.00"}`, "retry-1"))
		if resp.Code != http.StatusCreated {
			t.Fatalf("attempt %d status = %d, want 201", i, resp.Code)
		}
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times for one key, want 1", calls)
	}
	if len(store) != 1 {
		t.Fatalf("store holds %d snapshots, want 1", len(store))
	}
}

func TestIdempotencyRequiresHeaderOnGuardedRoute(t *testing.T) {
	mw := Idempotency(memStore{}, nil)
	var calls int

	resp := httptest.NewRecorder()
	req := guardedRequest(t, http.MethodPost, "/api/v1/payments", `{"foo":"bar"}`, "")
	mw(countingHandler(&calls, http.StatusCreated, "")).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
	if calls != 0 {
		t.Fatal("handler ran without an idempotency key")
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	mw := Idempotency(memStore{}, nil)
	var calls int
	handler := mw(countingHandler(&calls, http.StatusCreated, `{"ok":true}`))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, guardedRequest(t, http.MethodPost, "/api/v1/payments", `{"foo":"bar"}`, "abc"))
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", first.Code)
	}

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, guardedRequest(t, http.MethodPost, "/api/v1/payments", `{"foo":"bar"}`, "abc"))

	if replay.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, want 201", replay.Code)
	}
	if ct := replay.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("replay content-type = %q", ct)
	}
	if got := strings.TrimSpace(replay.Body.String()); got != `{"ok":true}` {
		t.Fatalf("replay body = %s", got)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	mw := Idempotency(memStore{}, nil)
	var calls int
	handler := mw(countingHandler(&calls, http.StatusOK, ""))

	handler.ServeHTTP(httptest.NewRecorder(),
		guardedRequest(t, http.MethodPost, "/api/v1/payments", `{"amount":"50.00"}`, "xyz"))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp,
		guardedRequest(t, http.MethodPost, "/api/v1/payments", `{"amount":"75.00"}`, "xyz"))

	if resp.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.Code)
	}

	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("error code = %s, want %s", payload.Error.Code, pkgerrors.CodeIdempotency)
	}
}

func TestIdempotencyScopesKeysByUser(t *testing.T) {
	mw := Idempotency(memStore{}, nil)
	var calls int
	handler := mw(countingHandler(&calls, http.StatusCreated, ""))

	for _, user := range []string{"user-a", "user-b"} {
		req := guardedRequest(t, http.MethodPost, "/api/v1/payments", `{}`, "shared")
		req = req.WithContext(WithUserID(req.Context(), user))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	if calls != 2 {
		t.Fatalf("handler ran %d times, want one per user", calls)
	}
}

func TestIdempotencyIgnoresUnguardedRoutes(t *testing.T) {
	mw := Idempotency(memStore{}, nil)
	var calls int

	resp := httptest.NewRecorder()
	req := guardedRequest(t, http.MethodGet, "/api/v1/invoices/123", "", "")
	mw(countingHandler(&calls, http.StatusOK, "")).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
	if calls != 1 {
		t.Fatal("unguarded route should pass straight through")
	}
}
