package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/schooldesk/schooldesk-backend/pkg/auth"
	"github.com/schooldesk/schooldesk-backend/pkg/config"
)

func authTestConfig(issuer string) config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: issuer, ExpirationMinutes: 60}
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, userID uuid.UUID, scopes []string) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg, time.Now(), auth.AccessTokenPayload{
		UserID: userID,
		Role:   "bursar",
		Scopes: scopes,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

// serveAuthed runs a request with the given Authorization header through the
// Auth middleware and a recording handler.
func serveAuthed(cfg config.JWTConfig, authorization string, next http.HandlerFunc) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp := httptest.NewRecorder()
	Auth(cfg, nil)(next).ServeHTTP(resp, req)
	return resp
}

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestAuthRejectsBadCredentials(t *testing.T) {
	cfg := authTestConfig("issuer")

	cases := []struct {
		name          string
		authorization string
	}{
		{"missing header", ""},
		{"bare bearer prefix", "Bearer "},
		{"garbage token", "Bearer invalid"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := serveAuthed(cfg, tc.authorization, okHandler)
			if resp.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", resp.Code)
			}
		})
	}
}

func TestAuthSeedsContextFromValidToken(t *testing.T) {
	cfg := authTestConfig("issuer")
	userID := uuid.New()
	token := mintTestToken(t, cfg, userID, []string{auth.ScopeFeesRead, auth.ScopeFeesCollect})

	var gotUser, gotRole string
	var gotScopes []string
	resp := serveAuthed(cfg, "Bearer "+token, func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
		gotScopes = ScopesFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
	if gotUser != userID.String() {
		t.Fatalf("context user = %s, want %s", gotUser, userID)
	}
	if gotRole != "bursar" {
		t.Fatalf("context role = %q, want bursar", gotRole)
	}
	if len(gotScopes) != 2 {
		t.Fatalf("context scopes = %v, want both fee scopes", gotScopes)
	}
}

func TestAuthRejectsForeignIssuer(t *testing.T) {
	token := mintTestToken(t, authTestConfig("someone-else"), uuid.New(), nil)

	resp := serveAuthed(authTestConfig("issuer"), "Bearer "+token, okHandler)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
}

func TestRequireScope(t *testing.T) {
	cfg := authTestConfig("issuer")
	token := mintTestToken(t, cfg, uuid.New(), []string{auth.ScopeFeesRead})

	serve := func(scope string) int {
		chain := Auth(cfg, nil)(RequireScope(scope, nil)(http.HandlerFunc(okHandler)))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp := httptest.NewRecorder()
		chain.ServeHTTP(resp, req)
		return resp.Code
	}

	if code := serve(auth.ScopeFeesManage); code != http.StatusForbidden {
		t.Fatalf("ungranted scope status = %d, want 403", code)
	}
	if code := serve(auth.ScopeFeesRead); code != http.StatusOK {
		t.Fatalf("granted scope status = %d, want 200", code)
	}
}
