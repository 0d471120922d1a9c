package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/schooldesk/schooldesk-backend/api/responses"
	pkgerrors "github.com/schooldesk/schooldesk-backend/pkg/errors"
	"github.com/schooldesk/schooldesk-backend/pkg/logger"
	pkgredis "github.com/schooldesk/schooldesk-backend/pkg/redis"
)

const (
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
)

// guardedRoute marks a mutating endpoint whose responses are cached against
// the caller's Idempotency-Key. An empty prefix/suffix pair means exact match.
type guardedRoute struct {
	method string
	exact  string
	prefix string
	suffix string
	ttl    time.Duration
}

func (g guardedRoute) matches(method, path string) bool {
	if method != g.method {
		return false
	}
	if g.exact != "" {
		return path == g.exact
	}
	return strings.HasPrefix(path, g.prefix) && strings.HasSuffix(path, g.suffix)
}

// Payment recording moves money, so its records live for a week. Invoice
// creation and transitions get the default day-long window.
var guardedRoutes = []guardedRoute{
	{method: http.MethodPost, exact: "/api/v1/invoices", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, prefix: "/api/v1/invoices/", suffix: "/issue", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, prefix: "/api/v1/invoices/", suffix: "/cancel", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, exact: "/api/v1/payments", ttl: criticalIdempotencyTTL},
}

// routeTTL matches the concrete request path, not chi's route pattern. The
// middleware runs from a subrouter Use, where RoutePattern reports the still
// unresolved "/api/v1/*" mount and would never hit the table.
func routeTTL(method, path string) (time.Duration, bool) {
	if path == "" {
		return 0, false
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	for _, route := range guardedRoutes {
		if route.matches(method, path) {
			return route.ttl, true
		}
	}
	return 0, false
}

// cachedReply is the redis-persisted snapshot of a completed response.
type cachedReply struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	BodyDigest  string `json:"body_digest"`
}

func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		guard := idempotencyGuard{store: store, logg: logg, next: next}
		return http.HandlerFunc(guard.handle)
	}
}

type idempotencyGuard struct {
	store pkgredis.IdempotencyStore
	logg  *logger.Logger
	next  http.Handler
}

func (g idempotencyGuard) handle(w http.ResponseWriter, r *http.Request) {
	ttl, guarded := routeTTL(r.Method, r.URL.Path)
	if !guarded || g.store == nil {
		g.next.ServeHTTP(w, r)
		return
	}

	clientKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if clientKey == "" {
		responses.WriteError(r.Context(), g.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		responses.WriteError(r.Context(), g.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request"))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	digest := sha256.Sum256(body)
	bodyDigest := hex.EncodeToString(digest[:])
	scope := UserIDFromContext(r.Context()) + "|" + r.Method + "|" + r.URL.Path
	redisKey := g.store.IdempotencyKey(scope, clientKey)

	stored, err := g.store.Get(r.Context(), redisKey)
	if err != nil && !errors.Is(err, redis.Nil) {
		responses.WriteError(r.Context(), g.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}
	if stored != "" {
		g.replay(w, r, stored, bodyDigest)
		return
	}

	tap := newResponseTap(w)
	g.next.ServeHTTP(tap, r)

	reply := cachedReply{
		Status:      tap.statusOr(http.StatusOK),
		ContentType: tap.Header().Get("Content-Type"),
		Body:        tap.body.Bytes(),
		BodyDigest:  bodyDigest,
	}
	encoded, err := json.Marshal(reply)
	if err != nil {
		g.logg.Error(r.Context(), "encode idempotency snapshot", err)
		return
	}
	if _, err := g.store.SetNX(r.Context(), redisKey, string(encoded), ttl); err != nil {
		g.logg.Error(r.Context(), "persist idempotency snapshot", err)
	}
}

func (g idempotencyGuard) replay(w http.ResponseWriter, r *http.Request, stored, bodyDigest string) {
	var reply cachedReply
	if err := json.Unmarshal([]byte(stored), &reply); err != nil {
		responses.WriteError(r.Context(), g.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency snapshot"))
		return
	}
	if reply.BodyDigest != bodyDigest {
		responses.WriteError(r.Context(), g.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if reply.ContentType != "" {
		w.Header().Set("Content-Type", reply.ContentType)
	}
	w.WriteHeader(reply.Status)
	_, _ = w.Write(reply.Body)
}

// responseTap duplicates the response into a buffer so the guard can persist
// what the handler actually sent.
type responseTap struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func newResponseTap(w http.ResponseWriter) *responseTap {
	return &responseTap{ResponseWriter: w}
}

func (t *responseTap) WriteHeader(code int) {
	t.status = code
	t.ResponseWriter.WriteHeader(code)
}

func (t *responseTap) Write(b []byte) (int, error) {
	t.body.Write(b)
	return t.ResponseWriter.Write(b)
}

func (t *responseTap) statusOr(fallback int) int {
	if t.status == 0 {
		return fallback
	}
	return t.status
}
