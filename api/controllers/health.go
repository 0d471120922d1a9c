package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/schooldesk/schooldesk-backend/api/responses"
	"github.com/schooldesk/schooldesk-backend/pkg/config"
	pkgerrors "github.com/schooldesk/schooldesk-backend/pkg/errors"
	"github.com/schooldesk/schooldesk-backend/pkg/logger"
)

const readyCheckTimeout = 2 * time.Second

// Pinger is any dependency with a health-check surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-SchoolDesk-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the backing stores. Nil pingers are skipped so partial
// deployments (no redis in a test bench) still report ready.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-SchoolDesk-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
