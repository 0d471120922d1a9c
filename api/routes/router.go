package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schooldesk/schooldesk-backend/api/controllers"
	"github.com/schooldesk/schooldesk-backend/api/middleware"
	"github.com/schooldesk/schooldesk-backend/internal/invoices"
	"github.com/schooldesk/schooldesk-backend/internal/payments"
	"github.com/schooldesk/schooldesk-backend/internal/receipts"
	"github.com/schooldesk/schooldesk-backend/pkg/auth"
	"github.com/schooldesk/schooldesk-backend/pkg/config"
	"github.com/schooldesk/schooldesk-backend/pkg/logger"
	"github.com/schooldesk/schooldesk-backend/pkg/redis"
)

// RouterParams collects everything the HTTP surface needs.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Redis    *redis.Client
	Pingers  map[string]controllers.Pinger
	Invoices invoices.Service
	Receipts receipts.Service
	Payments payments.Service
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.Pingers))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		if params.Redis != nil {
			r.Use(middleware.Idempotency(params.Redis, logg))
		}

		r.Route("/students/{studentId}", func(r chi.Router) {
			r.With(middleware.RequireScope(auth.ScopeFeesRead, logg)).
				Get("/invoices", controllers.StudentInvoices(params.Invoices, logg))
			r.With(middleware.RequireScope(auth.ScopeFeesRead, logg)).
				Get("/receipts", controllers.StudentReceipts(params.Receipts, logg))
		})

		r.Route("/invoices", func(r chi.Router) {
			r.With(middleware.RequireScope(auth.ScopeFeesManage, logg)).
				Post("/", controllers.InvoiceCreate(params.Invoices, logg))
			r.With(middleware.RequireScope(auth.ScopeFeesRead, logg)).
				Get("/{invoiceId}", controllers.InvoiceGet(params.Invoices, logg))
			r.With(middleware.RequireScope(auth.ScopeFeesManage, logg)).
				Post("/{invoiceId}/issue", controllers.InvoiceIssue(params.Invoices, logg))
			r.With(middleware.RequireScope(auth.ScopeFeesManage, logg)).
				Post("/{invoiceId}/cancel", controllers.InvoiceCancel(params.Invoices, logg))
		})

		r.With(middleware.RequireScope(auth.ScopeFeesCollect, logg)).
			Post("/payments", controllers.PaymentRecord(params.Payments, logg))

		r.With(middleware.RequireScope(auth.ScopeFeesRead, logg)).
			Get("/receipts/{receiptId}", controllers.ReceiptGet(params.Receipts, logg))
	})

	return r
}
