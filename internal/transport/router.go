package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies holds the injected dependencies for the HTTP layer.
type Dependencies struct {
	Handler     *Handler
	Logger      *zap.Logger
	MetricsPath string
}

// NewRouter creates a chi.Router with the middleware pipeline and all
// route registrations. Health and metrics endpoints skip request logging.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(Recovery(deps.Logger))
	r.Use(RequestID)

	metricsPath := deps.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Get("/healthz", handleHealth)
	r.Get("/readyz", handleHealth)
	r.Method(http.MethodGet, metricsPath, promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RequestLogging(deps.Logger))

		r.Post("/v1/tenants/{tenantId}/transactions", deps.Handler.HandleTrigger)
		r.Get("/v1/instances/{instanceId}", deps.Handler.HandleGetInstance)
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
