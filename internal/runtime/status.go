package runtime

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/botflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/botflow/internal/runtime/logging"
	"github.com/drblury/botflow/transport"
)

// HealthReport is the /healthz payload.
type HealthReport struct {
	Status   string   `json:"status"`
	Bots     int      `json:"bots"`
	Degraded []string `json:"degraded,omitempty"`
}

// StatusHandler returns the read-only status API:
//
//	GET /healthz           liveness plus the ids of degraded bots
//	GET /api/bots          every bot's connection and dispatch status
//	GET /api/bots/{id}     one bot
//	GET /api/handlers      the handler chain with stats
//	GET /metrics           Prometheus exposition
func (r *Runtime) StatusHandler() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Use(r.corsMiddleware)

	router.Get("/healthz", r.handleHealth)
	router.Get("/api/bots", r.handleGetBots)
	router.Get("/api/bots/{id}", r.handleGetBot)
	router.Get("/api/handlers", r.handleGetHandlers)
	router.Handle("/metrics", promhttp.HandlerFor(r.deps.Gatherer, promhttp.HandlerOpts{}))
	router.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return router
}

func (r *Runtime) serveStatus(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", r.Conf.Status.Port)
	r.Logger.Info("Starting status server", loggingpkg.LogFields{"address": addr})
	err := transport.ServeHTTP(ctx, addr, r.StatusHandler(), func(bound string) {
		r.mu.Lock()
		r.statusURL = "http://" + bound
		r.mu.Unlock()
	})
	if err != nil {
		// The status API is auxiliary; bots keep running without it.
		r.Logger.Error("Status server failed", err, loggingpkg.LogFields{"address": addr})
	}
	return nil
}

// StatusURL returns the base URL of the running status server, or "".
func (r *Runtime) StatusURL() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statusURL
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	report := HealthReport{Status: "ok"}
	for _, st := range r.Status() {
		report.Bots++
		if st.Degraded {
			report.Degraded = append(report.Degraded, st.ID)
		}
	}
	code := http.StatusOK
	if len(report.Degraded) > 0 {
		report.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	r.writeJSON(w, code, report)
}

func (r *Runtime) handleGetBots(w http.ResponseWriter, _ *http.Request) {
	r.writeJSON(w, http.StatusOK, r.Status())
}

func (r *Runtime) handleGetBot(w http.ResponseWriter, req *http.Request) {
	b, ok := r.Bot(chi.URLParam(req, "id"))
	if !ok {
		http.Error(w, "bot not found", http.StatusNotFound)
		return
	}
	r.writeJSON(w, http.StatusOK, b.Status())
}

func (r *Runtime) handleGetHandlers(w http.ResponseWriter, _ *http.Request) {
	r.writeJSON(w, http.StatusOK, r.Handlers())
}

func (r *Runtime) writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := jsoncodec.Marshal(v)
	if err != nil {
		r.Logger.Error("Failed to encode status response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func (r *Runtime) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if allowed := r.allowedCORSOrigin(req.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if allowed != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		next.ServeHTTP(w, req)
	})
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when the origin is not on the allow-list.
func (r *Runtime) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range r.Conf.Status.CORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if requestOrigin != "" && strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
