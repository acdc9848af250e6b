// Package app wires configuration, middleware, and handlers into the
// HTTP surface.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/ark-vote/internal/adapter/httpserver"
	"github.com/fairyhunter13/ark-vote/internal/config"
	"github.com/fairyhunter13/ark-vote/internal/observability"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
// readyz may be nil when the binary has no dependencies to probe.
func BuildRouter(cfg config.Config, srv *httpserver.Server, readyz http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	// Security & instrumentation middleware
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(60 * time.Second))
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Rate limit the voting endpoints
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Post("/ballot/new", srv.BallotNew)
		wr.Post("/ballot/save", srv.BallotSave)
		wr.Post("/ballot/skip", srv.BallotSkip)
	})

	// Topic and results queries
	r.Post("/topic/info", srv.TopicInfo)
	r.Post("/topic/candidate_pool", srv.TopicCandidatePool)
	r.Post("/topic/list", srv.TopicList)
	r.Post("/results/final_order", srv.ResultsFinalOrder)
	r.Post("/results/1v1_matrix", srv.Results1v1Matrix)

	// Administrative endpoints; forbidden unless auditing is enabled
	r.Post("/topic/create", srv.TopicCreate)
	r.Post("/audit/topic", srv.AuditTopic)
	r.Post("/audit/need_audit_topics", srv.AuditNeedAuditTopics)

	// Health and metrics
	r.Get("/healthz", srv.Healthz)
	if readyz != nil {
		r.Get("/readyz", readyz)
	}
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
