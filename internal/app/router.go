package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/ai-job-broker/internal/config"
	"github.com/fairyhunter13/ai-job-broker/internal/dispatcher"
	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. If the input is empty, returns ["*"].
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

// Deps carries the router's dependencies.
type Deps struct {
	Dispatcher *dispatcher.Dispatcher
	Store      domain.Store
	Events     domain.Events
	ReadyCheck func(ctx context.Context) error
}

// BuildRouter constructs the ops HTTP handler.
func BuildRouter(cfg config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Rate limit the message edge; reads stay unthrottled.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		wr.Post("/v1/messages", messageHandler(deps.Dispatcher))
	})

	r.Get("/v1/stats", statsHandler(deps.Dispatcher))
	r.Get("/v1/jobs", jobsHandler(deps.Store))
	r.Get("/v1/jobs/{id}", jobHandler(deps.Store))
	r.Get("/v1/workers", workersHandler(deps.Store))
	r.Get("/v1/events", eventsHandler(deps.Events))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", readyzHandler(deps.ReadyCheck))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) { promhttp.Handler().ServeHTTP(w, req) })

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func messageHandler(d *dispatcher.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, 1<<20))
		if err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
			return
		}
		reply := d.DispatchRaw(req.Context(), body)
		status := http.StatusOK
		if reply.Type == dispatcher.TypeError {
			switch reply.Code {
			case "validation_error":
				status = http.StatusBadRequest
			case "not_found":
				status = http.StatusNotFound
			case "stale_update", "quota_exceeded":
				status = http.StatusConflict
			default:
				status = http.StatusInternalServerError
			}
		}
		writeJSON(w, status, reply)
	}
}

func statsHandler(d *dispatcher.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.Stats().Snapshot())
	}
}

func jobsHandler(store domain.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		limit := queryInt64(req, "limit", 100)
		var (
			jobs []domain.Job
			err  error
		)
		if raw := req.URL.Query().Get("status"); raw != "" {
			statuses := make([]domain.JobStatus, 0, 4)
			for _, s := range strings.Split(raw, ",") {
				statuses = append(statuses, domain.JobStatus(strings.TrimSpace(s)))
			}
			jobs, err = store.GetJobsByStatus(req.Context(), statuses, limit)
		} else {
			jobs, err = store.GetAllJobs(req.Context(), limit)
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	}
}

func jobHandler(store domain.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		j, err := store.GetJob(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, domain.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, j)
	}
}

func workersHandler(store domain.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		workers, err := store.GetWorkers(req.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
	}
}

func eventsHandler(events domain.Events) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		since := queryInt64(req, "since", 0)
		limit := queryInt64(req, "limit", 100)
		page, err := events.EventsSince(req.Context(), since, limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"events":                     page.Events,
			"has_more":                   page.HasMore,
			"oldest_available_timestamp": page.OldestAvailable,
		})
	}
}

func readyzHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if check == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no readiness check"})
			return
		}
		if err := check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func queryInt64(req *http.Request, key string, def int64) int64 {
	raw := req.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}
