package handlers

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/eldtechnologies/campus/internal/listing"
	"github.com/eldtechnologies/campus/internal/metrics"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass", "fail" or "skip"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Region    string           `json:"region,omitempty"`
	Instance  string           `json:"instance,omitempty"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health handles the health check endpoint. Redis and object storage are
// optional; when not configured they are reported as skipped.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	dbStart := time.Now()
	if err := h.store.Ping(ctx); err != nil {
		checks["database"] = Check{Status: "fail", Message: "connection failed"}
		allHealthy = false
	} else {
		elapsed := time.Since(dbStart)
		metrics.DatabaseLatency.Observe(elapsed.Seconds())
		checks["database"] = Check{Status: "pass", Latency: elapsed.String()}
	}

	if h.redis != nil {
		redisStart := time.Now()
		if err := h.redis.Ping(ctx); err != nil {
			checks["redis"] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
		} else {
			elapsed := time.Since(redisStart)
			metrics.RedisLatency.Observe(elapsed.Seconds())
			checks["redis"] = Check{Status: "pass", Latency: elapsed.String()}
		}
	} else {
		checks["redis"] = Check{Status: "skip", Message: "not configured"}
	}

	if h.uploads.Enabled() {
		s3Start := time.Now()
		if err := h.uploads.Ping(ctx); err != nil {
			checks["storage"] = Check{Status: "fail", Message: "bucket unreachable"}
			allHealthy = false
		} else {
			checks["storage"] = Check{Status: "pass", Latency: time.Since(s3Start).String()}
		}
	} else {
		checks["storage"] = Check{Status: "skip", Message: "not configured"}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:    status,
		Version:   version,
		Region:    os.Getenv("FLY_REGION"),
		Instance:  os.Getenv("FLY_ALLOC_ID"),
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// RootResponse represents the API info response.
type RootResponse struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Boards    []string `json:"boards"`
	Endpoints []string `json:"endpoints"`
}

// Root describes the API.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:    "campus",
		Version: version,
		Boards:  listing.Kinds(),
		Endpoints: []string{
			"POST /auth/signup", "POST /auth/verify", "POST /auth/resend", "POST /auth/login",
			"POST /auth/logout", "GET /auth/session", "POST /auth/password",
			"GET /profile", "PATCH /profile", "GET /profiles/{id}", "GET /community",
			"GET /conversations", "POST /conversations",
			"GET /conversations/{id}/messages", "POST /conversations/{id}/messages", "GET /conversations/{id}/participants", "GET /inbox",
			"GET /feed", "POST /feed", "GET /listings/{kind}", "POST /listings/{kind}",
			"GET /search", "GET /universities", "GET /partners", "GET /stats", "GET /health",
		},
	})
}
