package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/campus/internal/api/middleware"
	"github.com/eldtechnologies/campus/internal/handlers"
	"github.com/eldtechnologies/campus/internal/media"
	"github.com/eldtechnologies/campus/internal/models"
)

const (
	maxJSONBody   = 64 * 1024
	maxUploadBody = media.MaxUploadSize + 1<<20 // multipart framing
)

// Options configures the router's cross-cutting middleware.
type Options struct {
	CORSOrigins []string
	RateLimit   middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, deps handlers.Deps, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxJSONBody, maxUploadBody))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting: shared through Redis when available, per process otherwise.
	var client *redis.Client
	if deps.Redis != nil {
		client = deps.Redis.Client()
	}
	limiter := middleware.NewRateLimiter(client, logger, opts.RateLimit)
	r.Use(limiter.Middleware)
	if blocker := limiter.Blocker(); blocker != nil {
		deps.Unblocker = blocker
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(deps)
	auth := middleware.NewAuthMiddleware(deps.Tokens, deps.Store, deps.Cache, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/api", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Get("/universities", h.ListUniversities)
	r.Get("/partners", h.ListPartners)
	r.Get("/boards", h.Kinds)

	r.Post("/auth/signup", h.Signup)
	r.Post("/auth/verify", h.Verify)
	r.Post("/auth/resend", h.Resend)
	r.Post("/auth/login", h.Login)

	// Authenticated routes (require access token)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Post("/auth/logout", h.Logout)
		r.Get("/auth/session", h.Session)
		r.Post("/auth/password", h.ChangePassword)

		r.Get("/profile", h.GetProfile)
		r.Patch("/profile", h.UpdateProfile)
		r.Post("/profile/avatar", h.UploadAvatar)
		r.Post("/profile/cover", h.UploadCover)
		r.Post("/profile/verification", h.SubmitVerification)
		r.Get("/profiles/{id}", h.PublicProfile)
		r.Get("/community", h.Community)
		r.Get("/roles/{role}", h.HasRole)

		r.Get("/conversations", h.ListConversations)
		r.Post("/conversations", h.CreateConversation)
		r.Get("/conversations/{id}/messages", h.ListMessages)
		r.Post("/conversations/{id}/messages", h.PostMessage)
		r.Get("/conversations/{id}/participants", h.ListParticipants)
		r.Get("/inbox", h.Inbox)

		r.Get("/feed", h.Feed)
		r.Post("/feed", h.CreatePost)
		r.Get("/listings/{kind}", h.ListListings)
		r.Post("/listings/{kind}", h.CreateListing)
		r.Get("/listings/{kind}/{id}", h.GetListing)
		r.Delete("/listings/{kind}/{id}", h.DeleteListing)
		r.Post("/listings/{kind}/{id}/images", h.AddListingImage)
		r.Get("/search", h.Search)

		// Moderation
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleAdmin, models.RoleModerator))

			r.Get("/admin/pending", h.Pending)
			r.Post("/admin/listings/{id}/status", h.SetListingStatus)
			r.Post("/admin/verifications/{id}", h.ReviewVerification)
		})

		// Administration
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleAdmin))

			r.Post("/admin/roles", h.GrantRole)
			r.Delete("/admin/roles", h.RevokeRole)
			r.Post("/admin/universities", h.CreateUniversity)
			r.Post("/admin/partners", h.CreatePartner)
			r.Post("/admin/unblock", h.Unblock)
		})
	})

	return r
}
