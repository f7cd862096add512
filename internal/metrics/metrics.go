package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campus_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	UsersRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campus_users_registered_total",
			Help: "Total accounts created",
		},
	)

	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_logins_total",
			Help: "Login attempts by outcome",
		},
		[]string{"outcome"}, // "ok", "bad_credentials", "unverified"
	)

	ConversationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_conversations_created_total",
			Help: "Total conversations created",
		},
		[]string{"type"}, // "direct" or "group"
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campus_messages_sent_total",
			Help: "Total messages sent",
		},
	)

	LiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campus_live_subscriptions",
			Help: "Open live message subscriptions",
		},
	)

	ListingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_listings_created_total",
			Help: "Total listings created",
		},
		[]string{"kind"},
	)

	ModerationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_moderation_decisions_total",
			Help: "Moderation decisions by subject and outcome",
		},
		[]string{"subject", "outcome"},
	)

	SearchQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campus_search_queries_total",
			Help: "Total search queries",
		},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_uploads_total",
			Help: "Total uploaded images",
		},
		[]string{"purpose"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_jobs_processed_total",
			Help: "Background jobs by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campus_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	DatabaseLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campus_database_latency_seconds",
			Help:    "Database ping latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
