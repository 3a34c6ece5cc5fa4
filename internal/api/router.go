package api

import (
	"log/slog"
	"net/http"

	"github.com/sydlexius/alldbs/internal/api/middleware"
	"github.com/sydlexius/alldbs/internal/backup"
	"github.com/sydlexius/alldbs/internal/client"
	"github.com/sydlexius/alldbs/internal/event"
	"github.com/sydlexius/alldbs/internal/maintenance"
	"github.com/sydlexius/alldbs/internal/metrics"
)

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	Client             *client.Client
	Feed               *event.Feed
	BackupService      *backup.Service
	MaintenanceService *maintenance.Service
	Metrics            *metrics.Metrics
	RateLimiter        *middleware.RateLimiter
	Logger             *slog.Logger
	BasePath           string
	AdminTokenHash     string
}

// Router sets up all HTTP routes for the application.
type Router struct {
	client             *client.Client
	feed               *event.Feed
	backupService      *backup.Service
	maintenanceService *maintenance.Service
	metrics            *metrics.Metrics
	rateLimiter        *middleware.RateLimiter
	logger             *slog.Logger
	basePath           string
	adminTokenHash     string
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		client:             deps.Client,
		feed:               deps.Feed,
		backupService:      deps.BackupService,
		maintenanceService: deps.MaintenanceService,
		metrics:            deps.Metrics,
		rateLimiter:        deps.RateLimiter,
		logger:             deps.Logger.With(slog.String("component", "api")),
		basePath:           deps.BasePath,
		adminTokenHash:     deps.AdminTokenHash,
	}
}

// Handler returns the fully configured HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	adminMw := middleware.AdminToken(r.adminTokenHash)
	mux := http.NewServeMux()
	bp := r.basePath

	// Read-only routes
	mux.HandleFunc("GET "+bp+"/_up", r.handleUp)
	mux.HandleFunc("GET "+bp+"/_all_dbs", r.handleAllDbs)
	mux.HandleFunc("GET "+bp+"/_db_updates", r.handleDBUpdates)
	if r.metrics != nil {
		mux.Handle("GET "+bp+"/_metrics", r.metrics.Handler())
	}

	// Database lifecycle
	mux.HandleFunc("PUT "+bp+"/{db}", r.limited(r.handleCreateDB))
	mux.HandleFunc("DELETE "+bp+"/{db}", r.limited(r.handleDestroyDB))

	// Administrative routes (bearer token required)
	mux.HandleFunc("POST "+bp+"/_reset_all_dbs", r.limited(wrap(r.handleResetAllDbs, adminMw)))
	mux.HandleFunc("GET "+bp+"/_admin/status", wrap(r.handleMaintenanceStatus, adminMw))
	mux.HandleFunc("POST "+bp+"/_admin/optimize", wrap(r.handleMaintenanceOptimize, adminMw))
	mux.HandleFunc("GET "+bp+"/_admin/backups", wrap(r.handleBackupHistory, adminMw))
	mux.HandleFunc("POST "+bp+"/_admin/backups", wrap(r.handleBackupCreate, adminMw))
	mux.HandleFunc("DELETE "+bp+"/_admin/backups/{filename}", wrap(r.handleBackupDelete, adminMw))

	var h http.Handler = middleware.SecurityHeaders(mux)
	if r.metrics != nil {
		h = r.metrics.Middleware(h)
	}
	return middleware.Logging(r.logger)(h)
}

// limited applies the rate limiter, when one is configured.
func (r *Router) limited(fn http.HandlerFunc) http.HandlerFunc {
	if r.rateLimiter == nil {
		return fn
	}
	return r.rateLimiter.Middleware(fn).ServeHTTP
}

// wrap wraps a handler function with a middleware.
func wrap(fn http.HandlerFunc, mw func(http.Handler) http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mw(fn).ServeHTTP(w, r)
	}
}
