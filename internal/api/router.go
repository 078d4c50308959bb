package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/TonniChopper/DeutschLearner/internal/api/handlers"
	"github.com/TonniChopper/DeutschLearner/internal/api/middleware"
)

// Router wraps the HTTP multiplexer with middleware and handlers
type Router struct {
	mux       *http.ServeMux
	app       *App
	exercises *handlers.ExerciseHandler
	tests     *handlers.LevelTestHandler
	profiles  *handlers.ProfileHandler
	expensive func(http.Handler) http.Handler
}

// NewRouter creates a new API router with all routes configured
func NewRouter(app *App) http.Handler {
	r := &Router{
		mux: http.NewServeMux(),
		app: app,
	}

	// Stricter limits on routes that call the generative service
	if !app.Config.Debug {
		r.expensive = middleware.ExpensiveRateLimitMiddleware(middleware.DefaultRateLimitConfig())
	}

	// Initialize handlers
	r.exercises = handlers.NewExerciseHandler(app.Exercises)
	r.tests = handlers.NewLevelTestHandler(app.LevelTests)
	r.profiles = handlers.NewProfileHandler(app.Profiles)

	// Register routes
	r.registerRoutes()

	// Build middleware chain
	return r.buildMiddlewareChain(r.mux, app)
}

func (r *Router) registerRoutes() {
	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.HandleFunc("GET /ready", r.handleReady)

	// Exercises (requires user identity)
	r.mux.HandleFunc("POST /api/v1/tasks/generate", r.requireUser(r.generativeLimited(r.exercises.Generate)))
	r.mux.HandleFunc("GET /api/v1/tasks", r.requireUser(r.exercises.List))
	r.mux.HandleFunc("GET /api/v1/tasks/{id}", r.requireUser(r.exercises.Get))
	r.mux.HandleFunc("POST /api/v1/tasks/{id}/submit", r.requireUser(r.generativeLimited(r.exercises.Submit)))

	// Recommendations
	r.mux.HandleFunc("POST /api/v1/recommendations", r.requireUser(r.generativeLimited(r.exercises.Recommend)))
	r.mux.HandleFunc("GET /api/v1/recommendations", r.requireUser(r.exercises.ListRecommendations))

	// Level tests
	r.mux.HandleFunc("POST /api/v1/level-test/start", r.requireUser(r.generativeLimited(r.tests.Start)))
	r.mux.HandleFunc("POST /api/v1/level-test/{id}/submit", r.requireUser(r.generativeLimited(r.tests.Submit)))
	r.mux.HandleFunc("GET /api/v1/level-test/current", r.requireUser(r.tests.Current))
	r.mux.HandleFunc("GET /api/v1/level-test/history", r.requireUser(r.tests.History))
	r.mux.HandleFunc("GET /api/v1/level-test/status", r.requireUser(r.tests.Status))

	// Profile
	r.mux.HandleFunc("GET /api/v1/profile", r.requireUser(r.profiles.Get))
	r.mux.HandleFunc("PUT /api/v1/profile/preferences", r.requireUser(r.profiles.UpdatePreferences))
}

func (r *Router) buildMiddlewareChain(handler http.Handler, app *App) http.Handler {
	// Apply middleware in reverse order (last applied = first executed)
	handler = middleware.Recovery(handler)
	handler = middleware.Logger(handler)

	// Apply rate limiting (skip in debug mode for easier development)
	if !app.Config.Debug {
		handler = middleware.RateLimitMiddleware(middleware.DefaultRateLimitConfig())(handler)
	}

	handler = middleware.RequestID(handler)
	handler = middleware.CORS(handler)

	return handler
}

// generativeLimited applies the expensive rate limit tier to a route
func (r *Router) generativeLimited(next http.HandlerFunc) http.HandlerFunc {
	if r.expensive == nil {
		return next
	}
	return r.expensive(next).ServeHTTP
}

// requireUser resolves the caller's identity from the X-User-ID header.
// Authentication proper lives at the gateway; this service trusts the
// forwarded identity.
func (r *Router) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		raw := req.Header.Get("X-User-ID")
		if raw == "" {
			Unauthorized(w, req, "missing X-User-ID header")
			return
		}

		userID, err := uuid.Parse(raw)
		if err != nil {
			slog.Warn("invalid user id header",
				"error", err,
				"request_id", middleware.GetRequestID(req.Context()),
			)
			Unauthorized(w, req, "invalid user id")
			return
		}

		ctx := context.WithValue(req.Context(), handlers.ContextKeyUser, userID)
		next(w, req.WithContext(ctx))
	}
}

// Health check handlers
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	r.jsonResponse(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *Router) handleReady(w http.ResponseWriter, req *http.Request) {
	// Check storage connectivity
	if err := r.app.Ping(req.Context()); err != nil {
		slog.Error("storage health check failed",
			"error", err,
			"request_id", middleware.GetRequestID(req.Context()),
		)
		r.jsonResponse(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
			"checks": map[string]string{
				"storage": "unhealthy",
			},
		})
		return
	}

	r.jsonResponse(w, http.StatusOK, map[string]any{
		"status": "ready",
		"checks": map[string]string{
			"storage": "healthy",
		},
	})
}

// Helper for JSON responses
func (r *Router) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}
