package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"pxplace/internal/pkg/auth/jwt"
	"pxplace/internal/pkg/logx"
	"pxplace/internal/pkg/resp"
)

// Limiter defaults, per client IP.
const (
	HandshakeRate  = 0.5
	HandshakeBurst = 5

	APIRate  = 5
	APIBurst = 20
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// It configures CORS and the global middleware, then mounts the canvas API,
// the metrics endpoint and the websocket endpoint.
func Router(deps *AppDeps) http.Handler {
	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, map[string]any{
			"status":      "ok",
			"connections": deps.Hub.LiveConnectionCount(),
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/canvas", func(api chi.Router) {
		api.Use(deps.APILimiter.Middleware)

		api.Get("/info", HandleCanvasInfo(deps))
		api.Get("/board", HandleCanvasBoard(deps))
		api.With(jwt.RequireIdentity(deps.Config.JWTSecret)).Get("/snapshot", HandleCanvasSnapshot(deps))
	})

	r.Get("/ws", HandleWebSocket(wsUpgrader, deps))

	return r
}
