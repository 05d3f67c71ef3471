package referee

import (
	"net/http"

	"github.com/connect4/client/internal/metrics"
	"github.com/connect4/client/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// RouterOptions configures the referee's HTTP surface.
type RouterOptions struct {
	AllowedOrigins []string
	RateLimit      float64 // upgrades per second
	RateBurst      int
}

// NewRouter exposes /ws, /players, /health and /metrics.
func NewRouter(hub *Hub, opts RouterOptions) http.Handler {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     middleware.CheckOrigin(opts.AllowedOrigins),
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	limiter := middleware.NewRateLimiter(opts.RateLimit, opts.RateBurst)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.With(middleware.RateLimit(limiter)).Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, upgrader, w, r)
	})
	r.With(middleware.CORS(opts.AllowedOrigins)).Get("/players", hub.HandleActivePlayers)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}
