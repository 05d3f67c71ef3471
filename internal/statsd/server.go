package statsd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/connect4/client/internal/cache"
	"github.com/connect4/client/internal/logger"
	"github.com/connect4/client/internal/metrics"
	"github.com/connect4/client/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

const (
	listCacheKey   = "statistics:all"
	maxSegmentSize = 64
)

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
	CacheTTL       time.Duration
	RateLimit      int // requests per minute per IP, 0 disables
	Logger         *logger.Logger
}

// Server serves the statistics endpoints.
type Server struct {
	store *Store
	cache cache.Store
	opts  Options
	log   *logger.Logger
}

func NewServer(store *Store, c cache.Store, opts Options) *Server {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.WithComponent("statsd")
	}
	return &Server{store: store, cache: c, opts: opts, log: opts.Logger}
}

// Router wires the endpoints:
//
//	POST /statistics/{gameId}/{gameType}/{state}/{country}
//	GET  /statistics
//	GET  /statistics/get/{day}/{month}/{year}
//	GET  /health
//	GET  /metrics
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(s.opts.AllowedOrigins))
	if s.opts.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.opts.RateLimit, time.Minute))
	}

	r.Route("/statistics", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/get/{day}/{month}/{year}", s.handleListByDate)
		r.Post("/{gameId}/{gameType}/{state}/{country}", s.handleCreate)
	})
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	return r
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	rec := Record{
		GameID:   chi.URLParam(r, "gameId"),
		GameType: chi.URLParam(r, "gameType"),
		State:    chi.URLParam(r, "state"),
		Country:  chi.URLParam(r, "country"),
	}
	for _, v := range []string{rec.GameID, rec.GameType, rec.State, rec.Country} {
		if v == "" || len(v) > maxSegmentSize {
			writeError(w, http.StatusBadRequest, "invalid path parameter")
			return
		}
	}

	saved, err := s.Save(r.Context(), rec, "http")
	if err != nil {
		s.log.Error("failed to store record", err)
		writeError(w, http.StatusInternalServerError, "could not store record")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// Save stores rec and invalidates the cached listing.
func (s *Server) Save(ctx context.Context, rec Record, source string) (Record, error) {
	saved, err := s.store.Insert(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	metrics.StatsdRecords.WithLabelValues(source).Inc()
	if err := s.cache.Delete(ctx, listCacheKey); err != nil {
		s.log.Warn("cache invalidation failed", err)
	}
	s.log.Info("record stored", map[string]interface{}{"gameId": saved.GameID, "state": saved.State, "source": source})
	return saved, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if data, ok, err := s.cache.Get(ctx, listCacheKey); err == nil && ok {
		w.Header().Set("X-Cache", "HIT")
		writeRaw(w, http.StatusOK, data)
		return
	} else if err != nil {
		s.log.Warn("cache read failed", err)
	}

	records, err := s.store.List(ctx)
	if err != nil {
		s.log.Error("failed to list records", err)
		writeError(w, http.StatusInternalServerError, "could not list records")
		return
	}
	data, err := json.Marshal(records)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not encode records")
		return
	}
	if err := s.cache.Set(ctx, listCacheKey, data, s.opts.CacheTTL); err != nil {
		s.log.Warn("cache write failed", err)
	}
	w.Header().Set("X-Cache", "MISS")
	writeRaw(w, http.StatusOK, data)
}

func (s *Server) handleListByDate(w http.ResponseWriter, r *http.Request) {
	var parts [3]int
	for i, name := range []string{"day", "month", "year"} {
		n, err := strconv.Atoi(chi.URLParam(r, name))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		parts[i] = n
	}

	records, err := s.store.ListByDate(r.Context(), parts[0], parts[1], parts[2])
	if errors.Is(err, ErrInvalidDate) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.log.Error("failed to list records by date", err)
		writeError(w, http.StatusInternalServerError, "could not list records")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
