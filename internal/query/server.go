package query

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/logging"
)

// Server exposes a Store over HTTP.
type Server struct {
	store Store
	log   *slog.Logger
}

// NewServer creates a Server backed by store.
func NewServer(store Store) *Server {
	return &Server{store: store, log: logging.Component("api")}
}

// Handler builds the chi router with every route wired.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.handleRoot())
	r.Get("/health", s.handleHealth())

	r.Route("/api", func(r chi.Router) {
		r.Get("/reports/top-products", s.handleTopProducts())
		r.Get("/channels/{channel}/activity", s.handleChannelActivity())
		r.Get("/search/messages", s.handleSearch())
	})

	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func (s *Server) handleRoot() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the Analytical API"})
	}
}

// handleHealth returns 503 when the warehouse is unreachable.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.log.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleTopProducts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := DefaultLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "limit must be an integer")
				return
			}
			limit = n
		}

		products, err := s.store.TopProducts(r.Context(), ClampLimit(limit))
		if err != nil {
			s.log.Error("top products", "error", err)
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		if products == nil {
			products = []TopProduct{}
		}
		writeJSON(w, http.StatusOK, products)
	}
}

func (s *Server) handleChannelActivity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel := chi.URLParam(r, "channel")

		activity, err := s.store.ChannelActivity(r.Context(), channel)
		if err != nil {
			s.log.Error("channel activity", "channel", channel, "error", err)
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		if activity == nil {
			activity = []ChannelActivity{}
		}
		writeJSON(w, http.StatusOK, activity)
	}
}

func (s *Server) handleSearch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyword := strings.TrimSpace(r.URL.Query().Get("query"))
		if keyword == "" {
			writeError(w, http.StatusBadRequest, ErrEmptyQuery.Error())
			return
		}

		results, err := s.store.SearchMessages(r.Context(), keyword)
		if err != nil {
			s.log.Error("search messages", "error", err)
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		if results == nil {
			results = []MessageSearchResult{}
		}
		writeJSON(w, http.StatusOK, results)
	}
}
