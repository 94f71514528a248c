package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	srv *http.Server
}

func New(addr string, exposeMetrics bool, api *API, log *slog.Logger) *Server {
	return &Server{srv: &http.Server{Addr: addr, Handler: NewRouter(exposeMetrics, api, log)}}
}

// NewRouter wires middleware and routes. Order matters: recover, then
// request id, then logging.
func NewRouter(exposeMetrics bool, api *API, log *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(Recover(log))
	r.Use(RequestID())
	r.Use(Logging(log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if exposeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	if api != nil {
		r.Route("/v1", api.Routes)
	}
	return r
}

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
