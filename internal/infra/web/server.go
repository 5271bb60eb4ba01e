// File: internal/infra/web/server.go
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"document-ai-indexing/internal/infra/worker"
	"document-ai-indexing/internal/usecase"
)

// Subscriber delivers a workspace's raw event stream; the websocket
// bridge relays it to connected clients verbatim.
type Subscriber interface {
	Subscribe(ctx context.Context, workspaceID string) (<-chan []byte, func())
}

type Server struct {
	indexUC    usecase.IndexingUseCase
	exportUC   usecase.ExportUseCase
	subscriber Subscriber
	pool       *worker.Pool
	apiKey     string
	log        *zerolog.Logger
	httpSrv    *http.Server
}

func NewServer(
	indexUC usecase.IndexingUseCase,
	exportUC usecase.ExportUseCase,
	subscriber Subscriber,
	pool *worker.Pool,
	apiKey string,
	logger *zerolog.Logger,
) *Server {
	webLog := logger.With().Str("component", "WebServer").Logger()
	return &Server{
		indexUC:    indexUC,
		exportUC:   exportUC,
		subscriber: subscriber,
		pool:       pool,
		apiKey:     apiKey,
		log:        &webLog,
	}
}

// Router builds the full route tree. Split out from Start so tests can
// drive it through httptest without a listening socket.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(Recover(s.log))
	r.Use(TraceID())
	r.Use(RequestLog(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(s.apiKey, s.log))
		r.Use(Timeout(30 * time.Second))

		r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
			r.Post("/index", s.createIndexJobHandler())
			r.Get("/index", s.activeJobHandler())
			r.Delete("/index", s.abortJobHandler())
			r.Get("/export", s.exportHandler())
		})
		r.Get("/jobs/{jobID}", s.jobStatusHandler())
	})

	// Websocket upgrades carry the key as a query parameter.
	r.With(BearerAuth(s.apiKey, s.log)).Get("/ws/workspaces/{workspaceID}", s.eventsHandler())

	return r
}

func (s *Server) Start(port int) error {
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("HTTP server listening")
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
