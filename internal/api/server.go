package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mwexplorer/chainstate/internal/api/websocket"
	"github.com/mwexplorer/chainstate/internal/ingest"
	"github.com/mwexplorer/chainstate/internal/store"
)

// Server holds the API server's dependencies.
type Server struct {
	store      *store.Store
	engine     *ingest.Engine
	supervisor *ingest.Supervisor
	config     *Config
	hub        *websocket.Hub
}

func NewServer(st *store.Store, engine *ingest.Engine, supervisor *ingest.Supervisor, config *Config, hub *websocket.Hub) *Server {
	return &Server{store: st, engine: engine, supervisor: supervisor, config: config, hub: hub}
}

// StartHub runs the WebSocket hub's fan-out loop, if one is wired.
func (s *Server) StartHub(ctx context.Context) {
	if s.hub != nil {
		go s.hub.Run(ctx)
	}
}

// Router configures and returns the HTTP router with all middleware and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(s.config.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))
	r.Use(s.metricsMiddleware)

	r.Route("/api/blockchains", func(r chi.Router) {
		r.Get("/", s.handleListBlockchains)
		r.Post("/", s.handleCreateBlockchain)

		r.Route("/{slug}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteBlockchain)
			r.Get("/tip", s.handleTip)
			r.Get("/blocks", s.handleListBlocks)
			r.Get("/blocks/{heightOrHash}", s.handleGetBlock)
			r.Get("/reorgs", s.handleListReorgs)
			r.Post("/accepted", s.handleAccepted)
			r.Post("/bootstrap", s.handleBootstrap)
			r.Post("/bootstrap/abort", s.handleBootstrapAbort)
		})
	})

	if s.hub != nil {
		r.Get("/ws", websocket.HandleWebSocket(s.hub, websocket.LoadConfig()))
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
