package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/pinapelz/rasis/internal/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/go-chi/stampede"
)

// Server defines HTTP server
type Server struct {
	httpServer *http.Server
	handler    *Handler
	logger     logger.Logger
}

// Config defines webserver configuration
type Config struct {
	Address        string `mapstructure:"address"`
	RequestTimeout int    `mapstructure:"request_timeout"`
}

// New creates new server configuration and configurates middleware
func New(serverConfig Config, log logger.Logger, handler *Handler) *Server {
	r := chi.NewRouter()
	s := &Server{
		httpServer: &http.Server{Addr: serverConfig.Address, Handler: r},
		logger:     log,
		handler:    handler,
	}
	// Specify here only shared middlewares
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(time.Duration(serverConfig.RequestTimeout) * time.Second))
		// Prometheus metrics
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/healthz", http.HandlerFunc(handler.healthCheck))
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middlewareLogger(log))
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(middleware.Timeout(time.Duration(serverConfig.RequestTimeout) * time.Second))

		// Status is read only and cheap to coalesce under request bursts.
		cachedStatus := stampede.Handler(512, 1*time.Second)
		r.With(cachedStatus).Get("/status", handler.getStatus)

		// Run triggers are coalesced harder: a run is already queued, a
		// second trigger within the window adds nothing.
		cachedRun := stampede.Handler(512, 10*time.Second)
		r.With(cachedRun).Put("/run", handler.triggerRun)
		r.Put("/sweep", handler.triggerSweep)
	})
	return s
}

// StartAndServe configures routers and starts http server
func (s *Server) StartAndServe() error {
	s.logger.Info("Server is ready to serve on ", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error(fmt.Sprint("Server startup failed: ", err))
		return err
	}
	return nil
}
