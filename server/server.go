package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kbukum/mmalkit/logger"
	"github.com/kbukum/mmalkit/resilience"
	"github.com/kbukum/mmalkit/server/endpoint"
	"github.com/kbukum/mmalkit/server/middleware"
	"github.com/kbukum/mmalkit/sse"
)

// pruneInterval is how often idle rate limit buckets are dropped.
const pruneInterval = time.Minute

// Server serves the camera API over HTTP/1.1 and HTTP/2, in cleartext or
// over TLS.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	mux        *http.ServeMux
	handler    http.Handler
	config     Config
	log        *logger.Logger
	limiter    *resilience.KeyedRateLimiter

	mu       sync.Mutex
	listener net.Listener
	stop     chan struct{}
}

// New creates a Server. cfg should have its defaults applied.
func New(cfg Config, log *logger.Logger) *Server {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	log = log.WithComponent("server")

	engine := gin.New()
	mux := http.NewServeMux()
	mux.Handle("/", engine)

	handler := middleware.Chain(
		middleware.Recovery(log),
		middleware.RequestID(),
		middleware.CORS(cfg.CORS),
		middleware.BodySizeLimit(cfg.MaxBodySize),
		middleware.RequestLogger(log),
	)(mux)
	h2s := &http2.Server{
		MaxConcurrentStreams: 100,
		IdleTimeout:          cfg.IdleTimeout,
	}

	s := &Server{
		engine:  engine,
		mux:     mux,
		handler: handler,
		config:  cfg,
		log:     log,
	}
	if cfg.RateLimit.Rate > 0 {
		s.limiter = resilience.NewKeyedRateLimiter(cfg.RateLimit)
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      h2c.NewHandler(handler, h2s),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Engine returns the Gin engine for route registration.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Handler returns the root handler with the middleware chain applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Handle mounts h at pattern next to the Gin routes.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
	s.log.Debug("handler mounted", logger.Fields("pattern", pattern))
}

// API lists what the server exposes. Nil members are left out.
type API struct {
	Service string
	Version string
	Engine  string
	Health  endpoint.HealthChecker
	Camera  *endpoint.Captures
	Events  *sse.Hub
}

// Mount registers the routes of api.
func (s *Server) Mount(api API) {
	s.engine.GET("/health", endpoint.Health(api.Service, api.Version, api.Health))
	s.engine.GET("/ready", endpoint.Readiness(api.Service, api.Health))
	s.engine.GET("/version", endpoint.Version(api.Engine))

	if api.Camera != nil {
		g := s.engine.Group("/")
		if s.limiter != nil {
			g.Use(middleware.GinWrap(middleware.RateLimit(s.limiter, nil)))
		}
		g.POST("/capture/still", api.Camera.Still)
		g.POST("/capture/video", api.Camera.Video)
		g.PUT("/camera/settings", api.Camera.PutSettings)
		s.engine.GET("/camera", api.Camera.Stats)
		s.engine.GET("/camera/settings", api.Camera.GetSettings)
	}
	if api.Events != nil {
		s.engine.GET("/events", endpoint.Events(api.Events))
	}
}

// Start binds the port and serves in the background. It returns once the
// listener is bound.
func (s *Server) Start(ctx context.Context) error {
	tlsCfg, err := s.config.TLS.Build()
	if err != nil {
		return fmt.Errorf("server tls: %w", err)
	}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.httpServer.Addr, err)
	}
	stop := make(chan struct{})
	s.mu.Lock()
	s.listener, s.stop = ln, stop
	s.httpServer.TLSConfig = tlsCfg
	s.mu.Unlock()

	go func() {
		var err error
		if tlsCfg != nil {
			err = s.httpServer.ServeTLS(ln, "", "")
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed {
			s.log.Error("server error", logger.ErrorFields("serve", err))
		}
	}()
	if s.limiter != nil {
		go s.prune(stop)
	}
	s.log.Info("HTTP server started", logger.Fields("addr", ln.Addr().String(), "tls", tlsCfg != nil))
	return nil
}

func (s *Server) prune(stop <-chan struct{}) {
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.limiter.Prune()
		}
	}
}

// Stop shuts the server down gracefully within the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error("server shutdown error", logger.ErrorFields("shutdown", err))
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Started reports whether the listener is bound.
func (s *Server) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}
