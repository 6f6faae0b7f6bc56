package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconnect/internal/config"
	"github.com/energizer-project/rconnect/internal/db"
	"github.com/energizer-project/rconnect/internal/events"
	intnet "github.com/energizer-project/rconnect/internal/network"
	"github.com/energizer-project/rconnect/internal/pool"
	"github.com/energizer-project/rconnect/internal/util"
)

// Sessions is the part of the session pool the gateway drives.
type Sessions interface {
	Exec(ctx context.Context, name, command string) (string, error)
	Verify(ctx context.Context, name string) error
	Drop(name string)
	Status(name string) (pool.Status, error)
	Statuses() []pool.Status
}

// History is the read side of the audit log.
type History interface {
	History(f db.HistoryFilter) ([]db.CommandRecord, error)
	Sessions(server string, limit int) ([]db.SessionRecord, error)
}

// Server is the HTTP gateway in front of the session pool.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	sessions Sessions
	version  string

	// Optional dependencies
	history  History
	gatherer prometheus.Gatherer

	// HTTP server
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new gateway server.
func NewServer(cfg *config.Config, eventBus *events.EventBus, sessions Sessions, version string) *Server {
	// Set Gin mode based on log level
	if cfg.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		sessions: sessions,
		version:  version,
	}
}

// SetDependencies injects the audit log and the metrics registry. Either may
// be nil; the matching routes then answer 503 or are not mounted.
func (s *Server) SetDependencies(history History, gatherer prometheus.Gatherer) {
	s.history = history
	s.gatherer = gatherer
}

// Handler returns the router, building it on first use.
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	gw := s.cfg.GetGateway()
	addr := net.JoinHostPort(gw.Host, strconv.Itoa(gw.Port))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var tlsConfig *tls.Config
	if gw.TLSEnabled {
		cert, err := s.loadCertificate(gw)
		if err != nil {
			return err
		}
		tlsConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
			CipherSuites: []uint16{
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			},
		}
		s.httpServer.TLSConfig = tlsConfig
	}

	// SO_REUSEADDR so a restart can rebind immediately
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", gw.TLSEnabled).Msg("gateway starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if tlsConfig != nil {
		err = s.httpServer.Serve(tls.NewListener(ln, tlsConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway error: %w", err)
	}
	return nil
}

// loadCertificate loads the configured key pair, falling back to a
// self-signed one kept in the config directory for the gateway host.
func (s *Server) loadCertificate(gw config.GatewayConfig) (tls.Certificate, error) {
	certFile, keyFile := gw.TLSCertFile, gw.TLSKeyFile
	if certFile == "" || keyFile == "" {
		var err error
		certFile, keyFile, err = util.EnsureGatewayCert(filepath.Dir(s.cfg.Path()), []string{gw.Host})
		if err != nil {
			return tls.Certificate{}, err
		}
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load gateway certificate: %w", err)
	}
	return cert, nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	gw := s.cfg.GetGateway()
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := gw.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	router.Use(IPWhitelist(gw.IPWhitelist))
	router.Use(NewRateLimiter(gw.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
		public.GET("/games", s.handleGames)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(gw.Token))
	{
		protected.GET("/servers", s.handleListServers)
		protected.GET("/servers/:name/status", s.handleServerStatus)
		protected.POST("/servers/:name/command", s.handleCommand)
		protected.POST("/servers/:name/verify", s.handleVerify)
		protected.POST("/servers/:name/disconnect", s.handleDisconnect)
		protected.GET("/servers/:name/sessions", s.handleSessions)
		protected.GET("/history", s.handleHistory)
		protected.GET("/system", s.handleSystem)
		protected.GET("/events", s.handleEvents)
	}

	if s.gatherer != nil {
		metrics := router.Group("/metrics")
		metrics.Use(RequireToken(gw.Token))
		metrics.GET("", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "rconnect gateway is running"})
	})

	return router
}

// Stop gracefully stops the gateway.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
