// Package web exposes the robot to a presentation shell as a JSON API.
package web

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/investbot/internal/domain"
	"github.com/vadiminshakov/investbot/internal/robot"
)

// Session provides the login state used by the API.
type Session interface {
	Login(ctx context.Context, req domain.LoginRequest) (domain.User, error)
	Logout(ctx context.Context) error
	IsAuthenticated() bool
}

// Robot provides the orchestrator operations used by the API.
type Robot interface {
	Start(ctx context.Context, cfg domain.RobotConfiguration) error
	Stop()
	Configure(cfg domain.RobotConfiguration) error
	Config() domain.RobotConfiguration
	State() robot.State
	Counters() robot.Counters
	LastError() error
	RefreshBalance(ctx context.Context) domain.Balance
	Balance() (domain.Balance, bool)
	Assets(ctx context.Context) []domain.Asset
	Prime(ctx context.Context) (domain.Balance, []domain.Asset, error)
	Trades(limit int) []domain.TradeRecord
	ResolveTrade(ctx context.Context, id string) (domain.TradeRecord, error)
}

// Server serves the HTTP API.
type Server struct {
	addr    string
	session Session
	robot   Robot
	logger  *zap.Logger

	history BalanceHistory
	feed    BalanceFeed

	// runCtx bounds robot runs started through the API.
	runCtx context.Context
	engine *gin.Engine
}

// NewServer creates the API server and its routes.
func NewServer(addr string, session Session, r Robot, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addr:    addr,
		session: session,
		robot:   r,
		logger:  logger.With(zap.String("component", "web")),
		runCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

// Handler returns the gin engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.runCtx = ctx

	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go s.shutdownOnDone(ctx, server)

	s.logger.Info("api listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve api")
	}
	return nil
}

// StartWithAutoTLS serves HTTPS with ACME certificates for domain. Port 80 answers
// HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domain, cacheDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if domain == "" {
		return errors.New("no domain provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}
	s.runCtx = ctx

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domain),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go s.shutdownOnDone(ctx, httpSrv)
	go s.shutdownOnDone(ctx, httpsSrv)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("acme http server failed", zap.Error(err))
		}
	}()

	s.logger.Info("api listening with tls", zap.String("addr", s.addr), zap.String("domain", domain))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve api over tls")
	}
	return nil
}

func (s *Server) shutdownOnDone(ctx context.Context, server *http.Server) {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Warn("server shutdown failed", zap.String("addr", server.Addr), zap.Error(err))
	}
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.tracing(), s.accessLog())

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/login", s.handleLogin)
		auth.POST("/logout", s.handleLogout)
		auth.GET("/session", s.handleSession)

		private := v1.Group("")
		private.Use(s.requireSession())
		private.GET("/balance", s.handleBalance)
		private.GET("/assets", s.handleAssets)
		private.GET("/dashboard", s.handleDashboard)
		private.GET("/robot", s.handleRobot)
		private.PUT("/robot/config", s.handleConfigure)
		private.POST("/robot/start", s.handleStart)
		private.POST("/robot/stop", s.handleStop)
		private.GET("/trades", s.handleTrades)
		private.POST("/trades/:id/resolve", s.handleResolve)

		if s.history != nil {
			private.GET("/balance/history", s.handleBalanceHistory)
			if s.feed != nil {
				private.GET("/balance/stream", s.handleBalanceStream)
			}
		}
	}

	return router
}
