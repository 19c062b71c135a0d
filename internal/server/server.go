// Package server implements the facilitator's HTTP API: payment
// verification and settlement plus the operational endpoints around them.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/p402-io/p402"
	"github.com/p402-io/p402/internal/health"
	"github.com/p402-io/p402/internal/metrics"
	"github.com/p402-io/p402/internal/ratelimit"
)

// Facilitator is the payment engine the server fronts.
type Facilitator interface {
	Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (*p402.VerifyResponse, error)
	Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*p402.SettleResponse, error)
	GetSupported() p402.SupportedResponse
}

// Options configures a Server. Facilitator and Logger are required;
// Metrics, Limiter, and Health are optional and their endpoints or
// middleware are skipped when absent.
type Options struct {
	Facilitator Facilitator
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Limiter     ratelimit.Limiter
	Health      *health.Checker
	Port        int
	Production  bool
}

type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	facilitator Facilitator
	logger      *zap.Logger
	metrics     *metrics.Metrics
	limiter     ratelimit.Limiter
}

func New(opts Options) *Server {
	if opts.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:      gin.New(),
		facilitator: opts.Facilitator,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		limiter:     opts.Limiter,
	}

	s.router.Use(gin.Recovery())
	s.router.Use(requestID())
	s.router.Use(requestLogger(s.logger))
	s.router.Use(cors())
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware())
	}
	if s.limiter != nil {
		s.router.Use(rateLimit(s.limiter, s.logger))
	}

	if opts.Health != nil {
		s.router.GET("/health", opts.Health.HealthHandler)
		s.router.GET("/ready", opts.Health.ReadyHandler)
	}
	if s.metrics != nil {
		s.router.GET("/metrics", s.metrics.Handler())
	}
	s.router.POST("/verify", s.handleVerify)
	s.router.POST("/settle", s.handleSettle)
	s.router.GET("/supported", s.handleSupported)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start serves until SIGINT or SIGTERM, then drains connections for up
// to 30 seconds.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("facilitator listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		s.logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
