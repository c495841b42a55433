package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/elskow/folio-auth/internal/api"
	"github.com/elskow/folio-auth/internal/auth"
	"github.com/elskow/folio-auth/internal/config"
	"github.com/elskow/folio-auth/internal/ratelimit"
)

type Server struct {
	config     *config.AppConfig
	log        *zap.Logger
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
}

type Params struct {
	fx.In

	Config         *config.AppConfig
	Logger         *zap.Logger
	AuthHandler    *auth.Handler
	AuthMiddleware *auth.AuthMiddleware
	RateLimit      *ratelimit.HTTP
}

func NewServer(p Params) *Server {
	handler := NewRouter(p.AuthHandler, p.AuthMiddleware, p.RateLimit, p.Logger)

	return &Server{
		config: p.Config,
		log:    p.Logger,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: p.Config.Server.ReadHeaderTimeout,
			ErrorLog:          zap.NewStdLog(p.Logger.Named("http")),
		},
	}
}

// NewRouter registers every auth route. Protected routes require a bearer
// token and all auth routes share the per-IP limit.
func NewRouter(h *auth.Handler, mw *auth.AuthMiddleware, limit *ratelimit.HTTP, log *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	for pattern, fn := range h.Routes() {
		var route http.Handler = fn
		if api.IsProtected(pattern) {
			route = mw.RequireBearer(route)
		}
		if limit != nil {
			route = limit.Limit(route)
		}
		mux.Handle(pattern, route)
	}
	mux.HandleFunc(api.Health, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return SecurityHeaders(requestLogger(log, mux))
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen binds the configured address. Start calls it when needed.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()
	return nil
}

func (s *Server) Start() error {
	if s.Addr() == "" {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	lis := s.listener
	s.mu.Unlock()

	s.log.Info("Starting HTTP server",
		zap.String("address", lis.Addr().String()),
		zap.Object("config", serverConfigToField(s.config)),
	)

	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}

func serverConfigToField(config *config.AppConfig) zapcore.ObjectMarshaler {
	return zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		enc.AddString("environment", os.Getenv("APP_ENV"))
		enc.AddString("database_driver", config.Database.Driver)
		enc.AddString("mail_transport", config.Mail.Transport)
		enc.AddString("rate_limit_backend", config.RateLimit.Backend)
		enc.AddBool("refresh_tokens", config.Auth.RefreshTokenEnabled)
		enc.AddDuration("access_token_ttl", config.Auth.AccessTokenDuration)
		return nil
	})
}

// Stop drains in-flight requests for at most the configured shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestLogger(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
