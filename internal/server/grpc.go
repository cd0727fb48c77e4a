package server

import (
	"FXSwapLedger/internal/auth"
	"FXSwapLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer runs the gRPC health/reflection server next to the HTTP API.
type GRPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	handler    http.Handler
	logger     zerolog.Logger
}

// ServerDeps holds everything the listeners need. Tokens, HealthChecker
// and Faucet may be nil; the faucet route is mounted only when set.
type ServerDeps struct {
	Gateway       *Gateway
	Tokens        *auth.TokenService
	HealthChecker *observability.HealthChecker
	Faucet        Minter
	Logger        zerolog.Logger
}

func NewGRPCServer(grpcAddr, httpAddr string, deps ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer()

	// Health check; NOT_SERVING until the engine has recovered.
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer: grpcServer,
		health:     healthServer,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		handler:    NewHTTPHandler(deps),
		logger:     deps.Logger,
	}
}

// NewHTTPHandler mounts the health endpoints and the authenticated API.
func NewHTTPHandler(deps ServerDeps) http.Handler {
	authenticate := func(h http.Handler) http.Handler {
		if deps.Tokens == nil {
			return h
		}
		return auth.Middleware(deps.Tokens, h)
	}

	httpMux := http.NewServeMux()
	if deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	if deps.Faucet != nil {
		httpMux.Handle("/v1/dev/mint", authenticate(faucetHandler(deps.Faucet, deps.Logger)))
	}
	if deps.Gateway != nil {
		httpMux.Handle("/", authenticate(deps.Gateway))
	}
	return httpMux
}

// SetServing flips the gRPC health status.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// Handler returns the HTTP handler served by StartHTTP.
func (s *GRPCServer) Handler() http.Handler {
	return s.handler
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the JSON API (blocking).
func (s *GRPCServer) StartHTTP(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP shutdown")
		}
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP API listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
