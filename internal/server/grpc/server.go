// Package grpc exposes the authentication engine over gRPC.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/fastauth/internal/dbx"
	"github.com/dmitrijs2005/fastauth/internal/logging"
	"github.com/dmitrijs2005/fastauth/internal/server/models"
	"github.com/dmitrijs2005/fastauth/internal/server/observability"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Engine is the part of the authentication engine the transport calls.
type Engine interface {
	Register(ctx context.Context, tx dbx.DBTX, email, username, password string) (*models.Identity, error)
	Login(ctx context.Context, tx dbx.DBTX, username, password string) (*models.TokenPair, error)
	ResolveIdentity(ctx context.Context, tx dbx.DBTX, accessToken string) (*models.Identity, error)
	Refresh(ctx context.Context, tx dbx.DBTX, refreshToken string) (string, error)
	FederatedLogin(ctx context.Context, tx dbx.DBTX, assertion models.FederatedAssertion) (*models.TokenPair, error)
}

// FederatedProvider runs the external sign-in.
type FederatedProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*models.FederatedAssertion, error)
}

// StateStore issues single-use OAuth state values.
type StateStore interface {
	Issue() (string, error)
	Consume(state string) bool
}

type GRPCServer struct {
	address  string
	engine   Engine
	runner   dbx.Runner
	provider FederatedProvider
	states   StateStore
	metrics  *observability.Metrics
	logger   logging.Logger
}

// NewGRPCServer wires the engine and the unit-of-work runner each call
// executes in.
func NewGRPCServer(a string, l logging.Logger, engine Engine, runner dbx.Runner) *GRPCServer {
	return &GRPCServer{
		address: a,
		logger:  l.With("module", "grpc_server"),
		engine:  engine,
		runner:  runner,
	}
}

// WithFederation enables FederatedLoginURL and FederatedCallback.
func (s *GRPCServer) WithFederation(p FederatedProvider, states StateStore) *GRPCServer {
	s.provider = p
	s.states = states
	return s
}

// WithMetrics records request durations.
func (s *GRPCServer) WithMetrics(m *observability.Metrics) *GRPCServer {
	s.metrics = m
	return s
}

func (s *GRPCServer) newServer() (*grpc.Server, *health.Server) {
	interceptors := []grpc.UnaryServerInterceptor{}
	if s.metrics != nil {
		interceptors = append(interceptors, s.metricsInterceptor)
	}
	interceptors = append(interceptors, s.accessTokenInterceptor)

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	srv.RegisterService(&AuthServiceDesc, s)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return srv, hs
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv, hs := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gPRC server...")
		hs.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
