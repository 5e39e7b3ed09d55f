package grpc

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/fastauth/internal/common"
	"github.com/dmitrijs2005/fastauth/internal/dbx"
	"github.com/dmitrijs2005/fastauth/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const identityKey ctxKey = "identity"

// protectedMethods require a bearer access token.
var protectedMethods = map[string]bool{
	MethodMe: true,
}

// IdentityFromContext returns the identity resolved by the access token
// interceptor.
func IdentityFromContext(ctx context.Context) (*models.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*models.Identity)
	return identity, ok
}

// WithBearerToken attaches token to outgoing metadata.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, common.AuthorizationHeaderName, "Bearer "+token)
}

func bearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(common.AuthorizationHeaderName)
	if len(values) == 0 {
		return ""
	}
	scheme, token, found := strings.Cut(values[0], " ")
	if !found || !strings.EqualFold(scheme, common.BearerScheme) {
		return ""
	}
	return strings.TrimSpace(token)
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	if protectedMethods[info.FullMethod] {

		accessToken := bearerToken(ctx)
		if len(accessToken) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing token")
		}

		var identity *models.Identity
		err := s.runner.Within(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			var err error
			identity, err = s.engine.ResolveIdentity(ctx, tx, accessToken)
			return err
		})
		if err != nil {
			return nil, s.statusFromError(ctx, err)
		}

		ctx = context.WithValue(ctx, identityKey, identity)

	}

	return handler(ctx, req)
}

func (s *GRPCServer) metricsInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.metrics.GRPCRequestDuration.
		WithLabelValues(info.FullMethod, status.Code(err).String()).
		Observe(time.Since(start).Seconds())
	return resp, err
}
