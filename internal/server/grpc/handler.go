package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/fastauth/internal/common"
	"github.com/dmitrijs2005/fastauth/internal/dbx"
	"github.com/dmitrijs2005/fastauth/internal/server/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func (s *GRPCServer) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {

	s.logger.Info(ctx, "Registration request")

	var identity *models.Identity
	err := s.runner.Within(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		identity, err = s.engine.Register(ctx, tx, field(req, "email"), field(req, "username"), field(req, "password"))
		return err
	})
	if err != nil {
		return nil, s.statusFromError(ctx, err)
	}

	return s.reply(ctx, identitySummary(identity))
}

func (s *GRPCServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {

	var pair *models.TokenPair
	err := s.runner.Within(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		pair, err = s.engine.Login(ctx, tx, field(req, "username"), field(req, "password"))
		return err
	})
	if err != nil {
		return nil, s.statusFromError(ctx, err)
	}

	return s.reply(ctx, tokenPair(pair))
}

func (s *GRPCServer) Me(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {

	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}

	return s.reply(ctx, identitySummary(identity))
}

func (s *GRPCServer) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {

	var accessToken string
	err := s.runner.Within(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		accessToken, err = s.engine.Refresh(ctx, tx, field(req, "refresh_token"))
		return err
	})
	if err != nil {
		return nil, s.statusFromError(ctx, err)
	}

	return s.reply(ctx, map[string]any{
		"access_token": accessToken,
		"token_type":   common.BearerScheme,
	})
}

func (s *GRPCServer) FederatedLoginURL(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {

	if s.provider == nil {
		return nil, status.Error(codes.Unimplemented, "federated login is not configured")
	}

	state, err := s.states.Issue()
	if err != nil {
		return nil, s.statusFromError(ctx, err)
	}

	return s.reply(ctx, map[string]any{
		"url":   s.provider.AuthCodeURL(state),
		"state": state,
	})
}

func (s *GRPCServer) FederatedCallback(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {

	if s.provider == nil {
		return nil, status.Error(codes.Unimplemented, "federated login is not configured")
	}

	if !s.states.Consume(field(req, "state")) {
		s.logger.Warn(ctx, "federated callback with unknown state")
		return nil, s.statusFromError(ctx, common.ErrAuthenticationFailed)
	}

	assertion, err := s.provider.Exchange(ctx, field(req, "code"))
	if err != nil {
		return nil, s.statusFromError(ctx, err)
	}

	var pair *models.TokenPair
	err = s.runner.Within(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		pair, err = s.engine.FederatedLogin(ctx, tx, *assertion)
		return err
	})
	if err != nil {
		return nil, s.statusFromError(ctx, err)
	}

	return s.reply(ctx, tokenPair(pair))
}

// statusFromError maps engine errors onto gRPC codes. The unauthorized
// group shares one message.
func (s *GRPCServer) statusFromError(ctx context.Context, err error) error {
	switch {
	case common.IsUnauthorized(err):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, common.ErrConstraintViolation):
		return status.Error(codes.AlreadyExists, "identity already exists")
	case errors.Is(err, common.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		s.logger.Error(ctx, "request failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}

func (s *GRPCServer) reply(ctx context.Context, v map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(v)
	if err != nil {
		return nil, s.statusFromError(ctx, err)
	}
	return out, nil
}

func field(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func identitySummary(i *models.Identity) map[string]any {
	return map[string]any{
		"id":         i.ID,
		"email":      i.Email,
		"username":   i.Username,
		"created_at": i.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at": i.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func tokenPair(p *models.TokenPair) map[string]any {
	return map[string]any{
		"access_token":  p.AccessToken,
		"refresh_token": p.RefreshToken,
		"token_type":    p.TokenType,
	}
}
