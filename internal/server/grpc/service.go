package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "fastauth.v1.AuthService"

// Full method names, as seen by interceptors.
const (
	MethodRegister          = "/" + ServiceName + "/Register"
	MethodLogin             = "/" + ServiceName + "/Login"
	MethodMe                = "/" + ServiceName + "/Me"
	MethodRefresh           = "/" + ServiceName + "/Refresh"
	MethodFederatedLoginURL = "/" + ServiceName + "/FederatedLoginURL"
	MethodFederatedCallback = "/" + ServiceName + "/FederatedCallback"
)

// AuthServiceServer is the server API for the authentication service.
// Requests and responses are google.protobuf.Struct documents.
type AuthServiceServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Me(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FederatedLoginURL(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FederatedCallback(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(AuthServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AuthServiceDesc describes the service for grpc.Server.RegisterService.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unaryHandler(MethodRegister, AuthServiceServer.Register)},
		{MethodName: "Login", Handler: unaryHandler(MethodLogin, AuthServiceServer.Login)},
		{MethodName: "Me", Handler: unaryHandler(MethodMe, AuthServiceServer.Me)},
		{MethodName: "Refresh", Handler: unaryHandler(MethodRefresh, AuthServiceServer.Refresh)},
		{MethodName: "FederatedLoginURL", Handler: unaryHandler(MethodFederatedLoginURL, AuthServiceServer.FederatedLoginURL)},
		{MethodName: "FederatedCallback", Handler: unaryHandler(MethodFederatedCallback, AuthServiceServer.FederatedCallback)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fastauth/v1/auth.proto",
}

// AuthServiceClient is the client API for the authentication service.
type AuthServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthServiceClient(cc grpc.ClientConnInterface) *AuthServiceClient {
	return &AuthServiceClient{cc: cc}
}

func (c *AuthServiceClient) invoke(ctx context.Context, method string, in map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthServiceClient) Register(ctx context.Context, email, username, password string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRegister, map[string]any{"email": email, "username": username, "password": password}, opts...)
}

func (c *AuthServiceClient) Login(ctx context.Context, username, password string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodLogin, map[string]any{"username": username, "password": password}, opts...)
}

// Me sends accessToken as a bearer authorization header.
func (c *AuthServiceClient) Me(ctx context.Context, accessToken string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(WithBearerToken(ctx, accessToken), MethodMe, map[string]any{}, opts...)
}

func (c *AuthServiceClient) Refresh(ctx context.Context, refreshToken string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRefresh, map[string]any{"refresh_token": refreshToken}, opts...)
}

func (c *AuthServiceClient) FederatedLoginURL(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodFederatedLoginURL, map[string]any{}, opts...)
}

func (c *AuthServiceClient) FederatedCallback(ctx context.Context, code, state string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodFederatedCallback, map[string]any{"code": code, "state": state}, opts...)
}
