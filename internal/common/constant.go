package common

// AuthorizationHeaderName is the gRPC metadata key that carries the bearer
// access token on inbound requests.
const AuthorizationHeaderName = "authorization"

// BearerScheme is the token type reported alongside issued token pairs and
// the scheme prefix expected in the authorization header.
const BearerScheme = "bearer"
