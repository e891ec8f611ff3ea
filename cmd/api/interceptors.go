package main

import (
	"context"
	"errors"

	"github.com/PaulBabatuyi/recircle-chat/internal/auth"
	"github.com/PaulBabatuyi/recircle-chat/internal/data"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// methods that don't require authentication
var publicMethods = map[string]bool{
	methodRegister: true,
	methodLogin:    true,
}

// authenticate verifies the bearer token in the incoming metadata and that
// its user still exists, returning ctx with the claims attached.
func (s *Server) authenticate(ctx context.Context) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing metadata")
	}
	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return nil, status.Errorf(codes.Unauthenticated, "missing authorization header")
	}
	token, ok := auth.BearerToken(authHeaders[0])
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "invalid token")
	}

	claims, err := s.auth.VerifyToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, status.Errorf(codes.Unauthenticated, "session expired")
		}
		return nil, status.Errorf(codes.Unauthenticated, "invalid token")
	}

	if _, err := s.users.FindProfile(ctx, claims.UserID); err != nil {
		if errors.Is(err, data.ErrNotFound) || errors.Is(err, data.ErrInvalidID) {
			return nil, status.Errorf(codes.Unauthenticated, "invalid token")
		}
		s.log.Error("grpc.auth.fail", "user_id", claims.UserID, "err", err)
		return nil, status.Errorf(codes.Internal, "internal error")
	}
	return withClaims(ctx, claims), nil
}

// authUnaryInterceptor enforces JWT authentication for every unary method
// except Register and Login.
func (s *Server) authUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		ctx, err := s.authenticate(ctx)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// authStreamInterceptor is the stream equivalent of authUnaryInterceptor.
func (s *Server) authStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if publicMethods[info.FullMethod] {
			return handler(srv, ss)
		}
		ctx, err := s.authenticate(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, authedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// authedServerStream wraps grpc.ServerStream to override Context()
type authedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context (with claims)
func (g authedServerStream) Context() context.Context { return g.ctx }
