// Package grpctransport rejects gRPC calls that do not carry the session
// cookie in their metadata.
package grpctransport

import (
	"context"
	"net/http"
	"strings"

	"github.com/porthorian/dashauth/pkg/credential"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const cookieMetadataKey = "cookie"

type Config struct {
	CookieName string
	// SkipMethods lists full method names served without a session, such as
	// health checks.
	SkipMethods []string
}

func UnaryInterceptor(config Config) grpc.UnaryServerInterceptor {
	skip := skipSet(config.SkipMethods)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := skip[info.FullMethod]; !ok {
			if err := requireSession(ctx, config.CookieName); err != nil {
				return nil, err
			}
		}
		return handler(ctx, req)
	}
}

func StreamInterceptor(config Config) grpc.StreamServerInterceptor {
	skip := skipSet(config.SkipMethods)
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if _, ok := skip[info.FullMethod]; !ok {
			if err := requireSession(stream.Context(), config.CookieName); err != nil {
				return err
			}
		}
		return handler(srv, stream)
	}
}

// SessionPresent reports whether the incoming metadata carries the session
// cookie.
func SessionPresent(ctx context.Context, cookieName string) bool {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return false
	}

	header := http.Header{}
	for _, value := range md.Get(cookieMetadataKey) {
		header.Add("Cookie", value)
	}
	if len(header) == 0 {
		return false
	}
	return credential.CookiePresent(&http.Request{Header: header}, cookieName)
}

func requireSession(ctx context.Context, cookieName string) error {
	if SessionPresent(ctx, cookieName) {
		return nil
	}
	return status.Error(codes.Unauthenticated, "session required")
}

func skipSet(methods []string) map[string]struct{} {
	set := make(map[string]struct{}, len(methods))
	for _, method := range methods {
		if method = strings.TrimSpace(method); method != "" {
			set[method] = struct{}{}
		}
	}
	return set
}
