package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	headerAuthorization = "Authorization"
	headerRequestID     = "X-Request-ID"
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
)

type requestKey struct{}
type bodyBytesKey struct{}
type requestIDKey struct{}

// forwardedHeaders builds the header set for an upstream call from the inbound
// request. Authorization is copied verbatim when present and never inspected;
// when absent the upstream call carries none.
func forwardedHeaders(ctx context.Context) http.Header {
	out := http.Header{}
	req := requestFromContext(ctx)
	if req == nil {
		return out
	}
	if authz := req.Header.Values(headerAuthorization); len(authz) > 0 {
		out[headerAuthorization] = append([]string(nil), authz...)
	}
	if ct := req.Header.Get(headerContentType); ct != "" {
		out.Set(headerContentType, ct)
	}
	if accept := req.Header.Get(headerAccept); accept != "" {
		out.Set(headerAccept, accept)
	}
	if id := requestIDFromContext(ctx); id != "" {
		out.Set(headerRequestID, id)
	}
	return out
}

func requestFromContext(ctx context.Context) *http.Request {
	req, _ := ctx.Value(requestKey{}).(*http.Request)
	return req
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// newRequestIDMiddleware keeps the caller's X-Request-ID or assigns one, and
// echoes it on the response.
func newRequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(headerRequestID, id)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
