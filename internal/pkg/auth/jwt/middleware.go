package jwt

import (
	"context"
	"net/http"
	"strings"

	"pxplace/internal/pkg/errs"
	"pxplace/internal/pkg/logx"
	"pxplace/internal/pkg/resp"
)

type contextKey string

const (
	// ContextAuthPayloadKey stores the verified *Payload in the request context.
	ContextAuthPayloadKey contextKey = "auth_payload"

	// QueryTokenKey is the query parameter browsers use on the websocket URL,
	// where custom headers cannot be set.
	QueryTokenKey = "token"
)

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}

	return r.URL.Query().Get(QueryTokenKey)
}

// RequireIdentity rejects requests without a valid token and injects the payload otherwise.
func RequireIdentity(secretKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := TokenFromRequest(r)
			if tokenString == "" {
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}

			payload, err := ParseToken(tokenString, secretKey)
			if err != nil {
				logx.Warn("Rejected request with invalid identity token", "error", err.Error())
				resp.RespondError(w, r, errs.NewError(errs.ErrTokenInvalid))
				return
			}

			ctx := context.WithValue(r.Context(), ContextAuthPayloadKey, payload)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPayloadFromContext returns the payload injected by RequireIdentity, or nil.
func GetPayloadFromContext(r *http.Request) *Payload {
	payload, ok := r.Context().Value(ContextAuthPayloadKey).(*Payload)

	if !ok {
		return nil
	}

	return payload
}
