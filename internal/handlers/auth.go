package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/taskforge/apiserver/internal/services"
)

// RequireAuth enforces bearer-token authentication. The token must carry a
// valid signature AND still be present in its user's live token set; on
// success the resolved user and the raw token string are bound to the
// request context. Every failure mode produces the same 401 so callers
// cannot probe which check rejected them.
func RequireAuth(tokens *services.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "please authenticate")
				return
			}

			user, err := tokens.Verify(r.Context(), tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "please authenticate")
				return
			}

			ctx := context.WithValue(r.Context(), contextUserKey, user)
			ctx = context.WithValue(ctx, contextTokenKey, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
