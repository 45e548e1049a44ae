package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goSession "github.com/MrEthical07/goSession"
)

const (
	// AntiCSRFHeader carries the anti-CSRF token issued with the session.
	AntiCSRFHeader = "anti-csrf"
	// NewAccessTokenHeader carries a replacement access token the client must
	// store in place of the one it sent.
	NewAccessTokenHeader = "New-Access-Token"
)

type sessionContextKey struct{}

// SessionFromContext returns the session verified by [Guard].
func SessionFromContext(ctx context.Context) (*goSession.SessionResult, bool) {
	res, ok := ctx.Value(sessionContextKey{}).(*goSession.SessionResult)
	return res, ok
}

// Guard rejects requests without a valid access token. A token that should be
// refreshed gets 401 with "WWW-Authenticate: try-refresh"; a revoked or
// expired session gets a plain 401.
func Guard(engine *goSession.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			check := goSession.AntiCSRFNone()
			if v := r.Header.Get(AntiCSRFHeader); v != "" {
				check = goSession.AntiCSRFToken(v)
			}

			res, err := engine.GetSession(r.Context(), token, check)
			if err != nil {
				writeError(w, err)
				return
			}
			if res.NewAccessToken != nil {
				w.Header().Set(NewAccessTokenHeader, res.NewAccessToken.Token)
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, goSession.ErrTryRefresh):
		w.Header().Set("WWW-Authenticate", "try-refresh")
		http.Error(w, "try refresh token", http.StatusUnauthorized)
	case errors.Is(err, goSession.ErrUnauthorized):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
