package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bansync/internal/configlink"
)

// LinkValidator validates signed config links. *configlink.Signer satisfies it.
type LinkValidator interface {
	Validate(token string) (*configlink.Claims, error)
}

// LinkRejected is told about refused links, typically to audit them.
type LinkRejected func(ctx context.Context, communityID, reason string)

type contextKeyActorID struct{}
type contextKeyCommunityID struct{}

var (
	ContextKeyActorID     = contextKeyActorID{}
	ContextKeyCommunityID = contextKeyCommunityID{}
)

const (
	tokenParam = "token"
	// CookieName holds the link token after the first visit so the form post
	// does not need it in the URL.
	CookieName = "bansync_config"
)

// GetActorID retrieves the operator who requested the link
func GetActorID(ctx context.Context) string {
	id, ok := ctx.Value(ContextKeyActorID).(string)
	if !ok {
		return ""
	}
	return id
}

// GetCommunityID retrieves the community the link was issued for
func GetCommunityID(ctx context.Context) string {
	id, ok := ctx.Value(ContextKeyCommunityID).(string)
	if !ok {
		return ""
	}
	return id
}

// RequireConfigLink admits requests carrying a valid link token for the
// community named by the communityParam route parameter.
func RequireConfigLink(validator LinkValidator, communityParam string, rejected LinkRejected, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			communityID := chi.URLParam(r, communityParam)

			token := r.URL.Query().Get(tokenParam)
			fromQuery := token != ""
			if !fromQuery {
				if c, err := r.Cookie(CookieName); err == nil {
					token = c.Value
				}
			}
			if token == "" {
				deny(ctx, w, logger, rejected, communityID, "missing token")
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				deny(ctx, w, logger, rejected, communityID, err.Error())
				return
			}
			if claims.CommunityID != communityID {
				deny(ctx, w, logger, rejected, communityID, "token issued for another community")
				return
			}

			if fromQuery {
				http.SetCookie(w, &http.Cookie{
					Name:     CookieName,
					Value:    token,
					Path:     "/config/" + communityID,
					HttpOnly: true,
					Secure:   r.TLS != nil,
					SameSite: http.SameSiteStrictMode,
					Expires:  claims.ExpiresAt.Time,
				})
			}

			ctx = context.WithValue(ctx, ContextKeyActorID, claims.ActorID)
			ctx = context.WithValue(ctx, ContextKeyCommunityID, claims.CommunityID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func deny(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, rejected LinkRejected, communityID, reason string) {
	logger.WarnContext(ctx, "config link rejected",
		"community_id", communityID,
		"reason", reason,
		"request_id", GetRequestID(ctx),
	)
	if rejected != nil {
		rejected(ctx, communityID, reason)
	}
	http.Error(w, "This config link is invalid or has expired. Request a new one with /config.", http.StatusUnauthorized)
}
