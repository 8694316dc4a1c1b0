// Package configlink issues and validates signed, short-lived links to the
// per-community config form.
package configlink

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultTTL    = 15 * time.Minute
	defaultIssuer = "bansync"
	audience      = "guild-config"
)

var (
	ErrInvalidLink = errors.New("invalid config link")
	ErrExpiredLink = errors.New("config link has expired")
)

// Claims bind a link to one community and the operator who requested it.
type Claims struct {
	CommunityID string `json:"community_id"`
	ActorID     string `json:"actor_id"`
	jwt.RegisteredClaims
}

// Signer signs config links with HMAC-SHA256.
type Signer struct {
	signingKey []byte
	issuer     string
	baseURL    string
	ttl        time.Duration
	clock      clockwork.Clock
}

type Option func(*Signer)

func WithTTL(d time.Duration) Option {
	return func(s *Signer) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Signer) {
		s.clock = c
	}
}

func WithIssuer(issuer string) Option {
	return func(s *Signer) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

// NewSigner creates a Signer whose links point under baseURL.
func NewSigner(signingKey, baseURL string, opts ...Option) (*Signer, error) {
	if len(signingKey) < 16 {
		return nil, errors.New("signing key must be at least 16 bytes")
	}
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	s := &Signer{
		signingKey: []byte(signingKey),
		issuer:     defaultIssuer,
		baseURL:    strings.TrimRight(baseURL, "/"),
		ttl:        DefaultTTL,
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for communityID.
func (s *Signer) Issue(communityID, actorID string) (string, time.Time, error) {
	now := s.clock.Now()
	expires := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		CommunityID: communityID,
		ActorID:     actorID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{audience},
			Subject:   communityID,
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign config link: %w", err)
	}
	return signed, expires, nil
}

// Link returns the config form URL for communityID with a fresh token.
func (s *Signer) Link(communityID, actorID string) (string, time.Time, error) {
	token, expires, err := s.Issue(communityID, actorID)
	if err != nil {
		return "", time.Time{}, err
	}
	u := fmt.Sprintf("%s/config/%s?token=%s", s.baseURL, url.PathEscape(communityID), url.QueryEscape(token))
	return u, expires, nil
}

// Validate parses token and returns its claims.
func (s *Signer) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredLink
		}
		return nil, ErrInvalidLink
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.CommunityID == "" {
		return nil, ErrInvalidLink
	}
	return claims, nil
}
