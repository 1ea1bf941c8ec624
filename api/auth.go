/*
auth.go - Bearer token authentication

PURPOSE:
  Turns an Authorization header into the engine.Subject every operation
  needs. Tokens are HS256 JWTs: "sub" is the user id and "role" one of
  SUPER, ADMIN or VENDEDOR. Authorization itself happens in the engine;
  this layer only vouches for who is calling.

SEE ALSO:
  - engine/policy.go: role and ownership rules
  - cmd/ticketctl: mints tokens for operators
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/warp/ticket-engine/engine"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims are the custom JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	Role engine.Role `json:"role"`
	Name string      `json:"name,omitempty"`
}

// Tokens signs and verifies bearer tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token service. A zero ttl means 12 hours.
func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Tokens{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for user.
func (s *Tokens) Issue(user engine.User) (string, error) {
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   string(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Role: user.Role,
		Name: user.Name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses a token and returns the subject it names.
func (s *Tokens) Verify(token string) (engine.Subject, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return engine.Subject{}, ErrExpiredToken
		}
		return engine.Subject{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" || !claims.Role.Valid() {
		return engine.Subject{}, ErrInvalidToken
	}
	return engine.Subject{ID: engine.UserID(claims.Subject), Role: claims.Role}, nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type subjectKey struct{}

// Authenticate rejects requests without a valid bearer token.
func Authenticate(tokens *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Authentication required", ErrMissingToken)
				return
			}
			subj, err := tokens.Verify(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Authentication failed", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subj)))
		})
	}
}

// WithSubject stores the authenticated caller in ctx.
func WithSubject(ctx context.Context, subj engine.Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, subj)
}

// SubjectFromContext returns the caller set by Authenticate.
func SubjectFromContext(ctx context.Context) (engine.Subject, bool) {
	subj, ok := ctx.Value(subjectKey{}).(engine.Subject)
	return subj, ok
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}
