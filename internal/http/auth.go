package http

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

const (
	RoleBuyer     = "buyer"
	RoleDoor      = "door"
	RoleOrganizer = "organizer"
	RoleAdmin     = "admin"
)

// Claims identify the caller. Subject is the buyer id for buyers and the
// staff id otherwise.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// BuyerID parses the subject of a buyer token.
func (c Claims) BuyerID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, errors.Wrap(domain.ErrUnauthorized, "subject is not a buyer id")
	}
	return id, nil
}

type Authenticator struct {
	key []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{key: []byte(secret)}
}

// Issue signs a token; used by tests and the ticketctl CLI.
func (a *Authenticator) Issue(subject, role, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:  role,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
}

func (a *Authenticator) Parse(token string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Claims{}, errors.Wrap(domain.ErrUnauthorized, "invalid bearer token")
	}
	if claims.Subject == "" || claims.Role == "" {
		return Claims{}, errors.Wrap(domain.ErrUnauthorized, "token missing subject or role")
	}
	return claims, nil
}

type claimsKey struct{}

func claimsFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

// Authenticate rejects requests without a valid bearer token. When roles
// are given the token must carry one of them.
func (a *Authenticator) Authenticate(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				writeError(w, r, errors.Wrap(domain.ErrUnauthorized, "missing bearer token"))
				return
			}
			claims, err := a.Parse(strings.TrimSpace(raw))
			if err != nil {
				writeError(w, r, err)
				return
			}
			if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
				writeError(w, r, errors.Wrapf(domain.ErrForbidden, "role %s not allowed", claims.Role))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}
