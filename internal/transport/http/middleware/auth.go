package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fraruiz/pgmb/internal/transport/http/response"
)

type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// AuthMiddleware guards the broker API with an HS256 bearer token. The broker
// has no user model; any token signed with the shared secret (and matching
// the issuer when one is configured) is accepted.
type AuthMiddleware struct {
	secret []byte
	issuer string
}

func NewAuth(secret, issuer string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret), issuer: issuer}
}

func (a *AuthMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.parse(r); err != nil {
			response.Fail(
				w,
				http.StatusUnauthorized,
				"unauthorized",
				"unauthorized",
				map[string]string{"reason": err.Error()},
				response.RequestIDFromRequest(r),
			)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *AuthMiddleware) parse(r *http.Request) error {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(h, "Bearer ") {
		return errors.New("missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil {
		return err
	}
	if !tok.Valid {
		return errors.New("invalid token")
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return errors.New("invalid issuer")
	}
	return nil
}
