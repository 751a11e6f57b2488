package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

var errBadCredentials = errors.New("api: incorrect username or password")

// Auth issues and verifies the admin bearer tokens protecting the gateway
// surface. Single administrative principal, HS256 signed.
type Auth struct {
	secret   []byte
	username string
	password string
	ttl      time.Duration
}

// NewAuth creates an Auth from the configured admin credentials.
func NewAuth(secret, username, password string, ttl time.Duration) *Auth {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Auth{
		secret:   []byte(secret),
		username: username,
		password: password,
		ttl:      ttl,
	}
}

// IssueToken validates the credentials and returns a signed token.
func (a *Auth) IssueToken(username, password string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	if !userOK || !passOK {
		return "", errBadCredentials
	}

	claims := jwt.MapClaims{
		"sub": a.username,
		"exp": jwt.NewNumericDate(time.Now().Add(a.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("api: sign token: %w", err)
	}
	return signed, nil
}

// Middleware rejects requests without a valid admin bearer token.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		const prefix = "Bearer "
		if !strings.HasPrefix(raw, prefix) {
			unauthorized(w)
			return
		}

		token, err := jwt.Parse(strings.TrimPrefix(raw, prefix), func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return a.secret, nil
		})
		if err != nil || !token.Valid {
			log.Debug().Err(err).Msg("rejected bearer token")
			unauthorized(w)
			return
		}

		subject, err := token.Claims.GetSubject()
		if err != nil || subject != a.username {
			unauthorized(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
}
