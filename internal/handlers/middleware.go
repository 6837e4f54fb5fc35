package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"campus-utilities/pkg/logging"
	"campus-utilities/pkg/metrics"
)

// Authenticator verifies HS256 bearer session tokens. The token subject is
// the session user id. With an empty secret every request passes through
// without a user.
type Authenticator struct {
	secret  []byte
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewAuthenticator creates an authenticator for secret
func NewAuthenticator(secret string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Authenticator {
	return &Authenticator{
		secret:  []byte(secret),
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Enabled reports whether tokens are required
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// RequestID tags the request context with the X-Request-ID header, or a
// fresh id, and echoes it back.
func (a *Authenticator) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithRequestID(r.Context(), r.Header.Get("X-Request-ID"))
		w.Header().Set("X-Request-ID", logging.RequestIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Middleware rejects requests without a valid token and stores the subject
// on the context. Websocket clients may pass the token as ?token=.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		raw := bearerToken(r)
		if raw == "" {
			a.reject(w, r, errors.New("missing authorization header"))
			return
		}

		subject, err := a.Verify(raw)
		if err != nil {
			a.reject(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(logging.WithUserID(r.Context(), subject)))
	})
}

// Verify checks the signature and expiry of a token and returns its subject
func (a *Authenticator) Verify(raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", errors.New("invalid token: no subject")
	}
	return subject, nil
}

// Issue signs a session token for userID. Used by tooling and tests; the
// production session is issued by the identity provider.
func (a *Authenticator) Issue(userID string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = userID
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Warn(r.Context(), "[AUTH_REJECTED] Request rejected", logging.Fields{
		"path":  r.URL.Path,
		"error": err.Error(),
	})
	a.metrics.RecordAPIError("unauthorized", endpoint(r))
	a.metrics.RecordAPIRequest(endpoint(r), r.Method, "401")

	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(http.StatusUnauthorized),
		Message: err.Error(),
		Code:    http.StatusUnauthorized,
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return r.URL.Query().Get("token")
}
