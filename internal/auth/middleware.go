package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware authenticates bearer tokens and enforces the policy.
type Middleware struct {
	verifier *Verifier
	policy   Policy
	logger   *zap.Logger
}

// NewMiddleware constructs an auth middleware. A nil logger disables denial logs.
func NewMiddleware(verifier *Verifier, policy Policy, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{verifier: verifier, policy: policy, logger: logger}
}

// Wrap applies the middleware to next. A nil middleware passes requests through.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil || m.verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		required, protected := m.policy.Required(r)
		if !protected {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.verifier.Parse(bearerToken(r))
		if err != nil {
			m.logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.Error(err))
			deny(w, http.StatusUnauthorized)
			return
		}
		role := Role(claims.Role)
		if !role.Allows(required) {
			m.logger.Debug("request forbidden",
				zap.String("path", r.URL.Path),
				zap.String("subject", claims.Subject),
				zap.String("role", claims.Role),
				zap.String("required", string(required)),
			)
			deny(w, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), role, claims.Subject)))
	})
}

func deny(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": strings.ToLower(http.StatusText(status))})
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
