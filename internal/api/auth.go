package api

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"liftbook/internal/config"
)

// Client permissions. A key with no permissions listed may call everything.
const (
	PermReadBookings  = "read:bookings"
	PermWriteBookings = "write:bookings"
	PermWritePayments = "write:payments"
	PermReadFleet     = "read:fleet"
	PermReadReports   = "read:reports"
	PermAdminOutbox   = "admin:outbox"
)

var (
	errMissingAPIKey     = errors.New("missing api key headers")
	errInvalidAPIKey     = errors.New("invalid api key")
	errInvalidExtra      = errors.New("invalid extra header")
	errPermissionDenied  = errors.New("permission denied")
	errRateLimitExceeded = errors.New("rate limit exceeded")
)

// HTTPAuth authenticates calling applications by API key and applies
// per-client rate limits. The acting user is resolved separately from the
// bearer token.
type HTTPAuth struct {
	cfg         config.APIConfig
	clients     map[string]config.APIClientKey
	limiter     *rateLimiter
	apiKeyName  string
	extraHeader string
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}

	apiKeyHeader := strings.TrimSpace(cfg.Auth.HeaderAPIKey)
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	extraHeader := strings.TrimSpace(cfg.Auth.HeaderExtra)
	if extraHeader == "" {
		extraHeader = "X-API-Extra"
	}

	return &HTTPAuth{
		cfg:         cfg,
		clients:     m,
		limiter:     newRateLimiter(cfg.RateLimit),
		apiKeyName:  apiKeyHeader,
		extraHeader: extraHeader,
	}
}

// Require rejects requests from clients lacking permission before next runs.
func (a *HTTPAuth) Require(permission string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r, permission); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errRateLimitExceeded.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) checkAuth(r *http.Request, permission string) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.apiKeyName))
	extra := strings.TrimSpace(r.Header.Get(a.extraHeader))
	if apiKey == "" || extra == "" {
		return errMissingAPIKey
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return errInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return errInvalidExtra
	}

	return checkPermissions(client, permission)
}

func checkPermissions(client config.APIClientKey, required string) error {
	if required == "" || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.apiKeyName)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}
