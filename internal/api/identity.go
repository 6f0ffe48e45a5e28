package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"liftbook/internal/config"
	"liftbook/internal/domain"
	"liftbook/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const defaultIssuer = "liftbook"

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid bearer token")
)

// TokenService signs and verifies the HS256 bearer tokens that identify the
// acting user. Only the subject is trusted; the role always comes from the
// user directory.
type TokenService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewTokenService(cfg config.APIJWTConfig) *TokenService {
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = defaultIssuer
	}
	return &TokenService{secret: []byte(cfg.Secret), issuer: issuer, now: time.Now}
}

// GenerateToken issues a token for userID valid for ttl.
func (s *TokenService) GenerateToken(userID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken returns the user id carried by a valid token.
func (s *TokenService) ValidateToken(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

type actorHandler func(w http.ResponseWriter, r *http.Request, actor models.Actor)

// withActor authenticates the bearer token and hands the resolved actor to next.
func (s *HTTPServer) withActor(next actorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, errMissingToken.Error())
			return
		}

		userID, err := s.tokens.ValidateToken(raw)
		if err != nil {
			requestLogger(r).Debug().Err(err).Msg("bearer token rejected")
			writeError(w, http.StatusUnauthorized, errInvalidToken.Error())
			return
		}

		actor, err := s.users.ResolveActor(r.Context(), userID)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientRole) {
				writeError(w, http.StatusForbidden, "unknown user")
				return
			}
			writeDomainError(w, r, err)
			return
		}

		next(w, r, actor)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
