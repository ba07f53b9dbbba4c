package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ksred/tradejournal-api/pkg/response"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
	ErrInvalidToken       = errors.New("invalid session token")
)

// Credentials represents the API authentication credentials
type Credentials struct {
	APIKey    string `json:"api_key" binding:"required"`
	APISecret string `json:"api_secret" binding:"required"`
}

// TokenResponse represents the session token response
type TokenResponse struct {
	Token      string    `json:"token"`
	UserID     string    `json:"user_id"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the session claims structure
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

type credential struct {
	secretHash []byte
	userID     string
}

// Service issues and validates user session tokens. Identity itself lives
// outside this service; credentials are registered by whoever owns it.
type Service struct {
	jwtSecret []byte
	ttl       time.Duration

	mu          sync.RWMutex
	credentials map[string]credential // map[APIKey]credential
}

// NewService creates a new authentication service with the given signing secret and token lifetime
func NewService(jwtSecret string, ttl time.Duration) *Service {
	return &Service{
		jwtSecret:   []byte(jwtSecret),
		ttl:         ttl,
		credentials: make(map[string]credential),
	}
}

// RegisterAPICredentials maps an API key pair onto a user. Only a bcrypt
// hash of the secret is kept.
func (s *Service) RegisterAPICredentials(apiKey, apiSecret, userID string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiSecret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[apiKey] = credential{secretHash: hash, userID: userID}
	return nil
}

// GenerateToken exchanges valid API credentials for a session token
func (s *Service) GenerateToken(creds Credentials) (*TokenResponse, error) {
	s.mu.RLock()
	cred, ok := s.credentials[creds.APIKey]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(cred.secretHash, []byte(creds.APISecret)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.IssueToken(cred.userID)
}

// IssueToken signs a session token for userID
func (s *Service) IssueToken(userID string) (*TokenResponse, error) {
	now := time.Now()
	expiration := now.Add(s.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		UserID:     userID,
		Expiration: expiration,
	}, nil
}

// ValidateToken verifies signature and expiry and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateTokenHandler handles POST requests to generate session tokens
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(creds)
		if errors.Is(err, ErrInvalidCredentials) {
			log.Warn().Str("api_key", creds.APIKey).Msg("rejected token request")
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}
