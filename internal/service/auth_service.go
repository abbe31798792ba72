package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/esign-api/internal/models"
	appErrors "github.com/noah-isme/esign-api/pkg/errors"
)

// AuthConfig defines how staff bearer tokens are verified.
type AuthConfig struct {
	AccessTokenSecret string
	Issuer            string
}

// StaffAuthService verifies staff access tokens minted by the
// practice-management backend. This service never issues production tokens.
type StaffAuthService struct {
	logger *zap.Logger
	config AuthConfig
}

// NewStaffAuthService constructs a StaffAuthService instance.
func NewStaffAuthService(logger *zap.Logger, config AuthConfig) *StaffAuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaffAuthService{logger: logger, config: config}
}

// ValidateToken parses and validates an HS256 access token.
func (s *StaffAuthService) ValidateToken(tokenString string) (*models.StaffClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.StaffClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	}, opts...)
	if err != nil {
		s.logger.Debug("rejected staff token", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.StaffClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token has no subject")
	}
	return claims, nil
}

// SignToken mints a token with the configured secret. Used by local tooling
// and tests.
func (s *StaffAuthService) SignToken(userID, email, fullName string, ttl time.Duration) (string, error) {
	issuedAt := time.Now().UTC()
	claims := &models.StaffClaims{
		UserID:   userID,
		Email:    email,
		FullName: fullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.AccessTokenSecret))
}
