package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/esign-api/internal/models"
	appErrors "github.com/noah-isme/esign-api/pkg/errors"
)

func TestStaffAuthValidateToken(t *testing.T) {
	svc := NewStaffAuthService(zap.NewNop(), AuthConfig{AccessTokenSecret: "secret", Issuer: "office"})
	token, err := svc.SignToken("user-1", "ana@example.com", "Ana", time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "ana@example.com", claims.Email)
}

func TestStaffAuthRejectsWrongSecretAndIssuer(t *testing.T) {
	signer := NewStaffAuthService(nil, AuthConfig{AccessTokenSecret: "other", Issuer: "office"})
	token, err := signer.SignToken("user-1", "", "", time.Hour)
	require.NoError(t, err)

	svc := NewStaffAuthService(nil, AuthConfig{AccessTokenSecret: "secret", Issuer: "office"})
	_, err = svc.ValidateToken(token)
	require.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))

	foreign := NewStaffAuthService(nil, AuthConfig{AccessTokenSecret: "secret", Issuer: "elsewhere"})
	token, err = foreign.SignToken("user-1", "", "", time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	require.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestStaffAuthRejectsExpiredToken(t *testing.T) {
	svc := NewStaffAuthService(nil, AuthConfig{AccessTokenSecret: "secret"})
	token, err := svc.SignToken("user-1", "", "", -time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	require.Error(t, err)
}

func TestStaffAuthFallsBackToSubject(t *testing.T) {
	claims := &models.StaffClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-9",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	svc := NewStaffAuthService(nil, AuthConfig{AccessTokenSecret: "secret"})
	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-9", got.UserID)
}
