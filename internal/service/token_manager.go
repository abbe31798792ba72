package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/noah-isme/esign-api/internal/models"
	appErrors "github.com/noah-isme/esign-api/pkg/errors"
)

const tokenBytes = 32

// TokenManagerConfig holds signing window lengths.
type TokenManagerConfig struct {
	DefaultTTL          time.Duration
	MaxTTL              time.Duration
	PostSignatureWindow time.Duration
}

// SignerTokenManager issues signer capability tokens and judges their
// validity. It never persists anything.
type SignerTokenManager struct {
	cfg    TokenManagerConfig
	now    func() time.Time
	random io.Reader
}

// NewSignerTokenManager applies window defaults.
func NewSignerTokenManager(cfg TokenManagerConfig) *SignerTokenManager {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 7 * 24 * time.Hour
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = 30 * 24 * time.Hour
	}
	if cfg.DefaultTTL > cfg.MaxTTL {
		cfg.DefaultTTL = cfg.MaxTTL
	}
	if cfg.PostSignatureWindow <= 0 {
		cfg.PostSignatureWindow = 48 * time.Hour
	}
	return &SignerTokenManager{cfg: cfg, now: time.Now, random: rand.Reader}
}

// Issue returns a fresh 64 character hex token and its expiry. A zero ttl
// uses the default window; any ttl is capped at the maximum window.
func (m *SignerTokenManager) Issue(ttl time.Duration) (string, time.Time, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(m.random, buf); err != nil {
		return "", time.Time{}, fmt.Errorf("generate signer token: %w", err)
	}
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	if ttl > m.cfg.MaxTTL {
		ttl = m.cfg.MaxTTL
	}
	return hex.EncodeToString(buf), m.now().Add(ttl), nil
}

// Validate checks that a signer may still sign. A token whose expiry equals
// the current instant is already expired.
func (m *SignerTokenManager) Validate(signer *models.Signer) error {
	if signer == nil {
		return appErrors.ErrInvalidToken
	}
	if m.expired(signer.ExpiresAt) {
		return appErrors.ErrExpiredToken
	}
	if signer.Completed() {
		return appErrors.ErrAlreadyUsed
	}
	return nil
}

// ValidateForDownload checks that a completed signer is still inside the
// post-signature window.
func (m *SignerTokenManager) ValidateForDownload(signer *models.Signer) error {
	if signer == nil {
		return appErrors.ErrInvalidToken
	}
	if !signer.Completed() {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "signer has not signed yet")
	}
	if m.expired(signer.ExpiresAt) {
		return appErrors.ErrExpiredToken
	}
	return nil
}

// ExtendForDownload returns the replacement expiry set on completion.
func (m *SignerTokenManager) ExtendForDownload() time.Time {
	return m.now().Add(m.cfg.PostSignatureWindow)
}

// Now exposes the manager clock so callers share one notion of time.
func (m *SignerTokenManager) Now() time.Time {
	return m.now()
}

func (m *SignerTokenManager) expired(expiresAt time.Time) bool {
	return !m.now().Before(expiresAt)
}
