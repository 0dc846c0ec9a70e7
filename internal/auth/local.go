package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/oriade/ragserve/internal/domain"
)

// LocalVerifier issues and verifies self-signed HS256 tokens against a
// static user table (username -> bcrypt hash).
type LocalVerifier struct {
	secret   []byte
	tokenTTL time.Duration
	users    map[string]string
	now      func() time.Time
	logger   *zap.Logger
}

// NewLocalVerifier creates a local-token verifier.
func NewLocalVerifier(secret string, tokenTTL time.Duration, users map[string]string, logger *zap.Logger) *LocalVerifier {
	return &LocalVerifier{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		now:      time.Now,
		logger:   logger,
	}
}

// Login checks the password against the user table and signs a token
// carrying the subject and an expiry.
func (v *LocalVerifier) Login(username, password string) (string, error) {
	hash, ok := v.users[username]
	if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", domain.ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": username,
		"exp": jwt.NewNumericDate(v.now().Add(v.tokenTTL)),
	})
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify implements Verifier. Signature, expiry, or unknown-subject failures
// all collapse to ErrInvalidCredentials.
func (v *LocalVerifier) Verify(_ context.Context, credential string) (Claims, error) {
	if credential == "" {
		return Claims{}, domain.ErrInvalidCredentials
	}

	token, err := jwt.Parse(credential, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		v.logger.Debug("token rejected", zap.Error(err))
		return Claims{}, domain.ErrInvalidCredentials
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, domain.ErrInvalidCredentials
	}
	if _, ok := v.users[sub]; !ok {
		v.logger.Debug("token subject unknown", zap.String("subject", sub))
		return Claims{}, domain.ErrInvalidCredentials
	}

	return Claims{Subject: sub}, nil
}

// HashPassword produces a bcrypt hash for the user table.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
