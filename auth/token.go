// Package auth mints the bearer tokens the replay transport authenticates
// with. Tokens are short-lived HS256 JWTs carrying the signed-in user in the
// standard sub claim and the device in a did claim.
// Copyright 2025 Discrapp
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims for single-user device sync.
type Claims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// TokenSource mints and caches tokens, refreshing ahead of expiry. It
// implements replay.TokenProvider.
type TokenSource struct {
	secret   []byte
	userID   string
	deviceID string
	expiry   time.Duration
	now      func() time.Time

	mu        sync.Mutex
	cached    string
	refreshAt time.Time
}

// NewTokenSource creates a token source for the given user and device.
func NewTokenSource(secret, userID, deviceID string, expiry time.Duration) (*TokenSource, error) {
	if secret == "" {
		return nil, fmt.Errorf("secret cannot be empty")
	}
	if userID == "" || deviceID == "" {
		return nil, fmt.Errorf("userID and deviceID must be provided")
	}
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &TokenSource{
		secret:   []byte(secret),
		userID:   userID,
		deviceID: deviceID,
		expiry:   expiry,
		now:      time.Now,
	}, nil
}

// Token returns a valid signed token, minting a fresh one when the cached
// token is within a minute of expiring.
func (s *TokenSource) Token(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != "" && now.Before(s.refreshAt) {
		return s.cached, nil
	}

	claims := &Claims{
		DeviceID: s.deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "discrapp-sync",
			Subject:   s.userID,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	s.cached = token
	s.refreshAt = now.Add(s.expiry - time.Minute)
	return token, nil
}

// Validate parses and verifies a token minted by this source. Used by tests
// and local tooling; production validation happens server-side.
func (s *TokenSource) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.DeviceID == "" {
		return nil, fmt.Errorf("missing did (device ID) in token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub (user ID) in token")
	}
	return claims, nil
}
