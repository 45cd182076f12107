// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ServiceRole is the role claim a bearer token needs to trigger a sweep.
const ServiceRole = "service_role"

// CronSecretHeader carries the shared secret of the external trigger.
const CronSecretHeader = "X-Cron-Secret"

var ErrUnauthorized = errors.New("missing or invalid sweep credential")

// ServiceClaims are the claims of a privileged service token.
type ServiceClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SignServiceToken issues an HS256 service-role token valid for ttl.
func SignServiceToken(secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("service secret not configured")
	}
	now := time.Now()
	claims := ServiceClaims{
		Role: ServiceRole,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}
	return signed, nil
}

// ValidateServiceToken checks signature, expiry and role.
func ValidateServiceToken(tok, secret string) error {
	if secret == "" || tok == "" {
		return ErrUnauthorized
	}
	parsed, err := jwt.ParseWithClaims(tok, &ServiceClaims{}, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*ServiceClaims)
	if !ok || !parsed.Valid || claims.Role != ServiceRole {
		return ErrUnauthorized
	}
	return nil
}

// ValidateSweepRequest accepts either the cron shared secret or a
// service-role bearer token. An unconfigured credential never matches.
func ValidateSweepRequest(r *http.Request, cronSecret, serviceSecret string) error {
	if cronSecret != "" {
		if got := r.Header.Get(CronSecretHeader); got != "" && hmac.Equal([]byte(got), []byte(cronSecret)) {
			return nil
		}
	}

	h := r.Header.Get("Authorization")
	if serviceSecret != "" && strings.HasPrefix(h, "Bearer ") {
		tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		return ValidateServiceToken(tok, serviceSecret)
	}
	return ErrUnauthorized
}
