// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidHostKey = errors.New("invalid host key")
	ErrInvalidToken   = errors.New("invalid token format")
)

// GenerateID creates a random hex ID of the specified byte length
func GenerateID(byteLen int) (string, error) {
	b := make([]byte, byteLen)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func mac(value, salt string) []byte {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(value))
	return h.Sum(nil)
}

// GenerateHostKey creates the HMAC-based key that lets a chat's host manage it.
// Deterministic, so it never needs to be stored.
func GenerateHostKey(chatID, salt string) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(mac(chatID, salt)), "=")
}

// ValidateHostKey checks if the provided host key is valid for the chat
func ValidateHostKey(chatID, hostKey, salt string) error {
	expected := GenerateHostKey(chatID, salt)
	if !hmac.Equal([]byte(hostKey), []byte(expected)) {
		return ErrInvalidHostKey
	}
	return nil
}

// GenerateParticipantToken creates a random secret identifying one
// participant in one chat
func GenerateParticipantToken() (string, error) {
	b := make([]byte, 24) // 192 bits
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to generate participant token: %w", err)
	}
	return strings.TrimRight(base64.URLEncoding.EncodeToString(b), "="), nil
}

// HashToken is the at-rest form of a participant token. Only the hash is
// stored; requests are matched by hashing the presented token.
func HashToken(token, salt string) (string, error) {
	if token == "" || strings.ContainsAny(token, " \t\r\n") {
		return "", ErrInvalidToken
	}
	return hex.EncodeToString(mac(token, salt)), nil
}

// GenerateInviteCode creates the short code people use to join a chat.
// Base62 so it survives being typed or pasted into a URL.
func GenerateInviteCode(chatID, salt string) string {
	return base62Encode(mac(chatID, salt)[:8])
}

// base62Encode converts up to 8 bytes to base62 (0-9, a-z, A-Z)
func base62Encode(data []byte) string {
	const base62Chars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

	var num uint64
	for i := 0; i < len(data) && i < 8; i++ {
		num = num<<8 | uint64(data[i])
	}

	if num == 0 {
		return "0"
	}

	result := make([]byte, 0, 11) // max length for uint64
	for num > 0 {
		result = append(result, base62Chars[num%62])
		num /= 62
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}

	return string(result)
}
