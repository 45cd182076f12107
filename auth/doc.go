// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides credential generation and checks.

# Host Keys

Host keys use HMAC-SHA256 to create deterministic, verifiable keys:

	hostKey := auth.GenerateHostKey(chatID, salt)
	err := auth.ValidateHostKey(chatID, hostKey, salt)

The key is never stored. Anyone holding it can manage the chat: release
waiting rounds, open cycles, kick participants.

# Participant Tokens

Tokens are random 24-byte secrets handed out on create and join:

	token, err := auth.GenerateParticipantToken()
	hash, err := auth.HashToken(token, salt)

Only the hash is written to the database.

# Invite Codes

	code := auth.GenerateInviteCode(chatID, salt)

Base62, deterministic from the chat ID and salt.

# Sweep Credentials

POST /process-timers accepts the cron shared secret in X-Cron-Secret, or an
HS256 bearer token whose role claim is service_role:

	err := auth.ValidateSweepRequest(r, cfg.CronSecret, cfg.ServiceSecret)

Both fail closed when their secret is not configured.
*/
package auth
