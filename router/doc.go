// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the converge API.

	mux := router.NewRouter(db, cfg, eng, sweeper)

Every route except the root is wrapped in middleware.WithLogging.

# Endpoints

Operations:

	GET  /health         - Database, credential and last-sweep checks
	POST /process-timers - Run one sweep (X-Cron-Secret or service bearer token)

Chat management (host, requires X-Host-Key):

	POST /chats                                - Create chat, first cycle and waiting round
	GET  /chats/{id}/admin                     - Settings, invite code and state
	POST /chats/{id}/start                     - Release a waiting round
	POST /chats/{id}/cycles                    - Open the next cycle
	POST /chats/{id}/participants/{pid}/kick   - Remove a participant

Participation (requires X-Participant-Token):

	POST /join/{code}               - Join by invite code (no token needed)
	POST /chats/{id}/leave          - Leave the chat
	POST /chats/{id}/propositions   - Submit a proposition
	POST /chats/{id}/skip           - Skip proposing this round
	POST /chats/{id}/ratings        - Submit or replace ratings

Public:

	GET /chats/{id}         - Current phase, deadline and counts
	GET /chats/{id}/results - Completed rounds and cycle winners
*/
package router
