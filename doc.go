// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the converge API server.

converge runs group chats through rounds of proposing and rating. Each
round produces winners, the winners are carried into the next round, and a
cycle ends once the same proposition wins enough consecutive rounds.

# Commands

	converge serve  - HTTP API, optionally with an in-process sweep loop
	converge sweep  - One scheduler sweep; prints the JSON report
	converge schema - Create tables and exit

Examples:

	DATABASE_URL=converge.db HOST_KEY_SALT=... INVITE_SALT=... converge serve
	converge serve -t postgres -d "postgres://..." --sweep-interval 1m
	converge sweep -d converge.db

# Configuration

Settings come from flags, then environment (including a .env file), then an
optional config file (-c). Required for serve:

  - DATABASE_URL (-d): SQLite path or PostgreSQL connection string
  - DATABASE_TYPE (-t): sqlite (default) or postgres
  - HOST_KEY_SALT (--host-salt): secret for host keys and token hashes
  - INVITE_SALT (--invite-salt): secret for invite codes

Sweep trigger credentials (at least one is needed for POST /process-timers):

  - CRON_SECRET (--cron-secret): shared secret sent as X-Cron-Secret
  - SERVICE_ROLE_SECRET (--service-secret): HS256 key for bearer tokens

# Architecture

  - threshold, adaptive, consensus: pure round arithmetic
  - engine: the round and phase state machine
  - scoring: default winner computation
  - store: SQL persistence behind the engine's ports
  - scheduler: bounded concurrent sweeps over every chat
  - handlers, router, middleware: the HTTP surface
  - auth, cliparse, db, models: credentials, configuration, schema, types

See package documentation for each component.
*/
package main
