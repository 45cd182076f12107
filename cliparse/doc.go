// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Configuration

ParseFlags returns a Config struct with all settings:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

Commands that own their flag set register the flags and load afterwards:

	cliparse.RegisterFlags(cmd.Flags())
	cfg, err := cliparse.Load(cmd.Flags())

# CLI Flags and Environment Variables

	-p, --port            PORT                       (default 3318)
	-d, --database-url    DATABASE_URL               (required)
	-t, --database-type   DATABASE_TYPE              sqlite or postgres
	--host-salt           HOST_KEY_SALT              (required by serve)
	--invite-salt         INVITE_SALT                (required by serve)
	--cron-secret         CRON_SECRET
	--service-secret      SERVICE_ROLE_SECRET
	--sweep-interval      SWEEP_INTERVAL             0 disables
	--sweep-workers       SWEEP_WORKERS              (default 8)
	--sweep-timeout       SWEEP_TIMEOUT              (default 50s)
	--chat-timeout        CHAT_TIMEOUT               (default 10s)
	--align-minute        ALIGN_DEADLINES_TO_MINUTE  (default true)
	--log-level           LOG_LEVEL
	--log-format          LOG_FORMAT
	-c, --config          config file

CLI flags take precedence over environment variables, which take precedence
over the config file. A .env file in the working directory is loaded into
the environment first without overriding variables that are already set.

# Validation

Load fails on a missing database URL, an unknown database type or a port
out of range. Scheduler tuning that makes no sense (zero workers, negative
timeouts) falls back to the defaults. RequireSecrets additionally checks
the two salts the HTTP server needs.
*/
package cliparse
