// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package scheduler drives the round engine across all chats.

A sweep lists every chat whose open cycle has a current round and ticks each
one on a bounded worker pool:

	sweeper := scheduler.New(store, eng, store, scheduler.Config{
		Workers:      8,
		SweepTimeout: 50 * time.Second,
		ChatTimeout:  10 * time.Second,
	})
	report := sweeper.Sweep(ctx)

Each chat runs under its own deadline and recovers its own panics, so one
broken chat shows up in report.Errors and the rest of the sweep continues.
Chats the sweep could not reach before its deadline are reported as errors
too.

Sweeps are safe to overlap. The engine's conditional writes decide which of
two concurrent ticks gets to move a round.

Run repeats Sweep on a fixed interval for deployments without an external
cron trigger.
*/
package scheduler
