// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package adaptive sizes phase durations from how the previous occurrence of
the same phase ended.

A phase that auto-advanced before its deadline shrinks the next window by
AdjustmentPercent of the current value. A phase that ran to its deadline
grows it by the same step. Results are whole seconds clamped to the chat's
[MinSeconds, MaxSeconds] bounds. A zero minimum is allowed; no window is
ever shorter than one second.

# Disabled Settings

When adaptive durations are off, or the settings are malformed (non-positive
percent, negative minimum, min above max), Next returns the nominal duration
unchanged.
*/
package adaptive
