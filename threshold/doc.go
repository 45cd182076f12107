// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package threshold decides whether participation lets a phase end before its
deadline.

# Required Count

A phase may carry a percent threshold, a count threshold, both, or neither:

	required = MAX(ceil(total * percent / 100), count)

Unset legs count as 0. With neither set, early advance is disabled and
RequiredCount reports ok=false.

# Rating Phase

Participants cannot rate their own propositions, so the rating requirement
is capped at MAX(1, total-1).

# Skips

During proposing a participant may skip. AdvancesWithSkips requires both:

	submitters + skips >= ceil(total * percent / 100)
	submitters         >= MIN(count, total - skips)

RemainingSkips limits skipping so that proposingMinimum participants can
still submit.
*/
package threshold
