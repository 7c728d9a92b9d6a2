// Package scheduler implements admission control for backend probes.
//
// A Controller runs at most MaxConcurrent checks at once. Checks submitted while
// the controller is at capacity wait in a FIFO queue and are admitted as slots
// free up. Slots are released a short delay after a check settles, so a burst of
// completions does not immediately admit a burst of queued checks.
//
// Queued checks older than QueueTimeout are discarded on the next drain and
// their callers receive ErrQueueTimeout. Statistics reset lazily: the first
// ScheduleCheck after ResetInterval clears counters and bookkeeping without
// cancelling checks that are already running.
package scheduler
