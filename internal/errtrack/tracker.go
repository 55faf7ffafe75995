// Package errtrack implements the windowed error-rate circuit breaker that
// every stream pump uses to tell transient faults from persistent ones. A
// stream tolerates individual failed attempts as long as the error count
// within a rolling window of attempts stays under a threshold; crossing the
// threshold before the window rolls over is a fatal verdict.
package errtrack

import "fmt"

// Tracker counts attempts and failures for a single stream loop. It is owned
// exclusively by that loop and needs no locking. After RecordFailure returns
// true the tracker must not be used again; a restarted stream gets a fresh one.
type Tracker struct {
	threshold int
	limit     int
	attempts  int
	errors    int
}

// New creates a Tracker that trips once errors reaches threshold within a
// window of limit attempts. Panics unless 0 < threshold <= limit; the pairs
// come from the canonical config table, so a bad pair is a programming error,
// not an operational condition.
func New(threshold, limit int) *Tracker {
	if threshold <= 0 || threshold > limit {
		panic(fmt.Sprintf("errtrack: invalid window %d/%d", threshold, limit))
	}
	return &Tracker{threshold: threshold, limit: limit}
}

// RecordSuccess counts one successful attempt. When the window of limit
// attempts elapses without the breaker tripping, both counters reset so a
// long-healthy stream is not penalized for errors in an earlier window.
func (t *Tracker) RecordSuccess() {
	t.attempts++
	if t.attempts >= t.limit {
		t.attempts = 0
		t.errors = 0
	}
}

// RecordFailure counts one failed attempt and reports whether the stream is
// now considered fatally broken. The check order matters: the threshold is
// evaluated before the window reset, so the failure that crosses the
// threshold trips the breaker even when it is also the limit-th attempt.
func (t *Tracker) RecordFailure() bool {
	t.errors++
	t.attempts++
	if t.errors >= t.threshold {
		return true
	}
	if t.attempts >= t.limit {
		t.attempts = 0
		t.errors = 0
	}
	return false
}

// Counters returns the current attempt and error counts since the last
// window reset, for diagnostics.
func (t *Tracker) Counters() (attempts, errors int) {
	return t.attempts, t.errors
}
