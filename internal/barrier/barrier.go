// Package barrier implements the single-use N-party startup rendezvous that
// gates transport-dependent pumps. Capture loops must not begin producing
// until the control-plane task has observed the connection reach its
// connected state and joined the rendezvous; otherwise the first seconds of
// media are generated straight into a transport that cannot carry them.
package barrier

import "sync"

// Barrier releases all callers of Wait atomically once the configured number
// of parties has arrived. It is consumed by the release: a later rendezvous
// needs a fresh Barrier.
type Barrier struct {
	mu       sync.Mutex
	parties  int
	arrived  int
	released chan struct{}
}

// New creates a Barrier for the given number of parties. parties < 1 is
// treated as 1 so a degenerate configuration cannot deadlock startup.
func New(parties int) *Barrier {
	if parties < 1 {
		parties = 1
	}
	return &Barrier{
		parties:  parties,
		released: make(chan struct{}),
	}
}

// Wait blocks until all parties have arrived, then returns true for every
// caller. If abort closes first (the session died before the transport came
// up), Wait returns false and the barrier stays unreleased. A nil abort
// channel never aborts.
func (b *Barrier) Wait(abort <-chan struct{}) bool {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.parties {
		close(b.released)
	}
	b.mu.Unlock()

	select {
	case <-b.released:
		return true
	case <-abort:
		// Lost the race against release: a closed released channel still
		// counts as a successful rendezvous.
		select {
		case <-b.released:
			return true
		default:
			return false
		}
	}
}

// Arrived returns how many parties have reached the barrier, for diagnostics.
func (b *Barrier) Arrived() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}
