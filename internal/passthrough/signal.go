package passthrough

import "context"

// Signal is a binary semaphore: any number of Give calls leave at most one pending release.
type Signal struct {
	ch chan struct{}
}

// NewSignal creates a signal with no pending release.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Give releases the signal. It never blocks.
func (s *Signal) Give() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Take blocks until the signal is released or ctx is done.
func (s *Signal) Take(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
