package status

import "sync"

// Holder owns the single live status record shared by the read and write workers.
type Holder struct {
	mu  sync.RWMutex
	rec Record
}

// NewHolder creates a holder seeded with rec.
func NewHolder(rec Record) *Holder {
	return &Holder{rec: rec}
}

// Load returns a copy of the current record.
func (h *Holder) Load() Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rec
}

// Store replaces the current record.
func (h *Holder) Store(rec Record) {
	h.mu.Lock()
	h.rec = rec
	h.mu.Unlock()
}
