package routing

import (
	"sync/atomic"
)

// Holder is the atomic slot the pipeline and the payment engine read their
// routing table from. ConfigReloader is the only writer after startup.
// Load returns nil while no valid configuration has been installed; callers
// treat that as the failsafe state and refuse routing.
type Holder struct {
	table atomic.Pointer[Table]
}

func NewHolder() *Holder {
	return &Holder{}
}

func (h *Holder) Load() *Table {
	return h.table.Load()
}

func (h *Holder) Store(t *Table) {
	h.table.Store(t)
}
