package filesystem

import "time"

// Handle is an open reference to a descriptor. It carries no read state of
// its own; closing it never affects the descriptor.
type Handle struct {
	fh     uint64
	desc   *Descriptor
	flags  uint32
	opened time.Time
}

// FH returns the handle number passed back to the kernel.
func (h *Handle) FH() uint64 { return h.fh }

func (h *Handle) Descriptor() *Descriptor { return h.desc }

func (h *Handle) Flags() uint32 { return h.flags }
