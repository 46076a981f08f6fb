package kern

import "sync"

// Plic is the platform-level interrupt controller: devices raise
// lines, the trap handler claims the highest pending one, handles it,
// and completes it so the line can fire again.
type Plic struct {
	mu      sync.Mutex
	pend    map[int]bool
	claimed map[int]bool
	refire  map[int]bool
}

func newPlic() *Plic {
	return &Plic{
		pend:    make(map[int]bool),
		claimed: make(map[int]bool),
		refire:  make(map[int]bool),
	}
}

// raise marks an interrupt line pending. A raise that arrives while
// the line is claimed is held back and re-forwarded on complete.
func (pl *Plic) raise(irq int) {
	pl.mu.Lock()
	if pl.claimed[irq] {
		pl.refire[irq] = true
	} else {
		pl.pend[irq] = true
	}
	pl.mu.Unlock()
}

// pending reports whether any line is waiting to be claimed.
func (pl *Plic) pending() bool {
	pl.mu.Lock()
	n := len(pl.pend)
	pl.mu.Unlock()
	return n > 0
}

// claim hands out one pending interrupt, or 0 if none. A claimed line
// stays quiet until completed.
func (pl *Plic) claim() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	for irq := range pl.pend {
		delete(pl.pend, irq)
		pl.claimed[irq] = true
		return irq
	}
	return 0
}

// complete tells the controller the handler is done with irq.
func (pl *Plic) complete(irq int) {
	pl.mu.Lock()
	delete(pl.claimed, irq)
	if pl.refire[irq] {
		delete(pl.refire, irq)
		pl.pend[irq] = true
	}
	pl.mu.Unlock()
}
