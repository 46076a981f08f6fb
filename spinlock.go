package kern

import (
	"runtime"
	"sync/atomic"
)

// Spinlock is the kernel's mutual-exclusion lock: a bare test-and-set
// word. It is the only serialization primitive used for kernel state;
// every guarded structure (process sub-record, ticks, pipe, console,
// file table) holds exactly one of these.
type Spinlock struct {
	locked uint32
	name   string
}

func initlock(lk *Spinlock, name string) {
	lk.locked = 0
	lk.name = name
}

func (lk *Spinlock) acquire() {
	for !atomic.CompareAndSwapUint32(&lk.locked, 0, 1) {
		runtime.Gosched()
	}
}

func (lk *Spinlock) release() {
	if atomic.LoadUint32(&lk.locked) == 0 {
		panic("release: lock not held: " + lk.name)
	}
	atomic.StoreUint32(&lk.locked, 0)
}

// holding reports whether the lock is taken. It cannot tell who took
// it; the assertions built on it catch the "not locked at all" class
// of bug, which is the one that corrupts process state.
func (lk *Spinlock) holding() bool {
	return atomic.LoadUint32(&lk.locked) == 1
}
