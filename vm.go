package kern

import (
	"errors"
	"sync/atomic"
)

// The memory manager is a collaborator with a narrow interface: a page
// budget, page tables mapping fixed virtual addresses, and whole
// address-space duplication for fork. Nothing else in the kernel
// touches address arithmetic directly.

var (
	ErrNoMem   = errors.New("out of memory")
	ErrBadAddr = errors.New("bad user address")
)

// Page-table entry permission bits. Only the fixed trampoline and
// trap-frame mappings live in page tables here, and neither is a
// user-accessible page, so there is no user bit.
const (
	PTE_R = 1 << 1
	PTE_W = 1 << 2
	PTE_X = 1 << 3
)

// pagePool is the physical page allocator: a fixed budget of pages,
// counted rather than carved out of a real arena. Exhaustion is the
// recoverable kind of failure; fork propagates it to the caller.
type pagePool struct {
	lock Spinlock
	free int
}

func newPagePool(npages int) *pagePool {
	pool := &pagePool{free: npages}
	initlock(&pool.lock, "kmem")
	return pool
}

func (pool *pagePool) alloc(n int) error {
	pool.lock.acquire()
	defer pool.lock.release()
	if pool.free < n {
		return ErrNoMem
	}
	pool.free -= n
	return nil
}

func (pool *pagePool) put(n int) {
	pool.lock.acquire()
	pool.free += n
	pool.lock.release()
}

// trampolinePage is the single physical page holding the transition
// code. Every page table maps it at TRAMPOLINE; the identity of this
// object is what the mapping-equality check compares.
var trampolinePage = &struct{ name string }{"trampoline"}

type pte struct {
	pa   interface{}
	perm int
}

// PageTable is an address-translation root. The satp token stands in
// for the hardware register value naming this table.
type PageTable struct {
	entries map[uint64]pte
	satp    uint64
}

var nextSatp uint64

func newPageTable() *PageTable {
	return &PageTable{
		entries: map[uint64]pte{},
		satp:    atomic.AddUint64(&nextSatp, 1),
	}
}

func (pt *PageTable) mapPage(va uint64, pa interface{}, perm int) {
	if va%PGSIZE != 0 {
		panic("mapPage: va not page-aligned")
	}
	if _, ok := pt.entries[va]; ok {
		panic("mapPage: remap")
	}
	pt.entries[va] = pte{pa: pa, perm: perm}
}

func (pt *PageTable) unmapPage(va uint64) {
	if _, ok := pt.entries[va]; !ok {
		panic("unmapPage: not mapped")
	}
	delete(pt.entries, va)
}

// translate returns the physical page backing va, or nil.
func (pt *PageTable) translate(va uint64) interface{} {
	e, ok := pt.entries[va-va%PGSIZE]
	if !ok {
		return nil
	}
	return e.pa
}

// AddressSpace is one process's user memory: a text segment of
// simulated instructions, a byte-addressed data segment, and the page
// table carrying the fixed trampoline and trap-frame mappings.
type AddressSpace struct {
	pt   *PageTable
	text []Instr
	mem  []byte

	pool   *pagePool
	npages int
}

func pagesFor(textLen, memBytes int) int {
	// text, data, plus the trap-frame page
	return (textLen*4+PGSIZE-1)/PGSIZE + (memBytes+PGSIZE-1)/PGSIZE + 1
}

// newAddressSpace builds an empty user address space with the
// trampoline and the given trap frame mapped at their fixed addresses.
func newAddressSpace(pool *pagePool, tf *TrapFrame, memBytes int) (*AddressSpace, error) {
	n := pagesFor(0, memBytes)
	if err := pool.alloc(n); err != nil {
		return nil, err
	}
	as := &AddressSpace{
		pt:     newPageTable(),
		mem:    make([]byte, memBytes),
		pool:   pool,
		npages: n,
	}
	as.pt.mapPage(TRAMPOLINE, trampolinePage, PTE_R|PTE_X)
	as.pt.mapPage(TRAPFRAME, tf, PTE_R|PTE_W)
	return as, nil
}

// duplicate copies the whole address space for fork. The child gets
// its own text and data and its own trap-frame mapping; only the
// trampoline page is shared. Failure leaves the parent untouched.
func (as *AddressSpace) duplicate(tf *TrapFrame) (*AddressSpace, error) {
	if err := as.pool.alloc(as.npages); err != nil {
		return nil, err
	}
	child := &AddressSpace{
		pt:     newPageTable(),
		text:   append([]Instr(nil), as.text...),
		mem:    append([]byte(nil), as.mem...),
		pool:   as.pool,
		npages: as.npages,
	}
	child.pt.mapPage(TRAMPOLINE, trampolinePage, PTE_R|PTE_X)
	child.pt.mapPage(TRAPFRAME, tf, PTE_R|PTE_W)
	return child, nil
}

// free returns the space's pages to the pool. The trap frame dies with
// the address space; callers must not touch it afterwards.
func (as *AddressSpace) free() {
	as.pt.unmapPage(TRAMPOLINE)
	as.pt.unmapPage(TRAPFRAME)
	as.text = nil
	as.mem = nil
	as.pool.put(as.npages)
	as.npages = 0
}

// fetch reads the instruction at pc.
func (as *AddressSpace) fetch(pc uint64) (Instr, bool) {
	if pc%4 != 0 || pc/4 >= uint64(len(as.text)) {
		return Instr{}, false
	}
	return as.text[pc/4], true
}

// load reads a 64-bit word from user memory.
func (as *AddressSpace) load(addr uint64) (uint64, error) {
	if addr+8 > uint64(len(as.mem)) || addr+8 < addr {
		return 0, ErrBadAddr
	}
	var v uint64
	for i := uint64(0); i < 8; i++ {
		v |= uint64(as.mem[addr+i]) << (8 * i)
	}
	return v, nil
}

// store writes a 64-bit word to user memory.
func (as *AddressSpace) store(addr uint64, v uint64) error {
	if addr+8 > uint64(len(as.mem)) || addr+8 < addr {
		return ErrBadAddr
	}
	for i := uint64(0); i < 8; i++ {
		as.mem[addr+i] = byte(v >> (8 * i))
	}
	return nil
}

// readBytes copies n bytes out of user memory (copyin).
func (as *AddressSpace) readBytes(addr uint64, n int) ([]byte, error) {
	if addr+uint64(n) > uint64(len(as.mem)) || addr+uint64(n) < addr {
		return nil, ErrBadAddr
	}
	out := make([]byte, n)
	copy(out, as.mem[addr:])
	return out, nil
}

// writeBytes copies bytes into user memory (copyout).
func (as *AddressSpace) writeBytes(addr uint64, src []byte) error {
	if addr+uint64(len(src)) > uint64(len(as.mem)) || addr+uint64(len(src)) < addr {
		return ErrBadAddr
	}
	copy(as.mem[addr:], src)
	return nil
}
