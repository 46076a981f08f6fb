package kern

import (
	"bytes"
	"testing"
)

func TestPagePoolBudget(t *testing.T) {
	pool := newPagePool(4)
	if err := pool.alloc(3); err != nil {
		t.Fatalf("alloc within budget: %v", err)
	}
	if err := pool.alloc(2); err != ErrNoMem {
		t.Fatalf("alloc over budget: got %v, want ErrNoMem", err)
	}
	pool.put(3)
	if err := pool.alloc(4); err != nil {
		t.Fatalf("alloc after put: %v", err)
	}
}

func TestAddressSpaceMappings(t *testing.T) {
	pool := newPagePool(64)
	tf := &TrapFrame{}
	as, err := newAddressSpace(pool, tf, 4096)
	if err != nil {
		t.Fatalf("newAddressSpace: %v", err)
	}
	if as.pt.translate(TRAMPOLINE) != interface{}(trampolinePage) {
		t.Error("trampoline not mapped")
	}
	if as.pt.translate(TRAPFRAME) != interface{}(tf) {
		t.Error("trap frame not mapped")
	}
	if as.pt.translate(0x1234000) != nil {
		t.Error("translate invented a mapping")
	}
}

func TestAddressSpaceDuplicateIsDeep(t *testing.T) {
	pool := newPagePool(64)
	as, err := newAddressSpace(pool, &TrapFrame{}, 4096)
	if err != nil {
		t.Fatalf("newAddressSpace: %v", err)
	}
	if err := as.store(8, 42); err != nil {
		t.Fatalf("store: %v", err)
	}

	ctf := &TrapFrame{}
	child, err := as.duplicate(ctf)
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if v, _ := child.load(8); v != 42 {
		t.Errorf("child sees %d at 8, want 42", v)
	}
	if err := child.store(8, 99); err != nil {
		t.Fatalf("child store: %v", err)
	}
	if v, _ := as.load(8); v != 42 {
		t.Errorf("child store leaked into parent: %d", v)
	}
	if child.pt.translate(TRAPFRAME) != interface{}(ctf) {
		t.Error("child shares the parent's trap-frame mapping")
	}
	if child.pt.translate(TRAMPOLINE) != as.pt.translate(TRAMPOLINE) {
		t.Error("trampoline page not shared")
	}
}

func TestAddressSpaceBounds(t *testing.T) {
	pool := newPagePool(64)
	as, err := newAddressSpace(pool, &TrapFrame{}, 64)
	if err != nil {
		t.Fatalf("newAddressSpace: %v", err)
	}
	if err := as.store(64, 1); err != ErrBadAddr {
		t.Errorf("store past end: got %v, want ErrBadAddr", err)
	}
	if _, err := as.load(1 << 30); err != ErrBadAddr {
		t.Errorf("load far out: got %v, want ErrBadAddr", err)
	}
	if _, err := as.readBytes(60, 8); err != ErrBadAddr {
		t.Errorf("readBytes spanning end: got %v, want ErrBadAddr", err)
	}
}

func TestReadWriteBytes(t *testing.T) {
	pool := newPagePool(64)
	as, err := newAddressSpace(pool, &TrapFrame{}, 4096)
	if err != nil {
		t.Fatalf("newAddressSpace: %v", err)
	}
	want := []byte("hello, kernel")
	if err := as.writeBytes(100, want); err != nil {
		t.Fatalf("writeBytes: %v", err)
	}
	got, err := as.readBytes(100, len(want))
	if err != nil {
		t.Fatalf("readBytes: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("roundtrip: got %q", got)
	}
}

func TestFreeReturnsPages(t *testing.T) {
	pool := newPagePool(pagesFor(0, 4096))
	as, err := newAddressSpace(pool, &TrapFrame{}, 4096)
	if err != nil {
		t.Fatalf("newAddressSpace: %v", err)
	}
	if _, err := newAddressSpace(pool, &TrapFrame{}, 4096); err != ErrNoMem {
		t.Fatalf("second space within exhausted pool: got %v, want ErrNoMem", err)
	}
	as.free()
	if _, err := newAddressSpace(pool, &TrapFrame{}, 4096); err != nil {
		t.Fatalf("space after free: %v", err)
	}
}

func TestImageLoader(t *testing.T) {
	pool := newPagePool(64)
	as, err := newAddressSpace(pool, &TrapFrame{}, 4096)
	if err != nil {
		t.Fatalf("newAddressSpace: %v", err)
	}
	img := Image{Name: "t", Text: []Instr{Li(RegA0, 1), Ecall()}, MemBytes: 4096}
	if err := (imageLoader{}).Load(as, img); err != nil {
		t.Fatalf("load: %v", err)
	}
	in, ok := as.fetch(0)
	if !ok || in.Op != OpLi {
		t.Error("first instruction not loaded")
	}
	in, ok = as.fetch(4)
	if !ok || in.Op != OpEcall {
		t.Error("second instruction not loaded")
	}
	if _, ok := as.fetch(8); ok {
		t.Error("fetch past the text succeeded")
	}
	if _, ok := as.fetch(2); ok {
		t.Error("misaligned fetch succeeded")
	}
}
