package kern

import (
	"testing"
	"unsafe"
)

// The trap-frame layout is a contract between the save and restore
// paths; this pins the byte offsets so a field reorder cannot slip by.
func TestTrapFrameLayout(t *testing.T) {
	var tf TrapFrame
	cases := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"KernelSatp", unsafe.Offsetof(tf.KernelSatp), 0},
		{"KernelSp", unsafe.Offsetof(tf.KernelSp), 8},
		{"KernelTrap", unsafe.Offsetof(tf.KernelTrap), 16},
		{"Epc", unsafe.Offsetof(tf.Epc), 24},
		{"KernelHartid", unsafe.Offsetof(tf.KernelHartid), 32},
		{"Ra", unsafe.Offsetof(tf.Ra), 40},
		{"Sp", unsafe.Offsetof(tf.Sp), 48},
		{"A0", unsafe.Offsetof(tf.A0), 40 + 9*8},
		{"A7", unsafe.Offsetof(tf.A7), 40 + 16*8},
		{"T6", unsafe.Offsetof(tf.T6), 40 + 30*8},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("offset of %s: %d, want %d", c.name, c.got, c.want)
		}
	}
	if unsafe.Sizeof(tf) != 40+31*8 {
		t.Errorf("trap frame size %d, want %d", unsafe.Sizeof(tf), 40+31*8)
	}
}

func TestTransitionMappingAgrees(t *testing.T) {
	a := newPageTable()
	b := newPageTable()
	a.mapPage(TRAMPOLINE, trampolinePage, PTE_R|PTE_X)
	b.mapPage(TRAMPOLINE, trampolinePage, PTE_R|PTE_X)
	checkTransitionMapping(a, b) // must not panic
}

func TestTransitionMappingMissing(t *testing.T) {
	a := newPageTable()
	b := newPageTable()
	a.mapPage(TRAMPOLINE, trampolinePage, PTE_R|PTE_X)
	defer func() {
		if recover() == nil {
			t.Fatal("mismatched trampoline mapping not caught")
		}
	}()
	checkTransitionMapping(a, b)
}

func TestTransitionMappingDiffers(t *testing.T) {
	a := newPageTable()
	b := newPageTable()
	other := &struct{ name string }{"impostor"}
	a.mapPage(TRAMPOLINE, trampolinePage, PTE_R|PTE_X)
	b.mapPage(TRAMPOLINE, other, PTE_R|PTE_X)
	defer func() {
		if recover() == nil {
			t.Fatal("differing trampoline pages not caught")
		}
	}()
	checkTransitionMapping(a, b)
}
