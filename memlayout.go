package kern

// Simulated machine layout. The numbers mirror a riscv64 qemu-style
// machine: one page of trampoline code pinned at the top of the virtual
// address space, the trap frame one page below it, identical in every
// address space.
const (
	PGSIZE = 4096

	MAXVA = 1 << 38

	// TRAMPOLINE is the fixed virtual address of the transition code page,
	// mapped at the same address in the kernel page table and in every
	// user page table.
	TRAMPOLINE = MAXVA - PGSIZE

	// TRAPFRAME is the fixed virtual address of the per-process trap frame
	// page, again identical on both sides of the user/kernel boundary.
	TRAPFRAME = TRAMPOLINE - PGSIZE

	// KERNELVEC is the kernel's trap dispatch entry. The trampoline loads
	// this out of the trap frame and jumps to it; anything else in that
	// slot means the frame was corrupted.
	KERNELVEC = 0x80002000
)

// Interrupt numbers on the simulated interrupt controller.
const (
	UART0_IRQ = 10
)

// scause values, the closed set of trap causes the dispatcher knows.
const (
	scauseEcall    = 8
	scauseTimer    = 0x8000000000000001
	scauseExternal = 0x8000000000000009

	// user faults raised by the simulated machine
	scauseInstrFault = 12
	scauseLoadFault  = 13
	scauseStoreFault = 15
)

// kstackVA returns the fixed kernel stack virtual address for process
// slot i: stacks grow down from the trampoline, one guard page between
// each pair.
//
//	TRAMPOLINE
//	Process 0 Stack
//	Process 0 Guard Page
//	Process 1 Stack
//	...
func kstackVA(i int) uint64 {
	return TRAMPOLINE - uint64(i+1)*2*PGSIZE
}
