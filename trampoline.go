package kern

// The transition mechanism. Changing the active page table is only
// safe if the code doing it (and the trap frame it works on) is mapped
// at identical virtual addresses before and after the switch. uservec
// and userret are the two boundary functions modelling that code page;
// everything they rely on is checked, not assumed: the trampoline and
// trap-frame mappings must agree between the two page tables, and the
// kernel-side fields of the trap frame must hold exactly the values
// usertrapret planted there.

// Regs is the general-purpose register file of the interrupted user
// context, in riscv order. The argument/return registers A0..A7 are
// the system-call ABI surface.
type Regs struct {
	Ra uint64
	Sp uint64
	Gp uint64
	Tp uint64
	T0 uint64
	T1 uint64
	T2 uint64
	S0 uint64
	S1 uint64
	A0 uint64
	A1 uint64
	A2 uint64
	A3 uint64
	A4 uint64
	A5 uint64
	A6 uint64
	A7 uint64
	S2 uint64
	S3 uint64
	S4 uint64
	S5 uint64
	S6 uint64
	S7 uint64
	S8 uint64
	S9 uint64
	S10 uint64
	S11 uint64
	T3 uint64
	T4 uint64
	T5 uint64
	T6 uint64
}

// TrapFrame is the fixed-layout saved state of one process, mapped at
// TRAPFRAME in both the user and kernel page tables of that process.
// The field order is contract: the trampoline and the dispatcher agree
// on these offsets byte for byte (pinned by a layout test).
type TrapFrame struct {
	KernelSatp   uint64 //   0 kernel page table handle
	KernelSp     uint64 //   8 top of process's kernel stack
	KernelTrap   uint64 //  16 kernel trap dispatch entry
	Epc          uint64 //  24 saved user program counter
	KernelHartid uint64 //  32 CPU id
	Regs                //  40 ra .. t6
}

// checkTransitionMapping verifies the trampoline precondition: the
// transition code page resolves to the same physical page under both
// the old and the new page table, so the instruction performing the
// switch (and the one after it) stay valid across it. A violation
// means the switch instruction itself would fault; that is never
// survivable. The trap frame is checked per side: it must be mapped at
// TRAPFRAME under the user table, and the kernel reaches the same
// frame through its direct mapping (the p.tf pointer), so both sides
// touch it without a further address-space switch.
func checkTransitionMapping(a, b *PageTable) {
	ta, tb := a.translate(TRAMPOLINE), b.translate(TRAMPOLINE)
	if ta == nil || ta != tb {
		panic("trampoline: transition page not identity-mapped across page tables")
	}
}

// uservec is the trap-entry half of the trampoline. It runs with the
// user page table active: it saves the full user register file into
// the trap frame, reads the kernel-side bookkeeping out of the same
// frame, and switches the CPU onto the kernel page table. On return
// the caller is in kernel mode and may jump to the dispatcher.
func (k *Kernel) uservec(p *Proc) {
	c := p.cpu
	c.intrOff()

	if c.satp != p.as.pt {
		panic("uservec: user page table not active at trap entry")
	}
	if c.satp.translate(TRAPFRAME) != interface{}(p.tf) {
		panic("uservec: trap frame unreachable under user mapping")
	}

	tf := p.tf
	tf.Regs = c.regs
	tf.Epc = c.sepc

	// load the kernel-side fields the return path stored earlier
	if tf.KernelSatp != k.kpt.satp {
		panic("uservec: kernel satp slot corrupted")
	}
	if tf.KernelTrap != KERNELVEC {
		panic("uservec: kernel trap entry slot corrupted")
	}
	if tf.KernelHartid != uint64(c.id) {
		panic("uservec: hartid slot does not match this cpu")
	}

	checkTransitionMapping(c.satp, k.kpt)
	c.satp = k.kpt // the address-space switch
	c.fromUser = true
}

// usertrapret prepares the trap frame for the next trap and drops into
// userret. It is the tail of every kernel-mode excursion; it does not
// return to its caller's caller.
func (k *Kernel) usertrapret(p *Proc) {
	c := p.cpu
	c.intrOff()

	tf := p.tf
	tf.KernelSatp = k.kpt.satp
	tf.KernelSp = p.kstack + PGSIZE
	tf.KernelTrap = KERNELVEC
	tf.KernelHartid = uint64(c.id)

	k.userret(p)
}

// userret is the return half of the trampoline, the mirror image of
// uservec: with interrupts off, restore the saved program counter,
// switch the CPU onto the process's user page table, restore the full
// register file, and re-enable interrupts for user mode.
func (k *Kernel) userret(p *Proc) {
	c := p.cpu
	if c.intena {
		panic("userret: interrupts enabled across the transition")
	}
	if c.satp != k.kpt {
		panic("userret: kernel page table not active")
	}

	upt := p.as.pt
	if upt.translate(TRAPFRAME) != interface{}(p.tf) {
		panic("userret: trap frame unreachable under user mapping")
	}
	checkTransitionMapping(k.kpt, upt)

	c.pc = p.tf.Epc
	c.satp = upt // the address-space switch
	c.regs = p.tf.Regs
	c.fromUser = false
	c.intrOn()
}
