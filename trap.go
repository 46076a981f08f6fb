package kern

import (
	log "github.com/sirupsen/logrus"
)

// runUser is the kernel half of a user process's life: an endless
// alternation of "return to user mode" and "handle the trap that
// brought it back". Entered once from forkret; left only via exit.
func (k *Kernel) runUser(p *Proc) {
	for {
		k.usertrapret(p)
		k.executeUser(p)
		k.uservec(p)
		k.usertrap(p)
	}
}

// usertrap is the trap dispatcher: entered from the trampoline with
// the kernel page table active and the trap frame filled in. It
// classifies the cause into exactly one of system call, timer, device
// interrupt, or user fault, handles it, and falls back to the caller,
// which proceeds to the return path. The termination flag is checked
// on entry and again before returning to user mode.
func (k *Kernel) usertrap(p *Proc) {
	c := p.cpu
	if !c.fromUser {
		panic("usertrap: not from user mode")
	}
	if c.satp != k.kpt {
		panic("usertrap: user page table still active")
	}

	tf := p.tf
	switch c.scause {
	case scauseEcall:
		if p.Killed() {
			k.exit(p, -1)
		}
		// advance past the ecall so resumption doesn't re-trigger it
		tf.Epc += 4
		k.syscall(p)

	case scauseTimer:
		if c.id == 0 {
			k.clockintr()
		}
		if p.Killed() {
			k.exit(p, -1)
		}
		// preemption: give someone else a turn
		k.yield(p)

	case scauseExternal:
		k.devintr(c)

	default:
		// Not a cause the kernel knows: a fault in the user program,
		// not in the kernel. Kill the process, keep running.
		log.WithFields(log.Fields{
			"proc":   p.String(),
			"scause": c.scause,
			"sepc":   c.sepc,
			"stval":  c.stval,
		}).Error("[Trap] unexpected scause, killing process")
		p.setKilled()
	}

	if p.Killed() {
		k.exit(p, -1)
	}
}

// clockintr advances kernel time and wakes clock sleepers. Hart 0
// owns the tick counter; other harts only take the preemption side of
// the timer interrupt.
func (k *Kernel) clockintr() {
	k.ticksLock.acquire()
	k.ticks++
	k.ticksLock.release()
	k.wakeup(&k.ticks)
}

// devintr services one external device interrupt: ask the interrupt
// controller which device raised it, run that device's handler, then
// acknowledge completion. Claim, handle, complete, in that order.
func (k *Kernel) devintr(c *Cpu) {
	irq := k.plic.claim()
	if irq == 0 {
		// another CPU won the claim race
		return
	}
	switch irq {
	case UART0_IRQ:
		k.cons.intr()
	default:
		log.WithFields(log.Fields{
			"cpu": c.id,
			"irq": irq,
		}).Warn("[Trap] unexpected interrupt")
	}
	k.plic.complete(irq)
}

// idleIntr takes interrupts in scheduler context: a CPU with nothing
// to run still services the clock and the devices, because those are
// what make processes runnable again.
func (k *Kernel) idleIntr(c *Cpu) {
	if !c.intena {
		panic("idleIntr: interrupts disabled in idle loop")
	}
	if c.takeTimer() {
		if c.id == 0 {
			k.clockintr()
		}
	}
	if k.plic.pending() {
		k.devintr(c)
	}
}
