package kern

import "sync/atomic"

// Register numbers in the riscv numbering, used by instruction
// operands. x0 is hardwired to zero.
const (
	RegZero = 0
	RegRa   = 1
	RegSp   = 2
	RegGp   = 3
	RegTp   = 4
	RegT0   = 5
	RegT1   = 6
	RegT2   = 7
	RegS0   = 8
	RegS1   = 9
	RegA0   = 10
	RegA1   = 11
	RegA2   = 12
	RegA3   = 13
	RegA4   = 14
	RegA5   = 15
	RegA6   = 16
	RegA7   = 17
	RegS2   = 18
	RegS3   = 19
	RegS4   = 20
	RegS5   = 21
	RegS6   = 22
	RegS7   = 23
	RegS8   = 24
	RegS9   = 25
	RegS10  = 26
	RegS11  = 27
	RegT3   = 28
	RegT4   = 29
	RegT5   = 30
	RegT6   = 31
)

func (r *Regs) get(i int) uint64 {
	switch i {
	case RegZero:
		return 0
	case RegRa:
		return r.Ra
	case RegSp:
		return r.Sp
	case RegGp:
		return r.Gp
	case RegTp:
		return r.Tp
	case RegT0:
		return r.T0
	case RegT1:
		return r.T1
	case RegT2:
		return r.T2
	case RegS0:
		return r.S0
	case RegS1:
		return r.S1
	case RegA0:
		return r.A0
	case RegA1:
		return r.A1
	case RegA2:
		return r.A2
	case RegA3:
		return r.A3
	case RegA4:
		return r.A4
	case RegA5:
		return r.A5
	case RegA6:
		return r.A6
	case RegA7:
		return r.A7
	case RegS2:
		return r.S2
	case RegS3:
		return r.S3
	case RegS4:
		return r.S4
	case RegS5:
		return r.S5
	case RegS6:
		return r.S6
	case RegS7:
		return r.S7
	case RegS8:
		return r.S8
	case RegS9:
		return r.S9
	case RegS10:
		return r.S10
	case RegS11:
		return r.S11
	case RegT3:
		return r.T3
	case RegT4:
		return r.T4
	case RegT5:
		return r.T5
	case RegT6:
		return r.T6
	}
	panic("regs: no such register")
}

func (r *Regs) set(i int, v uint64) {
	switch i {
	case RegZero:
		// writes to x0 are discarded
	case RegRa:
		r.Ra = v
	case RegSp:
		r.Sp = v
	case RegGp:
		r.Gp = v
	case RegTp:
		r.Tp = v
	case RegT0:
		r.T0 = v
	case RegT1:
		r.T1 = v
	case RegT2:
		r.T2 = v
	case RegS0:
		r.S0 = v
	case RegS1:
		r.S1 = v
	case RegA0:
		r.A0 = v
	case RegA1:
		r.A1 = v
	case RegA2:
		r.A2 = v
	case RegA3:
		r.A3 = v
	case RegA4:
		r.A4 = v
	case RegA5:
		r.A5 = v
	case RegA6:
		r.A6 = v
	case RegA7:
		r.A7 = v
	case RegS2:
		r.S2 = v
	case RegS3:
		r.S3 = v
	case RegS4:
		r.S4 = v
	case RegS5:
		r.S5 = v
	case RegS6:
		r.S6 = v
	case RegS7:
		r.S7 = v
	case RegS8:
		r.S8 = v
	case RegS9:
		r.S9 = v
	case RegS10:
		r.S10 = v
	case RegS11:
		r.S11 = v
	case RegT3:
		r.T3 = v
	case RegT4:
		r.T4 = v
	case RegT5:
		r.T5 = v
	case RegT6:
		r.T6 = v
	default:
		panic("regs: no such register")
	}
}

// Cpu is one simulated hart: the process it is currently running (nil
// when idle), this CPU's own scheduler context (the other side of
// every context switch performed on it), and the live machine state
// that exists per-CPU on real hardware.
type Cpu struct {
	id   int
	proc *Proc

	// scheduler is resumed whenever the running process switches out.
	scheduler Context

	// last proc-table index scheduled here; round-robin start point.
	lastIndex int

	// live user-mode machine state, valid while executing user code
	regs   Regs
	pc     uint64
	satp   *PageTable
	sepc   uint64
	stval  uint64
	scause uint64

	// trap bookkeeping
	fromUser bool
	intena   bool

	// armed by the clock goroutine, consumed at delivery points
	timerPend int32
}

func (c *Cpu) intrOn()  { c.intena = true }
func (c *Cpu) intrOff() { c.intena = false }

// takeTimer consumes a pending timer interrupt, if armed.
func (c *Cpu) takeTimer() bool {
	return atomic.CompareAndSwapInt32(&c.timerPend, 1, 0)
}

func (c *Cpu) armTimer() {
	atomic.StoreInt32(&c.timerPend, 1)
}

// executeUser is the user-mode portion of the machine: fetch and
// execute instructions from the process's text until a trap condition
// arises. On return the cause registers are set and the caller (the
// trampoline entry path) takes over. Interrupts are only ever taken
// at instruction boundaries.
func (k *Kernel) executeUser(p *Proc) {
	c := p.cpu
	if c.satp != p.as.pt {
		panic("executeUser: kernel page table active in user mode")
	}
	if !c.intena {
		panic("executeUser: interrupts disabled in user mode")
	}

	for {
		if c.takeTimer() || k.stopping() {
			c.sepc = c.pc
			c.scause = scauseTimer
			return
		}
		if k.plic.pending() {
			c.sepc = c.pc
			c.scause = scauseExternal
			return
		}

		inst, ok := p.as.fetch(c.pc)
		if !ok {
			c.sepc = c.pc
			c.stval = c.pc
			c.scause = scauseInstrFault
			return
		}

		switch inst.Op {
		case OpNop:
			c.pc += 4
		case OpLi:
			c.regs.set(inst.Rd, uint64(inst.Imm))
			c.pc += 4
		case OpMv:
			c.regs.set(inst.Rd, c.regs.get(inst.Rs1))
			c.pc += 4
		case OpAdd:
			c.regs.set(inst.Rd, c.regs.get(inst.Rs1)+c.regs.get(inst.Rs2))
			c.pc += 4
		case OpAddi:
			c.regs.set(inst.Rd, c.regs.get(inst.Rs1)+uint64(inst.Imm))
			c.pc += 4
		case OpBeq:
			if c.regs.get(inst.Rs1) == c.regs.get(inst.Rs2) {
				c.pc = uint64(inst.Imm)
			} else {
				c.pc += 4
			}
		case OpBne:
			if c.regs.get(inst.Rs1) != c.regs.get(inst.Rs2) {
				c.pc = uint64(inst.Imm)
			} else {
				c.pc += 4
			}
		case OpJmp:
			c.pc = uint64(inst.Imm)
		case OpLd:
			addr := c.regs.get(inst.Rs1) + uint64(inst.Imm)
			v, err := p.as.load(addr)
			if err != nil {
				c.sepc = c.pc
				c.stval = addr
				c.scause = scauseLoadFault
				return
			}
			c.regs.set(inst.Rd, v)
			c.pc += 4
		case OpSt:
			addr := c.regs.get(inst.Rs1) + uint64(inst.Imm)
			if err := p.as.store(addr, c.regs.get(inst.Rs2)); err != nil {
				c.sepc = c.pc
				c.stval = addr
				c.scause = scauseStoreFault
				return
			}
			c.pc += 4
		case OpEcall:
			c.sepc = c.pc
			c.scause = scauseEcall
			return
		default:
			c.sepc = c.pc
			c.stval = c.pc
			c.scause = scauseInstrFault
			return
		}
	}
}
