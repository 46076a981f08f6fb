package kern

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// System call numbers. The table below must enumerate every one of
// these: a number inside the range with no handler is a kernel
// validation gap, not user error, and dispatch treats it as fatal.
const (
	SysFork   = 1
	SysExit   = 2
	SysWait   = 3
	SysPipe   = 4
	SysRead   = 5
	SysWrite  = 6
	SysClose  = 7
	SysDup    = 8
	SysGetpid = 9
	SysKill   = 10
	SysSleep  = 11
	SysUptime = 12
	SysExec   = 13
	SysYield  = 14
)

// sysFail is the failure sentinel in the return-value register: -1.
const sysFail = ^uint64(0)

// The table is filled at init time: a package-level composite literal
// would form an initialization cycle through the handlers, since the
// dispatch path they end in consults the table again.
var syscalls [SysYield + 1]func(*Kernel, *Proc) (uint64, error)

func init() {
	syscalls = [SysYield + 1]func(*Kernel, *Proc) (uint64, error){
		SysFork:   (*Kernel).sysFork,
		SysExit:   (*Kernel).sysExit,
		SysWait:   (*Kernel).sysWait,
		SysPipe:   (*Kernel).sysPipe,
		SysRead:   (*Kernel).sysRead,
		SysWrite:  (*Kernel).sysWrite,
		SysClose:  (*Kernel).sysClose,
		SysDup:    (*Kernel).sysDup,
		SysGetpid: (*Kernel).sysGetpid,
		SysKill:   (*Kernel).sysKill,
		SysSleep:  (*Kernel).sysSleep,
		SysUptime: (*Kernel).sysUptime,
		SysExec:   (*Kernel).sysExec,
		SysYield:  (*Kernel).sysYield,
	}
}

// argRaw fetches system-call argument n. Arguments live in the trap
// frame's argument registers and nowhere else; six slots exist.
func argRaw(p *Proc, n int) uint64 {
	tf := p.tf
	switch n {
	case 0:
		return tf.A0
	case 1:
		return tf.A1
	case 2:
		return tf.A2
	case 3:
		return tf.A3
	case 4:
		return tf.A4
	case 5:
		return tf.A5
	}
	panic("argRaw: argument register out of range")
}

func argInt(p *Proc, n int) int {
	return int(int64(argRaw(p, n)))
}

// syscall routes one system call: number from A7, handler from the
// table, result into A0: the value itself on success, the negative
// sentinel on failure.
func (k *Kernel) syscall(p *Proc) {
	num := p.tf.A7
	if num == 0 || num >= uint64(len(syscalls)) || syscalls[num] == nil {
		panic(fmt.Sprintf("syscall: unknown syscall %d (pid %d)", num, p.pid))
	}

	ret, err := syscalls[num](k, p)
	if err != nil {
		log.WithFields(log.Fields{
			"proc":    p.String(),
			"syscall": num,
		}).WithError(err).Debug("[Sys] syscall failed")
		p.tf.A0 = sysFail
		return
	}
	p.tf.A0 = ret
}

func (k *Kernel) sysFork(p *Proc) (uint64, error) {
	pid, err := k.fork(p)
	if err != nil {
		return 0, err
	}
	return uint64(pid), nil
}

func (k *Kernel) sysExit(p *Proc) (uint64, error) {
	k.exit(p, argInt(p, 0))
	panic("sysExit: exit returned")
}

func (k *Kernel) sysWait(p *Proc) (uint64, error) {
	addr := argRaw(p, 0)
	pid, _, err := k.wait(p, addr)
	if err != nil {
		return 0, err
	}
	return uint64(pid), nil
}

func (k *Kernel) sysGetpid(p *Proc) (uint64, error) {
	return uint64(p.pid), nil
}

func (k *Kernel) sysKill(p *Proc) (uint64, error) {
	if err := k.kill(argInt(p, 0)); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) sysYield(p *Proc) (uint64, error) {
	k.yield(p)
	return 0, nil
}

// clockSleep blocks until n clock ticks have elapsed, or the process
// is killed.
func (k *Kernel) clockSleep(p *Proc, n uint64) error {
	k.ticksLock.acquire()
	start := k.ticks
	for k.ticks-start < n {
		if p.Killed() {
			k.ticksLock.release()
			return ErrKilled
		}
		k.sleep(p, &k.ticks, &k.ticksLock)
	}
	k.ticksLock.release()
	return nil
}

func (k *Kernel) sysSleep(p *Proc) (uint64, error) {
	if err := k.clockSleep(p, argRaw(p, 0)); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) sysUptime(p *Proc) (uint64, error) {
	k.ticksLock.acquire()
	t := k.ticks
	k.ticksLock.release()
	return t, nil
}

// sysExec replaces the process image with a registered one, chosen by
// index. The trap frame page survives; the address space does not.
func (k *Kernel) sysExec(p *Proc) (uint64, error) {
	idx := argInt(p, 0)
	img, err := k.image(idx)
	if err != nil {
		return 0, err
	}

	nas, err := newAddressSpace(k.pages, p.tf, img.MemBytes)
	if err != nil {
		return 0, err
	}
	if err := k.loader.Load(nas, img); err != nil {
		nas.free()
		return 0, err
	}

	p.as.free()
	p.as = nas
	p.name = img.Name
	p.tf.Regs = Regs{}
	p.tf.Epc = 0
	p.tf.Sp = uint64(img.MemBytes)

	log.WithFields(log.Fields{
		"proc":  p.String(),
		"image": img.Name,
	}).Debug("[Sys] exec")
	return 0, nil
}
