package kern

import (
	"errors"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

var (
	ErrNoProc     = errors.New("no free process slot")
	ErrNoChildren = errors.New("no children")
	ErrKilled     = errors.New("process killed")

	// errNoZombie: children exist but none has exited yet.
	errNoZombie = errors.New("no zombie child")
)

// ProcState is the six-state process lifecycle.
type ProcState int

const (
	StateUnused ProcState = iota
	StateAllocated
	StateRunnable
	StateRunning
	StateSleeping
	StateZombie
)

func (s ProcState) String() string {
	switch s {
	case StateUnused:
		return "unused"
	case StateAllocated:
		return "allocated"
	case StateRunnable:
		return "runnable"
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateZombie:
		return "zombie"
	}
	return "???"
}

// Proc is one process control block, a fixed slot in the kernel's
// process table.
type Proc struct {
	lock Spinlock

	// p.lock must be held when using these:
	state  ProcState
	pid    int
	wchan  interface{} // sleeping on this token; nil means not sleeping
	xstate int         // exit status, valid once ZOMBIE

	// k.waitLock must be held when using this:
	parent *Proc

	// lock-free; set by anyone, observed at trap entry and return
	killed int32

	// The rest is private to the process: touched only by the CPU
	// currently running it, or by a lock-holder that can prove the
	// process is not running anywhere (allocation, reaping).
	idx     int
	name    string
	kstack  uint64
	context Context
	cpu     *Cpu
	tf      *TrapFrame
	as      *AddressSpace
	ofile   [NOFILE]*File
	cwd     string
	task    func(*Proc) // kernel task; nil for user processes
}

func (p *Proc) String() string {
	return fmt.Sprintf("%s(%d)", p.name, p.pid)
}

// Pid is stable while the process is allocated.
func (p *Proc) Pid() int { return p.pid }

func (p *Proc) Killed() bool {
	return atomic.LoadInt32(&p.killed) != 0
}

func (p *Proc) setKilled() {
	atomic.StoreInt32(&p.killed, 1)
}

func (k *Kernel) allocPid() int {
	k.pidLock.acquire()
	pid := k.nextPid
	k.nextPid++
	k.pidLock.release()
	return pid
}

// allocProc claims an UNUSED slot: state becomes ALLOCATED, a fresh
// pid is assigned, and the first-switch entry point is armed. Returns
// with p.lock held, as the caller still has initialization to do.
func (k *Kernel) allocProc() (*Proc, error) {
	for _, p := range k.procs {
		p.lock.acquire()
		if p.state == StateUnused {
			p.pid = k.allocPid()
			p.state = StateAllocated
			p.kstack = kstackVA(p.idx)
			p.context.init(func() { k.forkret(p) })
			return p, nil
		}
		p.lock.release()
	}
	return nil, ErrNoProc
}

// freeProc returns a slot to UNUSED. Caller holds p.lock and must be
// able to prove the process is not running anywhere (it is ZOMBIE and
// reaped, or it never left ALLOCATED). The parent pointer is cleared
// here too, so a recycled slot cannot count as somebody's child; on
// the reap path the caller already holds k.waitLock.
func (k *Kernel) freeProc(p *Proc) {
	if p.state != StateZombie && p.state != StateAllocated {
		panic("freeProc: process still live: " + p.state.String())
	}
	if p.as != nil {
		p.as.free()
		p.as = nil
	}
	p.tf = nil
	p.pid = 0
	p.name = ""
	p.parent = nil
	p.wchan = nil
	p.xstate = 0
	p.task = nil
	p.cwd = ""
	atomic.StoreInt32(&p.killed, 0)
	p.state = StateUnused
}

// findRunnable scans the table for a RUNNABLE process, round-robin
// starting after the slot this CPU last scheduled. The winner is
// returned with its lock held and still RUNNABLE; the scheduler
// performs the transition to RUNNING itself. A second CPU racing on
// the same slot sees the state already changed and skips it.
func (k *Kernel) findRunnable(c *Cpu) *Proc {
	n := len(k.procs)
	for i := 1; i <= n; i++ {
		idx := (c.lastIndex + i) % n
		p := k.procs[idx]
		p.lock.acquire()
		if p.state == StateRunnable {
			c.lastIndex = idx
			return p
		}
		p.lock.release()
	}
	return nil
}

// forkret is every process's first instruction: the scheduler has just
// switched into a freshly allocated context, so the proc lock it took
// is released here. Kernel tasks run their task function to completion
// and exit; user processes drop into the trap-return loop.
func (k *Kernel) forkret(p *Proc) {
	p.lock.release()

	if p.task != nil {
		p.task(p)
		k.exit(p, 0)
		panic("forkret: exit returned")
	}
	k.runUser(p)
	panic("forkret: user loop returned")
}

// fork duplicates the calling user process. The child sees 0 in its
// return-value register; the parent gets the child's pid. Any failure
// unwinds the child completely and leaves the parent untouched.
func (k *Kernel) fork(p *Proc) (int, error) {
	np, err := k.allocProc()
	if err != nil {
		return 0, err
	}

	// np.lock held from allocProc
	tf := &TrapFrame{}
	nas, err := p.as.duplicate(tf)
	if err != nil {
		k.freeProc(np)
		np.lock.release()
		return 0, err
	}
	np.as = nas
	np.tf = tf

	// child resumes from the same saved state, except its fork returns 0
	*np.tf = *p.tf
	np.tf.A0 = 0

	for i, f := range p.ofile {
		if f != nil {
			np.ofile[i] = k.fileDup(f)
		}
	}
	np.cwd = p.cwd
	np.name = p.name
	pid := np.pid
	np.lock.release()

	k.waitLock.acquire()
	np.parent = p
	k.waitLock.release()

	np.lock.acquire()
	np.state = StateRunnable
	np.lock.release()

	log.WithFields(log.Fields{
		"parent": p.pid,
		"child":  pid,
	}).Debug("[Proc] fork")
	return pid, nil
}

// reparent hands p's children to the init process. Caller holds
// k.waitLock.
func (k *Kernel) reparent(p *Proc) {
	moved := false
	for _, np := range k.procs {
		if np.parent == p {
			np.parent = k.initProc
			moved = true
		}
	}
	if moved {
		k.wakeup(k.initProc)
	}
}

// exit terminates the calling process: resources are released, its
// children are handed to init, its parent is woken, and the slot goes
// ZOMBIE until reaped. Never returns.
func (k *Kernel) exit(p *Proc, status int) {
	if p == k.initProc {
		panic("exit: init exiting")
	}

	for fd, f := range p.ofile {
		if f != nil {
			k.fileClose(f)
			p.ofile[fd] = nil
		}
	}
	p.cwd = ""

	k.waitLock.acquire()
	k.reparent(p)
	k.wakeup(p.parent)

	p.lock.acquire()
	if p.state != StateRunning {
		panic("exit: process not running")
	}
	p.xstate = status
	p.state = StateZombie
	k.waitLock.release()

	log.WithFields(log.Fields{
		"proc":   p.String(),
		"status": status,
	}).Info("[Proc] exit")

	// Switch away for good: the proc lock travels to the scheduler,
	// which releases it; this goroutine is done.
	c := p.cpu
	if c == nil || c.proc != p {
		panic("exit: not running on a cpu")
	}
	swtchFinal(&c.scheduler)
	panic("exit: unreachable")
}

// reap scans for one ZOMBIE child of p, frees its slot and returns its
// pid and exit status. statusAddr, when nonzero, receives the status
// in the waiter's user memory before the slot is recycled. Caller
// holds k.waitLock.
func (k *Kernel) reap(p *Proc, statusAddr uint64) (int, int, error) {
	havekids := false
	for _, np := range k.procs {
		if np.parent != p {
			continue
		}
		havekids = true
		np.lock.acquire()
		if np.state == StateZombie {
			pid := np.pid
			xstate := np.xstate
			if statusAddr != 0 {
				if err := p.as.store(statusAddr, uint64(int64(xstate))); err != nil {
					np.lock.release()
					return 0, 0, err
				}
			}
			k.freeProc(np)
			np.lock.release()
			return pid, xstate, nil
		}
		np.lock.release()
	}
	if !havekids {
		return 0, 0, ErrNoChildren
	}
	return 0, 0, errNoZombie
}

// wait blocks until one of p's children exits, then reaps it. The
// wait channel is, by convention, the parent process itself.
func (k *Kernel) wait(p *Proc, statusAddr uint64) (int, int, error) {
	k.waitLock.acquire()
	for {
		pid, xstate, err := k.reap(p, statusAddr)
		if err != errNoZombie {
			k.waitLock.release()
			return pid, xstate, err
		}
		if p.Killed() {
			k.waitLock.release()
			return 0, 0, ErrKilled
		}
		k.sleep(p, p, &k.waitLock)
	}
}

// kill marks the process with the given pid for termination. The flag
// is advisory: the victim notices at its next trap boundary. A
// sleeping victim is made RUNNABLE so it gets there.
func (k *Kernel) kill(pid int) error {
	for _, p := range k.procs {
		p.lock.acquire()
		if p.pid == pid && p.state != StateUnused {
			p.setKilled()
			if p.state == StateSleeping {
				p.wchan = nil
				p.state = StateRunnable
			}
			p.lock.release()
			log.WithField("pid", pid).Debug("[Proc] kill")
			return nil
		}
		p.lock.release()
	}
	return ErrNoProc
}
