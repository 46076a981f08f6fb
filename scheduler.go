package kern

import (
	"runtime"

	log "github.com/sirupsen/logrus"
)

// scheduler is the per-CPU control loop. Each iteration enables
// interrupts (devices must stay serviceable while idle), looks for a
// runnable process, and switches into it; when the process switches
// back (yield, sleep or exit) control lands right after the swtch and
// the loop goes around again. It runs until shutdown.
func (k *Kernel) scheduler(c *Cpu) {
	defer k.wg.Done()
	log.WithField("cpu", c.id).Info("[Sched] scheduler running")

	for !k.stopping() {
		c.intrOn()

		p := k.findRunnable(c)
		if p == nil {
			// Nothing to run: take interrupts here in the scheduler,
			// since a device or clock tick is the only thing that can
			// make a process runnable again.
			k.idleIntr(c)
			runtime.Gosched()
			continue
		}

		// p.lock held, state RUNNABLE. The lock stays held across the
		// whole switch; the process releases it after it resumes.
		p.state = StateRunning
		p.cpu = c
		c.proc = p
		log.WithFields(log.Fields{
			"cpu":  c.id,
			"proc": p.String(),
		}).Trace("[Sched] switch in")

		swtch(&c.scheduler, &p.context)

		// The process switched back out on this CPU. If the slot no
		// longer names it, some path lost track of who was running;
		// scheduling anything further would corrupt unrelated
		// processes, so stop dead.
		if c.proc != p {
			panic("scheduler: current process lost across context switch")
		}
		c.proc = nil
		p.cpu = nil
		p.lock.release()
	}
	log.WithField("cpu", c.id).Info("[Sched] scheduler stopped")
}

// sched switches from the current process back to this CPU's
// scheduler context. The caller holds p.lock, has already moved the
// process out of RUNNING, and gets the lock back (conceptually: keeps
// it) when the process is next resumed.
func (k *Kernel) sched(p *Proc) {
	if !p.lock.holding() {
		panic("sched: proc lock not held")
	}
	if p.state == StateRunning {
		panic("sched: process still running")
	}
	c := p.cpu
	if c == nil || c.proc != p {
		panic("sched: process not current on its cpu")
	}
	swtch(&p.context, &c.scheduler)
	// Resumed: some scheduler switched back into us and transferred
	// p.lock with the control flow.
}

// yield gives up the CPU voluntarily; the process stays RUNNABLE.
func (k *Kernel) yield(p *Proc) {
	p.lock.acquire()
	if p.state != StateRunning {
		panic("yield: process not running")
	}
	p.state = StateRunnable
	k.sched(p)
	p.lock.release()
}

// sleep blocks the process on channel. The caller holds lk, the lock
// protecting the condition it just checked. The process lock is
// acquired before lk is released, and this ordering is the whole point:
// once we hold our own lock, a concurrent wakeup(channel) cannot run
// until we are fully SLEEPING, so the wakeup cannot be lost. lk is
// reacquired before returning, so callers can recheck their condition.
func (k *Kernel) sleep(p *Proc, channel interface{}, lk *Spinlock) {
	if channel == nil {
		panic("sleep: nil channel")
	}
	p.lock.acquire()
	lk.release()

	if p.state != StateRunning {
		panic("sleep: process not running")
	}
	p.wchan = channel
	p.state = StateSleeping

	k.sched(p)

	p.wchan = nil
	p.lock.release()
	lk.acquire()
}

// wakeup makes every process sleeping on channel RUNNABLE. It takes
// only the targets' locks, never the caller's, so any context may call
// it, interrupt handlers included.
func (k *Kernel) wakeup(channel interface{}) {
	for _, p := range k.procs {
		p.lock.acquire()
		if p.state == StateSleeping && p.wchan == channel {
			p.wchan = nil
			p.state = StateRunnable
		}
		p.lock.release()
	}
}
