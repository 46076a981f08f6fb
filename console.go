package kern

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

const consBufSize = 128

// Console is the one device the kernel drives end to end. Input is
// interrupt-driven: bytes injected on the hardware side raise
// UART0_IRQ through the interrupt controller, and the interrupt
// handler drains them into the cooked buffer and wakes sleeping
// readers. Output is a plain observable buffer.
type Console struct {
	k *Kernel

	// hardware receive side: the uart's FIFO, owned by "the wire"
	mu sync.Mutex
	rx []byte

	lock Spinlock
	buf  [consBufSize]byte
	r, w uint32

	out []byte
}

func newConsole(k *Kernel) *Console {
	cons := &Console{k: k}
	initlock(&cons.lock, "cons")
	return cons
}

// Inject places bytes on the console's receive line and raises the
// device's interrupt, as an external typist would.
func (cons *Console) Inject(s string) {
	cons.mu.Lock()
	cons.rx = append(cons.rx, s...)
	cons.mu.Unlock()
	cons.k.plic.raise(UART0_IRQ)
	log.WithField("bytes", len(s)).Debug("[Cons] input injected")
}

// Output returns everything user processes have written so far.
func (cons *Console) Output() string {
	cons.lock.acquire()
	out := string(cons.out)
	cons.lock.release()
	return out
}

// intr is the console's interrupt handler, run from the trap
// dispatcher between claim and complete: move received bytes into the
// cooked buffer and wake any reader sleeping on it.
func (cons *Console) intr() {
	cons.mu.Lock()
	rx := cons.rx
	cons.rx = nil
	cons.mu.Unlock()

	cons.lock.acquire()
	for _, b := range rx {
		if cons.w-cons.r < consBufSize {
			cons.buf[cons.w%consBufSize] = b
			cons.w++
		}
	}
	cons.lock.release()
	cons.k.wakeup(&cons.r)
}

// read blocks until input is available, then copies up to n bytes into
// the process's memory at addr.
func (cons *Console) read(k *Kernel, p *Proc, addr uint64, n int) (int, error) {
	cons.lock.acquire()
	for cons.r == cons.w {
		if p.Killed() {
			cons.lock.release()
			return 0, ErrKilled
		}
		k.sleep(p, &cons.r, &cons.lock)
	}
	// consume a byte only after it has been copied out, so a bad
	// address does not drop input
	i := 0
	for i < n && cons.r != cons.w {
		b := cons.buf[cons.r%consBufSize]
		if err := p.as.writeBytes(addr+uint64(i), []byte{b}); err != nil {
			if i == 0 {
				cons.lock.release()
				return 0, err
			}
			break
		}
		cons.r++
		i++
	}
	cons.lock.release()
	return i, nil
}

// write copies n bytes out of the process's memory at addr into the
// console output.
func (cons *Console) write(k *Kernel, p *Proc, addr uint64, n int) (int, error) {
	src, err := p.as.readBytes(addr, n)
	if err != nil {
		return 0, err
	}
	cons.lock.acquire()
	cons.out = append(cons.out, src...)
	cons.lock.release()
	return n, nil
}
