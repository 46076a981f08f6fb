package kern

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// NPROC is the default size of the process table.
const NPROC = 64

// Config sizes the machine. Zero values take the defaults.
type Config struct {
	CPUs         int           // scheduler loops to run, default 2
	Procs        int           // process table slots, default NPROC
	Pages        int           // physical page budget, default 1024
	TickInterval time.Duration // clock interrupt period, default 1ms
}

func (cfg *Config) fillDefaults() {
	if cfg.CPUs <= 0 {
		cfg.CPUs = 2
	}
	if cfg.Procs <= 0 {
		cfg.Procs = NPROC
	}
	if cfg.Pages <= 0 {
		cfg.Pages = 1024
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Millisecond
	}
}

// Kernel owns every piece of machine and kernel state: CPUs, the
// process table, the page pool, the interrupt controller, the console
// and the open-file table. One Kernel is one booted machine.
type Kernel struct {
	cfg  Config
	cpus []*Cpu

	procs   []*Proc
	nextPid int
	pidLock Spinlock

	// waitLock orders wakeups against waits and guards every parent
	// pointer in the process table.
	waitLock Spinlock

	ticks     uint64
	ticksLock Spinlock

	pages  *pagePool
	kpt    *PageTable
	plic   *Plic
	cons   *Console
	ftable *ftable

	initProc *Proc

	loader   Loader
	imageMu  sync.Mutex
	images   []Image

	stop      int32
	stopTimer chan struct{}
	wg        sync.WaitGroup
}

// New assembles a stopped machine from cfg. Nothing runs until Start.
func New(cfg Config) *Kernel {
	cfg.fillDefaults()

	k := &Kernel{
		cfg:       cfg,
		nextPid:   1,
		pages:     newPagePool(cfg.Pages),
		kpt:       newPageTable(),
		plic:      newPlic(),
		ftable:    newFtable(),
		loader:    imageLoader{},
		stopTimer: make(chan struct{}),
	}
	k.cons = newConsole(k)

	initlock(&k.pidLock, "nextpid")
	initlock(&k.waitLock, "wait")
	initlock(&k.ticksLock, "time")

	k.kpt.mapPage(TRAMPOLINE, trampolinePage, PTE_R|PTE_X)

	for i := 0; i < cfg.CPUs; i++ {
		c := &Cpu{id: i, satp: k.kpt}
		c.scheduler.init(nil)
		k.cpus = append(k.cpus, c)
	}

	for i := 0; i < cfg.Procs; i++ {
		p := &Proc{idx: i}
		initlock(&p.lock, "proc")
		k.procs = append(k.procs, p)
	}

	return k
}

// Start boots the machine: one scheduler goroutine per CPU, the clock,
// and the init process. Safe to call once.
func (k *Kernel) Start() error {
	p, err := k.allocProc()
	if err != nil {
		return err
	}
	p.name = "init"
	p.task = k.initTask
	k.initProc = p
	p.state = StateRunnable
	p.lock.release()

	for _, c := range k.cpus {
		k.wg.Add(1)
		go k.scheduler(c)
	}

	k.wg.Add(1)
	go k.clock()

	log.WithFields(log.Fields{
		"cpus":  len(k.cpus),
		"procs": len(k.procs),
	}).Info("[Kern] kernel started")
	return nil
}

// clock is the machine's timer: every tick interval it arms a timer
// interrupt on every CPU. Delivery happens at the CPUs' own pace.
func (k *Kernel) clock() {
	defer k.wg.Done()
	ticker := time.NewTicker(k.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, c := range k.cpus {
				c.armTimer()
			}
		case <-k.stopTimer:
			return
		}
	}
}

// Shutdown stops the scheduler loops and the clock. Processes parked
// in a context switch or a sleep stay parked; the machine is simply
// powered off around them.
func (k *Kernel) Shutdown() {
	if !atomic.CompareAndSwapInt32(&k.stop, 0, 1) {
		return
	}
	close(k.stopTimer)
	log.Info("[Kern] shutdown requested")
}

// Wait blocks until the scheduler loops and the clock have exited.
func (k *Kernel) Wait() {
	k.wg.Wait()
}

func (k *Kernel) stopping() bool {
	return atomic.LoadInt32(&k.stop) != 0
}

// Uptime returns the tick count since boot.
func (k *Kernel) Uptime() uint64 {
	k.ticksLock.acquire()
	t := k.ticks
	k.ticksLock.release()
	return t
}

// Console returns the machine's console device.
func (k *Kernel) Console() *Console {
	return k.cons
}

// RegisterImage makes a program image available to exec and SpawnUser,
// returning the index exec addresses it by.
func (k *Kernel) RegisterImage(img Image) int {
	k.imageMu.Lock()
	k.images = append(k.images, img)
	idx := len(k.images) - 1
	k.imageMu.Unlock()
	return idx
}

func (k *Kernel) image(idx int) (Image, error) {
	k.imageMu.Lock()
	defer k.imageMu.Unlock()
	if idx < 0 || idx >= len(k.images) {
		return Image{}, ErrNoImage
	}
	return k.images[idx], nil
}

// SpawnTask creates a process that runs fn in kernel mode and exits
// when it returns. Used for kernel services and for tests that need a
// flow inside the scheduling machinery without a user program.
func (k *Kernel) SpawnTask(name string, fn func(*Proc)) (*Proc, error) {
	p, err := k.allocProc()
	if err != nil {
		return nil, err
	}
	p.name = name
	p.task = fn
	p.lock.release()

	k.waitLock.acquire()
	p.parent = k.initProc
	k.waitLock.release()

	p.lock.acquire()
	p.state = StateRunnable
	p.lock.release()

	log.WithField("proc", p.String()).Info("[Kern] kernel task spawned")
	return p, nil
}

// SpawnUser creates a user process from an image, with the console
// open on descriptors 0 and 1, parented to init.
func (k *Kernel) SpawnUser(img Image) (*Proc, error) {
	p, err := k.allocProc()
	if err != nil {
		return nil, err
	}

	tf := &TrapFrame{}
	as, err := newAddressSpace(k.pages, tf, img.MemBytes)
	if err != nil {
		k.freeProc(p)
		p.lock.release()
		return nil, err
	}
	if err := k.loader.Load(as, img); err != nil {
		as.free()
		k.freeProc(p)
		p.lock.release()
		return nil, err
	}
	p.tf = tf
	p.as = as
	p.name = img.Name
	tf.Epc = 0
	tf.Sp = uint64(img.MemBytes)
	p.lock.release()

	f, err := k.fileAlloc()
	if err != nil {
		p.lock.acquire()
		k.freeProc(p)
		p.lock.release()
		return nil, err
	}
	f.typ = fdDevice
	f.dev = k.cons
	f.readable = true
	f.writable = true
	p.ofile[0] = f
	p.ofile[1] = k.fileDup(f)

	k.waitLock.acquire()
	p.parent = k.initProc
	k.waitLock.release()

	p.lock.acquire()
	p.state = StateRunnable
	p.lock.release()

	log.WithField("proc", p.String()).Info("[Kern] user process spawned")
	return p, nil
}

// initTask is pid 1: it reaps whatever gets reparented to it, forever.
// It holds no children's fate beyond collecting their exit status; the
// loop sleeps whenever there is nothing to collect.
func (k *Kernel) initTask(p *Proc) {
	k.waitLock.acquire()
	for {
		pid, xstate, err := k.reap(p, 0)
		if err == nil {
			log.WithFields(log.Fields{
				"pid":    pid,
				"status": xstate,
			}).Debug("[Kern] init reaped orphan")
			continue
		}
		// Nothing to collect right now. exit and reparent both wake
		// the parent, so sleeping on ourselves under waitLock cannot
		// miss a child.
		k.sleep(p, p, &k.waitLock)
	}
}
