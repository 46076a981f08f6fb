package kern

import (
	"testing"
	"time"
)

func TestSleepWakeup(t *testing.T) {
	k := boot(t, Config{})

	var lk Spinlock
	initlock(&lk, "testcond")
	cond := 0
	done := make(chan struct{})

	if _, err := k.SpawnTask("sleeper", func(p *Proc) {
		lk.acquire()
		for cond == 0 {
			k.sleep(p, &cond, &lk)
		}
		lk.release()
		close(done)
	}); err != nil {
		t.Fatalf("spawn sleeper: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("sleeper finished before the condition was set")
	default:
	}

	if _, err := k.SpawnTask("waker", func(p *Proc) {
		lk.acquire()
		cond = 1
		lk.release()
		k.wakeup(&cond)
	}); err != nil {
		t.Fatalf("spawn waker: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("wakeup lost")
	}
}

func TestWakeupMatchesChannel(t *testing.T) {
	k := boot(t, Config{})

	var lk Spinlock
	initlock(&lk, "testcond")
	var condA, condB int
	doneA := make(chan struct{})
	doneB := make(chan struct{})

	sleeper := func(cond *int, done chan struct{}) func(*Proc) {
		return func(p *Proc) {
			lk.acquire()
			for *cond == 0 {
				k.sleep(p, cond, &lk)
			}
			lk.release()
			close(done)
		}
	}
	if _, err := k.SpawnTask("sleeperA", sleeper(&condA, doneA)); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := k.SpawnTask("sleeperB", sleeper(&condB, doneB)); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	lk.acquire()
	condA = 1
	lk.release()
	k.wakeup(&condA)

	select {
	case <-doneA:
	case <-time.After(5 * time.Second):
		t.Fatal("sleeper A not woken")
	}
	select {
	case <-doneB:
		t.Fatal("sleeper B woken on the wrong channel")
	case <-time.After(20 * time.Millisecond):
	}

	lk.acquire()
	condB = 1
	lk.release()
	k.wakeup(&condB)
	select {
	case <-doneB:
	case <-time.After(5 * time.Second):
		t.Fatal("sleeper B not woken")
	}
}

// Two kernel tasks alternate strictly through sleep/wakeup. Any lost
// wakeup deadlocks the pair and trips the timeout.
func TestSleepWakeupPingPong(t *testing.T) {
	k := boot(t, Config{})

	const rounds = 500
	var lk Spinlock
	initlock(&lk, "turn")
	turn := 0
	done := make(chan struct{})

	if _, err := k.SpawnTask("ping", func(p *Proc) {
		lk.acquire()
		for i := 0; i < rounds; i++ {
			for turn != 0 {
				k.sleep(p, &turn, &lk)
			}
			turn = 1
			k.wakeup(&turn)
		}
		lk.release()
		close(done)
	}); err != nil {
		t.Fatalf("spawn ping: %v", err)
	}
	if _, err := k.SpawnTask("pong", func(p *Proc) {
		lk.acquire()
		for i := 0; i < rounds; i++ {
			for turn != 1 {
				k.sleep(p, &turn, &lk)
			}
			turn = 0
			k.wakeup(&turn)
		}
		lk.release()
	}); err != nil {
		t.Fatalf("spawn pong: %v", err)
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("ping-pong deadlocked")
	}
}

func TestClockSleepBlocksForTicks(t *testing.T) {
	k := boot(t, Config{TickInterval: time.Millisecond})

	slept := make(chan uint64, 1)
	if _, err := k.SpawnTask("napper", func(p *Proc) {
		start := k.Uptime()
		if err := k.clockSleep(p, 3); err != nil {
			slept <- 0
			return
		}
		slept <- k.Uptime() - start
	}); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	select {
	case d := <-slept:
		if d < 3 {
			t.Errorf("slept %d ticks, want at least 3", d)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("clock sleep never returned")
	}
}
