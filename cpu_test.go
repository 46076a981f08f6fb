package kern

import "testing"

func TestRegsZeroHardwired(t *testing.T) {
	var r Regs
	r.set(RegZero, 42)
	if r.get(RegZero) != 0 {
		t.Fatal("write to x0 stuck")
	}
}

func TestRegsRoundtrip(t *testing.T) {
	var r Regs
	for i := 1; i <= 31; i++ {
		r.set(i, uint64(i)*1000)
	}
	for i := 1; i <= 31; i++ {
		if got := r.get(i); got != uint64(i)*1000 {
			t.Errorf("x%d: got %d", i, got)
		}
	}
	if r.A0 != RegA0*1000 || r.A7 != RegA7*1000 || r.T6 != RegT6*1000 {
		t.Error("register numbers do not line up with named fields")
	}
}

func TestTimerArmConsume(t *testing.T) {
	c := &Cpu{}
	if c.takeTimer() {
		t.Fatal("unarmed timer fired")
	}
	c.armTimer()
	if !c.takeTimer() {
		t.Fatal("armed timer not taken")
	}
	if c.takeTimer() {
		t.Fatal("timer taken twice")
	}
}

func TestSyscallTableComplete(t *testing.T) {
	for num := SysFork; num <= SysYield; num++ {
		if syscalls[num] == nil {
			t.Errorf("syscall %d has no handler", num)
		}
	}
}

func TestArgRegisters(t *testing.T) {
	p := &Proc{tf: &TrapFrame{}}
	p.tf.A0 = 10
	p.tf.A3 = 13
	p.tf.A5 = 15
	if argRaw(p, 0) != 10 || argRaw(p, 3) != 13 || argRaw(p, 5) != 15 {
		t.Error("argument registers misrouted")
	}
	p.tf.A1 = ^uint64(0)
	if argInt(p, 1) != -1 {
		t.Error("signed narrowing broken")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("seventh argument slot did not panic")
		}
	}()
	argRaw(p, 6)
}
