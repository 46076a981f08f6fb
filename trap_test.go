package kern

import (
	"testing"
)

func TestBadInstructionKillsProcess(t *testing.T) {
	k := boot(t, Config{})
	bad := Image{
		Name:     "bad",
		Text:     []Instr{Nop(), Instr{Op: Op(99)}},
		MemBytes: 4096,
	}
	p, err := k.SpawnUser(bad)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitUntil(t, "faulting process reaped", func() bool {
		return procState(p) == StateUnused
	})
}

func TestRunOffTextKillsProcess(t *testing.T) {
	k := boot(t, Config{})
	// falls off the end of its text: instruction fetch faults
	off := Image{
		Name:     "off",
		Text:     []Instr{Nop(), Nop()},
		MemBytes: 4096,
	}
	p, err := k.SpawnUser(off)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitUntil(t, "runaway process reaped", func() bool {
		return procState(p) == StateUnused
	})
}

func TestUnknownIrqCompleted(t *testing.T) {
	k := boot(t, Config{})
	// a line no handler claims ownership of must still be completed,
	// or the controller wedges
	k.plic.raise(77)
	waitUntil(t, "stray interrupt drained", func() bool {
		return !k.plic.pending()
	})
	k.plic.mu.Lock()
	claimed := len(k.plic.claimed)
	k.plic.mu.Unlock()
	if claimed != 0 {
		t.Error("stray interrupt left claimed")
	}
}

func TestSyscallResumesAfterEcall(t *testing.T) {
	k := boot(t, Config{})
	// getpid twice in a row: if the saved pc were not advanced past
	// the ecall, the program would re-trap forever and never exit.
	prog := Image{
		Name: "twice",
		Text: []Instr{
			Li(RegA7, SysGetpid),
			Ecall(),
			Mv(RegS0, RegA0),
			Li(RegA7, SysGetpid),
			Ecall(),
			Bne(RegA0, RegS0, 36), // differing pids: fail path at 9
			Li(RegT0, 'E'),
			St(RegT0, RegZero, 0),
			Jmp(44), // report at 11
			Li(RegT0, 'x'),
			St(RegT0, RegZero, 0),
			Li(RegA0, 1),
			Li(RegA1, 0),
			Li(RegA2, 1),
			Li(RegA7, SysWrite),
			Ecall(),
			Li(RegA0, 0),
			Li(RegA7, SysExit),
			Ecall(),
		},
		MemBytes: 4096,
	}
	if _, err := k.SpawnUser(prog); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitUntil(t, "pid report", func() bool {
		out := k.Console().Output()
		return out == "E" || out == "x"
	})
	if out := k.Console().Output(); out != "E" {
		t.Fatalf("pid changed across calls: output %q", out)
	}
}
