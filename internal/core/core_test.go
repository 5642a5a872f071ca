package core

import (
	"testing"
	"time"

	"github.com/xs-labs/unicorn-bios-go/internal/memmap"
	"github.com/xs-labs/unicorn-bios-go/internal/registers"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	mm, err := memmap.New(memmap.MinMemory)
	if err != nil {
		t.Fatalf("memmap.New: %v", err)
	}
	c, err := New(memmap.MinMemory, mm, DefaultConfig())
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// jmp $ : an infinite loop, for tests that need a core running until
// explicitly stopped.
var infiniteLoop = []byte{0xEB, 0xFE}

func TestStartWhileRunningReturnsFalse(t *testing.T) {
	c := newTestCore(t)
	if err := c.Write(0x1000, infiniteLoop); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !c.Start(0x1000) {
		t.Fatal("first Start should succeed")
	}
	if c.Start(0x1000) {
		t.Fatal("second Start while Running should return false")
	}

	c.Stop()
	c.WaitUntilFinished()
}

func TestStopUnblocksWaitUntilFinished(t *testing.T) {
	c := newTestCore(t)
	if err := c.Write(0x1000, infiniteLoop); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !c.Start(0x1000) {
		t.Fatal("Start should succeed")
	}

	c.Stop()

	done := make(chan struct{})
	go func() {
		c.WaitUntilFinished()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("WaitUntilFinished did not return after Stop")
	}
	if c.State() != Idle {
		t.Errorf("State() = %v, want Idle", c.State())
	}
}

func TestBeforeAfterInstructionOrdering(t *testing.T) {
	c := newTestCore(t)
	code := []byte{0x90, 0x90, 0xF4} // NOP, NOP, HLT
	if err := c.Write(0x1000, code); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var before []uint64
	var after []uint64
	c.BeforeInstruction(func(addr uint64, _ []byte) { before = append(before, addr) })
	c.AfterInstruction(func(prevAddr uint64, _ registers.File, _ []byte) { after = append(after, prevAddr) })

	if !c.Start(0x1000) {
		t.Fatal("Start should succeed")
	}
	c.WaitUntilFinished()

	if len(before) != 3 {
		t.Fatalf("before hook fired %d times, want 3: %v", len(before), before)
	}
	if before[0] != 0x1000 || before[1] != 0x1001 || before[2] != 0x1002 {
		t.Errorf("before addrs = %v", before)
	}
	// HLT is the last fetched instruction: no further fetch occurs to
	// trigger its after_instruction callback.
	if len(after) != 2 {
		t.Fatalf("after hook fired %d times, want 2: %v", len(after), after)
	}
	if after[0] != 0x1000 || after[1] != 0x1001 {
		t.Errorf("after addrs = %v", after)
	}
}

func TestCPUIDOverrideAppliesOnNextFetch(t *testing.T) {
	c := newTestCore(t)
	// CPUID (EAX starts at 0 in a fresh register file); NOP; HLT. The
	// override is applied at the NOP's fetch, one instruction after
	// CPUID itself.
	code := []byte{0x0F, 0xA2, 0x90, 0xF4}
	if err := c.Write(0x1000, code); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !c.Start(0x1000) {
		t.Fatal("Start should succeed")
	}
	c.WaitUntilFinished()

	ebx, _ := c.RegRead(RegEBX)
	edx, _ := c.RegRead(RegEDX)
	ecx, _ := c.RegRead(RegECX)

	if ebx != 0x43494E55 {
		t.Errorf("EBX = 0x%x, want 0x43494E55", ebx)
	}
	if edx != 0x2D4E524F {
		t.Errorf("EDX = 0x%x, want 0x2D4E524F", edx)
	}
	if ecx != 0x534F4942 {
		t.Errorf("ECX = 0x%x, want 0x534F4942", ecx)
	}
}

func TestUnhandledInterruptAbortsDirectly(t *testing.T) {
	c := newTestCore(t)
	// INT 0xFF (no on_interrupt handler claims it); HLT would follow
	// but must never be reached if the abort is immediate.
	code := []byte{0xCD, 0xFF, 0xF4}
	if err := c.Write(0x1000, code); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Registered handler deliberately refuses every vector, exercising
	// the "no handler returns true" branch of onIntr.
	c.OnInterrupt(func(vector uint32) bool { return false })

	var exceptionSeen bool
	c.OnException(func(err error) bool {
		exceptionSeen = true
		return true
	})

	if !c.Start(0x1000) {
		t.Fatal("Start should succeed")
	}

	done := make(chan struct{})
	go func() {
		c.WaitUntilFinished()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("emulation did not stop after an unhandled interrupt")
	}

	if c.State() != Idle {
		t.Errorf("State() = %v, want Idle", c.State())
	}
	// spec.md §7: UnhandledInterrupt aborts the emulation thread
	// directly and is never offered to on_exception, unlike
	// EngineError/InvalidMemoryAccess.
	if exceptionSeen {
		t.Error("on_exception should not fire for an unhandled interrupt")
	}
}

func TestReservedRegionGuardToggle(t *testing.T) {
	mm, err := memmap.New(memmap.MinMemory)
	if err != nil {
		t.Fatalf("memmap.New: %v", err)
	}

	t.Run("enabled raises exception", func(t *testing.T) {
		cfg := DefaultConfig()
		c, err := New(memmap.MinMemory, mm, cfg)
		if err != nil {
			t.Fatalf("core.New: %v", err)
		}
		defer c.Close()

		c.mu.Lock()
		c.state = Running
		c.mu.Unlock()

		var raised bool
		c.OnException(func(err error) bool {
			raised = true
			return true
		})

		c.onValidMem(nil, 0, 0x0009FC00, 1, 0) // inside the Reserved 0x9FC00 entry

		// No emulation goroutine exists to return the core to Idle, and
		// Close waits for Idle when the core reports Running.
		c.mu.Lock()
		c.state = Idle
		c.mu.Unlock()

		if !raised {
			t.Error("expected on_exception to fire for a write into a Reserved region")
		}
	})

	t.Run("disabled is a no-op", func(t *testing.T) {
		cfg := Config{ProtectReservedRegions: false}
		c, err := New(memmap.MinMemory, mm, cfg)
		if err != nil {
			t.Fatalf("core.New: %v", err)
		}
		defer c.Close()

		c.mu.Lock()
		c.state = Running
		c.mu.Unlock()

		var raised bool
		c.OnException(func(err error) bool {
			raised = true
			return true
		})

		c.onValidMem(nil, 0, 0x0009FC00, 1, 0)

		c.mu.Lock()
		c.state = Idle
		c.mu.Unlock()

		if raised {
			t.Error("on_exception should not fire with ProtectReservedRegions disabled")
		}
	})
}
