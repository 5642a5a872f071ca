package bios

import (
	"os"
	"strings"
	"testing"

	"github.com/xs-labs/unicorn-bios-go/internal/core"
	"github.com/xs-labs/unicorn-bios-go/internal/disk"
	"github.com/xs-labs/unicorn-bios-go/internal/memmap"
)

type fakeEngine struct {
	regs    map[int]uint64
	mem     []byte
	stopped bool
}

func newFakeEngine(memSize int) *fakeEngine {
	return &fakeEngine{regs: map[int]uint64{}, mem: make([]byte, memSize)}
}

func (e *fakeEngine) Read(addr, size uint64) ([]byte, error) {
	out := make([]byte, size)
	copy(out, e.mem[addr:addr+size])
	return out, nil
}

func (e *fakeEngine) Write(addr uint64, data []byte) error {
	copy(e.mem[addr:], data)
	return nil
}

func (e *fakeEngine) RegRead(reg int) (uint64, error) { return e.regs[reg], nil }

func (e *fakeEngine) RegWrite(reg int, value uint64) error {
	e.regs[reg] = value
	return nil
}

func (e *fakeEngine) Stop() { e.stopped = true }

type fakeUI struct {
	output strings.Builder
	debug  strings.Builder
	keys   []KeyEvent
}

func (u *fakeUI) Output(s string) { u.output.WriteString(s) }
func (u *fakeUI) Debug(s string)  { u.debug.WriteString(s) }
func (u *fakeUI) WaitForKey() KeyEvent {
	if len(u.keys) == 0 {
		return KeyEvent{}
	}
	k := u.keys[0]
	u.keys = u.keys[1:]
	return k
}

func TestScenarioATeletype(t *testing.T) {
	e := newFakeEngine(0x10000)
	ui := &fakeUI{}
	d := New(e, nil, nil, ui, false)

	e.regs[core.RegAH] = 0x0E
	e.regs[core.RegAL] = 'A'

	if !d.HandleInterrupt(0x10) {
		t.Fatal("expected int 10h to be handled")
	}
	if ui.output.String() != "A" {
		t.Fatalf("output = %q, want %q", ui.output.String(), "A")
	}
}

func TestScenarioBDiskRead(t *testing.T) {
	sectors, bps := 4, 512
	raw := make([]byte, sectors*bps)
	raw[11], raw[12] = byte(bps), byte(bps>>8)
	raw[13] = 1
	raw[24], raw[25] = 18, 0 // sectors per track
	raw[26], raw[27] = 2, 0  // heads per cylinder
	raw[510], raw[511] = 0x55, 0xAA
	for i := range raw[bps:] {
		raw[bps+i] = byte(i)
	}

	f, err := os.CreateTemp(t.TempDir(), "img-*.img")
	if err != nil {
		t.Fatal(err)
	}
	f.Write(raw)
	f.Close()

	img, err := disk.Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	e := newFakeEngine(0x20000)
	ui := &fakeUI{}
	d := New(e, img, nil, ui, false)

	e.regs[core.RegAH] = 2
	e.regs[core.RegAL] = 1
	e.regs[core.RegCH] = 0
	e.regs[core.RegCL] = 2
	e.regs[core.RegDH] = 0
	e.regs[core.RegDL] = 0
	e.regs[core.RegES] = 0x1000
	e.regs[core.RegBX] = 0x0000

	if !d.HandleInterrupt(0x13) {
		t.Fatal("expected int 13h to be handled")
	}
	if e.regs[core.RegEFLAGS]&1 != 0 {
		t.Fatal("CF should be clear on success")
	}
	if e.regs[core.RegAH] != 0 {
		t.Fatalf("AH = %d, want 0", e.regs[core.RegAH])
	}
	if e.regs[core.RegAL] != 1 {
		t.Fatalf("AL = %d, want 1", e.regs[core.RegAL])
	}

	dest := 0x10000
	want := raw[bps : bps*2]
	for i := range want {
		if e.mem[dest+i] != want[i] {
			t.Fatalf("byte %d mismatch: got 0x%x want 0x%x", i, e.mem[dest+i], want[i])
		}
	}
}

func TestScenarioCE820(t *testing.T) {
	mm, err := memmap.New(4 * 1024 * 1024)
	if err != nil {
		t.Fatal(err)
	}

	e := newFakeEngine(0x10000)
	ui := &fakeUI{}
	d := New(e, nil, mm, ui, false)

	e.regs[core.RegAH] = 0xE8
	e.regs[core.RegEAX] = 0xE820
	e.regs[core.RegEBX] = 0
	e.regs[core.RegECX] = 20
	e.regs[core.RegEDX] = 0x534D4150
	e.regs[core.RegES] = 0
	e.regs[core.RegDI] = 0x8000

	if !d.HandleInterrupt(0x15) {
		t.Fatal("expected int 15h to be handled")
	}
	if e.regs[core.RegEFLAGS]&1 != 0 {
		t.Fatal("CF should be clear on success")
	}
	if e.regs[core.RegEBX] != 1 {
		t.Fatalf("EBX = %d, want 1", e.regs[core.RegEBX])
	}

	want := []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0xFC, 9, 0, 0, 0, 0, 0, 1, 0, 0, 0}
	got := e.mem[0x8000 : 0x8000+20]
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d mismatch: got 0x%x want 0x%x", i, got[i], want[i])
		}
	}

	// walk to the last entry
	for i := 0; i < mm.Len()-1; i++ {
		e.regs[core.RegAH] = 0xE8
		e.regs[core.RegEAX] = 0xE820
		e.regs[core.RegECX] = 20
		e.regs[core.RegEDX] = 0x534D4150
		d.HandleInterrupt(0x15)
	}
	if e.regs[core.RegEBX] != 0 {
		t.Fatalf("EBX on last entry = %d, want 0", e.regs[core.RegEBX])
	}
}

func TestScenarioFHalt(t *testing.T) {
	e := newFakeEngine(0x1000)
	ui := &fakeUI{}
	d := New(e, nil, nil, ui, false)

	if !d.HandleInterrupt(0x18) {
		t.Fatal("expected int 18h to be handled")
	}
	if !e.stopped {
		t.Fatal("expected engine.Stop() to be called")
	}
}

func TestKeyboardReadKey(t *testing.T) {
	e := newFakeEngine(0x1000)
	ui := &fakeUI{keys: []KeyEvent{{Scancode: 0x1C, ASCII: '\r'}}}
	d := New(e, nil, nil, ui, false)

	e.regs[core.RegAH] = 0x00
	if !d.HandleInterrupt(0x16) {
		t.Fatal("expected int 16h to be handled")
	}
	if e.regs[core.RegAH] != 0x1C || e.regs[core.RegAL] != '\r' {
		t.Fatalf("AH=0x%x AL=0x%x, want AH=0x1c AL=0x0d", e.regs[core.RegAH], e.regs[core.RegAL])
	}
}

func TestUnknownVectorUnhandled(t *testing.T) {
	e := newFakeEngine(0x1000)
	ui := &fakeUI{}
	d := New(e, nil, nil, ui, false)
	if d.HandleInterrupt(0x21) {
		t.Fatal("expected vector 0x21 to be unhandled")
	}
}
