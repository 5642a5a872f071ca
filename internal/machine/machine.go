// Package machine wires the Execution Core, the BIOS dispatch table,
// the debug supervisor, and the UI bridge into a single runnable unit,
// and owns the boot sequence: load image, seed memory, start core.
package machine

import (
	"github.com/google/uuid"

	"github.com/xs-labs/unicorn-bios-go/internal/bios"
	"github.com/xs-labs/unicorn-bios-go/internal/core"
	"github.com/xs-labs/unicorn-bios-go/internal/debugsup"
	"github.com/xs-labs/unicorn-bios-go/internal/disasm"
	"github.com/xs-labs/unicorn-bios-go/internal/disk"
	"github.com/xs-labs/unicorn-bios-go/internal/log"
	"github.com/xs-labs/unicorn-bios-go/internal/memmap"
	"github.com/xs-labs/unicorn-bios-go/internal/registers"
	"github.com/xs-labs/unicorn-bios-go/internal/uberr"
)

// BootAddress is the conventional real-mode boot sector load address.
const BootAddress = 0x7C00

// UI is the subset of ui.Bridge the machine needs, kept as an
// interface so internal/ui doesn't need to be imported by tests that
// supply a fake.
type UI interface {
	bios.UI
	debugsup.UI
	UpdateRegisters(registers.File)
	UpdateDisassembly(addr uint64, line string)
	Stop()
}

// Options configures a Machine at construction.
type Options struct {
	MemoryBytes            uint64
	BootImagePath          string
	BreakOnInterrupt       bool
	BreakOnInterruptReturn bool
	Trap                   bool
	SingleStep             bool
	DebugVideo             bool
	Breakpoints            []uint64
	ProtectReservedRegions bool
}

// Machine owns the Execution Core, BIOS dispatch, debug supervisor and
// UI bridge, breaking the cyclic-reference risk between the core and
// its callback-registered subsystems by holding exclusive ownership of
// all three itself and passing them non-owning function values.
type Machine struct {
	SessionID string

	core     *core.Core
	mm       *memmap.Map
	dispatch *bios.Dispatch
	debug    *debugsup.Supervisor
	ui       UI
	image    *disk.Image

	log *log.Logger
}

// New constructs a Machine: builds the memory map, the execution core,
// loads the boot image (if any) and writes its MBR at BootAddress,
// and wires every hook.
func New(opts Options, ui UI) (*Machine, error) {
	mm, err := memmap.New(opts.MemoryBytes)
	if err != nil {
		return nil, err
	}

	cfg := core.DefaultConfig()
	cfg.ProtectReservedRegions = opts.ProtectReservedRegions

	c, err := core.New(opts.MemoryBytes, mm, cfg)
	if err != nil {
		return nil, err
	}

	var img *disk.Image
	if opts.BootImagePath != "" {
		img, err = disk.Open(opts.BootImagePath)
		if err != nil {
			c.Close()
			return nil, err
		}
		if err := c.Write(BootAddress, img.MBR().Data()); err != nil {
			c.Close()
			return nil, err
		}
	}

	dispatch := bios.New(c, img, mm, ui, opts.DebugVideo)
	sup := debugsup.New(ui)
	sup.SetBreakOnInterrupt(opts.BreakOnInterrupt)
	sup.SetBreakOnInterruptReturn(opts.BreakOnInterruptReturn)
	sup.SetTrap(opts.Trap)
	sup.SetSingleStep(opts.SingleStep)
	for _, addr := range opts.Breakpoints {
		sup.AddBreakpoint(addr)
	}

	m := &Machine{
		SessionID: uuid.New().String(),
		core:      c,
		mm:        mm,
		dispatch:  dispatch,
		debug:     sup,
		ui:        ui,
		image:     img,
		log:       log.Category(log.CategoryMachine),
	}

	c.OnInterrupt(sup.WrapInterrupt(dispatch.HandleInterrupt))
	c.BeforeInstruction(sup.BeforeInstruction)
	c.BeforeInstruction(m.reportBeforeInstruction)
	c.OnException(m.reportException)

	return m, nil
}

func (m *Machine) reportBeforeInstruction(addr uint64, raw []byte) {
	line := disasm.Decode(addr, raw, m.core.Mode())
	m.ui.UpdateDisassembly(addr, line.Text)
	if regs, err := m.core.Registers(); err == nil {
		m.ui.UpdateRegisters(regs)
	}
}

// reportException handles EngineError/InvalidMemoryAccess, the two
// kinds ExecutionCore offers to on_exception (spec.md §7);
// UnhandledInterrupt aborts the emulation thread directly and never
// reaches here.
func (m *Machine) reportException(err error) bool {
	if m.log != nil {
		m.log.Warn("engine exception", log.Err(err))
	}
	m.ui.Debug("[ BREAK ]> " + err.Error())
	return true
}

// Run boots the machine at BootAddress and blocks until the emulation
// thread returns to Idle.
func (m *Machine) Run() error {
	if !m.core.Start(BootAddress) {
		return &uberr.ConfigError{Reason: "machine is already running"}
	}
	m.core.WaitUntilFinished()
	return nil
}

// Stop requests the emulation thread to exit and unblocks the UI.
func (m *Machine) Stop() {
	m.core.Stop()
	m.ui.Stop()
}

// Close releases the execution core's engine handle.
func (m *Machine) Close() error {
	return m.core.Close()
}

// MemoryMap exposes the machine's memory map, e.g. for a UI pane.
func (m *Machine) MemoryMap() *memmap.Map { return m.mm }

// Breakpoints exposes the current breakpoint set.
func (m *Machine) Breakpoints() []uint64 { return m.debug.Breakpoints() }
