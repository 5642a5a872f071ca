// Package core implements the Execution Core: the engine wrapper that
// owns the emulator handle, the flat physical memory, hook dispatch,
// the concurrency contract between the emulation thread and the
// controlling supervisor, and CPU-mode transitions.
package core

import (
	"fmt"
	"sync"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/xs-labs/unicorn-bios-go/internal/log"
	"github.com/xs-labs/unicorn-bios-go/internal/memmap"
	"github.com/xs-labs/unicorn-bios-go/internal/registers"
	"github.com/xs-labs/unicorn-bios-go/internal/uberr"
)

// State is the ExecutionCore's run state.
type State int

const (
	Idle State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Register IDs, re-exported from the underlying engine's x86 constants
// for convenience at call sites that don't want to import the engine
// binding directly.
const (
	RegAL  = uc.X86_REG_AL
	RegAH  = uc.X86_REG_AH
	RegAX  = uc.X86_REG_AX
	RegEAX = uc.X86_REG_EAX
	RegRAX = uc.X86_REG_RAX

	RegBL  = uc.X86_REG_BL
	RegBH  = uc.X86_REG_BH
	RegBX  = uc.X86_REG_BX
	RegEBX = uc.X86_REG_EBX
	RegRBX = uc.X86_REG_RBX

	RegCL  = uc.X86_REG_CL
	RegCH  = uc.X86_REG_CH
	RegCX  = uc.X86_REG_CX
	RegECX = uc.X86_REG_ECX
	RegRCX = uc.X86_REG_RCX

	RegDL  = uc.X86_REG_DL
	RegDH  = uc.X86_REG_DH
	RegDX  = uc.X86_REG_DX
	RegEDX = uc.X86_REG_EDX
	RegRDX = uc.X86_REG_RDX

	RegSI  = uc.X86_REG_SI
	RegESI = uc.X86_REG_ESI
	RegRSI = uc.X86_REG_RSI
	RegDI  = uc.X86_REG_DI
	RegEDI = uc.X86_REG_EDI
	RegRDI = uc.X86_REG_RDI
	RegSP  = uc.X86_REG_SP
	RegESP = uc.X86_REG_ESP
	RegRSP = uc.X86_REG_RSP
	RegBP  = uc.X86_REG_BP
	RegEBP = uc.X86_REG_EBP
	RegRBP = uc.X86_REG_RBP

	RegIP  = uc.X86_REG_IP
	RegEIP = uc.X86_REG_EIP
	RegRIP = uc.X86_REG_RIP

	RegCS = uc.X86_REG_CS
	RegDS = uc.X86_REG_DS
	RegES = uc.X86_REG_ES
	RegFS = uc.X86_REG_FS
	RegGS = uc.X86_REG_GS
	RegSS = uc.X86_REG_SS

	RegEFLAGS = uc.X86_REG_EFLAGS

	RegR8  = uc.X86_REG_R8
	RegR9  = uc.X86_REG_R9
	RegR10 = uc.X86_REG_R10
	RegR11 = uc.X86_REG_R11
	RegR12 = uc.X86_REG_R12
	RegR13 = uc.X86_REG_R13
	RegR14 = uc.X86_REG_R14
	RegR15 = uc.X86_REG_R15
)

// Config controls optional guard behaviour not fixed by the ABI.
type Config struct {
	// ProtectReservedRegions, when true (the default), raises
	// InvalidMemoryAccess for a write or fetch that intersects a
	// Reserved or ACPI memmap entry while Running. See DESIGN.md's
	// Open Question note.
	ProtectReservedRegions bool
}

// DefaultConfig returns the recommended Config.
func DefaultConfig() Config {
	return Config{ProtectReservedRegions: true}
}

type pendingInsn struct {
	addr    uint64
	bytes   []byte
	preRegs registers.File
}

// Core owns the unicorn engine handle, the flat memory mapping, and
// the hook dispatch table described in spec.md §4.1.
type Core struct {
	mu   sync.Mutex
	cond *sync.Cond

	memSize uint64
	mode    registers.Mode
	mm      *memmap.Map
	cfg     Config

	uc    uc.Unicorn
	state State

	clog *log.Logger

	onStart            []func()
	onStop             []func()
	onInterrupt        []func(vector uint32) bool
	onException        []func(err error) bool
	onInvalidMemAccess []func(addr, size uint64)
	onValidMemAccess   []func(addr, size uint64)
	beforeInstruction  []func(addr uint64, bytes []byte)
	afterInstruction   []func(prevAddr uint64, prevRegs registers.File, prevBytes []byte)

	pending *pendingInsn
}

func modeFlag(m registers.Mode) int {
	switch m {
	case registers.Protected:
		return uc.MODE_32
	case registers.Long:
		return uc.MODE_64
	default:
		return uc.MODE_16
	}
}

// New creates an ExecutionCore with a fresh engine handle in Real mode,
// maps memSize bytes of RWX memory from address 0, and installs the
// internal hooks (code dispatch, CPUID override, interrupt routing
// entry point).
func New(memSize uint64, mm *memmap.Map, cfg Config) (*Core, error) {
	handle, err := uc.NewUnicorn(uc.ARCH_X86, modeFlag(registers.Real))
	if err != nil {
		return nil, &uberr.EngineError{Diagnostic: err.Error()}
	}

	c := &Core{
		memSize: memSize,
		mode:    registers.Real,
		mm:      mm,
		cfg:     cfg,
		uc:      handle,
		state:   Idle,
		clog:    log.Category(log.CategoryCore),
	}
	c.cond = sync.NewCond(&c.mu)

	if err := c.mapMemory(handle, memSize); err != nil {
		handle.Close()
		return nil, err
	}
	if err := c.installHooks(handle); err != nil {
		handle.Close()
		return nil, err
	}

	return c, nil
}

func (c *Core) mapMemory(handle uc.Unicorn, size uint64) error {
	if err := handle.MemMap(0, size); err != nil {
		return &uberr.EngineError{Diagnostic: fmt.Sprintf("map memory: %s", err)}
	}
	return nil
}

func (c *Core) installHooks(handle uc.Unicorn) error {
	if _, err := handle.HookAdd(uc.HOOK_CODE, c.onCode, 1, 0); err != nil {
		return &uberr.EngineError{Diagnostic: err.Error()}
	}
	if _, err := handle.HookAdd(uc.HOOK_INTR, c.onIntr, 1, 0); err != nil {
		return &uberr.EngineError{Diagnostic: err.Error()}
	}
	if _, err := handle.HookAdd(uc.HOOK_MEM_INVALID, c.onInvalidMem, 1, 0); err != nil {
		return &uberr.EngineError{Diagnostic: err.Error()}
	}
	if _, err := handle.HookAdd(uc.HOOK_MEM_WRITE|uc.HOOK_MEM_FETCH, c.onValidMem, 1, 0); err != nil {
		return &uberr.EngineError{Diagnostic: err.Error()}
	}
	return nil
}

// --- Hook registration ---

func (c *Core) OnStart(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStart = append(c.onStart, fn)
}

func (c *Core) OnStop(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStop = append(c.onStop, fn)
}

func (c *Core) OnInterrupt(fn func(vector uint32) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onInterrupt = append(c.onInterrupt, fn)
}

func (c *Core) OnException(fn func(err error) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onException = append(c.onException, fn)
}

func (c *Core) OnInvalidMemoryAccess(fn func(addr, size uint64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onInvalidMemAccess = append(c.onInvalidMemAccess, fn)
}

func (c *Core) OnValidMemoryAccess(fn func(addr, size uint64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onValidMemAccess = append(c.onValidMemAccess, fn)
}

func (c *Core) BeforeInstruction(fn func(addr uint64, bytes []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforeInstruction = append(c.beforeInstruction, fn)
}

func (c *Core) AfterInstruction(fn func(prevAddr uint64, prevRegs registers.File, prevBytes []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterInstruction = append(c.afterInstruction, fn)
}

// copy helpers: snapshot a hook list under lock, then release before
// invoking, so a hook body may call back into guarded Core methods
// (RegRead, Write, ...) or register new hooks without deadlocking.

func (c *Core) snapshotStart() []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(), len(c.onStart))
	copy(out, c.onStart)
	return out
}

func (c *Core) snapshotStop() []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(), len(c.onStop))
	copy(out, c.onStop)
	return out
}

func (c *Core) snapshotInterrupt() []func(uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(uint32) bool, len(c.onInterrupt))
	copy(out, c.onInterrupt)
	return out
}

func (c *Core) snapshotException() []func(error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(error) bool, len(c.onException))
	copy(out, c.onException)
	return out
}

func (c *Core) snapshotInvalidMem() []func(uint64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(uint64, uint64), len(c.onInvalidMemAccess))
	copy(out, c.onInvalidMemAccess)
	return out
}

func (c *Core) snapshotValidMem() []func(uint64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(uint64, uint64), len(c.onValidMemAccess))
	copy(out, c.onValidMemAccess)
	return out
}

func (c *Core) snapshotBefore() []func(uint64, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(uint64, []byte), len(c.beforeInstruction))
	copy(out, c.beforeInstruction)
	return out
}

func (c *Core) snapshotAfter() []func(uint64, registers.File, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(uint64, registers.File, []byte), len(c.afterInstruction))
	copy(out, c.afterInstruction)
	return out
}

// --- Engine hook callbacks ---

func (c *Core) onCode(mu uc.Unicorn, addr uint64, size uint32) {
	c.mu.Lock()
	stopped := c.state != Running
	c.mu.Unlock()
	if stopped {
		mu.Stop()
		return
	}

	raw, err := mu.MemRead(addr, uint64(size))
	if err != nil {
		raw = nil
	}

	for _, h := range c.snapshotBefore() {
		h(addr, raw)
	}

	curRegs, _ := c.Registers()

	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()

	if pending != nil {
		for _, h := range c.snapshotAfter() {
			h(pending.addr, curRegs, pending.bytes)
		}
		if c.applyCPUIDOverride(pending, curRegs) {
			curRegs, _ = c.Registers()
		}
	}

	c.mu.Lock()
	c.pending = &pendingInsn{addr: addr, bytes: raw, preRegs: curRegs}
	c.mu.Unlock()
}

func (c *Core) onIntr(mu uc.Unicorn, intno uint32) {
	for _, h := range c.snapshotInterrupt() {
		if h(intno) {
			return
		}
	}
	// Per spec.md §7, UnhandledInterrupt aborts the emulation thread
	// directly: unlike EngineError/InvalidMemoryAccess it is never
	// routed through on_exception, so no handler can paper over a
	// vector nothing claimed.
	err := &uberr.UnhandledInterrupt{Vector: intno}
	if c.clog != nil {
		c.clog.Warn("unhandled interrupt, stopping", log.Err(err), log.Vector(intno))
	}
	c.Stop()
}

func (c *Core) onInvalidMem(mu uc.Unicorn, access int, addr uint64, size int, value int64) bool {
	for _, h := range c.snapshotInvalidMem() {
		h(addr, uint64(size))
	}
	err := &uberr.InvalidMemoryAccess{Address: addr, Size: uint64(size)}
	for _, h := range c.snapshotException() {
		if h(err) {
			return true
		}
	}
	return false
}

func (c *Core) onValidMem(mu uc.Unicorn, access int, addr uint64, size int, value int64) {
	for _, h := range c.snapshotValidMem() {
		h(addr, uint64(size))
	}

	if !c.cfg.ProtectReservedRegions || c.mm == nil {
		return
	}

	c.mu.Lock()
	running := c.state == Running
	c.mu.Unlock()
	if !running {
		return
	}

	if c.mm.Intersects(addr, uint64(size), memmap.Reserved) || c.mm.Intersects(addr, uint64(size), memmap.ACPI) {
		err := &uberr.InvalidMemoryAccess{Address: addr, Size: uint64(size)}
		for _, h := range c.snapshotException() {
			if h(err) {
				return
			}
		}
		c.Stop()
	}
}

// raiseFatal funnels an EngineError through on_exception; if no
// handler claims it, the error is logged and the core is stopped. It
// runs on the emulation goroutine after the engine's start call has
// returned; the error is not passed back to Start's caller, which only
// receives Start's boolean result.
// UnhandledInterrupt never reaches here: per spec.md §7 it aborts
// directly (see onIntr) rather than being offered to on_exception.
func (c *Core) raiseFatal(err error) {
	for _, h := range c.snapshotException() {
		if h(err) {
			return
		}
	}
	if c.clog != nil {
		c.clog.Warn("fatal engine error, stopping", log.Err(err))
	}
	c.Stop()
}

func (c *Core) applyCPUIDOverride(p *pendingInsn, cur registers.File) bool {
	if len(p.bytes) < 2 {
		return false
	}
	op := p.bytes[len(p.bytes)-2:]
	if op[0] != 0x0F || op[1] != 0xA2 {
		return false
	}

	preEAX := p.preRegs.EAX()
	switch preEAX {
	case 0:
		c.RegWrite(RegEBX, 0x43494E55) // "UNIC"
		c.RegWrite(RegEDX, 0x2D4E524F) // "ORN-"
		c.RegWrite(RegECX, 0x534F4942) // "BIOS"
	case 0x80000000:
		c.RegWrite(RegEAX, 0x80000001)
	case 0x80000001:
		v, _ := c.RegRead(RegEDX)
		c.RegWrite(RegEDX, v&^(1<<29))
	default:
		return false
	}
	return true
}

// --- Start/stop/wait ---

// Start begins emulation at address on a dedicated goroutine. Returns
// false without side effects if the core is not Idle.
func (c *Core) Start(address uint64) bool {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return false
	}
	c.state = Running
	c.pending = nil
	c.mu.Unlock()

	for _, h := range c.snapshotStart() {
		h()
	}

	go func() {
		err := c.uc.Start(address, ^uint64(0))
		if err != nil {
			wrapped := &uberr.EngineError{Diagnostic: err.Error()}
			c.raiseFatal(wrapped)
		}

		c.mu.Lock()
		c.state = Idle
		c.cond.Broadcast()
		c.mu.Unlock()

		for _, h := range c.snapshotStop() {
			h()
		}
	}()

	return true
}

// Stop asks the engine to exit its emulation loop. No-op if Idle.
// Non-blocking and idempotent.
func (c *Core) Stop() {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		return
	}
	c.state = Stopping
	c.mu.Unlock()

	c.uc.Stop()
}

// WaitUntilFinished blocks until the core returns to Idle.
func (c *Core) WaitUntilFinished() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state != Idle {
		c.cond.Wait()
	}
}

// Running reports whether the emulation thread is currently active.
func (c *Core) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != Idle
}

// State returns the current run state.
func (c *Core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mode returns the CPU's current operating mode.
func (c *Core) Mode() registers.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// --- Memory ---

// Read reads size bytes at addr. Zero-length reads succeed trivially.
func (c *Core) Read(addr, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if addr >= c.memSize || addr+size > c.memSize {
		return nil, &uberr.MemoryError{Address: addr, Reason: "out of range"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := c.uc.MemRead(addr, size)
	if err != nil {
		return nil, &uberr.MemoryError{Address: addr, Reason: err.Error()}
	}
	return data, nil
}

// Write writes data at addr. Zero-length writes succeed trivially.
func (c *Core) Write(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if addr >= c.memSize || addr+uint64(len(data)) > c.memSize {
		return &uberr.MemoryError{Address: addr, Reason: "out of range"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.uc.MemWrite(addr, data); err != nil {
		return &uberr.MemoryError{Address: addr, Reason: err.Error()}
	}
	return nil
}

// --- Registers ---

// RegRead reads a single register by its engine constant.
func (c *Core) RegRead(reg int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.uc.RegRead(reg)
	if err != nil {
		return 0, &uberr.EngineError{Diagnostic: err.Error()}
	}
	return v, nil
}

// RegWrite writes a single register by its engine constant.
func (c *Core) RegWrite(reg int, value uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.uc.RegWrite(reg, value); err != nil {
		return &uberr.EngineError{Diagnostic: err.Error()}
	}
	return nil
}

// Registers reads a full snapshot of the exposed register set for the
// core's current mode.
func (c *Core) Registers() (registers.File, error) {
	var f registers.File
	f.Mode = c.Mode()

	read := func(reg int) uint64 {
		v, _ := c.RegRead(reg)
		return v
	}

	f.RAX = read(RegRAX)
	f.RBX = read(RegRBX)
	f.RCX = read(RegRCX)
	f.RDX = read(RegRDX)
	f.RSI = read(RegRSI)
	f.RDI = read(RegRDI)
	f.RSP = read(RegRSP)
	f.RBP = read(RegRBP)
	f.RIP = read(RegRIP)
	f.R8 = read(RegR8)
	f.R9 = read(RegR9)
	f.R10 = read(RegR10)
	f.R11 = read(RegR11)
	f.R12 = read(RegR12)
	f.R13 = read(RegR13)
	f.R14 = read(RegR14)
	f.R15 = read(RegR15)
	f.EFLAGS = read(RegEFLAGS)

	f.CS = uint16(read(RegCS))
	f.DS = uint16(read(RegDS))
	f.ES = uint16(read(RegES))
	f.FS = uint16(read(RegFS))
	f.GS = uint16(read(RegGS))
	f.SS = uint16(read(RegSS))

	return f, nil
}

// Close releases the engine handle. If Running, Stop is invoked and
// Close waits for Idle before releasing, per spec.md §5's resource
// lifetime rule.
func (c *Core) Close() error {
	if c.Running() {
		c.Stop()
		c.WaitUntilFinished()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.uc.Close(); err != nil {
		return &uberr.EngineError{Diagnostic: err.Error()}
	}
	return nil
}

// SwitchMode performs the mode transition described in spec.md §4.1:
// open a fresh handle in the new mode, re-map memory, copy memory
// contents byte-for-byte, transfer the CPU context, then close the old
// handle. Must not be called while Running.
func (c *Core) SwitchMode(newMode registers.Mode) error {
	if c.Running() {
		return &uberr.ConfigError{Reason: "cannot switch mode while running"}
	}

	newHandle, err := uc.NewUnicorn(uc.ARCH_X86, modeFlag(newMode))
	if err != nil {
		return &uberr.EngineError{Diagnostic: err.Error()}
	}

	if err := newHandle.MemMap(0, c.memSize); err != nil {
		newHandle.Close()
		return &uberr.EngineError{Diagnostic: fmt.Sprintf("map memory: %s", err)}
	}

	c.mu.Lock()
	oldHandle := c.uc
	c.mu.Unlock()

	if oldHandle != nil {
		data, err := oldHandle.MemRead(0, c.memSize)
		if err != nil {
			newHandle.Close()
			return &uberr.EngineError{Diagnostic: fmt.Sprintf("copy memory: %s", err)}
		}
		if err := newHandle.MemWrite(0, data); err != nil {
			newHandle.Close()
			return &uberr.EngineError{Diagnostic: fmt.Sprintf("copy memory: %s", err)}
		}

		ctx, err := oldHandle.Context()
		if err == nil {
			_ = newHandle.RestoreContext(ctx)
		}
	}

	if _, err := newHandle.HookAdd(uc.HOOK_CODE, c.onCode, 1, 0); err != nil {
		newHandle.Close()
		return &uberr.EngineError{Diagnostic: err.Error()}
	}
	if _, err := newHandle.HookAdd(uc.HOOK_INTR, c.onIntr, 1, 0); err != nil {
		newHandle.Close()
		return &uberr.EngineError{Diagnostic: err.Error()}
	}
	if _, err := newHandle.HookAdd(uc.HOOK_MEM_INVALID, c.onInvalidMem, 1, 0); err != nil {
		newHandle.Close()
		return &uberr.EngineError{Diagnostic: err.Error()}
	}
	if _, err := newHandle.HookAdd(uc.HOOK_MEM_WRITE|uc.HOOK_MEM_FETCH, c.onValidMem, 1, 0); err != nil {
		newHandle.Close()
		return &uberr.EngineError{Diagnostic: err.Error()}
	}

	c.mu.Lock()
	c.uc = newHandle
	c.mode = newMode
	c.mu.Unlock()

	if oldHandle != nil {
		oldHandle.Close()
	}

	return nil
}
