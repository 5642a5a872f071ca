// Package debugsup implements the DebugSupervisor: breakpoints,
// single-stepping, and pause/resume rendezvous with the UI thread, on
// interrupt boundaries and before every instruction fetch.
package debugsup

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/xs-labs/unicorn-bios-go/internal/log"
)

// Key identifies the keystroke that resumed a pause.
type Key uint8

const (
	KeyOther Key = iota
	KeySpace
	KeyEnter
	// KeyStop is the sentinel UiBridge.WaitForUserResume returns when
	// stop() unblocks a pending pause so the emulation thread can
	// proceed to shutdown without deadlock.
	KeyStop
)

// UI is the subset of UiBridge the supervisor writes to or blocks on.
type UI interface {
	Debug(msg string)
	WaitForUserResume() Key
}

// Supervisor gates instruction execution on breakpoints, single-step,
// and interrupt boundaries.
type Supervisor struct {
	mu sync.Mutex

	breakOnInterrupt       bool
	breakOnInterruptReturn bool
	trap                   bool
	singleStep             bool
	singleStepOnce         bool
	breakpoints            map[uint64]struct{}

	ui     UI
	trapFn func()
	clog   *log.Logger
}

// New builds a Supervisor bound to the given UI sink.
func New(ui UI) *Supervisor {
	return &Supervisor{
		ui:          ui,
		breakpoints: make(map[uint64]struct{}),
		trapFn:      defaultTrap,
		clog:        log.Category(log.CategoryDebugSup),
	}
}

func defaultTrap() {
	syscall.Kill(os.Getpid(), syscall.SIGTRAP)
}

// SetTrapFunc overrides the trap-signal action, primarily for tests.
func (s *Supervisor) SetTrapFunc(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trapFn = fn
}

func (s *Supervisor) SetBreakOnInterrupt(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakOnInterrupt = v
}

func (s *Supervisor) SetBreakOnInterruptReturn(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakOnInterruptReturn = v
}

func (s *Supervisor) SetTrap(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trap = v
}

func (s *Supervisor) SetSingleStep(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.singleStep = v
}

// AddBreakpoint registers a linear address to pause on. Safe to call
// while the emulation thread is running.
func (s *Supervisor) AddBreakpoint(addr uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakpoints[addr] = struct{}{}
}

func (s *Supervisor) RemoveBreakpoint(addr uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakpoints, addr)
}

// Breakpoints returns the current breakpoint set as a slice.
func (s *Supervisor) Breakpoints() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.breakpoints))
	for a := range s.breakpoints {
		out = append(out, a)
	}
	return out
}

func (s *Supervisor) hasBreakpoint(addr uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.breakpoints[addr]
	return ok
}

func (s *Supervisor) steppingNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.singleStep || s.singleStepOnce
}

// BeforeInstruction is the hook to register as ExecutionCore's
// before_instruction callback.
func (s *Supervisor) BeforeInstruction(addr uint64, _ []byte) {
	if s.steppingNow() {
		s.pause("")
		return
	}
	if s.hasBreakpoint(addr) {
		if s.clog != nil {
			s.clog.Debug("breakpoint hit", log.Addr(addr))
		}
		s.pause(fmt.Sprintf("0x%016x", addr))
	}
}

// WrapInterrupt wraps an on_interrupt handler with the pause-before
// and pause-after-return behaviour.
func (s *Supervisor) WrapInterrupt(next func(vector uint32) bool) func(uint32) bool {
	return func(vector uint32) bool {
		s.mu.Lock()
		before := s.breakOnInterrupt
		after := s.breakOnInterruptReturn
		s.mu.Unlock()

		if before {
			if s.clog != nil {
				s.clog.Debug("interrupt boundary", log.Vector(vector))
			}
			s.pause(fmt.Sprintf("Interrupt 0x%02x", vector))
		}
		handled := next(vector)
		if after {
			s.pause("Return from interrupt")
		}
		return handled
	}
}

// pause implements the logic in spec.md §4.5: log the message if
// non-empty, raise a trap if configured, else block on the UI thread
// for a resume key and update the stepping flags accordingly.
func (s *Supervisor) pause(msg string) {
	if msg != "" {
		s.ui.Debug("[ BREAK ]> " + msg)
	}

	s.mu.Lock()
	trap := s.trap
	trapFn := s.trapFn
	s.mu.Unlock()

	if trap {
		trapFn()
		return
	}

	key := s.ui.WaitForUserResume()

	s.mu.Lock()
	defer s.mu.Unlock()
	if key == KeySpace {
		s.singleStepOnce = true
	} else {
		s.singleStep = false
		s.singleStepOnce = false
	}
}
