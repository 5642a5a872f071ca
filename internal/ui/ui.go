// Package ui implements the UiBridge: the output/debug text sinks and
// the pause-for-key rendezvous, either mirrored to the process's
// standard streams or rendered as an interactive bubbletea pane.
package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/xs-labs/unicorn-bios-go/internal/bios"
	"github.com/xs-labs/unicorn-bios-go/internal/debugsup"
	"github.com/xs-labs/unicorn-bios-go/internal/registers"
)

// Key mirrors debugsup.Key so callers don't need to import debugsup
// just to read a keystroke back out of the bridge.
type Key = debugsup.Key

const (
	KeyOther = debugsup.KeyOther
	KeySpace = debugsup.KeySpace
	KeyEnter = debugsup.KeyEnter
	KeyStop  = debugsup.KeyStop
)

// KeyEvent mirrors bios.KeyEvent: a scancode/ASCII pair as the int
// 16h ABI expects.
type KeyEvent = bios.KeyEvent

// Bridge is the UiBridge: two textual sinks (output, debug) and a
// blocking key rendezvous, shared between the emulation thread and the
// supervisor/UI thread.
type Bridge struct {
	mu          sync.Mutex
	interactive bool

	outWriter io.Writer
	dbgWriter io.Writer

	stdinKeys chan byte
	stopCh    chan struct{}
	stopOnce  sync.Once

	program *tea.Program
	model   *model
}

// NewNonInteractive builds a Bridge that mirrors output to stdout and
// debug/break messages to stderr, and reads resume keys one byte at a
// time from stdin.
func NewNonInteractive() *Bridge {
	return NewNonInteractiveWriters(os.Stdout, os.Stderr)
}

// NewNonInteractiveWriters is NewNonInteractive with explicit output
// and debug sinks, primarily for tests.
func NewNonInteractiveWriters(out, dbg io.Writer) *Bridge {
	b := &Bridge{
		outWriter: out,
		dbgWriter: dbg,
		stdinKeys: make(chan byte, 1),
		stopCh:    make(chan struct{}),
	}
	go b.pumpStdin()
	return b
}

// NewInteractive builds a Bridge backed by a bubbletea program
// rendering registers/flags/stack/disassembly/log panes. Run must be
// called (typically from the CLI's main goroutine) to drive the
// program's event loop; the emulation thread only ever touches the
// Bridge through its guarded methods.
func NewInteractive() *Bridge {
	m := newModel()
	b := &Bridge{
		interactive: true,
		stdinKeys:   make(chan byte, 1),
		stopCh:      make(chan struct{}),
		model:       m,
	}
	m.bridge = b
	b.program = tea.NewProgram(m)
	return b
}

// Run drives the interactive program's event loop until the user
// quits or the model observes a stop. No-op in non-interactive mode.
func (b *Bridge) Run() error {
	if !b.interactive {
		return nil
	}
	_, err := b.program.Run()
	return err
}

func (b *Bridge) pumpStdin() {
	r := bufio.NewReader(os.Stdin)
	for {
		c, err := r.ReadByte()
		if err != nil {
			return
		}
		select {
		case b.stdinKeys <- c:
		case <-b.stopCh:
			return
		}
	}
}

// Output writes BIOS-visible program output (e.g. teletype text).
func (b *Bridge) Output(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.interactive {
		b.model.appendOutput(s)
		if b.program != nil {
			b.program.Send(refreshMsg{})
		}
		return
	}
	fmt.Fprint(b.outWriter, s)
}

// Debug writes a BIOS-activity or break-message log line.
func (b *Bridge) Debug(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.interactive {
		b.model.appendLog(s)
		if b.program != nil {
			b.program.Send(refreshMsg{})
		}
		return
	}
	fmt.Fprintln(b.dbgWriter, strings.TrimRight(s, "\n"))
}

// UpdateRegisters refreshes the interactive register pane. No-op in
// non-interactive mode.
func (b *Bridge) UpdateRegisters(f registers.File) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.interactive {
		return
	}
	b.model.setRegisters(f)
	if b.program != nil {
		b.program.Send(refreshMsg{})
	}
}

// UpdateDisassembly pushes a freshly decoded instruction line into the
// interactive disassembly pane.
func (b *Bridge) UpdateDisassembly(addr uint64, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.interactive {
		return
	}
	b.model.appendDisasm(addr, line)
	if b.program != nil {
		b.program.Send(refreshMsg{})
	}
}

// UpdateStack refreshes the interactive stack pane with the given
// words, the first one at sp.
func (b *Bridge) UpdateStack(sp uint64, words []uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.interactive {
		return
	}
	b.model.setStack(sp, words)
	if b.program != nil {
		b.program.Send(refreshMsg{})
	}
}

// waitForByte blocks until a key arrives or Stop is called, returning
// ok=false on cancellation.
func (b *Bridge) waitForByte() (byte, bool) {
	if b.interactive {
		select {
		case c := <-b.model.keys:
			return c, true
		case <-b.stopCh:
			return 0, false
		}
	}
	select {
	case c := <-b.stdinKeys:
		return c, true
	case <-b.stopCh:
		return 0, false
	}
}

func classify(c byte) debugsup.Key {
	switch c {
	case ' ':
		return debugsup.KeySpace
	case '\r', '\n':
		return debugsup.KeyEnter
	default:
		return debugsup.KeyOther
	}
}

// WaitForUserResume implements debugsup.UI. In interactive mode it
// blocks for an ENTER or SPACE key, skipping any other key; in
// non-interactive mode it returns the first byte read from stdin,
// classified. It returns the stop sentinel on cancellation.
func (b *Bridge) WaitForUserResume() debugsup.Key {
	for {
		c, ok := b.waitForByte()
		if !ok {
			return debugsup.KeyStop
		}
		if k := classify(c); k != debugsup.KeyOther || !b.interactive {
			return k
		}
	}
}

// WaitForKey implements bios.UI's keyboard-service rendezvous: blocks
// for a keystroke and returns its scancode/ASCII pair.
func (b *Bridge) WaitForKey() KeyEvent {
	c, ok := b.waitForByte()
	if !ok {
		return KeyEvent{}
	}
	return KeyEvent{Scancode: scancodeFor(c), ASCII: c}
}

// scancodeFor maps a handful of common ASCII keys to their set-1
// scancode; anything else maps to 0 (unknown), which is sufficient for
// guest code that only checks AL.
func scancodeFor(c byte) uint8 {
	switch c {
	case '\r', '\n':
		return 0x1C
	case ' ':
		return 0x39
	case 0x1B:
		return 0x01
	default:
		return 0
	}
}

// Stop unblocks any pending WaitForUserResume/WaitForKey call so the
// emulation thread can proceed to shutdown without deadlock. Idempotent.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	if b.interactive && b.program != nil {
		b.program.Send(tea.Quit())
	}
}
