// Package disasm adapts golang.org/x/arch/x86/x86asm into the
// annotated instruction lines the debug pane displays, turning a byte
// run and an address into text, with a textual fallback when the
// decoder cannot make sense of the bytes.
package disasm

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/xs-labs/unicorn-bios-go/internal/registers"
)

// Line is one decoded (or placeholder) instruction.
type Line struct {
	Addr uint64
	Len  int
	Text string
}

// Decode decodes the instruction at addr out of code, using the
// operand width implied by mode. On decode failure it falls back to a
// single-byte ".byte" placeholder so callers always make forward
// progress through a byte stream.
func Decode(addr uint64, code []byte, mode registers.Mode) Line {
	if len(code) == 0 {
		return Line{Addr: addr, Len: 0, Text: "(empty)"}
	}

	inst, err := x86asm.Decode(code, mode.Bits())
	if err != nil {
		return Line{Addr: addr, Len: 1, Text: fmt.Sprintf(".byte 0x%02x", code[0])}
	}

	text := x86asm.GNUSyntax(inst, addr, nil)
	return Line{Addr: addr, Len: inst.Len, Text: text}
}

// DecodeRun decodes as many instructions as fit in code, stopping
// early if a decode consumes zero bytes (defensive against a decoder
// bug that could otherwise spin forever).
func DecodeRun(addr uint64, code []byte, mode registers.Mode) []Line {
	var lines []Line
	off := 0
	for off < len(code) {
		l := Decode(addr+uint64(off), code[off:], mode)
		if l.Len <= 0 {
			break
		}
		lines = append(lines, l)
		off += l.Len
	}
	return lines
}
