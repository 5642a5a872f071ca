// Package memmap builds the static int 15h/E820-style memory map the
// BIOS reports for a given amount of configured physical memory.
package memmap

import "github.com/xs-labs/unicorn-bios-go/internal/uberr"

// MinMemory is the smallest amount of physical memory the machine will
// accept at construction.
const MinMemory = 2 * 1024 * 1024

// Type classifies a memory-map entry.
type Type int

const (
	Usable Type = iota + 1
	Reserved
	ACPI
)

// E820Type returns the int 15h/E820 wire type code for this entry type.
func (t Type) E820Type() uint32 {
	switch t {
	case Usable:
		return 1
	case Reserved:
		return 2
	case ACPI:
		return 3
	default:
		return 2
	}
}

func (t Type) String() string {
	switch t {
	case Usable:
		return "Usable"
	case Reserved:
		return "Reserved"
	case ACPI:
		return "ACPI"
	default:
		return "Unknown"
	}
}

// Entry is a single memory-map region.
type Entry struct {
	Base   uint64
	Length uint64
	Type   Type
}

// End returns the last address covered by this entry (inclusive), or
// Base when Length is zero.
func (e Entry) End() uint64 {
	if e.Length == 0 {
		return e.Base
	}
	return e.Base + e.Length - 1
}

// Map is the immutable set of memory-map entries for a configured
// amount of physical memory.
type Map struct {
	entries []Entry
}

// New builds the fixed 7-entry memory map for the given amount of
// physical memory, in bytes. Returns a ConfigError if memory is below
// MinMemory.
func New(memory uint64) (*Map, error) {
	if memory < MinMemory {
		return nil, &uberr.ConfigError{Reason: "memory must be at least 2MB"}
	}

	free := memory - 0x00100000 - 0x00010000
	after := memory - 0x00010000

	return &Map{
		entries: []Entry{
			{Base: 0x00000000, Length: 0x0009FC00, Type: Usable},
			{Base: 0x0009FC00, Length: 0x00000400, Type: Reserved},
			{Base: 0x000F0000, Length: 0x00010000, Type: Reserved},
			{Base: 0x00100000, Length: free, Type: Usable},
			{Base: after, Length: 0x00010000, Type: ACPI},
			{Base: 0xFEC00000, Length: 0x00001000, Type: Reserved},
			{Base: 0xFEE00000, Length: 0x00001000, Type: Reserved},
		},
	}, nil
}

// Entries returns a copy of the memory-map entries, in table order.
func (m *Map) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// At returns the i'th entry (0-indexed) per the E820 continuation
// protocol, and whether it is the last entry.
func (m *Map) At(i int) (Entry, bool, bool) {
	if i < 0 || i >= len(m.entries) {
		return Entry{}, false, false
	}
	return m.entries[i], i == len(m.entries)-1, true
}

// Len returns the number of entries in the map.
func (m *Map) Len() int {
	return len(m.entries)
}

// Intersects reports whether [addr, addr+size) overlaps any entry of
// the given type.
func (m *Map) Intersects(addr, size uint64, t Type) bool {
	if size == 0 {
		return false
	}
	end := addr + size - 1
	for _, e := range m.entries {
		if e.Type != t {
			continue
		}
		if addr <= e.End() && end >= e.Base {
			return true
		}
	}
	return false
}
