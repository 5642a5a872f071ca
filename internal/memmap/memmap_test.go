package memmap

import "testing"

func TestNewRejectsSmallMemory(t *testing.T) {
	if _, err := New(1024 * 1024); err == nil {
		t.Fatal("expected error for memory below 2MB")
	}
}

func TestNewEntryCount(t *testing.T) {
	sizes := []uint64{2 * 1024 * 1024, 4 * 1024 * 1024, 64 * 1024 * 1024, 256 * 1024 * 1024}
	for _, sz := range sizes {
		m, err := New(sz)
		if err != nil {
			t.Fatalf("New(%d): %v", sz, err)
		}
		if m.Len() != 7 {
			t.Fatalf("New(%d): got %d entries, want 7", sz, m.Len())
		}
	}
}

func TestPartitionsLowAndHighMemory(t *testing.T) {
	const mem = 64 * 1024 * 1024
	m, err := New(mem)
	if err != nil {
		t.Fatal(err)
	}

	// [0, 0xA0000) must be fully covered by the first two entries.
	covered := make([]bool, 0xA0000)
	for _, e := range m.Entries() {
		if e.Base >= 0xA0000 {
			continue
		}
		for a := e.Base; a <= e.End() && a < 0xA0000; a++ {
			covered[a] = true
		}
	}
	for a, ok := range covered {
		if !ok {
			t.Fatalf("address 0x%x not covered by low memory map", a)
		}
	}

	// [0x100000, mem) must be covered end to end by the entries based
	// inside it.
	next := uint64(0x100000)
	for _, e := range m.Entries() {
		if e.Base < 0x100000 || e.Base >= mem {
			continue
		}
		if e.Base != next {
			t.Fatalf("high memory gap: expected an entry at 0x%x, got 0x%x", next, e.Base)
		}
		next = e.Base + e.Length
	}
	if next != mem {
		t.Fatalf("high memory map ends at 0x%x, want 0x%x", next, uint64(mem))
	}
}

func TestE820TypeCodes(t *testing.T) {
	cases := map[Type]uint32{Usable: 1, Reserved: 2, ACPI: 3}
	for typ, want := range cases {
		if got := typ.E820Type(); got != want {
			t.Errorf("%v.E820Type() = %d, want %d", typ, got, want)
		}
	}
}

func TestAtContinuation(t *testing.T) {
	m, err := New(4 * 1024 * 1024)
	if err != nil {
		t.Fatal(err)
	}
	_, last, ok := m.At(0)
	if !ok || last {
		t.Fatalf("entry 0 should exist and not be last")
	}
	_, last, ok = m.At(6)
	if !ok || !last {
		t.Fatalf("entry 6 should exist and be last")
	}
	if _, _, ok := m.At(7); ok {
		t.Fatalf("entry 7 should not exist")
	}
}
