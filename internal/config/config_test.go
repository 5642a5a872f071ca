package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != (Profile{}) {
		t.Fatalf("expected zero Profile, got %+v", p)
	}
}

func TestLoadParsesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ubios.yml")
	content := "memory_mib: 128\nbreak_on_interrupt: true\nbreakpoints: [\"0x7c00\", \"0x7c10\"]\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.MemoryMiB != 128 {
		t.Errorf("MemoryMiB = %d, want 128", p.MemoryMiB)
	}
	if !p.BreakOnInterrupt {
		t.Error("BreakOnInterrupt = false, want true")
	}
	if len(p.Breakpoints) != 2 || p.Breakpoints[0] != "0x7c00" {
		t.Errorf("Breakpoints = %v", p.Breakpoints)
	}
}

func TestLoadRejectsWorldWritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ubios.yml")
	if err := os.WriteFile(path, []byte("memory_mib: 64\n"), 0666); err != nil {
		t.Fatal(err)
	}
	// WriteFile's mode is filtered by the umask; set it explicitly.
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error loading world-writable config")
	}
}

func TestNormalizeMemoryMiB(t *testing.T) {
	cases := map[uint64]uint64{0: 2, 1: 2, 2: 2, 3: 3, 64: 64}
	for in, want := range cases {
		if got := NormalizeMemoryMiB(in); got != want {
			t.Errorf("NormalizeMemoryMiB(%d) = %d, want %d", in, got, want)
		}
	}
}
