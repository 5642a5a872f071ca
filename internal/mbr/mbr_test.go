package mbr

import "testing"

func buildTestMBR() []byte {
	b := make([]byte, Size)
	// bytes-per-sector = 512
	b[offBytesPerSector] = 0x00
	b[offBytesPerSector+1] = 0x02
	// sectors-per-cluster = 1
	b[offSectorsPerCluster] = 1
	// heads-per-cylinder = 2
	b[offHeadsPerCylinder] = 2
	b[offHeadsPerCylinder+1] = 0
	// sectors-per-track = 18
	b[offSectorsPerTrack] = 18
	b[offSectorsPerTrack+1] = 0
	b[offBootSignature] = 0x55
	b[offBootSignature+1] = 0xAA
	return b
}

func TestParseRejectsWrongSize(t *testing.T) {
	if _, err := Parse(make([]byte, 511)); err == nil {
		t.Fatal("expected error for short MBR")
	}
}

func TestParseRejectsInvalidBytesPerSector(t *testing.T) {
	b := buildTestMBR()
	b[offBytesPerSector] = 0x01
	b[offBytesPerSector+1] = 0x00
	if _, err := Parse(b); err == nil {
		t.Fatal("expected error for invalid bytes-per-sector")
	}
}

func TestParseFields(t *testing.T) {
	b := buildTestMBR()
	m, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.BytesPerSector() != 512 {
		t.Errorf("BytesPerSector() = %d, want 512", m.BytesPerSector())
	}
	if m.HeadsPerCylinder() != 2 {
		t.Errorf("HeadsPerCylinder() = %d, want 2", m.HeadsPerCylinder())
	}
	if m.SectorsPerTrack() != 18 {
		t.Errorf("SectorsPerTrack() = %d, want 18", m.SectorsPerTrack())
	}
	if m.BootSignature() != 0xAA55 {
		t.Errorf("BootSignature() = 0x%x, want 0xAA55", m.BootSignature())
	}
}

func TestDataRoundTrip(t *testing.T) {
	b := buildTestMBR()
	m, err := Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	out := m.Data()
	if len(out) != Size {
		t.Fatalf("Data() length = %d, want %d", len(out), Size)
	}
	for i := range b {
		if out[i] != b[i] {
			t.Fatalf("Data()[%d] = 0x%x, want 0x%x", i, out[i], b[i])
		}
	}
}
