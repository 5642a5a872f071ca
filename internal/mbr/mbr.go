// Package mbr parses the 512-byte Master Boot Record of a boot image.
package mbr

import (
	"encoding/binary"

	"github.com/xs-labs/unicorn-bios-go/internal/uberr"
)

// Size is the fixed length of an MBR sector in bytes.
const Size = 512

// validBytesPerSector and validSectorsPerCluster enumerate the legal
// values per spec.md §6.
var (
	validBytesPerSector    = map[uint16]bool{512: true, 1024: true, 2048: true, 4096: true}
	validSectorsPerCluster = map[uint8]bool{1: true, 2: true, 4: true, 8: true, 16: true, 32: true, 64: true, 128: true}
)

// field byte offsets within the 512-byte sector.
const (
	offJump               = 0
	offOEMID              = 3
	offBytesPerSector     = 11
	offSectorsPerCluster  = 13
	offReservedSectors    = 14
	offNumberOfFATs       = 16
	offMaxRootDirEntries  = 17
	offTotalSectors       = 19
	offMediaDescriptor    = 21
	offSectorsPerFAT      = 22
	offSectorsPerTrack    = 24
	offHeadsPerCylinder   = 26
	offHiddenSectors      = 28
	offLBASectors         = 32
	offDriveNumber        = 36
	offReserved           = 37
	offExtendedBootSig    = 38
	offVolumeSerialNumber = 39
	offVolumeLabel        = 43
	offFilesystem         = 54
	offBootCode           = 62
	offBootSignature      = 510
)

// MBR is a parsed Master Boot Record. The raw 512 bytes are retained
// for verbatim write into physical memory.
type MBR struct {
	raw [Size]byte
}

// Parse validates and wraps a 512-byte MBR sector.
func Parse(data []byte) (*MBR, error) {
	if len(data) != Size {
		return nil, &uberr.ImageError{Reason: "MBR must be exactly 512 bytes"}
	}

	m := &MBR{}
	copy(m.raw[:], data)

	if !validBytesPerSector[m.BytesPerSector()] {
		return nil, &uberr.ImageError{Reason: "invalid bytes-per-sector"}
	}
	if !validSectorsPerCluster[m.SectorsPerCluster()] {
		return nil, &uberr.ImageError{Reason: "invalid sectors-per-cluster"}
	}

	return m, nil
}

// Data returns the raw, verbatim 512-byte sector.
func (m *MBR) Data() []byte {
	out := make([]byte, Size)
	copy(out, m.raw[:])
	return out
}

func (m *MBR) u16(off int) uint16 { return binary.LittleEndian.Uint16(m.raw[off : off+2]) }
func (m *MBR) u32(off int) uint32 { return binary.LittleEndian.Uint32(m.raw[off : off+4]) }

func (m *MBR) BytesPerSector() uint16    { return m.u16(offBytesPerSector) }
func (m *MBR) SectorsPerCluster() uint8  { return m.raw[offSectorsPerCluster] }
func (m *MBR) ReservedSectors() uint16   { return m.u16(offReservedSectors) }
func (m *MBR) NumberOfFATs() uint8       { return m.raw[offNumberOfFATs] }
func (m *MBR) MaxRootDirEntries() uint16 { return m.u16(offMaxRootDirEntries) }
func (m *MBR) TotalSectors() uint16      { return m.u16(offTotalSectors) }
func (m *MBR) MediaDescriptor() uint8    { return m.raw[offMediaDescriptor] }
func (m *MBR) SectorsPerFAT() uint16     { return m.u16(offSectorsPerFAT) }
func (m *MBR) SectorsPerTrack() uint16   { return m.u16(offSectorsPerTrack) }
func (m *MBR) HeadsPerCylinder() uint16  { return m.u16(offHeadsPerCylinder) }
func (m *MBR) HiddenSectors() uint32     { return m.u32(offHiddenSectors) }
func (m *MBR) LBASectors() uint32        { return m.u32(offLBASectors) }
func (m *MBR) DriveNumber() uint8        { return m.raw[offDriveNumber] }
func (m *MBR) Reserved() uint8           { return m.raw[offReserved] }
func (m *MBR) ExtendedBootSignature() uint8 {
	return m.raw[offExtendedBootSig]
}
func (m *MBR) VolumeSerialNumber() uint32 { return m.u32(offVolumeSerialNumber) }
func (m *MBR) BootSignature() uint16      { return m.u16(offBootSignature) }

// OEMID returns the 8-byte OEM identifier, trimmed of trailing spaces.
func (m *MBR) OEMID() string {
	return trimField(m.raw[offOEMID : offOEMID+8])
}

// VolumeLabel returns the 11-byte volume label, trimmed of trailing spaces.
func (m *MBR) VolumeLabel() string {
	return trimField(m.raw[offVolumeLabel : offVolumeLabel+11])
}

// Filesystem returns the 8-byte filesystem type string, trimmed.
func (m *MBR) Filesystem() string {
	return trimField(m.raw[offFilesystem : offFilesystem+8])
}

func trimField(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == ' ' || b[end-1] == 0) {
		end--
	}
	return string(b[:end])
}
