// Package disk provides a file-backed boot-image reader supporting
// CHS and LBA sector addressing, as consumed by the int 13h service.
package disk

import (
	"os"

	"github.com/xs-labs/unicorn-bios-go/internal/mbr"
	"github.com/xs-labs/unicorn-bios-go/internal/uberr"
)

// Image is a file-backed disk image, opened once at startup.
type Image struct {
	path string
	data []byte
	mbr  *mbr.MBR
}

// Open reads a raw boot image from path and parses its MBR (the first
// 512 bytes).
func Open(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &uberr.ImageError{Reason: "cannot read boot image: " + err.Error()}
	}
	if len(data) < mbr.Size {
		return nil, &uberr.ImageError{Reason: "boot image smaller than one sector"}
	}

	m, err := mbr.Parse(data[:mbr.Size])
	if err != nil {
		return nil, err
	}

	return &Image{path: path, data: data, mbr: m}, nil
}

// Path returns the image's file path.
func (img *Image) Path() string { return img.path }

// MBR returns the parsed boot sector.
func (img *Image) MBR() *mbr.MBR { return img.mbr }

// LBA converts a CHS (cylinder, head, sector) tuple into a flat LBA
// sector index, using the image's own geometry (heads-per-cylinder,
// sectors-per-track). Sector numbers are 1-indexed per the x86 BIOS
// convention.
func LBA(cylinder, head uint64, sector uint64, headsPerCylinder, sectorsPerTrack uint64) uint64 {
	return ((cylinder*headsPerCylinder)+head)*sectorsPerTrack + (sector - 1)
}

// ReadSectors reads count sectors starting at the given CHS address
// and returns their raw bytes. Returns a DiskError if the read would
// run past the end of the image or count is zero.
func (img *Image) ReadSectors(cylinder, head, sector uint8, count uint8, drive uint8) ([]byte, error) {
	if count == 0 {
		return nil, &uberr.DiskError{Drive: drive, Reason: "zero sector count"}
	}

	bytesPerSector := uint64(img.mbr.BytesPerSector())
	lba := LBA(uint64(cylinder), uint64(head), uint64(sector), uint64(img.mbr.HeadsPerCylinder()), uint64(img.mbr.SectorsPerTrack()))

	start := lba * bytesPerSector
	length := uint64(count) * bytesPerSector
	end := start + length

	if start >= uint64(len(img.data)) || end > uint64(len(img.data)) {
		return nil, &uberr.DiskError{Drive: drive, Reason: "read past end of image"}
	}

	out := make([]byte, length)
	copy(out, img.data[start:end])
	return out, nil
}
