// Package bios implements the interrupt dispatch table and the
// per-vector service handlers: video (int 10h), disk (int 13h),
// memory map (int 15h/E820), keyboard (int 16h), and the halt vectors
// (int 18h/19h).
package bios

import (
	"fmt"

	"github.com/xs-labs/unicorn-bios-go/internal/core"
	"github.com/xs-labs/unicorn-bios-go/internal/disk"
	"github.com/xs-labs/unicorn-bios-go/internal/log"
	"github.com/xs-labs/unicorn-bios-go/internal/memmap"
	"github.com/xs-labs/unicorn-bios-go/internal/registers"
)

// Engine is the subset of ExecutionCore that service handlers need:
// guarded memory and register access, plus the ability to request a
// stop for the halt vectors.
type Engine interface {
	Read(addr, size uint64) ([]byte, error)
	Write(addr uint64, data []byte) error
	RegRead(reg int) (uint64, error)
	RegWrite(reg int, value uint64) error
	Stop()
}

// KeyEvent is a single keystroke delivered by the UI bridge.
type KeyEvent struct {
	Scancode uint8
	ASCII    uint8
}

// UI is the subset of UiBridge that BIOS services write to or block on.
type UI interface {
	Output(s string)
	Debug(s string)
	WaitForKey() KeyEvent
}

// Dispatch routes software interrupts to their service handler. It is
// intended to be registered as ExecutionCore's on_interrupt callback.
type Dispatch struct {
	engine     Engine
	disk       *disk.Image
	mm         *memmap.Map
	ui         UI
	debugVideo bool
	clog       *log.Logger
}

// New builds a Dispatch bound to the given engine, boot disk image,
// memory map, and UI sinks. img may be nil if no boot image was
// supplied; int 13h sector reads then always fail.
func New(engine Engine, img *disk.Image, mm *memmap.Map, ui UI, debugVideo bool) *Dispatch {
	return &Dispatch{
		engine:     engine,
		disk:       img,
		mm:         mm,
		ui:         ui,
		debugVideo: debugVideo,
		clog:       log.Category(log.CategoryBIOS),
	}
}

// HandleInterrupt is the on_interrupt callback: it returns true for
// every vector this BIOS accepts (including deliberate no-ops), and
// false for vectors outside the table and for int 10h AH=0x10 with a
// subfunction other than 0x10, letting ExecutionCore raise
// UnhandledInterrupt.
func (d *Dispatch) HandleInterrupt(vector uint32) bool {
	if d.clog != nil {
		d.clog.Debug("dispatch", log.Vector(vector))
	}
	switch vector {
	case 0x05, 0x11, 0x12, 0x14, 0x17, 0x1A:
		return true
	case 0x10:
		return d.video()
	case 0x13:
		return d.diskService()
	case 0x15:
		return d.system()
	case 0x16:
		return d.keyboard()
	case 0x18, 0x19:
		d.engine.Stop()
		return true
	default:
		return false
	}
}

func (d *Dispatch) reg8(r int) uint8 {
	v, _ := d.engine.RegRead(r)
	return uint8(v)
}

func (d *Dispatch) reg16(r int) uint16 {
	v, _ := d.engine.RegRead(r)
	return uint16(v)
}

func (d *Dispatch) reg32(r int) uint32 {
	v, _ := d.engine.RegRead(r)
	return uint32(v)
}

// --- Video, int 10h ---

var videoModeNames = map[uint8]string{
	0x00: "40x25 B/W text (CGA,EGA,MCGA,VGA)",
	0x01: "40x25 16 color text (CGA,EGA,MCGA,VGA)",
	0x02: "80x25 16 shades of gray text (CGA,EGA,MCGA,VGA)",
	0x03: "80x25 16 color text (CGA,EGA,MCGA,VGA)",
	0x04: "320x200 4 color graphics (CGA,EGA,MCGA,VGA)",
	0x05: "320x200 4 color graphics (CGA,EGA,MCGA,VGA)",
	0x06: "640x200 B/W graphics (CGA,EGA,MCGA,VGA)",
	0x07: "80x25 Monochrome text (MDA,HERC,EGA,VGA)",
	0x08: "160x200 16 color graphics (PCjr)",
	0x09: "320x200 16 color graphics (PCjr)",
	0x0A: "640x200 4 color graphics (PCjr)",
	0x0B: "Reserved (EGA BIOS function 11)",
	0x0C: "Reserved (EGA BIOS function 11)",
	0x0D: "320x200 16 color graphics (EGA,VGA)",
	0x0E: "640x200 16 color graphics (EGA,VGA)",
	0x0F: "640x350 Monochrome graphics (EGA,VGA)",
	0x10: "640x350 16 color graphics (EGA or VGA with 128K)",
	0x11: "640x480 B/W graphics (MCGA,VGA)",
	0x12: "640x480 16 color graphics (VGA)",
	0x13: "320x200 256 color graphics (MCGA,VGA)",
}

func (d *Dispatch) video() bool {
	if d.clog != nil {
		d.clog.Debug("bios service", log.Fn("video"))
	}
	ah := d.reg8(core.RegAH)
	switch ah {
	case 0x00:
		return d.setVideoMode()
	case 0x02:
		return d.setCursorPosition()
	case 0x09, 0x0A:
		return d.writeCharAtCursor()
	case 0x0E:
		return d.ttyOutput()
	case 0x10:
		return d.palette()
	case 0x4F:
		if d.reg8(core.RegAL) == 0x01 {
			return d.vbeControllerInfo()
		}
		return true
	default:
		return true
	}
}

func (d *Dispatch) setVideoMode() bool {
	mode := d.reg8(core.RegAL)
	masked := mode & 0x7F

	if d.debugVideo {
		name, ok := videoModeNames[mode]
		if !ok {
			name = "Unknown mode"
		}
		d.ui.Debug(fmt.Sprintf("set video mode 0x%02x: %s", mode, name))
	}

	switch {
	case masked > 7:
		d.engine.RegWrite(core.RegAL, 0x20)
	case masked == 6:
		d.engine.RegWrite(core.RegAL, 0x3F)
	default:
		d.engine.RegWrite(core.RegAL, 0x30)
	}
	return true
}

func (d *Dispatch) setCursorPosition() bool {
	if d.debugVideo {
		d.ui.Debug(fmt.Sprintf("set cursor position: page=%d row=%d col=%d",
			d.reg8(core.RegBH), d.reg8(core.RegDH), d.reg8(core.RegDL)))
	}
	return true
}

func (d *Dispatch) writeCharAtCursor() bool {
	if d.debugVideo {
		d.ui.Debug(fmt.Sprintf("write char 0x%02x: page=%d color=%d times=%d",
			d.reg8(core.RegAL), d.reg8(core.RegBH), d.reg8(core.RegBL), d.reg16(core.RegCX)))
	}
	return true
}

func (d *Dispatch) ttyOutput() bool {
	al := d.reg8(core.RegAL)
	if d.debugVideo {
		d.ui.Debug(fmt.Sprintf("tty output: 0x%02x", al))
	}
	if isPrintableOrSpace(al) {
		d.ui.Output(string(rune(al)))
	} else {
		d.ui.Output(".")
	}
	return true
}

func isPrintableOrSpace(b uint8) bool {
	if b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f' {
		return true
	}
	return b >= 0x20 && b < 0x7F
}

func (d *Dispatch) palette() bool {
	if d.reg8(core.RegAL) != 0x10 {
		return false
	}
	if d.debugVideo {
		d.ui.Debug(fmt.Sprintf("set DAC color: bx=0x%04x r=0x%02x g=0x%02x b=0x%02x",
			d.reg16(core.RegBX), d.reg8(core.RegDH), d.reg8(core.RegCH), d.reg8(core.RegCL)))
	}
	return true
}

func (d *Dispatch) vbeControllerInfo() bool {
	es := d.reg16(core.RegES)
	di := d.reg16(core.RegDI)
	destination := registers.Linear(es, di)

	d.ui.Debug(fmt.Sprintf("get VBE controller info: destination=0x%x (%04x:%04x)", destination, es, di))
	if d.clog != nil {
		d.clog.Debug("bios service", log.Fn("vbe"), log.Ptr("destination", destination))
	}

	// The upstream VESA info block is intentionally unimplemented; an
	// empty placeholder is written, matching the reference behaviour.
	d.engine.Write(destination, nil)
	return true
}

// --- Disk, int 13h ---

func (d *Dispatch) diskService() bool {
	if d.clog != nil {
		d.clog.Debug("bios service", log.Fn("disk"))
	}
	ah := d.reg8(core.RegAH)
	switch ah {
	case 0x00:
		d.engine.RegWrite(core.RegEFLAGS, d.clearCF())
		d.engine.RegWrite(core.RegAH, 0)
		return true
	case 0x02:
		return d.readSectors()
	default:
		return true
	}
}

func (d *Dispatch) clearCF() uint64 {
	v, _ := d.engine.RegRead(core.RegEFLAGS)
	return v &^ 1
}

func (d *Dispatch) setCF(v uint64, set bool) uint64 {
	if set {
		return v | 1
	}
	return v &^ 1
}

func (d *Dispatch) fail(drive uint8) bool {
	eflags, _ := d.engine.RegRead(core.RegEFLAGS)
	d.engine.RegWrite(core.RegEFLAGS, d.setCF(eflags, true))
	d.engine.RegWrite(core.RegAH, 1)
	d.engine.RegWrite(core.RegAL, 0)
	d.ui.Debug(fmt.Sprintf("disk read failed (drive 0x%02x)", drive))
	if d.clog != nil {
		d.clog.Warn("disk read failed", log.Fn("disk"), log.Ptr("drive", uint64(drive)))
	}
	return true
}

func (d *Dispatch) readSectors() bool {
	count := d.reg8(core.RegAL)
	cylinder := d.reg8(core.RegCH)
	sector := d.reg8(core.RegCL)
	head := d.reg8(core.RegDH)
	drive := d.reg8(core.RegDL)
	es := d.reg16(core.RegES)
	bx := d.reg16(core.RegBX)

	if drive != 0x00 || d.disk == nil {
		return d.fail(drive)
	}

	data, err := d.disk.ReadSectors(cylinder, head, sector, count, drive)
	if err != nil || len(data) == 0 {
		return d.fail(drive)
	}

	destination := registers.Linear(es, bx)
	if err := d.engine.Write(destination, data); err != nil {
		return d.fail(drive)
	}
	if d.clog != nil {
		d.clog.Debug("disk read", log.Addr(destination), log.Size(uint64(len(data))))
	}

	eflags, _ := d.engine.RegRead(core.RegEFLAGS)
	d.engine.RegWrite(core.RegEFLAGS, d.setCF(eflags, false))
	d.engine.RegWrite(core.RegAH, 0)
	d.engine.RegWrite(core.RegAL, uint64(count))
	return true
}

// --- System, int 15h ---

const e820Signature = 0x534D4150 // 'SMAP'

func (d *Dispatch) system() bool {
	ah := d.reg8(core.RegAH)
	eax := d.reg32(core.RegEAX)
	if ah != 0xE8 || eax != 0xE820 {
		return true
	}
	if d.clog != nil {
		d.clog.Debug("bios service", log.Fn("e820"))
	}
	return d.e820()
}

func (d *Dispatch) e820() bool {
	es := d.reg16(core.RegES)
	di := d.reg16(core.RegDI)
	ebx := d.reg32(core.RegEBX)
	ecx := d.reg32(core.RegECX)
	edx := d.reg32(core.RegEDX)

	if ecx < 0x14 || edx != e820Signature || d.mm == nil {
		return d.e820Fail()
	}

	entry, isLast, ok := d.mm.At(int(ebx))
	if !ok {
		return d.e820Fail()
	}

	buf := make([]byte, 20)
	putU64(buf[0:8], entry.Base)
	putU64(buf[8:16], entry.Length)
	putU32(buf[16:20], entry.Type.E820Type())

	destination := registers.Linear(es, di)
	if err := d.engine.Write(destination, buf); err != nil {
		return d.e820Fail()
	}
	if d.clog != nil {
		d.clog.Debug("e820 entry", log.Addr(entry.Base), log.Size(entry.Length))
	}

	eflags, _ := d.engine.RegRead(core.RegEFLAGS)
	d.engine.RegWrite(core.RegEFLAGS, d.setCF(eflags, false))
	d.engine.RegWrite(core.RegEAX, e820Signature)
	d.engine.RegWrite(core.RegECX, 0x14)
	if isLast {
		d.engine.RegWrite(core.RegEBX, 0)
	} else {
		d.engine.RegWrite(core.RegEBX, uint64(ebx)+1)
	}
	return true
}

func (d *Dispatch) e820Fail() bool {
	eflags, _ := d.engine.RegRead(core.RegEFLAGS)
	d.engine.RegWrite(core.RegEFLAGS, d.setCF(eflags, true))
	d.engine.RegWrite(core.RegEAX, e820Signature)
	d.engine.RegWrite(core.RegEBX, 0)
	d.engine.RegWrite(core.RegECX, 0x14)
	return true
}

func putU64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

func putU32(dst []byte, v uint32) {
	for i := 0; i < 4; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

// --- Keyboard, int 16h ---

func (d *Dispatch) keyboard() bool {
	ah := d.reg8(core.RegAH)
	if ah != 0x00 {
		return true
	}
	key := d.ui.WaitForKey()
	d.engine.RegWrite(core.RegAH, uint64(key.Scancode))
	d.engine.RegWrite(core.RegAL, uint64(key.ASCII))
	return true
}
