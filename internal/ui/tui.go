package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/xs-labs/unicorn-bios-go/internal/registers"
)

const (
	maxLogLines    = 500
	maxDisasmLines = 200

	paneWidth    = 60
	logHeight    = 8
	disasmHeight = 12
)

type refreshMsg struct{}

type disasmLine struct {
	addr uint64
	text string
}

// model is the bubbletea Model backing the interactive debug pane:
// registers, flags, stack, a scrolling disassembly viewport, a
// scrolling log viewport, and the raw program output stream. The
// disassembly and log panes use bubbles/viewport. The arrow, PgUp/PgDn
// and Home/End keys scroll the log viewport; the disassembly viewport
// only receives messages the model does not handle itself, and mouse
// reporting is not enabled. Each new line re-pins its viewport to the
// bottom.
type model struct {
	bridge *Bridge
	keys   chan byte

	regs  registers.File
	sp    uint64
	stack []uint16

	disasm   []disasmLine
	log      []string
	disasmVP viewport.Model
	logVP    viewport.Model

	output strings.Builder

	width, height int
}

func newModel() *model {
	m := &model{
		keys:     make(chan byte, 1),
		disasmVP: viewport.New(paneWidth, disasmHeight),
		logVP:    viewport.New(paneWidth, logHeight),
	}
	return m
}

func (m *model) Init() tea.Cmd { return nil }

func (m *model) setRegisters(f registers.File) { m.regs = f }

func (m *model) setStack(sp uint64, words []uint16) {
	m.sp = sp
	m.stack = words
}

func (m *model) appendDisasm(addr uint64, text string) {
	m.disasm = append(m.disasm, disasmLine{addr: addr, text: text})
	if len(m.disasm) > maxDisasmLines {
		m.disasm = m.disasm[len(m.disasm)-maxDisasmLines:]
	}
	m.disasmVP.SetContent(m.renderDisasm())
	m.disasmVP.GotoBottom()
}

func (m *model) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
	m.logVP.SetContent(m.renderLog())
	m.logVP.GotoBottom()
}

func (m *model) appendOutput(s string) {
	m.output.WriteString(s)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.bridge != nil {
				m.bridge.Stop()
			}
			return m, tea.Quit
		case " ":
			m.sendKey(' ')
			return m, nil
		case "enter":
			m.sendKey('\r')
			return m, nil
		case "up", "down", "pgup", "pgdown", "home", "end":
			var cmd tea.Cmd
			m.logVP, cmd = m.logVP.Update(msg)
			return m, cmd
		default:
			if len(msg.Runes) == 1 {
				m.sendKey(byte(msg.Runes[0]))
			}
			return m, nil
		}
	case refreshMsg:
		return m, nil
	default:
		var cmd tea.Cmd
		m.disasmVP, cmd = m.disasmVP.Update(msg)
		return m, cmd
	}
}

func (m *model) sendKey(b byte) {
	select {
	case m.keys <- b:
	default:
	}
}

func (m *model) View() string {
	regsPane := paneBorder.Render(paneTitle.Render("Registers") + "\n" + m.renderRegisters())
	flagsPane := paneBorder.Render(paneTitle.Render("Flags") + "\n" + m.renderFlags())
	stackPane := paneBorder.Render(paneTitle.Render("Stack") + "\n" + m.renderStack())
	disasmPane := paneBorder.Render(paneTitle.Render("Disassembly") + "\n" + m.disasmVP.View())
	logPane := paneBorder.Render(paneTitle.Render("Log") + "\n" + m.logVP.View())
	outputPane := paneBorder.Render(paneTitle.Render("Output") + "\n" + m.output.String())

	left := lipgloss.JoinVertical(lipgloss.Left, regsPane, flagsPane, stackPane)
	right := lipgloss.JoinVertical(lipgloss.Left, disasmPane, outputPane, logPane)
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

func (m *model) renderRegisters() string {
	f := &m.regs
	return fmt.Sprintf(
		"RAX=%016X RBX=%016X\nRCX=%016X RDX=%016X\nRSI=%016X RDI=%016X\nRSP=%016X RBP=%016X\nRIP=%016X MODE=%s",
		f.RAX, f.RBX, f.RCX, f.RDX, f.RSI, f.RDI, f.RSP, f.RBP, f.RIP, f.Mode,
	)
}

func (m *model) renderFlags() string {
	f := &m.regs
	cf := "0"
	if f.CF() {
		cf = "1"
	}
	return fmt.Sprintf("CF=%s EFLAGS=%016X", cf, f.EFLAGS)
}

func (m *model) renderStack() string {
	var b strings.Builder
	for i, w := range m.stack {
		fmt.Fprintf(&b, "%s  %04X\n", formatAddr(m.sp+uint64(i*2)), w)
	}
	return b.String()
}

func (m *model) renderDisasm() string {
	var b strings.Builder
	for _, l := range m.disasm {
		fmt.Fprintf(&b, "%s  %s\n", formatAddr(l.addr), colorizeAsm(l.text))
	}
	return b.String()
}

func (m *model) renderLog() string {
	return strings.Join(m.log, "\n")
}
