package ui

import (
	"fmt"
	"os"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
)

// disasmStyle is a custom chroma style for the disassembly pane,
// adapted from the IDA-Pro-like palette used elsewhere in this
// codebase's lineage for assembly listings.
var disasmStyle = styles.Register(chroma.MustNewStyle("ubios-disasm", chroma.StyleEntries{
	chroma.Text:                 "#FFFFFF",
	chroma.Background:           "bg:#000000",
	chroma.Comment:              "#FF8000",
	chroma.Keyword:              "#FFFFFF",
	chroma.KeywordPseudo:        "#FFFFFF",
	chroma.Name:                 "#87CEEB",
	chroma.NameBuiltin:          "#87CEEB",
	chroma.NameVariable:         "#87CEEB",
	chroma.LiteralNumber:        "#FF80C0",
	chroma.LiteralNumberHex:     "#FF80C0",
	chroma.LiteralNumberInteger: "#FF80C0",
	chroma.NameLabel:            "#FFC800",
	chroma.Operator:             "#FFFFFF",
	chroma.Punctuation:          "#FFFFFF",
}))

// colorDisabled mirrors the upstream NO_COLOR convention.
func colorDisabled() bool {
	return os.Getenv("UBIOS_NO_COLOR") != "" || os.Getenv("NO_COLOR") != ""
}

// colorizeAsm syntax-highlights a single disassembly line with chroma's
// nasm lexer, falling back to the plain string on any failure.
func colorizeAsm(line string) string {
	if colorDisabled() {
		return line
	}

	lexer := lexers.Get("nasm")
	if lexer == nil {
		return line
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, line)
	if err != nil {
		return line
	}

	var buf fmtBuffer
	if err := formatter.Format(&buf, disasmStyle, iterator); err != nil {
		return line
	}
	return buf.String()
}

// fmtBuffer is a minimal io.Writer-compatible string accumulator, kept
// local to avoid pulling in strings.Builder's extra surface for this
// one call site.
type fmtBuffer struct {
	b []byte
}

func (f *fmtBuffer) Write(p []byte) (int, error) {
	f.b = append(f.b, p...)
	return len(p), nil
}

func (f *fmtBuffer) String() string { return string(f.b) }

var (
	paneBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	paneTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFC800"))

	addrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC800"))
	breakStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5050"))
)

func formatAddr(addr uint64) string {
	return addrStyle.Render(fmt.Sprintf("%08X", addr))
}
