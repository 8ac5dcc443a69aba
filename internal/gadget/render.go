package gadget

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss/v2"

	"rvrop/internal/disasm"
)

// OutputMode selects how a gadget is rendered.
type OutputMode int

const (
	// Block renders one line per instruction with address and bytes.
	Block OutputMode = iota
	// Inline renders the whole gadget on a single line.
	Inline
)

func (m OutputMode) String() string {
	switch m {
	case Block:
		return "block"
	case Inline:
		return "inline"
	}
	return fmt.Sprintf("OutputMode(%d)", int(m))
}

// ParseOutputMode parses "block" or "inline".
func ParseOutputMode(s string) (OutputMode, error) {
	switch strings.ToLower(s) {
	case "block", "":
		return Block, nil
	case "inline":
		return Inline, nil
	}
	return Block, fmt.Errorf("unknown output mode %q", s)
}

var terminatorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))

// Renderer formats gadgets as text. Emphasize wraps the terminator's text;
// a nil Emphasize leaves it unstyled.
type Renderer struct {
	Emphasize func(string) string
}

// NewRenderer returns a renderer that colors the terminator red when
// color is true.
func NewRenderer(color bool) *Renderer {
	if !color {
		return &Renderer{}
	}
	return &Renderer{Emphasize: func(s string) string { return terminatorStyle.Render(s) }}
}

// DefaultRenderer colors output unless RVROP_NO_COLOR is set.
func DefaultRenderer() *Renderer {
	return NewRenderer(os.Getenv("RVROP_NO_COLOR") == "")
}

// Render formats g with the default renderer.
func (g *Gadget) Render(mode OutputMode) string {
	return DefaultRenderer().Render(g, mode)
}

// Render formats g in the given mode. Every line ends in a newline.
func (r *Renderer) Render(g *Gadget, mode OutputMode) string {
	var b strings.Builder
	r.Write(&b, g, mode)
	return b.String()
}

// Write renders g to w.
func (r *Renderer) Write(w io.Writer, g *Gadget, mode OutputMode) {
	switch mode {
	case Inline:
		r.writeInline(w, g)
	default:
		r.writeBlock(w, g)
	}
}

// text is the canonical "mnemonic operands" form; the terminator is emphasized.
func (r *Renderer) text(ins disasm.Inst, last bool) string {
	s := disasm.Canonical(ins.Mnemonic) + " " + ins.OpStr
	if last && r.Emphasize != nil {
		s = r.Emphasize(s)
	}
	return s
}

func hexBytes(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		fmt.Fprintf(&sb, "%02x ", c)
	}
	return sb.String()
}

func (r *Renderer) writeBlock(w io.Writer, g *Gadget) {
	for i, ins := range g.insns {
		last := i == len(g.insns)-1
		fmt.Fprintf(w, "0x%08x    %15s   %s\n", ins.Addr, hexBytes(ins.Bytes), r.text(ins, last))
	}
}

func (r *Renderer) writeInline(w io.Writer, g *Gadget) {
	if len(g.insns) == 0 {
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "0x%08x     ", g.insns[0].Addr)
	for i, ins := range g.insns {
		last := i == len(g.insns)-1
		sb.WriteString(r.text(ins, last))
		if last {
			break
		}
		if ins.OpStr == "" {
			sb.WriteString("; ")
		} else {
			sb.WriteString(" ; ")
		}
	}
	sb.WriteString("\n")
	io.WriteString(w, sb.String())
}
