package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"rvrop/internal/elfx"
	"rvrop/internal/gadget"
	"rvrop/internal/rvrop/styles"
	"rvrop/internal/search"
)

// JSONOutput is the --json document.
type JSONOutput struct {
	File    string         `json:"file"`
	Arch    string         `json:"arch"`
	Gadgets []GadgetRecord `json:"gadgets"`
}

// GadgetRecord is one gadget in JSON output.
type GadgetRecord struct {
	Address string `json:"address"`
	Hash    string `json:"hash"`
	Text    string `json:"text"`
	Symbol  string `json:"symbol,omitempty"`
}

// sanitizeForJSON cleans a string to be valid UTF-8
func sanitizeForJSON(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

// writeGadgets prints every gadget followed by a count line. Block mode
// separates gadgets with a blank line.
func writeGadgets(w io.Writer, r *gadget.Renderer, gadgets []*gadget.Gadget, mode gadget.OutputMode) {
	for _, g := range gadgets {
		r.Write(w, g, mode)
		if mode == gadget.Block {
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintf(w, "%d gadgets found\n", len(gadgets))
}

// gadgetText is the inline text of g without address or styling.
func gadgetText(g *gadget.Gadget) string {
	line := (&gadget.Renderer{}).Render(g, gadget.Inline)
	_, text, _ := strings.Cut(line, "     ")
	return strings.TrimRight(text, " \n")
}

func newJSONOutput(file, arch string, img *elfx.Image, gadgets []*gadget.Gadget) JSONOutput {
	out := JSONOutput{
		File:    filepath.Base(file),
		Arch:    arch,
		Gadgets: make([]GadgetRecord, 0, len(gadgets)),
	}
	for _, g := range gadgets {
		rec := GadgetRecord{
			Address: fmt.Sprintf("0x%x", g.Addr()),
			Hash:    fmt.Sprintf("%08x", g.Hash()),
			Text:    sanitizeForJSON(gadgetText(g)),
		}
		if img != nil {
			rec.Symbol = sanitizeForJSON(img.Describe(g.Addr()))
		}
		out.Gadgets = append(out.Gadgets, rec)
	}
	return out
}

func writeJSON(w io.Writer, out JSONOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// statsMarkdown summarises a search as markdown.
func statsMarkdown(file, arch string, st search.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# rvrop\n\n```\n; %s (%s)\n```\n\n", filepath.Base(file), arch)

	b.WriteString("## Search\n\n")
	b.WriteString("| | count |\n|---|---:|\n")
	fmt.Fprintf(&b, "| regions | %d |\n", st.Regions)
	fmt.Fprintf(&b, "| windows | %d |\n", st.Windows)
	fmt.Fprintf(&b, "| rejected | %d |\n", st.Rejected)
	fmt.Fprintf(&b, "| duplicates | %d |\n", st.Duplicates)
	fmt.Fprintf(&b, "| filtered | %d |\n", st.Filtered)
	fmt.Fprintf(&b, "| **gadgets** | **%d** |\n", st.Gadgets)

	if len(st.Terminators) > 0 {
		mns := make([]string, 0, len(st.Terminators))
		for mn := range st.Terminators {
			mns = append(mns, mn)
		}
		sort.Strings(mns)
		b.WriteString("\n## Terminators\n\n")
		b.WriteString("| mnemonic | count |\n|---|---:|\n")
		for _, mn := range mns {
			fmt.Fprintf(&b, "| `%s` | %d |\n", mn, st.Terminators[mn])
		}
	}
	return b.String()
}

func renderStats(w io.Writer, file, arch string, st search.Stats, width int) error {
	md := statsMarkdown(file, arch, st)
	renderer, err := styles.GetMarkdownRenderer(width)
	if err != nil {
		_, err = io.WriteString(w, md)
		return err
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		return fmt.Errorf("render stats: %w", err)
	}
	_, err = io.WriteString(w, rendered)
	return err
}
