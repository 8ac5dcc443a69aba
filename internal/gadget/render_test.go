package gadget

import (
	"strings"
	"testing"

	"rvrop/internal/disasm"
)

func markRenderer() *Renderer {
	return &Renderer{Emphasize: func(s string) string { return "<" + s + ">" }}
}

func threeInsnGadget(t *testing.T) *Gadget {
	t.Helper()
	g, err := New(&fakeDecoder{}, []disasm.Inst{
		inst(0x10074, []byte{0x01, 0x00}, "c.nop", ""),
		inst(0x10076, []byte{0x05, 0x05}, "c.addi", "a0,1"),
		inst(0x10078, []byte{0x82, 0x80}, "c.jr", "ra"),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return g
}

func TestRenderBlock(t *testing.T) {
	g := threeInsnGadget(t)
	want := "0x00010074" + "    " + "         01 00 " + "   " + "nop \n" +
		"0x00010076" + "    " + "         05 05 " + "   " + "addi a0,1\n" +
		"0x00010078" + "    " + "         82 80 " + "   " + "<jr ra>\n"
	if got := markRenderer().Render(g, Block); got != want {
		t.Errorf("block output mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderBlockLongEncoding(t *testing.T) {
	g, err := New(&fakeDecoder{}, []disasm.Inst{
		inst(0xdeadbeef, []byte{0x13, 0x05, 0x15, 0x00}, "addi", "a0,a0,1"),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "0xdeadbeef    " + "   13 05 15 00 " + "   addi a0,a0,1\n"
	if got := NewRenderer(false).Render(g, Block); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderInline(t *testing.T) {
	g := threeInsnGadget(t)
	want := "0x00010074     nop ; addi a0,1 ; <jr ra>\n"
	if got := markRenderer().Render(g, Inline); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestInlineSeparators(t *testing.T) {
	g := threeInsnGadget(t)
	got := NewRenderer(false).Render(g, Inline)
	// "nop" has no operands so it is followed by "; ", "addi a0,1" by " ; ".
	if !strings.Contains(got, "nop ; addi") {
		t.Errorf("empty-operand separator missing in %q", got)
	}
	if !strings.Contains(got, "a0,1 ; jr") {
		t.Errorf("operand separator missing in %q", got)
	}
	if strings.HasSuffix(strings.TrimSuffix(got, "\n"), ";") || strings.HasSuffix(strings.TrimSuffix(got, "\n"), "; ") {
		t.Errorf("separator after last instruction in %q", got)
	}
}

func TestRenderTerminatorEmphasis(t *testing.T) {
	g := threeInsnGadget(t)
	r := markRenderer()

	lines := strings.Split(strings.TrimSuffix(r.Render(g, Block), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for i, line := range lines {
		marked := strings.Contains(line, "<")
		if marked != (i == 2) {
			t.Errorf("line %d emphasis = %v: %q", i, marked, line)
		}
	}

	inline := r.Render(g, Inline)
	if strings.Count(inline, "<") != 1 || !strings.HasSuffix(inline, "<jr ra>\n") {
		t.Errorf("only the terminator should be emphasized: %q", inline)
	}
}

func TestRenderCanonicalizesMnemonic(t *testing.T) {
	g, err := New(&fakeDecoder{}, []disasm.Inst{
		inst(0x100, []byte{0x05, 0x05}, "c.addi", "a0,1"),
		inst(0x102, []byte{0x82, 0x80}, "c.jr", "ra"),
	})
	if err != nil {
		t.Fatal(err)
	}
	r := NewRenderer(false)
	for _, mode := range []OutputMode{Block, Inline} {
		out := r.Render(g, mode)
		if strings.Contains(out, "c.") {
			t.Errorf("%s output still carries the compressed marker: %q", mode, out)
		}
		if !strings.Contains(out, "addi a0,1") {
			t.Errorf("%s output missing canonical mnemonic: %q", mode, out)
		}
	}
}

func TestRenderSingleInstruction(t *testing.T) {
	g, err := New(&fakeDecoder{}, []disasm.Inst{inst(0x100, []byte{0x82, 0x80}, "c.jr", "ra")})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := markRenderer().Render(g, Inline), "0x00000100     <jr ra>\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParseOutputMode(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputMode
		wantErr bool
	}{
		{in: "block", want: Block},
		{in: "", want: Block},
		{in: "Inline", want: Inline},
		{in: "table", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseOutputMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseOutputMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOutputMode(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNewRendererColorsTerminator(t *testing.T) {
	g := threeInsnGadget(t)

	lines := strings.Split(strings.TrimSuffix(NewRenderer(true).Render(g, Block), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for i, line := range lines[:2] {
		if strings.Contains(line, "\x1b[") {
			t.Errorf("line %d styled: %q", i, line)
		}
	}
	if !strings.Contains(lines[2], "\x1b[") || !strings.Contains(lines[2], "jr ra") {
		t.Errorf("terminator not styled: %q", lines[2])
	}

	if out := NewRenderer(false).Render(g, Inline); strings.Contains(out, "\x1b[") {
		t.Errorf("uncolored renderer emitted escapes: %q", out)
	}
}

func TestRenderDecodedRISCV64(t *testing.T) {
	// c.addi a0,1; c.jr ra
	code := []byte{0x05, 0x05, 0x82, 0x80}
	dec := disasm.RISCV64{}
	stream := dec.Decode(code, 0x10000)
	if len(stream) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(stream))
	}
	for _, ins := range stream {
		if !strings.HasPrefix(ins.Mnemonic, disasm.CompressedPrefix) {
			t.Errorf("%#x: mnemonic %q lacks compressed marker", ins.Addr, ins.Mnemonic)
		}
	}

	g, err := New(dec, stream)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	r := NewRenderer(false)

	wantBlock := "0x00010000    " + "         05 05 " + "   addi a0,a0,1\n" +
		"0x00010002    " + "         82 80 " + "   ret \n"
	if got := r.Render(g, Block); got != wantBlock {
		t.Errorf("block output mismatch\ngot:  %q\nwant: %q", got, wantBlock)
	}
	wantInline := "0x00010000     addi a0,a0,1 ; ret \n"
	if got := r.Render(g, Inline); got != wantInline {
		t.Errorf("inline got %q, want %q", got, wantInline)
	}

	compressedAddi := QueryFunc(func(ins disasm.Inst, d *disasm.Detail, _ *disasm.ArchDetail) bool {
		return ins.Mnemonic == "c.addi" && len(d.RegsWritten) == 1 && d.RegsWritten[0] == "a0"
	})
	if !g.Satisfies(dec, compressedAddi) {
		t.Error("decoded gadget does not satisfy a c.addi query")
	}
}
