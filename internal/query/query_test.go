package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvrop/internal/disasm"
)

type sample struct {
	ins    disasm.Inst
	detail *disasm.Detail
	arch   *disasm.ArchDetail
}

var (
	// ld a0, 8(sp)
	load = sample{
		ins:    disasm.Inst{Mnemonic: "ld", OpStr: "a0,8(sp)"},
		detail: &disasm.Detail{RegsRead: []string{"sp"}, RegsWritten: []string{"a0"}},
		arch: &disasm.ArchDetail{Arch: disasm.ArchRISCV64, Op: "ld", Operands: []disasm.Operand{
			{Kind: disasm.OperandReg, Reg: "a0", Access: disasm.AccessWrite},
			{Kind: disasm.OperandMem, Reg: "sp", Imm: 8, Access: disasm.AccessRead},
		}},
	}
	// c.addi a0, 1
	addi = sample{
		ins:    disasm.Inst{Mnemonic: "c.addi", OpStr: "a0,1"},
		detail: &disasm.Detail{RegsRead: []string{"a0"}, RegsWritten: []string{"a0"}},
		arch: &disasm.ArchDetail{Arch: disasm.ArchRISCV64, Op: "c.addi", Operands: []disasm.Operand{
			{Kind: disasm.OperandReg, Reg: "a0", Access: disasm.AccessRead | disasm.AccessWrite},
			{Kind: disasm.OperandImm, Imm: 1},
		}},
	}
	// c.jr ra
	ret = sample{
		ins:    disasm.Inst{Mnemonic: "c.jr", OpStr: "ra"},
		detail: &disasm.Detail{Groups: []disasm.Group{disasm.GroupRet}, Indirect: true, RegsRead: []string{"ra"}},
		arch: &disasm.ArchDetail{Arch: disasm.ArchRISCV64, Op: "c.jr", Operands: []disasm.Operand{
			{Kind: disasm.OperandReg, Reg: "ra", Access: disasm.AccessRead},
		}},
	}
)

func TestIsSatisfied(t *testing.T) {
	tests := []struct {
		query string
		s     sample
		want  bool
	}{
		{query: "", s: load, want: true},
		{query: "ld", s: load, want: true},
		{query: "op:l?", s: load, want: true},
		{query: "op:sd", s: load, want: false},
		{query: "addi", s: addi, want: true},
		{query: "op:c.addi", s: addi, want: true},
		{query: "writes:a0", s: load, want: true},
		{query: "writes:x10", s: load, want: true},
		{query: "reads:a0", s: load, want: false},
		{query: "reads:sp writes:a0", s: load, want: true},
		{query: "reads:sp writes:a1", s: load, want: false},
		{query: "reg:a0", s: addi, want: true},
		{query: "!reg:a0", s: addi, want: false},
		{query: "group:ret", s: ret, want: true},
		{query: "group:ret", s: load, want: false},
		{query: "imm:1", s: addi, want: true},
		{query: "imm:0x8", s: load, want: true},
		{query: "imm:2", s: addi, want: false},
		{query: "op:sd | writes:a0", s: load, want: true},
		{query: "op:sd | op:jr", s: load, want: false},
		{query: "!group:ret", s: load, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := Parse(tt.query)
			require.NoError(t, err)
			require.Equal(t, tt.want, q.IsSatisfied(tt.s.ins, tt.s.detail, tt.s.arch))
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"op:",
		"bogus:1",
		"group:teleport",
		"imm:abc",
		"ld |",
		"| ld",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			require.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func TestNilDetail(t *testing.T) {
	q := MustParse("writes:a0")
	require.False(t, q.IsSatisfied(load.ins, nil, nil))
	require.True(t, MustParse("ld").IsSatisfied(load.ins, nil, nil))
}

func TestString(t *testing.T) {
	require.Equal(t, "op:ld writes:a0", MustParse("  op:ld writes:a0 ").String())
}
