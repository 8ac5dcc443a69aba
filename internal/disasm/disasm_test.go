package disasm

import (
	"debug/elf"
	"errors"
	"strings"
	"testing"
)

func TestAMD64Decode(t *testing.T) {
	// pop rax; pop rdi; ret
	code := []byte{0x58, 0x5f, 0xc3}
	stream := AMD64{}.Decode(code, 0x401000)
	if len(stream) != 3 {
		t.Fatalf("expected 3 instructions, got %d", len(stream))
	}

	want := []struct {
		addr uint64
		mn   string
		ops  string
	}{
		{0x401000, "pop", "rax"},
		{0x401001, "pop", "rdi"},
		{0x401002, "ret", ""},
	}
	for i, w := range want {
		got := stream[i]
		if got.Addr != w.addr || got.Mnemonic != w.mn || got.OpStr != w.ops {
			t.Errorf("inst %d = {%#x %q %q}, want {%#x %q %q}", i, got.Addr, got.Mnemonic, got.OpStr, w.addr, w.mn, w.ops)
		}
	}
}

func TestAMD64Detail(t *testing.T) {
	tests := []struct {
		name       string
		code       []byte
		terminator bool
		group      Group
		written    string
	}{
		{name: "ret", code: []byte{0xc3}, terminator: true, group: GroupRet},
		{name: "jmp rax", code: []byte{0xff, 0xe0}, terminator: true, group: GroupJump},
		{name: "call rax", code: []byte{0xff, 0xd0}, terminator: true, group: GroupCall},
		{name: "jmp rel32", code: []byte{0xe9, 0x00, 0x00, 0x00, 0x00}, terminator: false, group: GroupJump},
		{name: "pop rax", code: []byte{0x58}, terminator: false, written: "rax"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ad, err := AMD64{}.Detail(Inst{Addr: 0x1000, Bytes: tt.code})
			if err != nil {
				t.Fatalf("Detail failed: %v", err)
			}
			if ad.Arch != ArchAMD64 {
				t.Errorf("arch = %s, want %s", ad.Arch, ArchAMD64)
			}
			if got := d.IsTerminator(); got != tt.terminator {
				t.Errorf("IsTerminator() = %v, want %v", got, tt.terminator)
			}
			if tt.group != "" && !d.InGroup(tt.group) {
				t.Errorf("groups %v do not contain %s", d.Groups, tt.group)
			}
			if tt.written != "" {
				found := false
				for _, r := range d.RegsWritten {
					if r == tt.written {
						found = true
					}
				}
				if !found {
					t.Errorf("RegsWritten %v missing %s", d.RegsWritten, tt.written)
				}
			}
		})
	}
}

func TestDetailUnavailable(t *testing.T) {
	// Bytes that do not form exactly one instruction.
	_, _, err := AMD64{}.Detail(Inst{Addr: 0x10, Bytes: []byte{0x58, 0xc3}})
	if !errors.Is(err, ErrNoDetail) {
		t.Errorf("expected ErrNoDetail, got %v", err)
	}

	_, _, err = ARM64{}.Detail(Inst{Addr: 0x10, Bytes: []byte{0xc0, 0x03}})
	if !errors.Is(err, ErrNoDetail) {
		t.Errorf("expected ErrNoDetail for short arm64 encoding, got %v", err)
	}
}

func TestARM64Ret(t *testing.T) {
	// ret
	code := []byte{0xc0, 0x03, 0x5f, 0xd6}
	stream := ARM64{}.Decode(code, 0x10000)
	if len(stream) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(stream))
	}
	if stream[0].Mnemonic != "ret" {
		t.Errorf("mnemonic = %q, want ret", stream[0].Mnemonic)
	}
	d, _, err := ARM64{}.Detail(stream[0])
	if err != nil {
		t.Fatalf("Detail failed: %v", err)
	}
	if !d.IsTerminator() || !d.InGroup(GroupRet) {
		t.Errorf("ret not classified as terminator: %+v", d)
	}
}

func TestRISCV64Decode(t *testing.T) {
	// jalr zero, 0(ra) followed by its compressed form
	code := []byte{0x67, 0x80, 0x00, 0x00, 0x82, 0x80}
	stream := RISCV64{}.Decode(code, 0x10074)
	if len(stream) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(stream))
	}
	if len(stream[0].Bytes) != 4 || len(stream[1].Bytes) != 2 {
		t.Errorf("lengths = %d, %d, want 4, 2", len(stream[0].Bytes), len(stream[1].Bytes))
	}
	if stream[1].Addr != 0x10078 {
		t.Errorf("second address = %#x, want 0x10078", stream[1].Addr)
	}
	if strings.HasPrefix(stream[0].Mnemonic, CompressedPrefix) {
		t.Errorf("4-byte mnemonic %q carries %q marker", stream[0].Mnemonic, CompressedPrefix)
	}
	if !strings.HasPrefix(stream[1].Mnemonic, CompressedPrefix) {
		t.Errorf("compressed mnemonic %q lacks %q marker", stream[1].Mnemonic, CompressedPrefix)
	}
	if Canonical(stream[0].Mnemonic) != Canonical(stream[1].Mnemonic) {
		t.Errorf("canonical mnemonics differ: %q vs %q", stream[0].Mnemonic, stream[1].Mnemonic)
	}

	for _, ins := range stream {
		d, _, err := RISCV64{}.Detail(ins)
		if err != nil {
			t.Fatalf("Detail(%#x) failed: %v", ins.Addr, err)
		}
		if !d.InGroup(GroupRet) {
			t.Errorf("%#x %s: groups %v, want ret", ins.Addr, ins.Mnemonic, d.Groups)
		}
		if len(d.RegsWritten) != 0 {
			t.Errorf("%#x %s: writes %v, want none", ins.Addr, ins.Mnemonic, d.RegsWritten)
		}
		if len(d.RegsRead) != 1 || d.RegsRead[0] != "ra" {
			t.Errorf("%#x %s: reads %v, want [ra]", ins.Addr, ins.Mnemonic, d.RegsRead)
		}
	}
}

func TestRISCV64ABINames(t *testing.T) {
	tests := []struct {
		name    string
		code    []byte
		mn      string
		ops     string
		read    []string
		written []string
	}{
		{"addi", []byte{0x13, 0x05, 0x15, 0x00}, "addi", "a0,a0,1", []string{"a0"}, []string{"a0"}},
		{"c.addi", []byte{0x05, 0x05}, "c.addi", "a0,a0,1", []string{"a0"}, []string{"a0"}},
		{"ld", []byte{0x83, 0x30, 0x81, 0x00}, "ld", "ra,8(sp)", []string{"sp"}, []string{"ra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := RISCV64{}.Decode(tt.code, 0x1000)
			if len(stream) != 1 {
				t.Fatalf("expected 1 instruction, got %d", len(stream))
			}
			ins := stream[0]
			if ins.Mnemonic != tt.mn || ins.OpStr != tt.ops {
				t.Errorf("text = %q %q, want %q %q", ins.Mnemonic, ins.OpStr, tt.mn, tt.ops)
			}
			d, _, err := RISCV64{}.Detail(ins)
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(d.RegsRead, ",") != strings.Join(tt.read, ",") {
				t.Errorf("reads %v, want %v", d.RegsRead, tt.read)
			}
			if strings.Join(d.RegsWritten, ",") != strings.Join(tt.written, ",") {
				t.Errorf("writes %v, want %v", d.RegsWritten, tt.written)
			}
		})
	}
}

func TestRISCVABIName(t *testing.T) {
	tests := map[string]string{"x0": "zero", "x1": "ra", "X10": "a0", "x31": "t6", "x32": "x32", "f1": "f1"}
	for in, want := range tests {
		if got := riscvABIName(in); got != want {
			t.Errorf("riscvABIName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecodeStopsAtTruncation(t *testing.T) {
	// addi a0, a0, 1 then half of another 32-bit instruction.
	code := []byte{0x13, 0x05, 0x15, 0x00, 0x13, 0x05}
	stream := RISCV64{}.Decode(code, 0)
	if len(stream) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(stream))
	}
}

func TestClone(t *testing.T) {
	buf := []byte{0xc3}
	ins := AMD64{}.Decode(buf, 0)[0]
	owned := ins.Clone()
	buf[0] = 0x90
	if owned.Bytes[0] != 0xc3 {
		t.Errorf("clone aliases decoder buffer")
	}
	if ins.Bytes[0] != 0x90 {
		t.Errorf("decoded instruction should alias the input buffer")
	}
}

func TestCanonical(t *testing.T) {
	tests := map[string]string{
		"c.addi": "addi",
		"addi":   "addi",
		"c.jr":   "jr",
		"ret":    "ret",
		"":       "",
	}
	for in, want := range tests {
		if got := Canonical(in); got != want {
			t.Errorf("Canonical(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew(t *testing.T) {
	for _, arch := range []Arch{ArchRISCV64, ArchARM64, ArchAMD64} {
		dec, err := New(arch)
		if err != nil {
			t.Fatalf("New(%s): %v", arch, err)
		}
		if dec.Arch() != arch {
			t.Errorf("New(%s).Arch() = %s", arch, dec.Arch())
		}
	}
	if _, err := New("mips"); err == nil {
		t.Error("expected error for unsupported architecture")
	}

	dec, err := ForMachine(elf.EM_RISCV)
	if err != nil || dec.Arch() != ArchRISCV64 {
		t.Errorf("ForMachine(EM_RISCV) = %v, %v", dec, err)
	}
	if _, err := ForMachine(elf.EM_MIPS); err == nil {
		t.Error("expected error for EM_MIPS")
	}
}
