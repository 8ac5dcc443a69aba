package disasm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/arch/riscv64/riscv64asm"
)

// abiNames maps x0..x31 to their ABI register names.
var abiNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// xRegToken matches a numeric integer register in operand text. Hex
// immediates such as 0x10 never match: there is no word boundary before x.
var xRegToken = regexp.MustCompile(`(?i)\bx([0-9]|[12][0-9]|3[01])\b`)

// RISCV64 decodes RV64GC. The decoder expands compressed (RVC) encodings
// to their base instructions; Decode marks them by their 2-byte length.
type RISCV64 struct{}

func (RISCV64) Arch() Arch      { return ArchRISCV64 }
func (RISCV64) Alignment() int  { return 2 }
func (RISCV64) MaxInstLen() int { return 4 }

func (RISCV64) Decode(code []byte, addr uint64) Stream {
	var out Stream
	for off := 0; off < len(code); {
		inst, err := riscv64asm.Decode(code[off:])
		if err != nil || inst.Len == 0 || off+inst.Len > len(code) {
			break
		}
		mn, ops := riscvText(inst)
		out = append(out, Inst{
			Addr:     addr + uint64(off),
			Bytes:    code[off : off+inst.Len],
			Mnemonic: mn,
			OpStr:    ops,
		})
		off += inst.Len
	}
	return out
}

func (RISCV64) Detail(ins Inst) (*Detail, *ArchDetail, error) {
	inst, err := riscv64asm.Decode(ins.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %#x: %v", ErrNoDetail, ins.Addr, err)
	}
	if inst.Len != len(ins.Bytes) {
		return nil, nil, fmt.Errorf("%w: %#x: length mismatch", ErrNoDetail, ins.Addr)
	}

	op := strings.ToLower(inst.Op.String())
	ad := &ArchDetail{Arch: ArchRISCV64, Op: op}
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		ad.Operands = append(ad.Operands, riscvOperand(arg))
	}
	riscvAccess(op, ad.Operands)

	d := &Detail{}
	riscvGroups(op, ad.Operands, d)
	d.collectRegs(ad.Operands)
	return d, ad, nil
}

// riscvText formats inst with ABI register names. Compressed encodings
// get CompressedPrefix on the mnemonic.
func riscvText(inst riscv64asm.Inst) (string, string) {
	mn, ops := splitText(riscv64asm.GNUSyntax(inst))
	ops = xRegToken.ReplaceAllStringFunc(ops, riscvABIName)
	if inst.Len == 2 {
		mn = CompressedPrefix + mn
	}
	return mn, ops
}

// riscvABIName maps "x10" to "a0"; anything else is returned unchanged.
func riscvABIName(tok string) string {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(tok), "x"))
	if err != nil || n < 0 || n >= len(abiNames) {
		return tok
	}
	return abiNames[n]
}

func riscvReg(r riscv64asm.Reg) string {
	if r >= riscv64asm.X0 && r <= riscv64asm.X31 {
		return abiNames[r-riscv64asm.X0]
	}
	return strings.ToLower(r.String())
}

func riscvOperand(arg riscv64asm.Arg) Operand {
	switch a := arg.(type) {
	case riscv64asm.Reg:
		return Operand{Kind: OperandReg, Reg: riscvReg(a)}
	case riscv64asm.Simm:
		return Operand{Kind: OperandImm, Imm: int64(a.Imm)}
	case riscv64asm.Uimm:
		return Operand{Kind: OperandImm, Imm: int64(a.Imm)}
	case riscv64asm.RegOffset:
		return Operand{Kind: OperandMem, Reg: riscvReg(a.OfsReg), Imm: int64(a.Ofs.Imm), Access: AccessRead}
	case riscv64asm.AmoReg:
		reg := strings.Trim(strings.ToLower(a.String()), "()")
		return Operand{Kind: OperandMem, Reg: riscvABIName(reg), Access: AccessRead | AccessWrite}
	default:
		return Operand{Kind: OperandOther}
	}
}

// riscvNoDest reports opcodes whose first register operand is a source.
func riscvNoDest(op string) bool {
	switch op {
	case "beq", "bne", "blt", "bge", "bltu", "bgeu",
		"sb", "sh", "sw", "sd", "fsw", "fsd",
		"ecall", "ebreak":
		return true
	}
	return strings.HasPrefix(op, "fence")
}

// riscvAccess assigns access flags in place. Writes to zero are discarded
// by the hardware and are not recorded.
func riscvAccess(op string, ops []Operand) {
	dest := !riscvNoDest(op)
	first := true
	for i := range ops {
		if ops[i].Kind != OperandReg {
			continue
		}
		switch {
		case first && dest && ops[i].Reg == "zero":
			ops[i].Access = 0
		case first && dest:
			ops[i].Access = AccessWrite
		default:
			ops[i].Access = AccessRead
		}
		first = false
	}
}

func riscvGroups(op string, ops []Operand, d *Detail) {
	regs := make([]string, 0, 2)
	var off int64
	for _, o := range ops {
		switch o.Kind {
		case OperandReg:
			regs = append(regs, o.Reg)
		case OperandMem:
			regs = append(regs, o.Reg)
			off = o.Imm
		case OperandImm:
			off = o.Imm
		}
	}

	switch op {
	case "jalr":
		d.Indirect = true
		if len(regs) == 2 && regs[0] == "zero" {
			if regs[1] == "ra" && off == 0 {
				d.Groups = append(d.Groups, GroupRet)
			} else {
				d.Groups = append(d.Groups, GroupJump)
			}
		} else {
			d.Groups = append(d.Groups, GroupCall)
		}
	case "jal":
		if len(regs) == 1 && regs[0] == "zero" {
			d.Groups = append(d.Groups, GroupJump)
		} else {
			d.Groups = append(d.Groups, GroupCall)
		}
	case "ecall":
		d.Groups = append(d.Groups, GroupSyscall)
	case "beq", "bne", "blt", "bge", "bltu", "bgeu":
		d.Groups = append(d.Groups, GroupBranch)
	}
}
