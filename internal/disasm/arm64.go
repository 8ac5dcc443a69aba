package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

const arm64InsnLen = 4

// ARM64 decodes AArch64 instructions.
type ARM64 struct{}

func (ARM64) Arch() Arch      { return ArchARM64 }
func (ARM64) Alignment() int  { return arm64InsnLen }
func (ARM64) MaxInstLen() int { return arm64InsnLen }

func (ARM64) Decode(code []byte, addr uint64) Stream {
	var out Stream
	for off := 0; off+arm64InsnLen <= len(code); off += arm64InsnLen {
		inst, err := arm64asm.Decode(code[off : off+arm64InsnLen])
		if err != nil {
			break
		}
		mn, ops := splitText(arm64asm.GNUSyntax(inst))
		out = append(out, Inst{
			Addr:     addr + uint64(off),
			Bytes:    code[off : off+arm64InsnLen],
			Mnemonic: mn,
			OpStr:    ops,
		})
	}
	return out
}

func (ARM64) Detail(ins Inst) (*Detail, *ArchDetail, error) {
	if len(ins.Bytes) != arm64InsnLen {
		return nil, nil, fmt.Errorf("%w: %#x: bad length %d", ErrNoDetail, ins.Addr, len(ins.Bytes))
	}
	inst, err := arm64asm.Decode(ins.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %#x: %v", ErrNoDetail, ins.Addr, err)
	}

	op := strings.ToLower(inst.Op.String())
	ad := &ArchDetail{Arch: ArchARM64, Op: op}
	conditional := false
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		if _, ok := arg.(arm64asm.Cond); ok {
			conditional = true
		}
		ad.Operands = append(ad.Operands, arm64Operand(arg))
	}

	dest := !arm64NoDest(op)
	first := true
	for i := range ad.Operands {
		if ad.Operands[i].Kind != OperandReg {
			continue
		}
		if first && dest {
			ad.Operands[i].Access = AccessWrite
		} else {
			ad.Operands[i].Access = AccessRead
		}
		first = false
	}

	d := &Detail{}
	switch inst.Op {
	case arm64asm.RET:
		d.Indirect = true
		d.Groups = append(d.Groups, GroupRet)
		if len(ad.Operands) == 0 {
			d.RegsRead = append(d.RegsRead, "x30")
		}
	case arm64asm.BR:
		d.Indirect = true
		d.Groups = append(d.Groups, GroupJump)
	case arm64asm.BLR:
		d.Indirect = true
		d.Groups = append(d.Groups, GroupCall)
		d.RegsWritten = append(d.RegsWritten, "x30")
	case arm64asm.BL:
		d.Groups = append(d.Groups, GroupCall)
		d.RegsWritten = append(d.RegsWritten, "x30")
	case arm64asm.B:
		if conditional {
			d.Groups = append(d.Groups, GroupBranch)
		} else {
			d.Groups = append(d.Groups, GroupJump)
		}
	case arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		d.Groups = append(d.Groups, GroupBranch)
	case arm64asm.SVC:
		d.Groups = append(d.Groups, GroupSyscall)
	}
	d.collectRegs(ad.Operands)
	return d, ad, nil
}

func arm64Operand(arg arm64asm.Arg) Operand {
	switch a := arg.(type) {
	case arm64asm.Reg:
		return Operand{Kind: OperandReg, Reg: strings.ToLower(a.String())}
	case arm64asm.RegSP:
		return Operand{Kind: OperandReg, Reg: strings.ToLower(a.String())}
	case arm64asm.Imm:
		return Operand{Kind: OperandImm, Imm: int64(a.Imm)}
	case arm64asm.Imm64:
		return Operand{Kind: OperandImm, Imm: int64(a.Imm)}
	case arm64asm.PCRel:
		return Operand{Kind: OperandPCRel, Imm: int64(a)}
	case arm64asm.MemImmediate:
		return Operand{Kind: OperandMem, Reg: strings.ToLower(a.Base.String()), Access: AccessRead}
	case arm64asm.MemExtend:
		return Operand{Kind: OperandMem, Reg: strings.ToLower(a.Base.String()), Access: AccessRead}
	default:
		return Operand{Kind: OperandOther}
	}
}

// arm64NoDest reports opcodes whose first register operand is a source.
func arm64NoDest(op string) bool {
	switch op {
	case "cmp", "cmn", "tst", "ret", "br", "blr", "b", "bl",
		"cbz", "cbnz", "tbz", "tbnz", "svc", "brk", "hlt", "nop":
		return true
	}
	return strings.HasPrefix(op, "st")
}
