package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// AMD64 decodes x86-64 instructions in 64-bit mode, Intel syntax.
type AMD64 struct{}

func (AMD64) Arch() Arch      { return ArchAMD64 }
func (AMD64) Alignment() int  { return 1 }
func (AMD64) MaxInstLen() int { return 15 }

func (AMD64) Decode(code []byte, addr uint64) Stream {
	var out Stream
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil || inst.Len == 0 {
			break
		}
		pc := addr + uint64(off)
		mn, ops := splitText(x86asm.IntelSyntax(inst, pc, nil))
		out = append(out, Inst{
			Addr:     pc,
			Bytes:    code[off : off+inst.Len],
			Mnemonic: mn,
			OpStr:    ops,
		})
		off += inst.Len
	}
	return out
}

func (AMD64) Detail(ins Inst) (*Detail, *ArchDetail, error) {
	inst, err := x86asm.Decode(ins.Bytes, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %#x: %v", ErrNoDetail, ins.Addr, err)
	}
	if inst.Len != len(ins.Bytes) {
		return nil, nil, fmt.Errorf("%w: %#x: length mismatch", ErrNoDetail, ins.Addr)
	}

	op := strings.ToLower(inst.Op.String())
	ad := &ArchDetail{Arch: ArchAMD64, Op: op}
	indirect := false
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		o := amd64Operand(arg)
		if o.Kind == OperandReg || o.Kind == OperandMem {
			indirect = true
		}
		ad.Operands = append(ad.Operands, o)
	}

	if len(ad.Operands) > 0 && ad.Operands[0].Kind == OperandReg {
		switch {
		case amd64NoDest(op):
			ad.Operands[0].Access = AccessRead
		case amd64WriteOnly(op):
			ad.Operands[0].Access = AccessWrite
		default:
			ad.Operands[0].Access = AccessRead | AccessWrite
		}
	}
	for i := 1; i < len(ad.Operands); i++ {
		if ad.Operands[i].Kind == OperandReg {
			ad.Operands[i].Access = AccessRead
		}
	}

	d := &Detail{}
	switch inst.Op {
	case x86asm.RET, x86asm.LRET:
		d.Indirect = true
		d.Groups = append(d.Groups, GroupRet)
		d.RegsRead = append(d.RegsRead, "rsp")
		d.RegsWritten = append(d.RegsWritten, "rsp")
	case x86asm.JMP, x86asm.LJMP:
		d.Indirect = indirect
		d.Groups = append(d.Groups, GroupJump)
	case x86asm.CALL, x86asm.LCALL:
		d.Indirect = indirect
		d.Groups = append(d.Groups, GroupCall)
	case x86asm.SYSCALL, x86asm.INT:
		d.Groups = append(d.Groups, GroupSyscall)
	case x86asm.PUSH, x86asm.POP:
		d.RegsRead = append(d.RegsRead, "rsp")
		d.RegsWritten = append(d.RegsWritten, "rsp")
	default:
		if strings.HasPrefix(op, "j") {
			d.Groups = append(d.Groups, GroupBranch)
		}
	}
	d.collectRegs(ad.Operands)
	return d, ad, nil
}

func amd64Operand(arg x86asm.Arg) Operand {
	switch a := arg.(type) {
	case x86asm.Reg:
		return Operand{Kind: OperandReg, Reg: strings.ToLower(a.String())}
	case x86asm.Imm:
		return Operand{Kind: OperandImm, Imm: int64(a)}
	case x86asm.Rel:
		return Operand{Kind: OperandPCRel, Imm: int64(a)}
	case x86asm.Mem:
		o := Operand{Kind: OperandMem, Imm: a.Disp, Access: AccessRead}
		if a.Base != 0 {
			o.Reg = strings.ToLower(a.Base.String())
		}
		return o
	default:
		return Operand{Kind: OperandOther}
	}
}

func amd64NoDest(op string) bool {
	switch op {
	case "cmp", "test", "push", "jmp", "ljmp", "call", "lcall", "ret", "lret":
		return true
	}
	return strings.HasPrefix(op, "j")
}

func amd64WriteOnly(op string) bool {
	switch op {
	case "mov", "movzx", "movsx", "movsxd", "lea", "pop":
		return true
	}
	return false
}
