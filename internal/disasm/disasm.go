// Package disasm defines a common instruction representation used
// across architecture-specific disassemblers, plus the decoders
// built on golang.org/x/arch.
package disasm

import (
	"debug/elf"
	"errors"
	"fmt"
	"strings"
)

// ErrNoDetail is returned when extended decode detail cannot be produced
// for an instruction.
var ErrNoDetail = errors.New("instruction detail unavailable")

// CompressedPrefix marks a size-reduced (RVC) encoding in a mnemonic.
const CompressedPrefix = "c."

// Arch names a supported instruction set.
type Arch string

// Supported architectures.
const (
	ArchRISCV64 Arch = "riscv64"
	ArchARM64   Arch = "arm64"
	ArchAMD64   Arch = "amd64"
)

// Inst is a simplified decoded instruction. Bytes returned by a Decoder
// may alias the buffer passed to Decode; use Clone to own them.
type Inst struct {
	Addr     uint64 // virtual address of instruction
	Bytes    []byte // raw encoding
	Mnemonic string // lowercase, may carry CompressedPrefix
	OpStr    string // operand text, possibly empty
}

// Clone returns a deep copy of the instruction.
func (i Inst) Clone() Inst {
	b := make([]byte, len(i.Bytes))
	copy(b, i.Bytes)
	i.Bytes = b
	return i
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// Group classifies an instruction's control-flow behaviour.
type Group string

// Instruction groups.
const (
	GroupJump    Group = "jump"
	GroupCall    Group = "call"
	GroupRet     Group = "ret"
	GroupBranch  Group = "branch" // conditional, pc-relative
	GroupSyscall Group = "syscall"
)

// Detail is architecture-neutral decode detail.
type Detail struct {
	Groups      []Group
	Indirect    bool // control transfer target comes from a register or memory
	RegsRead    []string
	RegsWritten []string
}

// IsTerminator reports whether the instruction ends a gadget: a return or
// an indirect jump or call.
func (d *Detail) IsTerminator() bool {
	if d.InGroup(GroupRet) {
		return true
	}
	return d.Indirect && (d.InGroup(GroupJump) || d.InGroup(GroupCall))
}

// InGroup reports whether the instruction belongs to g.
func (d *Detail) InGroup(g Group) bool {
	for _, x := range d.Groups {
		if x == g {
			return true
		}
	}
	return false
}

// OperandKind is the decoded kind of an operand.
type OperandKind string

// Operand kinds.
const (
	OperandReg   OperandKind = "reg"
	OperandImm   OperandKind = "imm"
	OperandMem   OperandKind = "mem"
	OperandPCRel OperandKind = "pcrel"
	OperandOther OperandKind = "other"
)

// Access describes how an operand is used.
type Access uint8

// Access flags.
const (
	AccessRead Access = 1 << iota
	AccessWrite
)

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessRead | AccessWrite:
		return "readwrite"
	}
	return "none"
}

// Operand is one decoded operand.
type Operand struct {
	Kind   OperandKind
	Reg    string // register name, or base register for memory operands
	Imm    int64  // immediate value, displacement or pc-relative offset
	Access Access
}

// ArchDetail carries architecture-specific decode detail.
type ArchDetail struct {
	Arch     Arch
	Op       string // architecture opcode name, lowercase
	Operands []Operand
}

// Decoder turns raw bytes into instructions and extended detail.
// Implementations are stateless and safe for concurrent use.
type Decoder interface {
	Arch() Arch
	// Alignment is the minimum instruction alignment in bytes.
	Alignment() int
	// MaxInstLen is the longest encoding in bytes.
	MaxInstLen() int
	// Decode linearly decodes code located at addr. It stops at the first
	// undecodable sequence.
	Decode(code []byte, addr uint64) Stream
	// Detail re-decodes ins.Bytes and returns its extended detail.
	Detail(ins Inst) (*Detail, *ArchDetail, error)
}

// New returns the decoder for arch.
func New(arch Arch) (Decoder, error) {
	switch arch {
	case ArchRISCV64:
		return RISCV64{}, nil
	case ArchARM64:
		return ARM64{}, nil
	case ArchAMD64:
		return AMD64{}, nil
	default:
		return nil, fmt.Errorf("unsupported architecture: %s", arch)
	}
}

// ForMachine returns the decoder matching an ELF machine type.
func ForMachine(m elf.Machine) (Decoder, error) {
	switch m {
	case elf.EM_RISCV:
		return RISCV64{}, nil
	case elf.EM_AARCH64:
		return ARM64{}, nil
	case elf.EM_X86_64:
		return AMD64{}, nil
	default:
		return nil, fmt.Errorf("unsupported ELF machine: %s", m)
	}
}

// Canonical strips the compressed-encoding marker from a mnemonic.
func Canonical(mnemonic string) string {
	return strings.TrimPrefix(mnemonic, CompressedPrefix)
}

// splitText splits formatted assembly into mnemonic and operand text.
func splitText(text string) (string, string) {
	text = strings.TrimSpace(text)
	i := strings.IndexAny(text, " \t")
	if i < 0 {
		return strings.ToLower(text), ""
	}
	return strings.ToLower(text[:i]), strings.TrimSpace(text[i+1:])
}

// collectRegs fills RegsRead/RegsWritten from operand access flags.
func (d *Detail) collectRegs(ops []Operand) {
	for _, op := range ops {
		if op.Reg == "" {
			continue
		}
		if op.Kind == OperandMem {
			d.RegsRead = appendUnique(d.RegsRead, op.Reg)
			continue
		}
		if op.Access&AccessRead != 0 {
			d.RegsRead = appendUnique(d.RegsRead, op.Reg)
		}
		if op.Access&AccessWrite != 0 {
			d.RegsWritten = appendUnique(d.RegsWritten, op.Reg)
		}
	}
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}
