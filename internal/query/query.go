// Package query parses and evaluates textual predicates over a single
// decoded instruction.
//
// A query is a list of alternatives separated by "|". Each alternative is a
// whitespace separated list of terms that must all hold. A term is
// key:value, optionally prefixed with "!" to negate it:
//
//	op:<glob>      canonical or raw mnemonic matches the glob
//	reads:<reg>    register is read
//	writes:<reg>   register is written
//	reg:<reg>      register is read or written
//	group:<name>   jump, call, ret, branch or syscall
//	imm:<n>        an immediate or displacement equals n (decimal or 0x hex)
//
// A bare word is shorthand for op:<word>. The empty query matches every
// instruction.
package query

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"rvrop/internal/disasm"
)

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("query syntax error")

type kind string

const (
	kindOp     kind = "op"
	kindReads  kind = "reads"
	kindWrites kind = "writes"
	kindReg    kind = "reg"
	kindGroup  kind = "group"
	kindImm    kind = "imm"
)

type term struct {
	kind   kind
	value  string
	imm    int64
	negate bool
}

// Query is a parsed predicate. The zero value matches everything.
type Query struct {
	src  string
	alts [][]term
}

// Parse compiles src.
func Parse(src string) (*Query, error) {
	q := &Query{src: strings.TrimSpace(src)}
	if q.src == "" {
		return q, nil
	}
	for _, part := range strings.Split(q.src, "|") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			return nil, fmt.Errorf("%w: empty alternative in %q", ErrSyntax, src)
		}
		alt := make([]term, 0, len(fields))
		for _, f := range fields {
			t, err := parseTerm(f)
			if err != nil {
				return nil, err
			}
			alt = append(alt, t)
		}
		q.alts = append(q.alts, alt)
	}
	return q, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string) *Query {
	q, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return q
}

func parseTerm(f string) (term, error) {
	var t term
	if strings.HasPrefix(f, "!") {
		t.negate = true
		f = f[1:]
	}
	key, value, ok := strings.Cut(f, ":")
	if !ok {
		key, value = string(kindOp), f
	}
	key = strings.ToLower(key)
	value = strings.ToLower(value)
	if value == "" {
		return t, fmt.Errorf("%w: missing value in %q", ErrSyntax, f)
	}
	t.kind = kind(key)
	t.value = value

	switch t.kind {
	case kindOp:
		if _, err := path.Match(value, ""); err != nil {
			return t, fmt.Errorf("%w: bad pattern %q: %v", ErrSyntax, value, err)
		}
	case kindReads, kindWrites, kindReg:
		t.value = normalizeReg(value)
	case kindGroup:
		switch disasm.Group(value) {
		case disasm.GroupJump, disasm.GroupCall, disasm.GroupRet, disasm.GroupBranch, disasm.GroupSyscall:
		default:
			return t, fmt.Errorf("%w: unknown group %q", ErrSyntax, value)
		}
	case kindImm:
		n, err := strconv.ParseInt(value, 0, 64)
		if err != nil {
			return t, fmt.Errorf("%w: bad immediate %q", ErrSyntax, value)
		}
		t.imm = n
	default:
		return t, fmt.Errorf("%w: unknown key %q", ErrSyntax, key)
	}
	return t, nil
}

// riscvABI maps numeric RISC-V register names to ABI names.
var riscvABI = map[string]string{
	"x0": "zero", "x1": "ra", "x2": "sp", "x3": "gp", "x4": "tp",
	"x5": "t0", "x6": "t1", "x7": "t2", "x8": "s0", "fp": "s0", "x9": "s1",
	"x10": "a0", "x11": "a1", "x12": "a2", "x13": "a3", "x14": "a4",
	"x15": "a5", "x16": "a6", "x17": "a7", "x18": "s2", "x19": "s3",
	"x20": "s4", "x21": "s5", "x22": "s6", "x23": "s7", "x24": "s8",
	"x25": "s9", "x26": "s10", "x27": "s11", "x28": "t3", "x29": "t4",
	"x30": "t5", "x31": "t6",
}

func normalizeReg(r string) string {
	if abi, ok := riscvABI[r]; ok {
		return abi
	}
	return r
}

// String returns the source text.
func (q *Query) String() string { return q.src }

// IsSatisfied reports whether one instruction satisfies the query.
func (q *Query) IsSatisfied(ins disasm.Inst, detail *disasm.Detail, arch *disasm.ArchDetail) bool {
	if q == nil || len(q.alts) == 0 {
		return true
	}
	for _, alt := range q.alts {
		if allHold(alt, ins, detail, arch) {
			return true
		}
	}
	return false
}

func allHold(alt []term, ins disasm.Inst, detail *disasm.Detail, arch *disasm.ArchDetail) bool {
	for _, t := range alt {
		if t.eval(ins, detail, arch) == t.negate {
			return false
		}
	}
	return true
}

func (t term) eval(ins disasm.Inst, detail *disasm.Detail, arch *disasm.ArchDetail) bool {
	switch t.kind {
	case kindOp:
		for _, mn := range []string{disasm.Canonical(ins.Mnemonic), ins.Mnemonic} {
			if ok, _ := path.Match(t.value, mn); ok {
				return true
			}
		}
		return false
	case kindReads:
		return detail != nil && contains(detail.RegsRead, t.value)
	case kindWrites:
		return detail != nil && contains(detail.RegsWritten, t.value)
	case kindReg:
		return detail != nil && (contains(detail.RegsRead, t.value) || contains(detail.RegsWritten, t.value))
	case kindGroup:
		return detail != nil && detail.InGroup(disasm.Group(t.value))
	case kindImm:
		if arch == nil {
			return false
		}
		for _, op := range arch.Operands {
			if (op.Kind == disasm.OperandImm || op.Kind == disasm.OperandMem) && op.Imm == t.imm {
				return true
			}
		}
		return false
	}
	return false
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
