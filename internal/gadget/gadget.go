// Package gadget builds immutable, hashable instruction sequences that end
// in a control-transfer instruction, and evaluates queries against them.
package gadget

import (
	"errors"
	"fmt"

	"rvrop/internal/disasm"
)

// hashSeed is the DJB2 starting value.
const hashSeed uint32 = 5381

var (
	// ErrDecodeDetailUnavailable is returned by New when the decoder cannot
	// produce extended detail for one of the instructions.
	ErrDecodeDetailUnavailable = errors.New("failed to get instruction details")
	// ErrEmpty is returned by New for an empty instruction sequence.
	ErrEmpty = errors.New("empty instruction sequence")
)

// Query is a predicate over a single decoded instruction.
type Query interface {
	IsSatisfied(ins disasm.Inst, detail *disasm.Detail, arch *disasm.ArchDetail) bool
}

// QueryFunc adapts a function to the Query interface.
type QueryFunc func(ins disasm.Inst, detail *disasm.Detail, arch *disasm.ArchDetail) bool

func (f QueryFunc) IsSatisfied(ins disasm.Inst, detail *disasm.Detail, arch *disasm.ArchDetail) bool {
	return f(ins, detail, arch)
}

// Gadget is an ordered, non-empty run of instructions. By convention the
// last instruction is the control transfer that terminates it.
//
// Gadgets are never modified after New returns and are safe to share
// between goroutines.
type Gadget struct {
	insns []disasm.Inst
	hash  uint32
}

// New copies insns into a Gadget and computes its content hash. Every
// instruction must have decode detail available from dec; otherwise no
// gadget is returned and the error wraps ErrDecodeDetailUnavailable.
func New(dec disasm.Decoder, insns []disasm.Inst) (*Gadget, error) {
	if len(insns) == 0 {
		return nil, ErrEmpty
	}

	g := &Gadget{
		insns: make([]disasm.Inst, 0, len(insns)),
		hash:  hashSeed,
	}
	for _, ins := range insns {
		owned := ins.Clone()
		g.hash = hashBytes(g.hash, owned.Bytes)
		if _, _, err := dec.Detail(owned); err != nil {
			return nil, fmt.Errorf("%w at %#x: %v", ErrDecodeDetailUnavailable, owned.Addr, err)
		}
		g.insns = append(g.insns, owned)
	}
	return g, nil
}

// hashBytes folds b into h with h = h*33 + b, wrapping at 32 bits.
func hashBytes(h uint32, b []byte) uint32 {
	for _, c := range b {
		h = h*33 + uint32(c)
	}
	return h
}

// Hash returns the content hash. It depends only on the instruction
// bytes, never on addresses or text.
func (g *Gadget) Hash() uint32 { return g.hash }

// Equal reports whether both gadgets have the same content hash.
//
// This is coarser than content equality: distinct byte sequences whose
// hashes collide compare equal. Callers that need exact deduplication
// must also compare Instructions.
func (g *Gadget) Equal(other *Gadget) bool {
	if g == nil || other == nil {
		return g == other
	}
	return g.hash == other.hash
}

// Len returns the number of instructions.
func (g *Gadget) Len() int { return len(g.insns) }

// Addr returns the address of the first instruction.
func (g *Gadget) Addr() uint64 { return g.insns[0].Addr }

// Terminator returns the last instruction.
func (g *Gadget) Terminator() disasm.Inst { return g.insns[len(g.insns)-1] }

// Instructions returns a copy of the instruction sequence.
func (g *Gadget) Instructions() []disasm.Inst {
	out := make([]disasm.Inst, len(g.insns))
	for i, ins := range g.insns {
		out[i] = ins.Clone()
	}
	return out
}

// Bytes returns the concatenated raw encoding.
func (g *Gadget) Bytes() []byte {
	var out []byte
	for _, ins := range g.insns {
		out = append(out, ins.Bytes...)
	}
	return out
}

// Satisfies reports whether any instruction satisfies q. Detail is fetched
// from dec for each instruction; instructions without detail are skipped.
func (g *Gadget) Satisfies(dec disasm.Decoder, q Query) bool {
	for _, ins := range g.insns {
		detail, arch, err := dec.Detail(ins)
		if err != nil {
			continue
		}
		if q.IsSatisfied(ins, detail, arch) {
			return true
		}
	}
	return false
}
