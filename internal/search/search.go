// Package search enumerates gadgets in executable code regions.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"rvrop/internal/disasm"
	"rvrop/internal/gadget"
)

// DefaultDepth is the default maximum number of instructions per gadget.
const DefaultDepth = 6

// Region is a contiguous run of executable bytes located at Addr.
type Region struct {
	Name string
	Addr uint64
	Code []byte
}

// Options controls a search.
type Options struct {
	Depth   int          // maximum instructions per gadget, including the terminator
	Query   gadget.Query // nil keeps every gadget
	NoDedup bool         // keep gadgets whose hashes collide
	Workers int          // regions searched in parallel; 0 means GOMAXPROCS
}

// Stats summarises a search.
type Stats struct {
	Regions     int
	Terminators map[string]int // by canonical mnemonic
	Windows     int            // candidate windows that decoded cleanly
	Rejected    int            // windows whose construction failed
	Duplicates  int            // dropped by hash equality
	Filtered    int            // dropped by the query
	Gadgets     int
}

// Result is the outcome of Find.
type Result struct {
	Gadgets []*gadget.Gadget
	Stats   Stats
}

type regionResult struct {
	gadgets     []*gadget.Gadget
	terminators map[string]int
	windows     int
	rejected    int
}

// Find enumerates gadgets in every region, deduplicates them by hash and
// filters them with opts.Query. Gadgets are returned sorted by address.
func Find(ctx context.Context, dec disasm.Decoder, regions []Region, opts Options) (*Result, error) {
	if dec == nil {
		return nil, errors.New("nil decoder")
	}
	if opts.Depth <= 0 {
		opts.Depth = DefaultDepth
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]regionResult, len(regions))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, r := range regions {
		eg.Go(func() error {
			res, err := scanRegion(ctx, dec, r, opts.Depth)
			if err != nil {
				return fmt.Errorf("region %s: %w", r.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := &Result{Stats: Stats{Regions: len(regions), Terminators: make(map[string]int)}}
	seen := make(map[uint32]bool)
	for _, res := range results {
		out.Stats.Windows += res.windows
		out.Stats.Rejected += res.rejected
		for mn, n := range res.terminators {
			out.Stats.Terminators[mn] += n
		}
		for _, g := range res.gadgets {
			if !opts.NoDedup {
				if seen[g.Hash()] {
					out.Stats.Duplicates++
					continue
				}
				seen[g.Hash()] = true
			}
			if opts.Query != nil && !g.Satisfies(dec, opts.Query) {
				out.Stats.Filtered++
				continue
			}
			out.Gadgets = append(out.Gadgets, g)
		}
	}

	sort.SliceStable(out.Gadgets, func(i, j int) bool {
		return out.Gadgets[i].Addr() < out.Gadgets[j].Addr()
	})
	out.Stats.Gadgets = len(out.Gadgets)
	slog.Debug("Search finished",
		"regions", out.Stats.Regions,
		"windows", out.Stats.Windows,
		"duplicates", out.Stats.Duplicates,
		"gadgets", out.Stats.Gadgets)
	return out, nil
}

// scanRegion finds terminators in r and builds every window that ends on one.
func scanRegion(ctx context.Context, dec disasm.Decoder, r Region, depth int) (regionResult, error) {
	res := regionResult{terminators: make(map[string]int)}
	align := dec.Alignment()
	if align <= 0 {
		align = 1
	}

	// First pass: terminator offsets and their encoded lengths.
	terms := make(map[int]int)
	var order []int
	for off := 0; off < len(r.Code); off += align {
		if off%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}
		stream := dec.Decode(r.Code[off:min(len(r.Code), off+dec.MaxInstLen())], r.Addr+uint64(off))
		if len(stream) == 0 {
			continue
		}
		ins := stream[0]
		d, _, err := dec.Detail(ins)
		if err != nil || !d.IsTerminator() {
			continue
		}
		terms[off] = len(ins.Bytes)
		order = append(order, off)
		res.terminators[disasm.Canonical(ins.Mnemonic)]++
	}

	maxBack := depth * dec.MaxInstLen()
	for _, t := range order {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := t + terms[t]
		lo := max(0, t-maxBack)
		for start := lo; start <= t; start += align {
			stream := dec.Decode(r.Code[start:end], r.Addr+uint64(start))
			if !landsOn(stream, r.Addr+uint64(t), end-start, depth) {
				continue
			}
			if hasEarlyTerminator(stream, r.Addr, terms) {
				continue
			}
			res.windows++
			g, err := gadget.New(dec, stream)
			if err != nil {
				res.rejected++
				slog.Debug("Skipping window", "addr", fmt.Sprintf("%#x", stream[0].Addr), "error", err)
				continue
			}
			res.gadgets = append(res.gadgets, g)
		}
	}
	return res, nil
}

// landsOn reports whether stream covers exactly size bytes, ends with the
// instruction at term and has at most depth instructions.
func landsOn(stream disasm.Stream, term uint64, size, depth int) bool {
	if len(stream) == 0 || len(stream) > depth {
		return false
	}
	n := 0
	for _, ins := range stream {
		n += len(ins.Bytes)
	}
	return n == size && stream[len(stream)-1].Addr == term
}

func hasEarlyTerminator(stream disasm.Stream, base uint64, terms map[int]int) bool {
	for _, ins := range stream[:len(stream)-1] {
		if _, ok := terms[int(ins.Addr-base)]; ok {
			return true
		}
	}
	return false
}
