package cmd

import (
	"context"
	"debug/elf"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"rvrop/internal/disasm"
	"rvrop/internal/elfx"
	"rvrop/internal/gadget"
	"rvrop/internal/query"
	"rvrop/internal/search"
)

// session is an opened binary together with the decoder and options used
// to search it.
type session struct {
	cfg   Config
	img   *elfx.Image
	dec   disasm.Decoder
	query *query.Query
}

// loadOptions describes how to open the input file.
type loadOptions struct {
	Raw  bool
	Base uint64
}

var archMachines = map[disasm.Arch]elf.Machine{
	disasm.ArchRISCV64: elf.EM_RISCV,
	disasm.ArchARM64:   elf.EM_AARCH64,
	disasm.ArchAMD64:   elf.EM_X86_64,
}

func openSession(path string, cfg Config, lo loadOptions) (*session, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot access file: %w", err)
	}

	var q *query.Query
	if cfg.Query != "" {
		if q, err = query.Parse(cfg.Query); err != nil {
			return nil, err
		}
	}

	var img *elfx.Image
	if lo.Raw {
		arch := disasm.Arch(cfg.Arch)
		if arch == "" {
			arch = disasm.ArchRISCV64
		}
		m, ok := archMachines[arch]
		if !ok {
			return nil, fmt.Errorf("unsupported architecture: %s", arch)
		}
		img, err = elfx.OpenRaw(absPath, lo.Base, m)
	} else {
		img, err = elfx.Open(absPath)
	}
	if err != nil {
		return nil, err
	}

	var dec disasm.Decoder
	if cfg.Arch != "" {
		dec, err = disasm.New(disasm.Arch(cfg.Arch))
	} else {
		dec, err = disasm.ForMachine(img.Machine)
	}
	if err != nil {
		img.Close()
		return nil, err
	}

	slog.Debug("Opened binary",
		"file", absPath,
		"arch", dec.Arch(),
		"raw", lo.Raw,
		"sections", len(img.Exec),
		"symbols", len(img.Syms))
	return &session{cfg: cfg, img: img, dec: dec, query: q}, nil
}

func (s *session) Close() error {
	return s.img.Close()
}

// regions returns the executable sections of the image.
func (s *session) regions() []search.Region {
	var out []search.Region
	for _, sec := range s.img.Exec {
		code, ok := s.img.SectionBytes(sec)
		if !ok {
			slog.Warn("Section out of file bounds", "section", sec.Name, "va", fmt.Sprintf("%#x", sec.VA))
			continue
		}
		out = append(out, search.Region{Name: sec.Name, Addr: sec.VA, Code: code})
	}
	return out
}

func (s *session) options() search.Options {
	opts := search.Options{
		Depth:   s.cfg.Depth,
		NoDedup: s.cfg.NoDedup,
		Workers: s.cfg.Workers,
	}
	if s.query != nil {
		opts.Query = s.query
	}
	return opts
}

func (s *session) search(ctx context.Context) (*search.Result, error) {
	return search.Find(ctx, s.dec, s.regions(), s.options())
}

func (s *session) mode() gadget.OutputMode {
	if s.cfg.Inline {
		return gadget.Inline
	}
	return gadget.Block
}
