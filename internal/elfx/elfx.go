// Package elfx provides helpers for opening ELF binaries, locating executable code, and mapping virtual addresses to file offsets.
package elfx

import (
	"debug/elf"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/ianlancetaylor/demangle"
)

type Image struct {
	Path    string
	File    *elf.File // nil for raw images
	All     []byte
	Loads   []Seg
	Exec    []Section
	Machine elf.Machine
	Syms    []Sym // function symbols sorted by address
	f       *os.File
	mapped  bool
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

type Section struct {
	Name          string
	VA, Off, Size uint64
}

type Sym struct {
	Name      string
	Demangled string
	Addr      uint64
	Size      uint64
}

func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{Path: path, File: f, All: all, Machine: f.Machine, f: of, mapped: true}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Flags:  p.Flags,
		})
	}

	for _, s := range f.Sections {
		if s.Type != elf.SHT_PROGBITS || s.Flags&elf.SHF_EXECINSTR == 0 || s.Size == 0 {
			continue
		}
		im.Exec = append(im.Exec, Section{s.Name, s.Addr, s.Offset, s.Size})
	}

	// Fallback if stripped of section headers.
	if len(im.Exec) == 0 {
		for _, l := range im.Loads {
			if l.Flags&elf.PF_X != 0 && l.Filesz > 0 {
				im.Exec = append(im.Exec, Section{"LOAD(exec)", l.Vaddr, l.Off, l.Filesz})
			}
		}
	}

	im.loadSymbols()
	return im, nil
}

// OpenRaw loads a flat binary and treats all of it as executable code
// located at base.
func OpenRaw(path string, base uint64, machine elf.Machine) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read raw image: %w", err)
	}
	size := uint64(len(data))
	return &Image{
		Path:    path,
		All:     data,
		Loads:   []Seg{{Vaddr: base, Off: 0, Filesz: size, Flags: elf.PF_R | elf.PF_X}},
		Exec:    []Section{{Name: "raw", VA: base, Off: 0, Size: size}},
		Machine: machine,
	}, nil
}

// Close unmaps the memory and closes the underlying files.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil && im.mapped {
		err1 = syscall.Munmap(im.All)
	}
	im.All = nil
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		err3 := im.File.Close()
		if err3 != nil && err2 == nil {
			err2 = err3
		}
		im.File = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// VA2Off translates a virtual address into a file offset
// using PT_LOAD segments. It returns false if VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l.Off + (va - l.Vaddr), true
		}
	}
	return 0, false
}

// SliceVA returns a subslice of the mapped file corresponding to the virtual address range [va, va+size).
// It returns (nil, false) if the VA is unmapped or the range is out of bounds.
func (im *Image) SliceVA(va uint64, size uint64) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	end := off + size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// SectionBytes returns the file contents backing s.
func (im *Image) SectionBytes(s Section) ([]byte, bool) {
	end := s.Off + s.Size
	if end > uint64(len(im.All)) || end < s.Off {
		return nil, false
	}
	return im.All[s.Off:end], true
}

// InExec reports whether va lies in an executable section.
func (im *Image) InExec(va uint64) bool {
	for _, s := range im.Exec {
		if va >= s.VA && va < s.VA+s.Size {
			return true
		}
	}
	return false
}

// loadSymbols collects function symbols from .symtab and .dynsym.
func (im *Image) loadSymbols() {
	if im.File == nil {
		return
	}

	seen := make(map[uint64]bool)
	add := func(syms []elf.Symbol) {
		for _, sym := range syms {
			// Skip undefined symbols and non-functions
			if sym.Value == 0 || sym.Name == "" || elf.ST_TYPE(sym.Info) != elf.STT_FUNC {
				continue
			}
			if seen[sym.Value] {
				continue
			}
			seen[sym.Value] = true
			im.Syms = append(im.Syms, Sym{
				Name:      sym.Name,
				Demangled: demangle.Filter(strings.TrimSuffix(sym.Name, "@plt")),
				Addr:      sym.Value,
				Size:      sym.Size,
			})
		}
	}

	if syms, err := im.File.Symbols(); err == nil {
		add(syms)
	}
	if syms, err := im.File.DynamicSymbols(); err == nil {
		add(syms)
	}

	sort.Slice(im.Syms, func(i, j int) bool {
		return im.Syms[i].Addr < im.Syms[j].Addr
	})
}

// SymbolAt returns the function containing va. Symbols without a size
// cover everything up to the next symbol.
func (im *Image) SymbolAt(va uint64) (Sym, bool) {
	i := sort.Search(len(im.Syms), func(i int) bool { return im.Syms[i].Addr > va })
	if i == 0 {
		return Sym{}, false
	}
	s := im.Syms[i-1]
	if s.Size != 0 && va >= s.Addr+s.Size {
		return Sym{}, false
	}
	return s, true
}

// Describe formats va as symbol+offset, or "" if no symbol covers it.
func (im *Image) Describe(va uint64) string {
	s, ok := im.SymbolAt(va)
	if !ok {
		return ""
	}
	if va == s.Addr {
		return s.Demangled
	}
	return fmt.Sprintf("%s+%#x", s.Demangled, va-s.Addr)
}
