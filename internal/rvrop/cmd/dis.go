package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"rvrop/internal/disasm"
	"rvrop/internal/elfx"
	"rvrop/internal/ui/colorize"
)

const defaultDisCount = 32

var disCmd = &cobra.Command{
	Use:   "dis [file] [addr] [count]",
	Short: "Disassemble instructions at an address",
	Long: `Linearly disassemble count instructions starting at addr. Decoding
stops early at the end of the executable section or at undecodable bytes.`,
	Example: `
# Show the code around a gadget
rvrop dis /path/to/binary 0x10074 16
  `,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", args[1], err)
		}
		count := defaultDisCount
		if len(args) == 3 {
			if count, err = strconv.Atoi(args[2]); err != nil || count <= 0 {
				return fmt.Errorf("invalid count %q", args[2])
			}
		}

		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		lo, err := loadOptionsFromFlags(cmd)
		if err != nil {
			return err
		}
		s, err := openSession(args[0], cfg, lo)
		if err != nil {
			return err
		}
		defer s.Close()

		lines, err := disassemble(s.img, s.dec, addr, count)
		if err != nil {
			return err
		}
		writeListing(cmd.OutOrStdout(), lines)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(disCmd)
}

// disassemble decodes up to count instructions at addr and formats them as
// listing lines. Function entry points get a "; name" line.
func disassemble(img *elfx.Image, dec disasm.Decoder, addr uint64, count int) ([]string, error) {
	code, ok := execBytesFrom(img, addr)
	if !ok {
		return nil, fmt.Errorf("address %#x is not in an executable section", addr)
	}
	if limit := count * dec.MaxInstLen(); len(code) > limit {
		code = code[:limit]
	}

	var lines []string
	for i, ins := range dec.Decode(code, addr) {
		if i == count {
			break
		}
		if sym, ok := img.SymbolAt(ins.Addr); ok && sym.Addr == ins.Addr {
			lines = append(lines, "; "+sym.Demangled)
		}
		lines = append(lines, formatInst(ins))
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("no instruction decodes at %#x", addr)
	}
	return lines, nil
}

// execBytesFrom returns the bytes from addr to the end of its executable section.
func execBytesFrom(img *elfx.Image, addr uint64) ([]byte, bool) {
	for _, sec := range img.Exec {
		if addr < sec.VA || addr >= sec.VA+sec.Size {
			continue
		}
		code, ok := img.SectionBytes(sec)
		if !ok {
			return nil, false
		}
		return code[addr-sec.VA:], true
	}
	return nil, false
}

func formatInst(ins disasm.Inst) string {
	var hex strings.Builder
	for _, b := range ins.Bytes {
		fmt.Fprintf(&hex, "%02x ", b)
	}
	text := ins.Mnemonic
	if ins.OpStr != "" {
		text += " " + ins.OpStr
	}
	return fmt.Sprintf("0x%08x  %-16s %s", ins.Addr, hex.String(), text)
}

func writeListing(w io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(w, colorize.ColorizeInstructionLine(line))
	}
}
