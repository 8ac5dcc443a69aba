package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/pprof"
	"strconv"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"rvrop/internal/gadget"
	"rvrop/internal/rvrop/log"
	"rvrop/internal/search"
)

func init() {
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().String("config", "", "Config file (default $XDG_CONFIG_HOME/rvrop/config.toml)")
	rootCmd.PersistentFlags().String("arch", "", "Architecture: riscv64, arm64 or amd64 (default from ELF header)")
	rootCmd.PersistentFlags().Bool("raw", false, "Treat the input as a flat binary instead of an ELF file")
	rootCmd.PersistentFlags().String("base", "0", "Load address of a --raw binary")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().IntP("depth", "n", search.DefaultDepth, "Maximum instructions per gadget, including the terminator")
	rootCmd.Flags().StringP("query", "q", "", `Only keep gadgets with an instruction matching the query, e.g. "writes:a0 | op:ld"`)
	rootCmd.Flags().BoolP("inline", "i", false, "Render each gadget on a single line")
	rootCmd.Flags().Bool("no-dedup", false, "Keep gadgets with identical bytes")
	rootCmd.Flags().Bool("no-tui", false, "Print gadgets without the TUI")
	rootCmd.Flags().BoolP("json", "j", false, "Output gadgets as JSON")
	rootCmd.Flags().Bool("stats", false, "Print a search summary")
	rootCmd.Flags().Int("workers", 0, "Regions searched in parallel (default GOMAXPROCS)")
	rootCmd.Flags().String("cpuprofile", "", "Write CPU profile to file")
	rootCmd.Flags().String("memprofile", "", "Write memory profile to file")
}

var rootCmd = &cobra.Command{
	Use:   "rvrop [file]",
	Short: "Terminal-based ROP gadget finder",
	Long: `rvrop finds return-oriented programming gadgets in RISC-V, ARM64 and
x86-64 binaries. It provides an interactive TUI for browsing gadgets and a
plain text mode for scripts.`,
	Example: `
# Browse gadgets interactively
rvrop /path/to/binary

# Print single-line gadgets that load from the stack
rvrop --no-tui -i -q "op:ld reads:sp" /path/to/binary

# Search a flat RISC-V image loaded at 0x80000000
rvrop --raw --base 0x80000000 --arch riscv64 firmware.bin
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup CPU profiling if requested
		cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
		if cpuprofile != "" {
			f, err := os.Create(cpuprofile)
			if err != nil {
				return fmt.Errorf("could not create CPU profile: %v", err)
			}
			defer f.Close()
			if err := pprof.StartCPUProfile(f); err != nil {
				return fmt.Errorf("could not start CPU profile: %v", err)
			}
			defer pprof.StopCPUProfile()
		}

		// Setup memory profiling if requested
		memprofile, _ := cmd.Flags().GetString("memprofile")
		if memprofile != "" {
			defer func() {
				f, err := os.Create(memprofile)
				if err != nil {
					fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
					return
				}
				defer f.Close()
				if err := pprof.WriteHeapProfile(f); err != nil {
					fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
				}
			}()
		}

		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		log.Setup(cfg.Debug)
		if cfg.NoColor {
			os.Setenv("RVROP_NO_COLOR", "1")
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

		noTUI, _ := cmd.Flags().GetBool("no-tui")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		stats, _ := cmd.Flags().GetBool("stats")

		// Also use no-tui mode when output is being piped
		if !term.IsTerminal(os.Stdout.Fd()) {
			noTUI = true
			os.Setenv("RVROP_NO_COLOR", "1")
		}

		if jsonOutput || stats || noTUI {
			return runNoTUI(cmd.Context(), cmd, s, jsonOutput, stats)
		}

		// Set up the TUI.
		program := tea.NewProgram(
			NewModel(cmd.Context(), args[0], s),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	},
}

func loadOptionsFromFlags(cmd *cobra.Command) (loadOptions, error) {
	raw, _ := cmd.Flags().GetBool("raw")
	baseStr, _ := cmd.Flags().GetString("base")
	base, err := strconv.ParseUint(baseStr, 0, 64)
	if err != nil {
		return loadOptions{}, fmt.Errorf("invalid --base %q: %w", baseStr, err)
	}
	return loadOptions{Raw: raw, Base: base}, nil
}

func runNoTUI(ctx context.Context, cmd *cobra.Command, s *session, jsonOutput, stats bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := s.search(ctx)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	arch := string(s.dec.Arch())
	switch {
	case jsonOutput:
		return writeJSON(w, newJSONOutput(s.img.Path, arch, s.img, res.Gadgets))
	case stats:
		width := 80
		if tw, _, err := term.GetSize(os.Stdout.Fd()); err == nil && tw > 0 {
			width = tw
		}
		return renderStats(w, s.img.Path, arch, res.Stats, width-2)
	default:
		writeGadgets(w, gadget.DefaultRenderer(), res.Gadgets, s.mode())
		return nil
	}
}

func Execute() {
	// Check if --no-tui or --json flag is present, or if output is being piped
	// to bypass fang's markdown rendering
	noTUI := false
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "--json" || arg == "-j" {
			noTUI = true
			break
		}
	}

	// Also bypass fang when output is being piped
	if !noTUI && !term.IsTerminal(os.Stdout.Fd()) {
		noTUI = true
	}

	if noTUI {
		// Use cobra directly to avoid fang's automatic markdown rendering
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
	} else {
		if err := fang.Execute(
			context.Background(),
			rootCmd,
			fang.WithNotifySignal(os.Interrupt),
		); err != nil {
			os.Exit(1)
		}
	}
}
