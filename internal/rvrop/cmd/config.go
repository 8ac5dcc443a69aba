package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// Config holds settings that may come from the config file. Command line
// flags take precedence over the file.
type Config struct {
	Arch    string `toml:"arch" json:"arch,omitempty" jsonschema:"title=Architecture,description=Decoder to use when the binary does not say,enum=riscv64,enum=arm64,enum=amd64"`
	Depth   int    `toml:"depth" json:"depth,omitempty" jsonschema:"title=Depth,description=Maximum instructions per gadget including the terminator,minimum=1"`
	Query   string `toml:"query" json:"query,omitempty" jsonschema:"title=Query,description=Instruction predicate gadgets must satisfy"`
	Inline  bool   `toml:"inline" json:"inline,omitempty" jsonschema:"title=Inline,description=Render each gadget on a single line"`
	NoDedup bool   `toml:"no_dedup" json:"no_dedup,omitempty" jsonschema:"title=No Dedup,description=Keep gadgets with identical bytes"`
	Workers int    `toml:"workers" json:"workers,omitempty" jsonschema:"title=Workers,description=Regions searched in parallel"`
	Debug   bool   `toml:"debug" json:"debug,omitempty" jsonschema:"title=Debug,description=Enable debug logging"`
	NoColor bool   `toml:"no_color" json:"no_color,omitempty" jsonschema:"title=No Color,description=Disable terminal colors"`
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/rvrop/config.toml or its
// platform equivalent.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "rvrop", "config.toml")
}

// LoadConfig reads path. A missing file is only an error when required.
func LoadConfig(path string, required bool) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return cfg, fmt.Errorf("load config %s: unknown key %q", path, undec[0].String())
	}
	return cfg, nil
}

// resolveConfig loads the config file named by --config, or the default
// one, and overlays every flag the user set explicitly.
func resolveConfig(cmd *cobra.Command) (Config, error) {
	path, _ := cmd.Flags().GetString("config")
	required := path != ""
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg, err := LoadConfig(path, required)
	if err != nil {
		return cfg, err
	}
	return mergeFlags(cmd, cfg), nil
}

func mergeFlags(cmd *cobra.Command, cfg Config) Config {
	flags := cmd.Flags()
	if flags.Changed("arch") {
		cfg.Arch, _ = flags.GetString("arch")
	}
	if flags.Changed("depth") || cfg.Depth == 0 {
		cfg.Depth, _ = flags.GetInt("depth")
	}
	if flags.Changed("query") {
		cfg.Query, _ = flags.GetString("query")
	}
	if flags.Changed("inline") {
		cfg.Inline, _ = flags.GetBool("inline")
	}
	if flags.Changed("no-dedup") {
		cfg.NoDedup, _ = flags.GetBool("no-dedup")
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}
	return cfg
}
