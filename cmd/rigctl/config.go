package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/rigctl/internal/config"
)

type cliFlags struct {
	fs *flag.FlagSet

	configPath string
	maxCycles  uint64
	adminAddr  string
	blackbox   string
	policy     string
}

func newCLIFlags(name string) *cliFlags {
	f := &cliFlags{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	f.fs.StringVar(&f.configPath, "config", "", "rig config path; built-in defaults when empty")
	f.fs.Uint64Var(&f.maxCycles, "max-cycles", 0, "stop after n control cycles (overrides loop.max_cycles)")
	f.fs.StringVar(&f.adminAddr, "admin", "", "admin listen address, empty string disables (overrides admin.addr)")
	f.fs.StringVar(&f.blackbox, "blackbox", "", "blackbox recording path (overrides blackbox.path)")
	f.fs.StringVar(&f.policy, "policy", "", "control policy hold|pd (overrides loop.policy)")
	return f
}

// loadRigConfig reads the config file, if any, then applies the flags that
// were set explicitly on the command line.
func loadRigConfig(f *cliFlags) (config.RigConfig, error) {
	cfg := config.Default()
	if path := strings.TrimSpace(f.configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.RigConfig{}, err
		}
		cfg = loaded
	}

	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "max-cycles":
			cfg.Loop.MaxCycles = f.maxCycles
		case "admin":
			cfg.Admin.Addr = strings.TrimSpace(f.adminAddr)
		case "blackbox":
			cfg.Blackbox.Path = strings.TrimSpace(f.blackbox)
		case "policy":
			cfg.Loop.Policy = strings.ToLower(strings.TrimSpace(f.policy))
		}
	})
	if err := config.Validate(cfg); err != nil {
		return config.RigConfig{}, fmt.Errorf("rig config: %w", err)
	}
	return cfg, nil
}

func describe(cfg config.RigConfig) string {
	cycles := "unbounded"
	if cfg.Loop.MaxCycles > 0 {
		cycles = strconv.FormatUint(cfg.Loop.MaxCycles, 10)
	}
	return fmt.Sprintf("rig=%s joints=%d period=%v cycles=%s policy=%s", cfg.Name, cfg.Joints.Count, cfg.Loop.Period, cycles, cfg.Loop.Policy)
}
