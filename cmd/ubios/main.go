// Command ubios boots a raw disk image under a virtual BIOS hosting a
// 16-bit real-mode x86 Unicorn Engine core.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xs-labs/unicorn-bios-go/internal/config"
	glog "github.com/xs-labs/unicorn-bios-go/internal/log"
	"github.com/xs-labs/unicorn-bios-go/internal/machine"
	"github.com/xs-labs/unicorn-bios-go/internal/ui"
)

var (
	memoryMiB              uint64
	breakOnInterrupt       bool
	breakOnInterruptReturn bool
	trap                   bool
	debugVideo             bool
	singleStep             bool
	noUI                   bool
	breakpointFlags        []string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ubios [OPTIONS] BOOT_IMG",
		Short: "Host a 16-bit real-mode x86 boot image under a virtual BIOS",
		Long: `ubios boots a raw disk image under a virtual BIOS: an Execution Core
(Unicorn Engine) plus a minimal BIOS service layer (video, disk,
memory map, keyboard, halt) and a debug supervisor with breakpoints
and single-stepping.

Examples:
  ubios boot.img                       # interactive debug pane
  ubios --no-ui boot.img                # mirror output/debug to stdout/stderr
  ubios -b 0x7c00 --break-int boot.img  # pause at the boot sector and on every interrupt`,
		Args:                  cobra.ExactArgs(1),
		DisableFlagsInUseLine: true,
		RunE:                  run,
	}

	rootCmd.Flags().Uint64VarP(&memoryMiB, "memory", "m", 64, "memory in MiB")
	rootCmd.Flags().BoolVar(&breakOnInterrupt, "break-int", false, "pause on every interrupt")
	rootCmd.Flags().BoolVar(&breakOnInterruptReturn, "break-iret", false, "pause on interrupt return")
	rootCmd.Flags().BoolVar(&trap, "trap", false, "raise a trap signal at pause instead of prompting")
	rootCmd.Flags().BoolVar(&debugVideo, "debug-video", false, "verbose logging for int 10h")
	rootCmd.Flags().BoolVar(&singleStep, "single-step", false, "pause on every instruction")
	rootCmd.Flags().BoolVar(&noUI, "no-ui", false, "run without the interactive pane UI")
	rootCmd.Flags().StringArrayVarP(&breakpointFlags, "breakpoint", "b", nil, "add a breakpoint at the given hexadecimal linear address (repeatable)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	bootImg := args[0]

	glog.Init(debugVideo)

	profile, err := config.Load(filepath.Join(filepath.Dir(bootImg), config.DefaultFilename))
	if err != nil {
		return err
	}

	opts := machine.Options{
		MemoryBytes:            config.NormalizeMemoryMiB(resolveMemoryMiB(cmd, profile)) * 1024 * 1024,
		BootImagePath:          bootImg,
		BreakOnInterrupt:       resolveBool(cmd, "break-int", breakOnInterrupt, profile.BreakOnInterrupt),
		BreakOnInterruptReturn: resolveBool(cmd, "break-iret", breakOnInterruptReturn, profile.BreakOnInterruptReturn),
		Trap:                   resolveBool(cmd, "trap", trap, profile.Trap),
		DebugVideo:             resolveBool(cmd, "debug-video", debugVideo, profile.DebugVideo),
		SingleStep:             resolveBool(cmd, "single-step", singleStep, profile.SingleStep),
		ProtectReservedRegions: true,
	}

	breakpoints, err := parseBreakpoints(breakpointFlags, profile.Breakpoints)
	if err != nil {
		return err
	}
	opts.Breakpoints = breakpoints

	interactive := !resolveBool(cmd, "no-ui", noUI, profile.NoUI)

	var bridge *ui.Bridge
	if interactive {
		bridge = ui.NewInteractive()
	} else {
		bridge = ui.NewNonInteractive()
	}

	m, err := machine.New(opts, bridge)
	if err != nil {
		return err
	}
	defer m.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- m.Run() }()

	if interactive {
		if err := bridge.Run(); err != nil {
			return err
		}
		m.Stop()
	}

	if err := <-runErr; err != nil {
		return err
	}
	return nil
}

// resolveMemoryMiB prefers an explicit --memory flag over the config
// profile's value, falling back to the flag's default (64) if neither
// was set.
func resolveMemoryMiB(cmd *cobra.Command, p config.Profile) uint64 {
	if cmd.Flags().Changed("memory") {
		return memoryMiB
	}
	if p.MemoryMiB != 0 {
		return p.MemoryMiB
	}
	return memoryMiB
}

// resolveBool prefers an explicit CLI flag over the config profile's
// value for the same setting.
func resolveBool(cmd *cobra.Command, flag string, flagVal, profileVal bool) bool {
	if cmd.Flags().Changed(flag) {
		return flagVal
	}
	return flagVal || profileVal
}

func parseBreakpoints(flagValues, profileValues []string) ([]uint64, error) {
	all := append(append([]string{}, profileValues...), flagValues...)
	out := make([]uint64, 0, len(all))
	for _, s := range all {
		s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
		s = strings.TrimPrefix(s, "0X")
		v, err := strconv.ParseUint(s, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid breakpoint %q: %w", s, err)
		}
		out = append(out, v)
	}
	return out, nil
}
