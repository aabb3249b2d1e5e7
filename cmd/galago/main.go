// Command galago drives the emulator façade from the shell: load an
// ARM64 .so, call a symbol in it, inspect its layout, or watch a
// colorized trace of what it did. It is a thin cobra wrapper over
// internal/emulator — every subcommand is a handful of façade calls
// plus presentation.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zboralski/galago/internal/config"
	"github.com/zboralski/galago/internal/emulator"
	glog "github.com/zboralski/galago/internal/log"
	"github.com/zboralski/galago/internal/script"
	"github.com/zboralski/galago/internal/sched"
	"github.com/zboralski/galago/internal/ui"
	"github.com/zboralski/galago/internal/ui/colorize"
)

var (
	cfgPath     string
	bigAddress  bool
	searchPaths []string
	rootDir     string
	debug       bool
	hookScript  string
)

func main() {
	root := &cobra.Command{
		Use:   "galago",
		Short: "ARM64 userspace emulator for Android native libraries",
		Long: `galago loads unmodified ARM64 Android native libraries (libc.so,
application .so files extracted from an APK) and runs them on the host by
driving an embedded CPU core through a minimal POSIX/Android personality:
an ELF loader, a guest virtual memory manager, a Linux syscall surface,
and a JNI/DVM bridge.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a galago.yaml config file")
	root.PersistentFlags().BoolVar(&bigAddress, "big-address", false, "use the 64-bit big-address guest memory layout")
	root.PersistentFlags().StringArrayVar(&searchPaths, "search-path", nil, "directory to search for DT_NEEDED libraries (repeatable)")
	root.PersistentFlags().StringVar(&rootDir, "root-dir", "", "host directory backing the guest's openat/fstatat surface")
	root.PersistentFlags().BoolVarP(&debug, "debug", "v", false, "verbose structured logging")
	root.PersistentFlags().StringVar(&hookScript, "hook-script", "", "JS file exposing resolveSymbol()/onSVC() hooks (see internal/script)")

	root.AddCommand(newInfoCmd(), newLoadCmd(), newCallCmd(), newTraceCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, err
	}
	if len(searchPaths) > 0 {
		cfg.SearchPaths = searchPaths
	}
	if bigAddress {
		cfg.BigAddress = true
	}
	if rootDir != "" {
		cfg.RootDir = rootDir
	}
	if debug {
		cfg.Debug = true
	}
	if hookScript != "" {
		cfg.HookScript = hookScript
	}
	return cfg, nil
}

// newEmulator builds an Emulator from the resolved config, installing
// the optional goja hook script if one was configured.
func newEmulator(pid int32) (*emulator.Emulator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	glog.Init(cfg.Debug)

	emu, err := emulator.CreateARM64(pid, 1, "galago", 0, cfg.EmulatorConfig())
	if err != nil {
		return nil, fmt.Errorf("create emulator: %w", err)
	}

	if cfg.HookScript != "" {
		listener, err := script.Load(cfg.HookScript)
		if err != nil {
			emu.Destroy()
			return nil, fmt.Errorf("load hook script: %w", err)
		}
		emu.RegisterHookListener(listener)
		if cb := listener.SVCCallback(); cb != nil {
			emu.SetSVCCallback(cb)
		}
	}

	return emu, nil
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <binary.so>",
		Short: "Load a library and print its layout, dependencies, and loaded modules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			emu, err := newEmulator(1000)
			if err != nil {
				return err
			}
			defer emu.Destroy()

			if _, err := emu.LoadLibrary(args[0]); err != nil {
				return fmt.Errorf("load %s: %w", args[0], err)
			}

			fmt.Printf("%s %s\n", colorize.Header("▶"), args[0])
			for _, m := range emu.Modules() {
				kind := "module"
				if m.Virtual {
					kind = "virtual"
				}
				fmt.Printf("  %s %-20s base=%s needed=%s\n",
					colorize.Detail("["+kind+"]"),
					colorize.FuncName(m.Name),
					colorize.Address(m.LoadBase),
					strings.Join(m.Needed, ","))
			}

			fmt.Println()
			fmt.Println("Regions:")
			for _, r := range emu.Regions() {
				fmt.Printf("  %s-%s %s\n", colorize.Address(r.Base), colorize.Address(r.End()), r.Name)
			}
			return nil
		},
	}
}

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <binary.so>",
		Short: "Load a library and run its .init_array, then exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			emu, err := newEmulator(1000)
			if err != nil {
				return err
			}
			defer emu.Destroy()

			if _, err := emu.LoadLibrary(args[0]); err != nil {
				return fmt.Errorf("load %s: %w", args[0], err)
			}
			fmt.Printf("%s loaded %s\n", colorize.Header("✓"), args[0])
			return nil
		},
	}
}

func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <binary.so> <symbol> [args...]",
		Short: "Load a library and call one of its exported symbols",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			emu, err := newEmulator(1000)
			if err != nil {
				return err
			}
			defer emu.Destroy()

			handle, err := emu.LoadLibrary(args[0])
			if err != nil {
				return fmt.Errorf("load %s: %w", args[0], err)
			}

			callArgs, err := parseArgs(args[2:])
			if err != nil {
				return err
			}

			result, err := emu.CallSymbol(handle, args[1], callArgs)
			if err != nil {
				return fmt.Errorf("call %s: %w", args[1], err)
			}
			fmt.Printf("%s(%s) = %s\n", colorize.FuncName(args[1]),
				strings.Join(args[2:], ", "), colorize.Address(result))
			return nil
		},
	}
}

func newTraceCmd() *cobra.Command {
	var interactive bool
	var symbol string

	cmd := &cobra.Command{
		Use:   "trace <binary.so>",
		Short: "Load a library, optionally call a symbol, and show the trace of calls and SVC traps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			emu, err := newEmulator(1000)
			if err != nil {
				return err
			}
			defer emu.Destroy()

			var svcCount int
			emu.SetSVCCallback(func(swi uint16, userData uint64) { svcCount++ })
			emu.EnableTrace()

			handle, err := emu.LoadLibrary(args[0])
			if err != nil {
				return fmt.Errorf("load %s: %w", args[0], err)
			}

			if symbol != "" {
				if _, err := emu.CallSymbol(handle, symbol, nil); err != nil {
					return fmt.Errorf("call %s: %w", symbol, err)
				}
			}

			events := emu.TraceEvents()
			lines := make([]string, 0, len(events)+1)
			lines = append(lines, fmt.Sprintf("%s %d svc traps, %d recorded calls",
				colorize.Detail("summary:"), svcCount, len(events)))
			for _, ev := range events {
				lines = append(lines, fmt.Sprintf("%s  %s %s",
					colorize.Address(ev.PC), colorize.Tag("#"+ev.Category),
					colorize.Instruction("bl "+ev.Name)))
			}

			if interactive {
				header := fmt.Sprintf("%s galago trace ─ %s", colorize.Header("▶"), args[0])
				return ui.Run(header, lines)
			}
			for _, l := range lines {
				fmt.Println(l)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&interactive, "interactive", false, "page the trace in a scrollable terminal view")
	cmd.Flags().StringVar(&symbol, "call", "", "symbol to invoke after loading, before printing the trace")
	return cmd
}

// parseArgs converts the call subcommand's trailing positional
// arguments into sched.Arg values. Each is either bare (parsed as a
// decimal or 0x-prefixed integer) or prefixed with a one-letter tag:
// i:<int>, p:<ptr>, f:<float32>, d:<float64>, s:<string>.
func parseArgs(raw []string) ([]sched.Arg, error) {
	out := make([]sched.Arg, 0, len(raw))
	for _, a := range raw {
		tag, val, hasTag := strings.Cut(a, ":")
		if !hasTag {
			tag, val = "i", a
		}
		switch tag {
		case "i":
			n, err := strconv.ParseUint(val, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("parse int arg %q: %w", a, err)
			}
			out = append(out, sched.ArgInt(n))
		case "p":
			n, err := strconv.ParseUint(val, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("parse ptr arg %q: %w", a, err)
			}
			out = append(out, sched.ArgPtr(n))
		case "f":
			f, err := strconv.ParseFloat(val, 32)
			if err != nil {
				return nil, fmt.Errorf("parse float32 arg %q: %w", a, err)
			}
			out = append(out, sched.ArgFloat32(f))
		case "d":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, fmt.Errorf("parse float64 arg %q: %w", a, err)
			}
			out = append(out, sched.ArgFloat64(f))
		case "s":
			out = append(out, sched.ArgString(val))
		default:
			return nil, fmt.Errorf("unknown arg tag %q in %q (want i/p/f/d/s)", tag, a)
		}
	}
	return out, nil
}
