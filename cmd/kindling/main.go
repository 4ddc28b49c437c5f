package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jbweber/kindling/internal/config"
	"github.com/jbweber/kindling/internal/logging"
	"github.com/jbweber/kindling/internal/vm"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	logJSON bool
	verbose bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kindling",
	Short: "Kindling - standalone virtual machine monitor",
	Long: `Kindling is a standalone virtual machine monitor driven by a single
TOML machine description.

The description declares the machine itself, its emulated devices, the
block devices backing them, and an optional CPUID profile and cloud-init
seed.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func newLogger() *slog.Logger {
	mode := logging.ModeText
	if logJSON {
		mode = logging.ModeJSON
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return logging.New(mode, os.Stderr, level)
}

var runCmd = &cobra.Command{
	Use:   "run <config.toml>",
	Short: "Run a virtual machine from a configuration file",
	Long: `Run a virtual machine described by a TOML configuration file.

The machine description is parsed and validated, every block backend is
resolved and started, and the instance runs until it halts or the process
receives SIGINT or SIGTERM.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()

		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}

		inst, err := vm.New(cfg, log)
		if err != nil {
			return fmt.Errorf("failed to build instance: %w", err)
		}
		if err := inst.Start(); err != nil {
			_ = inst.Destroy()
			return fmt.Errorf("failed to start instance: %w", err)
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigs
			log.Info("received signal, halting", "signal", sig.String())
			if err := inst.SetState(vm.StateHalted); err != nil {
				log.Error("failed to halt instance", "error", err)
			}
		}()

		inst.WaitFor(vm.StateHalted)
		if err := inst.Destroy(); err != nil {
			return fmt.Errorf("failed to tear down instance: %w", err)
		}

		if code, exit := inst.ExitCodeFor(vm.EventHalt); exit && code != 0 {
			os.Exit(code)
		}
		return nil
	},
}
