package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is set by goreleaser at build time.
var version = "dev"

// app carries state shared by all subcommands.
type app struct {
	verbose bool
	logger  *zap.Logger
	out     io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{logger: zap.NewNop(), out: out}

	root := &cobra.Command{
		Use:   "impulsemerge",
		Short: "Merge several Edge Impulse C++ libraries into one",
		Long: `impulsemerge combines the C++ inference libraries of several Edge Impulse
projects into a single library that runs every impulse side by side.

Libraries are downloaded from Studio with one API key per project, or read
from a local directory with --projects and --tmp-directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config := zap.NewProductionConfig()
			if a.verbose {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}
	root.SetOut(out)
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newMergeCmd(a))
	root.AddCommand(newInspectCmd(a))
	root.AddCommand(newServeMCPCmd(a))
	root.AddCommand(newVersionCmd(a))
	return root
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(a.out, version)
			return nil
		},
	}
}
