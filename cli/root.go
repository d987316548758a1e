// Package cli provides the flowboard command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TFMV/flowboard/config"
	"github.com/TFMV/flowboard/ingest"
	"github.com/TFMV/flowboard/logging"
	"github.com/TFMV/flowboard/models"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

type envKey struct{}

// env is what every subcommand gets from the root's pre-run.
type env struct {
	cfg    *config.Loaded
	logger *zap.Logger
}

func getEnv(cmd *cobra.Command) *env {
	if e, ok := cmd.Context().Value(envKey{}).(*env); ok {
		return e
	}
	return &env{cfg: &config.Loaded{Config: &config.Config{}}, logger: zap.NewNop()}
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "flowboard",
		Short: "flowboard - interactive flowchart editor",
		Long: `flowboard edits state-transition flowcharts in the browser.

It loads a flowchart dataset (JSON, YAML, CSV or an arrow-list text file),
serves an editor with undo/redo and live updates, and renders the chart
to SVG, Graphviz DOT or JSON.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			if cfg.File != "" {
				logger.Debug("using config file", zap.String("path", cfg.File))
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey{}, &env{cfg: cfg, logger: logger}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			_ = getEnv(cmd).logger.Sync()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./flowboard.yaml)")
	rootCmd.PersistentFlags().String("dataset", "", "dataset file (default: built-in shopping flow)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")
	rootCmd.PersistentFlags().String("layout", "force", "layout for nodes without a location (force|circle)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// loadDataset reads path, placing unlocated nodes with the named layout, or
// returns the built-in flow when path is empty. With fallback set, a path
// that does not exist yet also yields the built-in flow, so serve can create
// the file on first save.
func loadDataset(path, layout string, fallback bool, logger *zap.Logger) (models.Dataset, error) {
	if path == "" {
		return ingest.ShoppingFlow(), nil
	}
	ds, err := ingest.LoadWithLayout(path, layout)
	if err != nil && fallback && errors.Is(err, fs.ErrNotExist) {
		logger.Info("dataset file does not exist yet, starting from the built-in flow", zap.String("path", path))
		return ingest.ShoppingFlow(), nil
	}
	return ds, err
}
