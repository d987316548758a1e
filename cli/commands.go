package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TFMV/flowboard/config"
	"github.com/TFMV/flowboard/graph"
	"github.com/TFMV/flowboard/models"
	"github.com/TFMV/flowboard/render"
	"github.com/TFMV/flowboard/server"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the flowchart editor",
		Long: `Start the HTTP editor for the dataset. Changes are kept in memory until
saved; with --watch, edits made to the dataset file on disk are picked up live.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := getEnv(cmd)
			ds, err := loadDataset(e.cfg.Dataset, e.cfg.Render.Layout, true, e.logger)
			if err != nil {
				return err
			}

			srv, err := server.New(serverConfig(e.cfg.Config), ds, e.logger)
			if err != nil {
				return err
			}

			return srv.Serve(cmd.Context())
		},
	}
	cmd.Flags().Int("port", 8080, "port to listen on")
	cmd.Flags().Bool("watch", false, "reload the dataset file when it changes")
	return cmd
}

// serverConfig maps the loaded settings onto the server's.
func serverConfig(cfg *config.Config) server.Config {
	sc := server.DefaultConfig()
	sc.Port = cfg.Server.Port
	sc.DatasetPath = cfg.Dataset
	sc.Watch = cfg.Watch
	if len(cfg.Server.CORSOrigins) > 0 {
		sc.CORSOrigins = cfg.Server.CORSOrigins
	}
	sc.ReadTimeout = time.Duration(cfg.Server.ReadTimeout) * time.Second
	sc.WriteTimeout = time.Duration(cfg.Server.WriteTimeout) * time.Second
	sc.History = cfg.History.Enabled
	sc.MaxHistory = cfg.History.MaxEntries
	sc.Viewport = graph.Viewport{Width: cfg.View.Width, Height: cfg.View.Height, Scale: 1}
	sc.Render.Background = cfg.Render.Background
	sc.Layout = cfg.Render.Layout
	return sc
}

func newRenderCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the flowchart to SVG, DOT or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := getEnv(cmd)
			ds, err := loadDataset(e.cfg.Dataset, e.cfg.Render.Layout, false, e.logger)
			if err != nil {
				return err
			}

			opts := render.NewDefaultOptions(strings.ToLower(e.cfg.Render.Format))
			opts.Width = e.cfg.Render.Width
			opts.Height = e.cfg.Render.Height
			opts.Layout = e.cfg.Render.Layout
			if e.cfg.Render.Background != "" {
				opts.Background = e.cfg.Render.Background
			}

			start := time.Now()
			out, err := render.GenerateWithOptions(cmd.Context(), ds, opts)
			if err != nil {
				return err
			}
			e.logger.Debug("rendered",
				zap.String("format", opts.Format),
				zap.Int("bytes", len(out)),
				zap.Duration("took", time.Since(start)),
			)

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			if err := os.WriteFile(output, out, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			e.logger.Info("output written", zap.String("path", output))
			return nil
		},
	}
	cmd.Flags().String("format", "svg", "output format (svg|dot|json)")
	cmd.Flags().Float64("width", 0, "output width, zero to fit the content")
	cmd.Flags().Float64("height", 0, "output height, zero to fit the content")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"svg", "dot", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dataset]",
		Short: "Check a dataset for integrity errors",
		Long: `Load a dataset and report integrity errors (duplicate keys, dangling
links, malformed locations) and shape warnings (missing or repeated Start
and End nodes, nodes unreachable from Start). Exits non-zero on errors only.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := getEnv(cmd)
			path := e.cfg.Dataset
			if len(args) == 1 {
				path = args[0]
			}
			ds, err := loadDataset(path, e.cfg.Render.Layout, false, e.logger)
			if err != nil {
				return err
			}

			name := path
			if name == "" {
				name = "built-in flow"
			}
			out := cmd.OutOrStdout()
			warnings := append(models.CheckWellFormed(ds.Nodes), models.CheckReachability(ds.Nodes, ds.Links)...)
			for _, w := range warnings {
				_, _ = fmt.Fprintf(out, "warning: %s\n", w)
			}
			_, _ = fmt.Fprintf(out, "%s: ok (%d nodes, %d links)\n", name, len(ds.Nodes), len(ds.Links))
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "flowboard v%s\n", Version)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "built %s from %s\n", BuildDate, GitCommit)
		},
	}
}
