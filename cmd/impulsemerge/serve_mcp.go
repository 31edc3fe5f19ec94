package main

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dusk-indust/impulsemerge/internal/mcptools"
	"github.com/dusk-indust/impulsemerge/internal/orchestrator"
	"github.com/dusk-indust/impulsemerge/internal/publish"
)

func newServeMCPCmd(a *app) *cobra.Command {
	var (
		configPath string
		httpAddr   string
	)

	cmd := &cobra.Command{
		Use:   "serve-mcp",
		Short: "Serve the merge tools over MCP (stdio by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			defaults := mcptools.Defaults{
				TmpDirectory: cfg.TmpDirectory,
				OutDirectory: cfg.OutDirectory,
			}
			if cfg.Engine != "" {
				engine, err := orchestrator.ParseEngine(cfg.Engine)
				if err != nil {
					return err
				}
				defaults.Engine = engine
			}

			var publisher orchestrator.Publisher
			if cfg.Artifact.Enabled() {
				pub, err := publish.NewS3Publisher(cfg.Artifact, a.logger)
				if err != nil {
					return err
				}
				publisher = pub
			}

			server := mcptools.NewMergeMCPServer(mcptools.NewMergeService(defaults, publisher, a.logger))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if httpAddr != "" {
				a.logger.Info("serving MCP over HTTP", zap.String("addr", httpAddr))
				return mcptools.RunHTTP(ctx, server, httpAddr)
			}
			return mcptools.RunStdio(ctx, server)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file (default: impulsemerge.yml in the working directory)")
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	return cmd
}
