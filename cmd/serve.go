package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the control API and crawls whatever the frontier holds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadedConfig(cmd.Context())
			if err != nil {
				return err
			}
			cfg.Server.Enabled = true
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer closeApp(cmd.Context(), a)
			return a.Serve(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP listen port")
	return cmd
}
