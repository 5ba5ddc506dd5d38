package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/plotweave/internal/httpapi"
	"github.com/xkilldash9x/plotweave/internal/observability"
	"github.com/xkilldash9x/plotweave/internal/service"
)

func newServeCmd() *cobra.Command {
	var addr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the engine over HTTP until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.SetServerAddr(addr)
			}
			return withEngine(cmd, func(c *service.Components) error {
				return httpapi.ListenAndServe(cmd.Context(), cfg.Server(), c.Handler(), observability.GetLogger())
			})
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return serveCmd
}
