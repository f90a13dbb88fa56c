package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/ironsheep/sketchcam/internal/server"
	"github.com/ironsheep/sketchcam/internal/workflow"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Drive the workflow over MCP on stdin/stdout",
		Long: `serve answers MCP (JSON-RPC 2.0) requests on stdin, one per line, and
writes responses to stdout. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withWorkflow(cmd.Context(), func(wf *workflow.Workflow) error {
				srv := server.New(wf, server.Options{
					Defaults: a.processOptions(),
					Version:  a.build.Version,
					Logger:   a.log,
				})
				a.log.Info("serving on stdio")
				err := srv.Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}
