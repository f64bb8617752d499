package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

type commandContext struct {
	server  string
	timeout time.Duration
	json    bool
}

func (c *commandContext) client() *client {
	return newClient(c.server, c.timeout)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "castctl",
		Short:         "Operate a castkeeper server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	server := os.Getenv("CASTKEEPER_SERVER")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVarP(&ctx.server, "server", "s", server, "castkeeper API base URL (env CASTKEEPER_SERVER)")
	rootCmd.PersistentFlags().DurationVar(&ctx.timeout, "timeout", 5*time.Minute, "HTTP request timeout")
	rootCmd.PersistentFlags().BoolVar(&ctx.json, "json", false, "Print raw JSON instead of tables")

	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newApprovalsCommand(ctx))
	rootCmd.AddCommand(newReconcileCommand(ctx))
	rootCmd.AddCommand(newReportCommand(ctx))
	rootCmd.AddCommand(newContentCommand(ctx))
	rootCmd.AddCommand(newSpendCommand(ctx))

	return rootCmd
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
