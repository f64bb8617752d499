package main

import (
	"fmt"
	"net/http"
	"os"
	"os/user"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/castkeeper/internal/api/handler"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

func newContentCommand(ctx *commandContext) *cobra.Command {
	contentCmd := &cobra.Command{
		Use:   "content",
		Short: "Send catalog events for content items",
	}

	contentCmd.AddCommand(newContentUpsertCommand(ctx))
	contentCmd.AddCommand(newContentDeactivateCommand(ctx))
	contentCmd.AddCommand(newContentDeleteCommand(ctx))

	return contentCmd
}

func parseContentID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid content id %q", arg)
	}
	return id, nil
}

func newContentUpsertCommand(ctx *commandContext) *cobra.Command {
	var (
		title    string
		source   string
		duration float64
		inactive bool
	)

	cmd := &cobra.Command{
		Use:   "upsert <content-id>",
		Short: "Create or update a catalog item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseContentID(args[0])
			if err != nil {
				return err
			}
			body := map[string]any{
				"title":            title,
				"source_url":       source,
				"duration_seconds": duration,
				"is_active":        !inactive,
			}

			var event handler.ContentEvent
			if err := ctx.client().do(cmd.Context(), http.MethodPut, "/content/"+args[0], nil, body, &event, nil); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, event)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Content %d saved\n", id)
			for _, j := range event.Enqueued {
				fmt.Fprintf(out, "Queued %s job %s\n", j.Kind, j.ID)
			}
			if event.Cancelled > 0 {
				fmt.Fprintf(out, "Cancelled %d jobs\n", event.Cancelled)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Display title")
	cmd.Flags().StringVar(&source, "source", "", "Source media URL")
	cmd.Flags().Float64Var(&duration, "duration", 0, "Duration in seconds")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Store the item as inactive")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newContentDeactivateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <content-id>",
		Short: "Deactivate a content item and cancel its queued work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseContentID(args[0])
			if err != nil {
				return err
			}
			var event handler.ContentEvent
			if err := ctx.client().do(cmd.Context(), http.MethodPost, "/content/"+args[0]+"/deactivate", nil, nil, &event, nil); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, event)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Content %d deactivated, cancelled %d jobs\n", id, event.Cancelled)
			return nil
		},
	}
}

func newContentDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <content-id>",
		Short: "Remove a content item from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseContentID(args[0])
			if err != nil {
				return err
			}
			if err := ctx.client().do(cmd.Context(), http.MethodDelete, "/content/"+args[0], nil, nil, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Content %d removed\n", id)
			return nil
		},
	}
}

func newSpendCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "spend",
		Short: "Show paid API spend against the ceilings",
		RunE: func(cmd *cobra.Command, args []string) error {
			var spend models.Spend
			if err := ctx.client().do(cmd.Context(), http.MethodGet, "/spend", nil, nil, &spend, nil); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, spend)
			}
			rows := [][]string{
				{"daily", dollars(spend.Daily), dollars(spend.DailyLimit), percent(spend.Daily, spend.DailyLimit)},
				{"monthly", dollars(spend.Monthly), dollars(spend.MonthlyLimit), percent(spend.Monthly, spend.MonthlyLimit)},
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]column{left("Window"), right("Spent"), right("Ceiling"), right("Used")},
				rows,
			))
			return nil
		},
	}
}

func dollars(v float64) string {
	return "$" + humanize.FormatFloat("#,###.##", v)
}

func percent(spent, limit float64) string {
	if limit <= 0 {
		return "-"
	}
	return strconv.FormatFloat(spent/limit*100, 'f', 1, 64) + "%"
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "operator"
}
