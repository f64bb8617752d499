package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run a consistency pass now and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			var report models.ConsistencyReport
			if err := ctx.client().do(cmd.Context(), http.MethodPost, "/reconcile", nil, nil, &report, nil); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, report)
			}
			printReport(cmd.OutOrStdout(), &report)
			return nil
		},
	}
}

func newReportCommand(ctx *commandContext) *cobra.Command {
	var history int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the latest consistency report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if history > 0 {
				return listReports(cmd, ctx, history)
			}

			var report models.ConsistencyReport
			if err := ctx.client().do(cmd.Context(), http.MethodGet, "/reports/latest", nil, nil, &report, nil); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, report)
			}
			printReport(cmd.OutOrStdout(), &report)
			return nil
		},
	}
	cmd.Flags().IntVar(&history, "history", 0, "List the last N reports instead")
	return cmd
}

func listReports(cmd *cobra.Command, ctx *commandContext, n int) error {
	var reports []models.ConsistencyReport
	query := url.Values{"limit": []string{strconv.Itoa(n)}}
	if err := ctx.client().do(cmd.Context(), http.MethodGet, "/reports", query, nil, &reports, nil); err != nil {
		return err
	}
	if ctx.json {
		return writeJSON(cmd, reports)
	}
	if len(reports) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No reports")
		return nil
	}

	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		rows = append(rows, []string{
			r.ID.String(),
			ago(&r.StartedAt),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
			strconv.Itoa(r.TotalFound()),
			strconv.Itoa(len(r.Errors)),
		})
	}
	fmt.Fprint(cmd.OutOrStdout(), renderTable(
		[]column{left("ID"), left("Started"), right("Duration"), right("Found"), right("Errors")},
		rows,
	))
	return nil
}

func printReport(out io.Writer, r *models.ConsistencyReport) {
	fmt.Fprintf(out, "Report %s, started %s, took %s\n",
		r.ID, humanize.Time(r.StartedAt), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))

	rows := make([][]string, 0, len(models.Categories))
	for _, c := range models.Categories {
		count := r.Categories[c]
		rows = append(rows, []string{c, strconv.Itoa(count.Found), strconv.Itoa(count.Fixed)})
	}
	fmt.Fprint(out, renderTable([]column{left("Category"), right("Found"), right("Fixed")}, rows))

	if r.Clean() {
		fmt.Fprintln(out, "Stores are consistent")
		return
	}
	for _, e := range r.Errors {
		fmt.Fprintf(out, "error: %s\n", e)
	}
}
