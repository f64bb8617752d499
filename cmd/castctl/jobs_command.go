package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/castkeeper/internal/api/handler"
	"github.com/kiranshivaraju/castkeeper/internal/api/response"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage processing jobs",
	}

	jobsCmd.AddCommand(newJobsStatsCommand(ctx))
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsFailuresCommand(ctx))
	jobsCmd.AddCommand(newJobsEnqueueCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))

	return jobsCmd
}

var jobStatusOrder = []models.JobStatus{
	models.JobStatusPending,
	models.JobStatusProcessing,
	models.JobStatusCompleted,
	models.JobStatusFailed,
	models.JobStatusCancelled,
}

func newJobsStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by kind and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats handler.JobStatsResult
			if err := ctx.client().do(cmd.Context(), http.MethodGet, "/jobs/stats", nil, nil, &stats, nil); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, stats)
			}

			cols := []column{left("Kind")}
			for _, s := range jobStatusOrder {
				cols = append(cols, right(string(s)))
			}
			var rows [][]string
			for _, kind := range models.Kinds {
				row := []string{string(kind)}
				for _, s := range jobStatusOrder {
					row = append(row, strconv.Itoa(stats.ByKind[kind][s]))
				}
				rows = append(rows, row)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(cols, rows))
			return nil
		},
	}
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var (
		contentID int64
		kind      string
		status    string
		page      int
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if contentID > 0 {
				query.Set("content_id", strconv.FormatInt(contentID, 10))
			}
			if kind != "" {
				query.Set("kind", kind)
			}
			if status != "" {
				query.Set("status", status)
			}
			if page > 0 {
				query.Set("page", strconv.Itoa(page))
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}

			var jobs []models.Job
			var meta response.PaginationMeta
			if err := ctx.client().do(cmd.Context(), http.MethodGet, "/jobs", query, nil, &jobs, &meta); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{
					j.ID.String(),
					strconv.FormatInt(j.ContentID, 10),
					string(j.Kind),
					string(j.Status),
					strconv.Itoa(j.RetryCount),
					ago(&j.CreatedAt),
					deref(j.ErrorMessage),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderTable(
				[]column{left("ID"), right("Content"), left("Kind"), left("Status"), right("Retries"), left("Created"), left("Error")},
				rows,
			))
			fmt.Fprintf(out, "Page %d, %d of %d jobs\n", meta.Page, len(jobs), meta.Total)
			return nil
		},
	}

	cmd.Flags().Int64Var(&contentID, "content", 0, "Only jobs for this content id")
	cmd.Flags().StringVar(&kind, "kind", "", "Only jobs of this kind (transcribe, chunk_embed)")
	cmd.Flags().StringVar(&status, "status", "", "Only jobs in this status")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 20, "Jobs per page (max 100)")
	return cmd
}

func newJobsEnqueueCommand(ctx *commandContext) *cobra.Command {
	var priority int

	cmd := &cobra.Command{
		Use:   "enqueue <content-id> <kind>",
		Short: "Queue a stage for a content item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			contentID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid content id %q", args[0])
			}
			body := map[string]any{"content_id": contentID, "kind": args[1], "priority": priority}

			var job models.Job
			if err := ctx.client().do(cmd.Context(), http.MethodPost, "/jobs", nil, body, &job, nil); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s is %s\n", job.ID, job.Status)
			return nil
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "Claim priority, higher first")
	return cmd
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>...",
		Short: "Return failed jobs to pending",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var failed int
			for _, id := range args {
				var job models.Job
				if err := ctx.client().do(cmd.Context(), http.MethodPost, "/jobs/"+url.PathEscape(id)+"/retry", nil, nil, &job, nil); err != nil {
					fmt.Fprintf(out, "Job %s: %v\n", id, err)
					failed++
					continue
				}
				fmt.Fprintf(out, "Job %s is pending\n", job.ID)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d retries failed", failed, len(args))
			}
			return nil
		},
	}
}

func newJobsFailuresCommand(ctx *commandContext) *cobra.Command {
	var kind string
	var top int

	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Group failed jobs by error message",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if kind != "" {
				query.Set("kind", kind)
			}
			if top > 0 {
				query.Set("top", strconv.Itoa(top))
			}

			var groups []models.FailureGroup
			if err := ctx.client().do(cmd.Context(), http.MethodGet, "/jobs/failures", query, nil, &groups, nil); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, groups)
			}
			if len(groups) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No failed jobs")
				return nil
			}

			rows := make([][]string, 0, len(groups))
			for _, g := range groups {
				ids := make([]string, 0, len(g.ContentIDs))
				for _, id := range g.ContentIDs {
					ids = append(ids, strconv.FormatInt(id, 10))
				}
				rows = append(rows, []string{
					strconv.Itoa(g.Count),
					string(g.Kind),
					string(g.ErrorKind),
					ago(&g.LastSeenAt),
					strings.Join(ids, ","),
					g.SampleMessage,
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]column{right("Count"), left("Kind"), left("Error Kind"), left("Last Seen"), left("Content"), left("Sample")},
				rows,
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Only failures of this kind (transcribe, chunk_embed)")
	cmd.Flags().IntVar(&top, "top", 0, "Show only the N largest groups")
	return cmd
}
