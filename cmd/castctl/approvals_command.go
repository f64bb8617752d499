package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

func newApprovalsCommand(ctx *commandContext) *cobra.Command {
	approvalsCmd := &cobra.Command{
		Use:     "approvals",
		Aliases: []string{"approval"},
		Short:   "Review paid-call cost approvals",
	}

	approvalsCmd.AddCommand(newApprovalsListCommand(ctx))
	approvalsCmd.AddCommand(newApprovalsDecideCommand(ctx, "approve", "Allow a pending paid call"))
	approvalsCmd.AddCommand(newApprovalsDecideCommand(ctx, "reject", "Refuse a pending paid call"))

	return approvalsCmd
}

func newApprovalsListCommand(ctx *commandContext) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approvals, pending by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if status != "" {
				query.Set("status", status)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}

			var approvals []models.CostApproval
			if err := ctx.client().do(cmd.Context(), http.MethodGet, "/approvals", query, nil, &approvals, nil); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, approvals)
			}
			if len(approvals) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No approvals")
				return nil
			}

			rows := make([][]string, 0, len(approvals))
			for _, a := range approvals {
				rows = append(rows, []string{
					a.ID.String(),
					strconv.FormatInt(a.ContentID, 10),
					string(a.Purpose),
					"$" + humanize.FormatFloat("#,###.####", a.EstimatedCost),
					string(a.Status),
					ago(&a.RequestedAt),
					ago(&a.ExpiresAt),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]column{left("ID"), right("Content"), left("Purpose"), right("Estimate"), left("Status"), left("Requested"), left("Expires")},
				rows,
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "pending, approved, rejected or all")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum approvals to list")
	return cmd
}

func newApprovalsDecideCommand(ctx *commandContext, action, short string) *cobra.Command {
	var by, reason string

	cmd := &cobra.Command{
		Use:   action + " <approval-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"decided_by": by}
			if reason != "" {
				body["reason"] = reason
			}

			var approval models.CostApproval
			path := "/approvals/" + url.PathEscape(args[0]) + "/" + action
			if err := ctx.client().do(cmd.Context(), http.MethodPost, path, nil, body, &approval, nil); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, approval)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Approval %s is %s\n", approval.ID, approval.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&by, "by", currentUser(), "Operator recorded on the decision")
	if action == "reject" {
		cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the rejection")
	}
	return cmd
}
