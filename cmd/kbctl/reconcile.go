package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"faultkb/internal/app/knowledge"
)

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Apply pending index events left by partially failed writes",
		Long: `Apply pending index events left by partially failed writes and rewrite the
index file. Stop the server first: the server keeps its own copy of the index in
memory and overwrites the file on its next write, dropping vectors added here
whose events are already acknowledged. While the server runs, use
POST /api/v1/index/reconcile instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			total := &knowledge.ReconcileReport{}
			for {
				report, err := app.Reconciler.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				total.Events += report.Events
				total.Records += report.Records
				total.Succeeded += report.Succeeded
				total.Failed += report.Failed
				total.FailedIDs = append(total.FailedIDs, report.FailedIDs...)
				total.Pending = report.Pending
				total.Exhausted = report.Exhausted

				// 本轮全部失败时停止，避免同一批事件反复重试
				if once || report.Events == 0 || report.Succeeded == 0 {
					break
				}
			}

			return opts.print(cmd.OutOrStdout(), total, func(w io.Writer) {
				fmt.Fprintf(w, "✅ Reconciled %d records (%d failed); %d events pending, %d exhausted\n",
					total.Succeeded, total.Failed, total.Pending, total.Exhausted)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "process a single batch only")
	return cmd
}
