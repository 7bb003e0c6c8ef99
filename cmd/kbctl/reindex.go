package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"faultkb/internal/app/knowledge"
	applog "faultkb/internal/platform/log"
)

func newReindexCmd(opts *rootOptions) *cobra.Command {
	var flushCache bool
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the semantic index from every record",
		Long: `Re-embed every record and atomically replace the index file. Records whose
embedding fails are skipped and queued for the reconciler. Stop the server
first: the server keeps its own copy of the index in memory.`,
		Example: `  kbctl reindex
  kbctl reindex --flush-cache   # after switching the embedding model`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if flushCache {
				if app.RedisCache == nil {
					applog.Warn("⚠️  --flush-cache ignored: no Redis embedding cache configured")
				} else {
					n, err := app.RedisCache.InvalidateAll(cmd.Context())
					if err != nil {
						return fmt.Errorf("flush embedding cache: %w", err)
					}
					applog.Infof("✅ Flushed %d cached embeddings", n)
				}
			}

			report, err := app.Reindexer.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printReindex(opts, cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&flushCache, "flush-cache", false, "clear the shared embedding cache first")
	return cmd
}

func printReindex(opts *rootOptions, w io.Writer, r *knowledge.ReindexReport) error {
	return opts.print(w, r, func(w io.Writer) {
		fmt.Fprintf(w, "✅ Index rebuilt: %d/%d records indexed, %d skipped (%s)\n",
			r.Indexed, r.Records, r.Skipped, r.Elapsed.Round(time.Millisecond))
		if r.Skipped > 0 {
			fmt.Fprintf(w, "   skipped record ids (queued for reconcile): %v\n", r.SkippedIDs)
		}
	})
}
