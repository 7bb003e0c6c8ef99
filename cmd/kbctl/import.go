package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"faultkb/internal/app/importer"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	var (
		csvPath string
		replace bool
		reindex bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import fault records from a CSV export",
		Long: `Import fault records from a CSV file. Chinese column headers (序号, 故障单号, ...)
and their English column names are both accepted; 序号 is kept as record_id.

Every imported row is queued for indexing. Run with --reindex to build the
semantic index immediately, or let the server's reconciler pick the rows up.`,
		Example: `  kbctl import --csv data/knowledge_base.csv --replace --reindex`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := importer.ImportFile(cmd.Context(), app.Store, csvPath, replace)
			if err != nil {
				return err
			}
			if err := opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "✅ Imported %d records (removed %d)\n", res.Inserted, res.Removed)
			}); err != nil {
				return err
			}

			if !reindex {
				return nil
			}
			report, err := app.Reindexer.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printReindex(opts, cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "data/knowledge_base.csv", "path to the CSV file")
	cmd.Flags().BoolVar(&replace, "replace", false, "delete existing records before importing")
	cmd.Flags().BoolVar(&reindex, "reindex", false, "rebuild the semantic index after importing")
	return cmd
}
