package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ask <question>",
		Short:   "Answer a question from similar historical fault cases",
		Example: `  kbctl ask "风扇异响怎么处理"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ans, err := app.Service.Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), ans, func(w io.Writer) {
				fmt.Fprintln(w, ans.Text)
				fmt.Fprintln(w)
				fmt.Fprintln(w, "参考案例:")
				for i, r := range ans.Context {
					fmt.Fprintf(w, "  %d. [%s] %s: %s\n", i+1, r.TicketNo, r.DeviceName, r.FaultPhenomenon)
				}
			})
		},
	}
	return cmd
}
