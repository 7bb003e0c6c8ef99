package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"faultkb/internal/app/kbapp"
	"faultkb/internal/platform/config"
	applog "faultkb/internal/platform/log"
)

type rootOptions struct {
	output string
	cfg    *config.AppConfig
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "kbctl",
		Short:         "Maintain the equipment fault knowledge base",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applog.Init(applog.Config{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
				Output: cmd.ErrOrStderr(),
			})
			opts.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: text | json")

	cmd.AddCommand(
		newImportCmd(opts),
		newReindexCmd(opts),
		newReconcileCmd(opts),
		newAskCmd(opts),
	)
	return cmd
}

// openApp 装配组件；调用方负责 Close
func (o *rootOptions) openApp(cmd *cobra.Command) (*kbapp.App, error) {
	return kbapp.New(cmd.Context(), o.cfg)
}

// print 按输出格式打印结果；text 模式使用 textFn
func (o *rootOptions) print(w io.Writer, v interface{}, textFn func(io.Writer)) error {
	if o.output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	if o.output != "text" {
		return fmt.Errorf("unsupported output format %q", o.output)
	}
	textFn(w)
	return nil
}
