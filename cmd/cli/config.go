package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print every setting with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cfg.File != "" {
				fmt.Fprintf(out, "config file: %s\n", cfg.File)
			}
			t := newTable(out, "Key", "Value")
			for _, kv := range cfg.Settings() {
				t.AppendRow(table.Row{kv[0], kv[1]})
			}
			t.Render()
			return nil
		},
	})
	return cmd
}
