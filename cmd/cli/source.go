package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nickyhof/LayerDB/ingest"
)

func newSourceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Inspect external data sources and load them into repositories",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "kinds",
			Short: "List the registered source kinds",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				inst, err := a.instance(cmd.Context())
				if err != nil {
					return err
				}
				for _, kind := range inst.Sources.Kinds() {
					fmt.Fprintln(cmd.OutOrStdout(), kind)
				}
				return nil
			},
		},
		newSourceInspectCmd(a, "introspect", "List a source's tables and their columns"),
		newSourceInspectCmd(a, "preview", "Print the first rows of a source's tables"),
		newSourceLoadCmd(a),
	)
	return cmd
}

func (a *app) openSource(cmd *cobra.Command, kind string, params []string) (ingest.Source, error) {
	p, err := parseParams(params)
	if err != nil {
		return nil, err
	}
	inst, err := a.instance(cmd.Context())
	if err != nil {
		return nil, err
	}
	ip := make(ingest.Params, len(p))
	for k, v := range p {
		if k == "primary_key" && strings.Contains(v, ",") {
			ip[k] = strings.Split(v, ",")
			continue
		}
		ip[k] = v
	}
	return inst.Sources.Open(kind, inst.Engine, ip)
}

func newSourceInspectCmd(a *app, use, short string) *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   use + " KIND [TABLE...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := a.openSource(cmd, args[0], params)
			if err != nil {
				return err
			}
			defer src.Close()

			var results []ingest.TableResult
			if use == "preview" {
				results, err = src.Preview(cmd.Context(), args[1:])
			} else {
				results, err = src.Introspect(cmd.Context())
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, res := range results {
				fmt.Fprintf(out, "%s%s%s\n", BoldColor, res.Table, ResetColor)
				if res.Err != nil {
					fmt.Fprintf(out, "%s✗ %v%s\n", ErrorColor, res.Err, ResetColor)
					continue
				}
				if use == "introspect" {
					t := newTable(out, "Column", "Type", "Key")
					for _, col := range res.Schema {
						t.AppendRow(table.Row{col.Name, col.Type, col.PrimaryKey})
					}
					t.Render()
					continue
				}
				header := make(table.Row, 0, len(res.Schema))
				for _, col := range res.Schema {
					header = append(header, col.Name)
				}
				t := newTable(out, header...)
				for _, row := range res.Rows {
					t.AppendRow(table.Row(row))
				}
				t.Render()
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "KEY=VALUE source parameter, e.g. path=data.csv")
	return cmd
}

func newSourceLoadCmd(a *app) *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "load KIND REPO [TABLE...]",
		Short: "Copy a source's tables into a repository's checkout",
		Long:  "Copy a source's tables into a repository's checkout. Commit the repository to record them.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := a.repository(cmd, args[1])
			if err != nil {
				return err
			}
			if err := repo.Init(cmd.Context()); err != nil {
				return err
			}
			src, err := a.openSource(cmd, args[0], params)
			if err != nil {
				return err
			}
			defer src.Close()

			tables := args[2:]
			mounted, err := src.Mount(cmd.Context(), repo.Schema(), tables)
			if err != nil {
				return err
			}
			if err := ingest.FirstError(mounted); err != nil {
				return err
			}
			loaded, err := src.Load(cmd.Context(), repo.Schema(), tables)
			if err != nil {
				return err
			}
			if err := ingest.FirstError(loaded); err != nil {
				return err
			}
			names := make([]string, 0, len(loaded))
			for _, res := range loaded {
				names = append(names, res.Table)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s✓ Loaded %s into %s%s\n",
				SuccessColor, strings.Join(names, ", "), repo.Name, ResetColor)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "KEY=VALUE source parameter")
	return cmd
}
