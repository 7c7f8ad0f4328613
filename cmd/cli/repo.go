package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/layered"
	"github.com/nickyhof/LayerDB/op"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init REPO",
		Short: "Create an empty repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := a.repository(cmd, args[0])
			if err != nil {
				return err
			}
			if err := repo.Init(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s✓ Initialized %s%s\n", SuccessColor, repo.Name, ResetColor)
			return nil
		},
	}
}

func newReposCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repos",
		Short: "List repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inst, err := a.instance(cmd.Context())
			if err != nil {
				return err
			}
			names, err := inst.Repositories()
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), "Repository", "Images", "HEAD")
			for _, name := range names {
				repo := inst.Repository(name)
				images, err := repo.Images()
				if err != nil {
					return err
				}
				head, err := repo.Head(cmd.Context())
				if err != nil {
					return err
				}
				t.AppendRow(table.Row{name.String(), len(images), short(head.Hash)})
			}
			t.Render()
			return nil
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm REPO",
		Short: "Delete a repository, its schema and its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := a.repository(cmd, args[0])
			if err != nil {
				return err
			}
			if err := repo.Delete(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s✓ Deleted %s%s\n", SuccessColor, repo.Name, ResetColor)
			return nil
		},
	}
}

func newCommitCmd(a *app) *cobra.Command {
	var (
		message  string
		snapshot bool
	)
	cmd := &cobra.Command{
		Use:   "commit REPO",
		Short: "Record the checked out tables as a new image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := a.repository(cmd, args[0])
			if err != nil {
				return err
			}
			opts := []op.CommitOption{op.WithComment(message)}
			if snapshot {
				opts = append(opts, op.SnapshotOnly())
			}
			img, err := repo.Commit(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s✓ Committed %s:%s (%d tables)%s\n",
				SuccessColor, repo.Name, short(img.Hash), len(img.Tables), ResetColor)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "image comment")
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "store every table as a full snapshot")
	return cmd
}

func newCheckoutCmd(a *app) *cobra.Command {
	var opts op.CheckoutOptions
	cmd := &cobra.Command{
		Use:   "checkout REPO[:REF]",
		Short: "Replace the repository's tables with an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, ref, err := a.repository(cmd, args[0])
			if err != nil {
				return err
			}
			if ref == "" {
				ref = core.TagLatest
			}
			img, err := repo.Checkout(cmd.Context(), ref, opts)
			if err != nil {
				return err
			}
			mode := "materialized"
			if opts.Lazy {
				mode = "layered"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s✓ Checked out %s:%s (%s)%s\n",
				SuccessColor, repo.Name, short(img.Hash), mode, ResetColor)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&opts.Tables, "table", "t", nil, "only check out these tables")
	cmd.Flags().BoolVar(&opts.Lazy, "layered", false, "leave tables unmaterialized and query them from objects")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "discard pending changes")
	return cmd
}

func newLogCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "log REPO[:REF]",
		Short: "Show the history of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, ref, err := a.repository(cmd, args[0])
			if err != nil {
				return err
			}
			if ref == "" {
				ref = core.TagHead
			}
			images, err := repo.Log(cmd.Context(), ref)
			if err != nil {
				return err
			}
			tags, err := repo.Tags()
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), "Image", "Created", "Tags", "Tables", "Comment")
			for _, img := range images {
				created := ""
				if !img.CreatedAt.IsZero() {
					created = img.CreatedAt.Local().Format("2006-01-02 15:04:05")
				}
				t.AppendRow(table.Row{
					short(img.Hash),
					created,
					strings.Join(op.TagsOf(tags, img.Hash), ", "),
					len(img.Tables),
					truncate(img.Comment, 50),
				})
			}
			t.Render()
			return nil
		},
	}
}

func newTagCmd(a *app) *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "tag REPO[:REF] [NAME]",
		Short: "List tags, or point NAME at an image",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, ref, err := a.repository(cmd, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				tags, err := repo.Tags()
				if err != nil {
					return err
				}
				t := newTable(out, "Tag", "Image")
				for _, name := range sortedKeys(tags) {
					t.AppendRow(table.Row{name, short(tags[name])})
				}
				t.Render()
				return nil
			}

			name := args[1]
			if remove {
				if err := repo.DeleteTag(cmd.Context(), name); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s✓ Deleted tag %s%s\n", SuccessColor, name, ResetColor)
				return nil
			}
			if ref == "" {
				ref = core.TagHead
			}
			if err := repo.Tag(cmd.Context(), name, ref); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s✓ Tagged %s:%s as %s%s\n", SuccessColor, repo.Name, ref, name, ResetColor)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&remove, "delete", "d", false, "delete tag NAME")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status REPO",
		Short: "Show the checked out image and pending changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := a.repository(cmd, args[0])
			if err != nil {
				return err
			}
			head, err := repo.Head(cmd.Context())
			if err != nil {
				return err
			}
			tables, err := repo.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s%s%s at %s\n", BoldColor, repo.Name, ResetColor, short(head.Hash))

			t := newTable(out, "Table", "State", "Inserted", "Updated", "Deleted")
			for _, st := range tables {
				state := "untracked"
				switch {
				case st.Layered:
					state = "layered"
				case st.SchemaChanged:
					state = "schema changed"
				case st.Tracked && st.Pending.Total() > 0:
					state = "modified"
				case st.Tracked:
					state = "clean"
				}
				t.AppendRow(table.Row{st.Table, state, st.Pending.Inserted, st.Pending.Updated, st.Pending.Deleted})
			}
			t.Render()
			return nil
		},
	}
}

func newDiffCmd(a *app) *cobra.Command {
	var counts bool
	cmd := &cobra.Command{
		Use:   "diff REPO TABLE [FROM [TO]]",
		Short: "Show row changes of a table between two images",
		Long:  "FROM defaults to HEAD. Without TO the table's current contents are compared.",
		Args:  cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := a.repository(cmd, args[0])
			if err != nil {
				return err
			}
			from, to := core.TagHead, ""
			if len(args) > 2 {
				from = args[2]
			}
			if len(args) > 3 {
				to = args[3]
			}
			cs, err := repo.Diff(cmd.Context(), args[1], from, to)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if counts {
				c := cs.Counts()
				fmt.Fprintf(out, "+%d ~%d -%d\n", c.Inserted, c.Updated, c.Deleted)
				return nil
			}

			header := table.Row{"Change"}
			for _, col := range cs.Columns {
				header = append(header, col.Name)
			}
			t := newTable(out, header...)
			for _, ch := range cs.Changes {
				row := table.Row{string(ch.Kind)}
				values := ch.Row
				if ch.Kind == core.Delete {
					values = ch.Key
				}
				for _, v := range values {
					row = append(row, v)
				}
				t.AppendRow(row)
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&counts, "counts", false, "only print the number of changes per kind")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var (
		where []string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "show REPO[:REF] TABLE",
		Short: "Print the rows of a table",
		Long:  "Without REF the checked out table is read. With REF the rows are reconstructed from the image's objects.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, ref, err := a.repository(cmd, args[0])
			if err != nil {
				return err
			}
			q := layered.Query{Where: map[string]any{}}
			for _, w := range where {
				col, value, ok := strings.Cut(w, "=")
				if !ok {
					return fmt.Errorf("invalid filter %q, expected COLUMN=VALUE", w)
				}
				q.Where[col] = parseValue(value)
			}

			var res layered.Result
			if ref == "" {
				res, err = repo.Query(cmd.Context(), args[1], q)
			} else {
				img, rerr := repo.Resolve(cmd.Context(), ref)
				if rerr != nil {
					return rerr
				}
				entry, ok := img.Tables[args[1]]
				if !ok {
					return &core.SchemaError{Table: args[1], Msg: "table not in image " + short(img.Hash)}
				}
				res, err = layered.New(repo.Store()).Read(cmd.Context(), args[1], entry, q)
			}
			if err != nil {
				return err
			}

			header := make(table.Row, 0, len(res.Columns))
			for _, col := range res.Columns {
				header = append(header, col.Name)
			}
			t := newTable(cmd.OutOrStdout(), header...)
			for i, row := range res.Rows {
				if limit > 0 && i >= limit {
					break
				}
				t.AppendRow(table.Row(row))
			}
			t.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "(%d rows)\n", len(res.Rows))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&where, "where", "w", nil, "COLUMN=VALUE equality filter")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "print at most n rows")
	return cmd
}

// parseValue types a command line value the way the engine returns it.
func parseValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
