package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/objects"
)

func newObjectsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "objects",
		Short: "Inspect and move object payloads",
	}
	cmd.AddCommand(newObjectsListCmd(a), newObjectsDownloadCmd(a), newObjectsUploadCmd(a))
	return cmd
}

// imageObjects returns the objects of REPO[:REF], or every registered
// object when arg is empty.
func (a *app) imageObjects(cmd *cobra.Command, arg string) ([]string, error) {
	if arg == "" {
		inst, err := a.instance(cmd.Context())
		if err != nil {
			return nil, err
		}
		return inst.Store.AllObjects()
	}
	repo, ref, err := a.repository(cmd, arg)
	if err != nil {
		return nil, err
	}
	if ref == "" {
		ref = core.TagHead
	}
	img, err := repo.Resolve(cmd.Context(), ref)
	if err != nil {
		return nil, err
	}
	return img.ObjectIDs(), nil
}

func newObjectsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [REPO[:REF]]",
		Short: "List objects with their size, cache state and locations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arg string
			if len(args) > 0 {
				arg = args[0]
			}
			ids, err := a.imageObjects(cmd, arg)
			if err != nil {
				return err
			}
			inst, err := a.instance(cmd.Context())
			if err != nil {
				return err
			}
			objs, err := inst.Store.Objects(ids)
			if err != nil {
				return err
			}
			locations, err := inst.Store.ExternalLocations(ids)
			if err != nil {
				return err
			}

			t := newTable(cmd.OutOrStdout(), "Object", "Format", "Rows", "Size", "Cached", "Locations")
			for _, obj := range objs {
				var urls []string
				for _, loc := range locations[obj.ID] {
					urls = append(urls, loc.URL)
				}
				t.AppendRow(table.Row{
					short(obj.ID),
					obj.Format,
					obj.RowCount,
					formatSize(obj.Size),
					inst.Store.IsCached(obj.ID),
					len(urls),
				})
			}
			t.Render()
			return nil
		},
	}
}

func newObjectsDownloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "download [REPO[:REF]]",
		Short: "Fetch missing payloads into the local cache",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arg string
			if len(args) > 0 {
				arg = args[0]
			}
			ids, err := a.imageObjects(cmd, arg)
			if err != nil {
				return err
			}
			inst, err := a.instance(cmd.Context())
			if err != nil {
				return err
			}
			var missing []string
			for _, id := range ids {
				if !inst.Store.IsCached(id) {
					missing = append(missing, id)
				}
			}
			if err := inst.Store.Download(cmd.Context(), missing); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s✓ Downloaded %d object(s)%s\n", SuccessColor, len(missing), ResetColor)
			return nil
		},
	}
}

func newObjectsUploadCmd(a *app) *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "upload PROTOCOL [REPO[:REF]]",
		Short: "Copy cached payloads to external storage and record their locations",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arg string
			if len(args) > 1 {
				arg = args[1]
			}
			ids, err := a.imageObjects(cmd, arg)
			if err != nil {
				return err
			}
			inst, err := a.instance(cmd.Context())
			if err != nil {
				return err
			}
			h, err := inst.Handler(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			added, err := inst.Store.Upload(cmd.Context(), ids, h, objects.Params(p))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s✓ Uploaded %d object(s), %d new location(s)%s\n",
				SuccessColor, len(ids), len(added), ResetColor)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "KEY=VALUE handler option, e.g. dir=/mnt/objects")
	return cmd
}

func newCleanupCmd(a *app) *cobra.Command {
	var (
		dryRun bool
		grace  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete objects no image references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inst, err := a.instance(cmd.Context())
			if err != nil {
				return err
			}
			var opts []objects.CleanupOption
			if dryRun {
				opts = append(opts, objects.DryRun())
			}
			if cmd.Flags().Changed("grace") {
				opts = append(opts, objects.Grace(grace))
			}
			ids, err := inst.Store.Cleanup(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			verb := "Deleted"
			if dryRun {
				verb = "Would delete"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s✓ %s %d object(s)%s\n", SuccessColor, verb, len(ids), ResetColor)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "only report what would be deleted")
	cmd.Flags().DurationVar(&grace, "grace", 0, "override gc.grace_period")
	return cmd
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
