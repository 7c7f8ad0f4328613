package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/objects"
	"github.com/nickyhof/LayerDB/remote"
)

// syncFlags are shared by push, pull and clone.
type syncFlags struct {
	remote   string
	handler  string
	params   []string
	download bool
}

func (f *syncFlags) options(cmd *cobra.Command, a *app, rem *remote.Remote) (remote.Options, error) {
	inst, err := a.instance(cmd.Context())
	if err != nil {
		return remote.Options{}, err
	}
	opts := remote.Options{DownloadAll: f.download, Logger: inst.Logger}
	if f.handler != "" {
		if opts.Handler, err = inst.Handler(cmd.Context(), f.handler, rem); err != nil {
			return remote.Options{}, err
		}
	}
	params, err := parseParams(f.params)
	if err != nil {
		return remote.Options{}, err
	}
	opts.HandlerParams = objects.Params(params)
	return opts, nil
}

func (a *app) remote(cmd *cobra.Command, name string) (*remote.Remote, error) {
	inst, err := a.instance(cmd.Context())
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "origin"
	}
	return inst.Remotes.Get(name)
}

func printStats(cmd *cobra.Command, verb string, stats remote.Stats) {
	if stats == (remote.Stats{}) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s✓ Already up to date%s\n", SuccessColor, ResetColor)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s✓ %s %s%s\n", SuccessColor, verb, stats, ResetColor)
	if stats.Downloaded > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "  downloaded %d object(s)\n", stats.Downloaded)
	}
}

func newPushCmd(a *app) *cobra.Command {
	var (
		f         syncFlags
		target    string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "push REPO",
		Short: "Send images, objects and tags a remote is missing",
		Long: `Send the images, objects and tags a remote lacks. With --handler the
payloads go to external storage (FILE, S3 or HTTP) and only their locations
are sent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := a.repository(cmd, args[0])
			if err != nil {
				return err
			}
			remoteName := f.remote
			if remoteName == "" {
				if up, ok, err := remote.Upstream(repo); err != nil {
					return err
				} else if ok {
					remoteName = up.Remote
				}
			}
			rem, err := a.remote(cmd, remoteName)
			if err != nil {
				return err
			}
			var to core.RepositoryName
			if target != "" {
				if to, err = core.ParseRepository(target); err != nil {
					return err
				}
			}
			opts, err := f.options(cmd, a, rem)
			if err != nil {
				return err
			}
			opts.Overwrite = overwrite
			stats, err := remote.Push(cmd.Context(), repo, rem, to, opts)
			if err != nil {
				return err
			}
			printStats(cmd, "Pushed", stats)
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.remote, "remote", "r", "", "remote name (default the upstream, then origin)")
	cmd.Flags().StringVar(&target, "target", "", "repository name on the remote")
	cmd.Flags().StringVar(&f.handler, "handler", "", "upload handler: DB, FILE, S3 or HTTP")
	cmd.Flags().StringArrayVar(&f.params, "handler-param", nil, "KEY=VALUE handler option, e.g. dir=/mnt/objects")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace the remote's tags instead of merging them")
	return cmd
}

func newPullCmd(a *app) *cobra.Command {
	var f syncFlags
	cmd := &cobra.Command{
		Use:   "pull REPO",
		Short: "Fetch new images from the repository's upstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := a.repository(cmd, args[0])
			if err != nil {
				return err
			}
			up, ok, err := remote.Upstream(repo)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w for %s", remote.ErrNoUpstream, repo.Name)
			}
			rem, err := a.remote(cmd, up.Remote)
			if err != nil {
				return err
			}
			opts, err := f.options(cmd, a, rem)
			if err != nil {
				return err
			}
			stats, err := remote.Pull(cmd.Context(), repo, rem, opts)
			if err != nil {
				return err
			}
			printStats(cmd, "Pulled", stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&f.download, "download", false, "download every object instead of fetching on first use")
	return cmd
}

func newCloneCmd(a *app) *cobra.Command {
	var f syncFlags
	cmd := &cobra.Command{
		Use:   "clone REMOTE_REPO [LOCAL_REPO]",
		Short: "Copy a repository's metadata from a remote",
		Long: `Copy a repository's images, object metadata and tags from a remote.
Objects are fetched on first checkout unless --download is given.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := core.ParseRepository(args[0])
			if err != nil {
				return err
			}
			localArg := args[0]
			if len(args) > 1 {
				localArg = args[1]
			}
			local, _, err := a.repository(cmd, localArg)
			if err != nil {
				return err
			}
			rem, err := a.remote(cmd, f.remote)
			if err != nil {
				return err
			}
			opts, err := f.options(cmd, a, rem)
			if err != nil {
				return err
			}
			stats, err := remote.Clone(cmd.Context(), local, rem, source, opts)
			if err != nil {
				return err
			}
			printStats(cmd, "Cloned", stats)
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.remote, "remote", "r", "", "remote name (default origin)")
	cmd.Flags().BoolVar(&f.download, "download", false, "download every object now")
	return cmd
}
