package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickyhof/LayerDB/build"
	"github.com/nickyhof/LayerDB/core"
)

// parseParams turns KEY=VALUE flags into a map.
func parseParams(values []string) (map[string]string, error) {
	params := make(map[string]string, len(values))
	for _, kv := range values {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected KEY=VALUE", kv)
		}
		params[k] = v
	}
	return params, nil
}

func newBuildCmd(a *app) *cobra.Command {
	var (
		params []string
		output string
		onTop  bool
	)
	cmd := &cobra.Command{
		Use:   "build SCRIPT",
		Short: "Run a build script",
		Long: `Run a build script into an output repository. Steps whose inputs are
unchanged since an earlier run are checked out instead of recomputed.
SQL FILE paths are resolved relative to the script.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			var out core.RepositoryName
			if output != "" {
				if out, err = core.ParseRepository(output); err != nil {
					return err
				}
			}
			inst, err := a.instance(cmd.Context())
			if err != nil {
				return err
			}

			var opts []build.RunOption
			if onTop {
				opts = append(opts, build.OnTopOf(""))
			}
			exec := inst.Executor(build.WithBaseDir(filepath.Dir(args[0])))
			res, err := exec.Run(cmd.Context(), string(source), p, out, opts...)
			if len(res.Steps) > 0 {
				res.Display(cmd.OutOrStdout())
			}
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "KEY=VALUE script parameter")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output repository (default a random name)")
	cmd.Flags().BoolVar(&onTop, "on-top", false, "build on the output's HEAD instead of its empty root")
	return cmd
}

func newProvenanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "provenance REPO[:REF]",
		Short: "Print the build script that produced an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, ref, err := a.repository(cmd, args[0])
			if err != nil {
				return err
			}
			if ref == "" {
				ref = core.TagLatest
			}
			text, err := build.ScriptFor(cmd.Context(), repo, ref)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func newRebuildCmd(a *app) *cobra.Command {
	var sources []string
	cmd := &cobra.Command{
		Use:   "rebuild REPO[:REF] OUTPUT",
		Short: "Replay an image's provenance into OUTPUT",
		Long: `Replay the steps that produced an image into OUTPUT. Each --source
REPO=REF replaces the image the matching imports were taken from.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, ref, err := a.repository(cmd, args[0])
			if err != nil {
				return err
			}
			if ref == "" {
				ref = core.TagLatest
			}
			out, err := core.ParseRepository(args[1])
			if err != nil {
				return err
			}
			replace := make(map[core.RepositoryName]string, len(sources))
			for _, s := range sources {
				name, sref, err := parseRef(strings.Replace(s, "=", ":", 1))
				if err != nil {
					return err
				}
				if sref == "" {
					sref = core.TagLatest
				}
				replace[name] = sref
			}

			inst, err := a.instance(cmd.Context())
			if err != nil {
				return err
			}
			res, err := inst.Executor().Rebuild(cmd.Context(), repo, ref, out, replace)
			if len(res.Steps) > 0 {
				res.Display(cmd.OutOrStdout())
			}
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&sources, "source", "s", nil, "REPO=REF source override")
	return cmd
}
