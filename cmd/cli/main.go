package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nickyhof/LayerDB"
	"github.com/nickyhof/LayerDB/config"
	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/op"
)

const (
	PromptColor  = "\033[36m" // Cyan
	ErrorColor   = "\033[31m" // Red
	SuccessColor = "\033[32m" // Green
	ResetColor   = "\033[0m"
	BoldColor    = "\033[1m"
)

// Version is set at build time via -ldflags
var Version = "dev"

// app carries the global flags and the lazily opened instance.
type app struct {
	configFile string
	dataDir    string
	logLevel   string

	cfg  *config.Config
	inst *LayerDB.Instance
	// owned is set when inst was opened here and must be closed here.
	owned bool
}

func (a *app) config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return nil, err
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg
	return cfg, nil
}

func (a *app) instance(ctx context.Context) (*LayerDB.Instance, error) {
	if a.inst != nil {
		return a.inst, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	inst, err := LayerDB.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.inst, a.owned = inst, true
	return inst, nil
}

func (a *app) close() error {
	if a.inst == nil || !a.owned {
		return nil
	}
	err := a.inst.Close()
	a.inst, a.owned = nil, false
	return err
}

// repository opens the instance and returns the repository named by the
// REPO part of a REPO[:REF] argument, plus the ref (empty when absent).
func (a *app) repository(cmd *cobra.Command, arg string) (*op.Repository, string, error) {
	name, ref, err := parseRef(arg)
	if err != nil {
		return nil, "", err
	}
	inst, err := a.instance(cmd.Context())
	if err != nil {
		return nil, "", err
	}
	return inst.Repository(name), ref, nil
}

// parseRef splits "ns/repo:ref".
func parseRef(s string) (core.RepositoryName, string, error) {
	name, ref, _ := strings.Cut(s, ":")
	repo, err := core.ParseRepository(name)
	if err != nil {
		return core.RepositoryName{}, "", err
	}
	return repo, ref, nil
}

func newTable(w io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))
	return t
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "layerdb",
		Short:         "LayerDB - version control for tabular data",
		Long:          "LayerDB snapshots SQL tables into content-addressed images, builds derived datasets from scripts and syncs them between catalogs.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file (default $XDG_CONFIG_HOME/layerdb/config.yaml)")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "data directory, \":memory:\" for a throwaway instance")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newInitCmd(a),
		newReposCmd(a),
		newRmCmd(a),
		newCommitCmd(a),
		newCheckoutCmd(a),
		newLogCmd(a),
		newTagCmd(a),
		newStatusCmd(a),
		newDiffCmd(a),
		newShowCmd(a),
		newSQLCmd(a),
		newBuildCmd(a),
		newProvenanceCmd(a),
		newRebuildCmd(a),
		newPushCmd(a),
		newPullCmd(a),
		newCloneCmd(a),
		newObjectsCmd(a),
		newCleanupCmd(a),
		newSourceCmd(a),
		newCatalogCmd(a),
		newConfigCmd(a),
	)
	return root
}

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	if closeErr := a.close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		os.Exit(1)
	}
}
