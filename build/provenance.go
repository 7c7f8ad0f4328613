package build

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/op"
	"github.com/nickyhof/LayerDB/script"
)

// Provenance reconstructs the commands that produced ref in repo, oldest
// first. The walk back stops at the first image without provenance, which
// becomes the FROM base of the returned commands.
func Provenance(ctx context.Context, repo *op.Repository, ref string) ([]script.Command, error) {
	chain, err := repo.Log(ctx, ref)
	if err != nil {
		return nil, err
	}

	var built []core.Image
	base := script.Command(script.FromCommand{Empty: true})
	for _, img := range chain {
		if img.Hash == core.ZeroHash {
			break
		}
		if len(img.Provenance) == 0 {
			base = script.FromCommand{Source: repo.Name, Ref: img.Hash}
			break
		}
		built = append(built, img)
	}
	slices.Reverse(built)

	commands := []script.Command{base}
	for _, img := range built {
		for _, entry := range img.Provenance {
			command, err := commandFor(entry)
			if err != nil {
				return nil, fmt.Errorf("failed to read provenance of %s: %w", img.Hash[:12], err)
			}
			commands = append(commands, command)
		}
	}
	return commands, nil
}

func commandFor(entry core.ProvenanceEntry) (script.Command, error) {
	switch entry.Type {
	case core.ProvenanceSQL:
		return script.SQLCommand{Statement: entry.Statement}, nil
	case core.ProvenanceImport, core.ProvenanceMount:
		return script.NewParser(entry.Statement).Parse()
	}
	return nil, fmt.Errorf("unsupported provenance type %q", entry.Type)
}

// ScriptFor renders the provenance of ref as a build script.
func ScriptFor(ctx context.Context, repo *op.Repository, ref string) (string, error) {
	commands, err := Provenance(ctx, repo, ref)
	if err != nil {
		return "", err
	}
	lines := make([]string, len(commands))
	for i, c := range commands {
		lines[i] = c.String()
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// Rebuild re-executes the provenance of ref into output. Imports from a
// repository in sources read the given ref instead of the recorded image.
func (e *Executor) Rebuild(ctx context.Context, repo *op.Repository, ref string, output core.RepositoryName, sources map[core.RepositoryName]string, opts ...RunOption) (Result, error) {
	commands, err := Provenance(ctx, repo, ref)
	if err != nil {
		return Result{}, err
	}
	for i, command := range commands {
		c, ok := command.(script.ImportCommand)
		if !ok || c.Mount != nil {
			continue
		}
		if replacement, ok := sources[c.Source]; ok {
			c.Ref = replacement
			commands[i] = c
		}
	}
	return e.Execute(ctx, commands, output, opts...)
}
