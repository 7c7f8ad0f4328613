package build

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-billy/v6/util"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/engine"
	"github.com/nickyhof/LayerDB/ingest"
	"github.com/nickyhof/LayerDB/logging"
	"github.com/nickyhof/LayerDB/op"
	"github.com/nickyhof/LayerDB/script"
)

const (
	stagingPrefix = "layerdb_tmp_"
	resultPrefix  = "layerdb_result_"
)

// from switches the output and checks out its base image.
func (r *run) from(ctx context.Context, c script.FromCommand, step *StepResult) error {
	if c.Output.Name != "" {
		r.setOutput(c.Output)
	}
	if err := r.output.Init(ctx); err != nil {
		return err
	}

	target := core.ZeroHash
	if !c.Empty {
		src := r.executor.Repository(c.Source)
		exists, err := src.Exists()
		if err != nil {
			return err
		}
		if !exists {
			return &core.ReferenceError{Ref: c.Ref, Repository: c.Source.String()}
		}
		img, err := r.output.CloneFrom(ctx, src, c.Ref)
		if err != nil {
			return err
		}
		target = img.Hash
	}

	img, err := r.output.Checkout(ctx, target, op.CheckoutOptions{})
	if err != nil {
		return err
	}
	step.Image = img.Hash
	step.Cached = true
	return nil
}

// checkoutOrCalculate reuses the image with hash key when it was built on
// the current HEAD, and runs calc otherwise.
func (r *run) checkoutOrCalculate(ctx context.Context, head core.Image, key string, step *StepResult, calc func() error) error {
	img, err := r.output.Resolve(ctx, key)
	if err == nil && img.ParentID == head.Hash {
		if _, err := r.output.Checkout(ctx, key, op.CheckoutOptions{}); err != nil {
			return err
		}
		step.Image = key
		step.Cached = true
		return nil
	}
	var refErr *core.ReferenceError
	if err != nil && !errors.As(err, &refErr) {
		return err
	}

	if err := calc(); err != nil {
		return err
	}
	step.Image = key
	return nil
}

// head initializes the output if needed and returns its HEAD.
func (r *run) head(ctx context.Context) (core.Image, error) {
	if err := r.output.Init(ctx); err != nil {
		return core.Image{}, err
	}
	return r.output.Head(ctx)
}

func (r *run) importTables(ctx context.Context, c script.ImportCommand, step *StepResult) error {
	src := r.executor.Repository(c.Source)
	srcImg, err := src.Resolve(ctx, c.Ref)
	if err != nil {
		return err
	}
	tables := c.Tables
	if len(tables) == 0 {
		for _, name := range srcImg.TableNames() {
			tables = append(tables, script.ImportTable{Name: name, Alias: name})
		}
	}
	for _, t := range tables {
		if _, ok := srcImg.Tables[t.Name]; !t.IsQuery() && !ok {
			return &core.SchemaError{Table: t.Name, Msg: fmt.Sprintf("not in %s:%s", c.Source, srcImg.Hash[:12])}
		}
	}

	head, err := r.head(ctx)
	if err != nil {
		return err
	}
	hashes := []string{head.Hash, srcImg.Hash}
	for _, t := range tables {
		hashes = append(hashes, core.HashString(t.Name+t.Query))
	}
	for _, t := range tables {
		hashes = append(hashes, core.HashString(t.Alias))
	}
	key := core.CombineHashes(hashes...)

	return r.checkoutOrCalculate(ctx, head, key, step, func() error {
		entries := make(map[string]core.TableEntry, len(tables))
		var queries []script.ImportTable
		for _, t := range tables {
			if t.IsQuery() {
				queries = append(queries, t)
			} else {
				entries[t.Alias] = srcImg.Tables[t.Name]
			}
		}

		var objs []core.Object
		if len(queries) > 0 {
			queried, frozen, err := r.runQueries(ctx, srcImg, queries)
			if err != nil {
				return err
			}
			for alias, entry := range queried {
				entries[alias] = entry
			}
			objs = frozen
		}

		resolved := c
		resolved.Ref = srcImg.Hash
		resolved.Tables = tables
		prov := core.ProvenanceEntry{
			Type:             core.ProvenanceImport,
			SourceNamespace:  c.Source.Namespace,
			SourceRepository: c.Source.Name,
			SourceImage:      srcImg.Hash,
			Statement:        resolved.String(),
			Tables:           aliases(tables),
		}
		return r.commitEntries(ctx, key, entries, objs, prov)
	})
}

// runQueries materializes the source image in a staging schema and freezes
// each query's result as one snapshot object.
func (r *run) runQueries(ctx context.Context, srcImg core.Image, queries []script.ImportTable) (map[string]core.TableEntry, []core.Object, error) {
	d := r.executor.diff
	staging, cleanup, err := r.staging(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer cleanup()

	for _, name := range srcImg.TableNames() {
		if err := op.Table(d, staging, name).Materialize(ctx, srcImg.Tables[name]); err != nil {
			return nil, nil, err
		}
	}

	entries := make(map[string]core.TableEntry, len(queries))
	var objs []core.Object
	for _, q := range queries {
		result := resultPrefix + q.Alias
		stmt := fmt.Sprintf("CREATE TABLE %s AS %s", engine.Quote(result), q.Query)
		if err := d.Adapter().RunIn(ctx, staging, stmt); err != nil {
			return nil, nil, fmt.Errorf("failed to run query for %s: %w", q.Alias, err)
		}
		entry, obj, err := r.freeze(ctx, staging, result)
		if err != nil {
			return nil, nil, err
		}
		entries[q.Alias] = entry
		objs = append(objs, obj)
	}
	return entries, objs, nil
}

// freeze stores a staging table as one snapshot object.
func (r *run) freeze(ctx context.Context, schema, table string) (core.TableEntry, core.Object, error) {
	d := r.executor.diff
	cs, err := d.Snapshot(ctx, schema, table)
	if err != nil {
		return core.TableEntry{}, core.Object{}, err
	}
	obj, err := d.Freeze(ctx, cs)
	if err != nil {
		return core.TableEntry{}, core.Object{}, err
	}
	return core.TableEntry{Schema: cs.Columns, Objects: []string{obj.ID}}, obj, nil
}

// staging creates a scratch schema and returns a function dropping it.
func (r *run) staging(ctx context.Context) (string, func(), error) {
	d := r.executor.diff
	schema := stagingPrefix + uuid.NewString()
	if err := d.Adapter().CreateSchema(ctx, schema); err != nil {
		return "", nil, err
	}
	return schema, func() {
		// the run's context may already be cancelled
		bg := context.Background()
		if err := d.UntrackAll(bg, schema); err != nil {
			r.logger.Warn("failed to untrack staging tables", zap.String("schema", schema), zap.Error(err))
		}
		if err := d.Adapter().DeleteSchema(bg, schema); err != nil {
			r.logger.Warn("failed to delete staging schema", zap.String("schema", schema), zap.Error(err))
		}
	}, nil
}

// commitEntries commits the imported tables under key and materializes them
// in the output.
func (r *run) commitEntries(ctx context.Context, key string, entries map[string]core.TableEntry, objs []core.Object, prov core.ProvenanceEntry) error {
	img, err := r.output.CommitTables(ctx, entries, objs,
		op.WithImageHash(key),
		op.WithComment(prov.Statement),
		op.WithProvenance(prov))
	if err != nil {
		return err
	}
	for name, entry := range entries {
		if err := op.Table(r.executor.diff, r.output.Schema(), name).Materialize(ctx, entry); err != nil {
			return err
		}
	}
	r.logger.Debug("imported tables", logging.Image(img.Hash), zap.Int("tables", len(entries)), zap.Int("objects", len(objs)))
	return nil
}

func (r *run) sql(ctx context.Context, c script.SQLCommand, step *StepResult) error {
	stmt := c.Statement
	if c.File != "" {
		data, err := util.ReadFile(r.executor.files, c.File)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", c.File, err)
		}
		stmt = string(data)
	}

	head, err := r.head(ctx)
	if err != nil {
		return err
	}
	key := core.CombineHashes(head.Hash, core.HashString(stmt))

	return r.checkoutOrCalculate(ctx, head, key, step, func() error {
		if err := r.executor.diff.Adapter().RunIn(ctx, r.output.Schema(), stmt); err != nil {
			return err
		}
		_, err := r.output.Commit(ctx,
			op.WithImageHash(key),
			op.WithComment(stmt),
			op.WithProvenance(core.ProvenanceEntry{Type: core.ProvenanceSQL, Statement: stmt}))
		return err
	})
}

// mount loads an ingestion source into staging and imports the result. The
// source may change between runs, so the image hash is random.
func (r *run) mount(ctx context.Context, c script.ImportCommand, step *StepResult) error {
	d := r.executor.diff
	src, err := r.executor.sources.Open(c.Mount.Kind, d.Adapter(), ingest.Params(c.Mount.Params))
	if err != nil {
		return err
	}
	defer src.Close()

	head, err := r.head(ctx)
	if err != nil {
		return err
	}
	staging, cleanup, err := r.staging(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var names []string
	for _, t := range c.Tables {
		if t.IsQuery() {
			return fmt.Errorf("table queries are not supported on mounted sources: %s", t.Alias)
		}
		names = append(names, t.Name)
	}
	mounted, err := src.Mount(ctx, staging, names)
	if err != nil {
		return err
	}
	if err := ingest.FirstError(mounted); err != nil {
		return err
	}
	loaded, err := src.Load(ctx, staging, names)
	if err != nil {
		return err
	}
	if err := ingest.FirstError(loaded); err != nil {
		return err
	}

	tables := c.Tables
	if len(tables) == 0 {
		for _, res := range loaded {
			tables = append(tables, script.ImportTable{Name: res.Table, Alias: res.Table})
		}
	}
	entries := make(map[string]core.TableEntry, len(tables))
	var objs []core.Object
	for _, t := range tables {
		entry, obj, err := r.freeze(ctx, staging, t.Name)
		if err != nil {
			return err
		}
		entries[t.Alias] = entry
		objs = append(objs, obj)
	}

	key := core.CombineHashes(head.Hash, core.HashString(uuid.NewString()))
	prov := core.ProvenanceEntry{
		Type:      core.ProvenanceMount,
		Statement: c.String(),
		Tables:    aliases(tables),
	}
	if err := r.commitEntries(ctx, key, entries, objs, prov); err != nil {
		return err
	}
	step.Image = key
	return nil
}

func aliases(tables []script.ImportTable) []string {
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = t.Alias
	}
	return out
}
