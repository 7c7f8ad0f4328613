package build

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/osfs"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/diff"
	"github.com/nickyhof/LayerDB/ingest"
	"github.com/nickyhof/LayerDB/logging"
	"github.com/nickyhof/LayerDB/op"
	"github.com/nickyhof/LayerDB/script"
)

// Executor runs build scripts against the repositories of one engine and
// catalog. A run is sequential; runs on different outputs may overlap.
type Executor struct {
	diff    *diff.Engine
	sources *ingest.Registry
	files   billy.Filesystem
	logger  *zap.Logger
}

type Option func(*Executor)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSources sets the registry FROM MOUNT resolves kinds with.
func WithSources(registry *ingest.Registry) Option {
	return func(e *Executor) { e.sources = registry }
}

// WithFilesystem sets where SQL FILE paths are resolved.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(e *Executor) { e.files = fs }
}

// WithBaseDir resolves SQL FILE paths relative to dir.
func WithBaseDir(dir string) Option {
	return func(e *Executor) { e.files = osfs.New(dir) }
}

func New(d *diff.Engine, opts ...Option) *Executor {
	e := &Executor{diff: d, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.sources == nil {
		e.sources = ingest.NewRegistry(ingest.WithLogger(e.logger))
	}
	if e.files == nil {
		e.files = osfs.New(".")
	}
	return e
}

// Repository returns the commit graph of name on the executor's engine.
func (e *Executor) Repository(name core.RepositoryName) *op.Repository {
	return op.NewRepository(name, e.diff, op.WithLogger(e.logger))
}

type runOptions struct {
	base string
}

type RunOption func(*runOptions)

// OnTopOf builds on ref of the output instead of its empty root. An empty
// ref builds on the output's current HEAD.
func OnTopOf(ref string) RunOption {
	return func(o *runOptions) { o.base = ref }
}

// Run parses source with params and executes it.
func (e *Executor) Run(ctx context.Context, source string, params map[string]string, output core.RepositoryName, opts ...RunOption) (Result, error) {
	commands, err := script.Parse(source, params)
	if err != nil {
		return Result{}, err
	}
	return e.Execute(ctx, commands, output, opts...)
}

// Execute runs commands in order. Every IMPORT and SQL command produces one
// image whose hash is derived from the output's HEAD and the command, so a
// re-run over unchanged inputs checks the existing images out instead of
// recomputing them. A failing command stops the run; images of earlier
// commands stay committed.
//
// An empty output gets a random name. Unless OnTopOf says otherwise, an
// existing output is first reset to its empty root.
func (e *Executor) Execute(ctx context.Context, commands []script.Command, output core.RepositoryName, opts ...RunOption) (Result, error) {
	o := runOptions{base: core.ZeroHash}
	for _, opt := range opts {
		opt(&o)
	}
	if output.Name == "" {
		output = core.RepositoryName{Name: "output_" + uuid.NewString()[:8]}
	}

	r := &run{
		executor: e,
		id:       uuid.NewString(),
		outputs:  make(map[string]*op.Repository),
		started:  time.Now(),
	}
	r.logger = e.logger.With(logging.Run(r.id))
	r.result.RunID = r.id
	r.result.Outputs = make(map[string]string)
	r.setOutput(output)

	if o.base != "" {
		exists, err := r.output.Exists()
		if err != nil {
			return r.finish(), err
		}
		if exists {
			if _, err := r.output.Checkout(ctx, o.base, op.CheckoutOptions{}); err != nil {
				return r.finish(), err
			}
		}
	}

	r.logger.Info("starting build", logging.Repository(output.String()), zap.Int("steps", len(commands)))
	for i, command := range commands {
		if err := ctx.Err(); err != nil {
			return r.finish(), err
		}
		step := StepResult{Index: i + 1, Command: truncate(command.String(), 60)}
		start := time.Now()
		log := r.logger.With(logging.Step(i + 1))
		log.Info("executing step", zap.String("command", step.Command))

		var err error
		switch c := command.(type) {
		case script.FromCommand:
			err = r.from(ctx, c, &step)
		case script.ImportCommand:
			if c.Mount != nil {
				err = r.mount(ctx, c, &step)
			} else {
				err = r.importTables(ctx, c, &step)
			}
		case script.SQLCommand:
			err = r.sql(ctx, c, &step)
		default:
			err = fmt.Errorf("unsupported command type: %v", command.Type())
		}
		step.Output = r.output.Name.String()
		step.Duration = time.Since(start)
		if err != nil {
			step.Err = err
			r.result.Steps = append(r.result.Steps, step)
			log.Error("step failed", zap.Error(err))
			return r.finish(), fmt.Errorf("step %d (%s) failed: %w", i+1, step.Command, err)
		}
		r.result.Steps = append(r.result.Steps, step)
		if step.Image != "" {
			log.Info("step done", logging.Image(step.Image), zap.Bool("cached", step.Cached))
		}
	}
	return r.finish(), nil
}

// run is the state of one Execute call.
type run struct {
	executor *Executor
	id       string
	logger   *zap.Logger
	output   *op.Repository
	outputs  map[string]*op.Repository
	result   Result
	started  time.Time
}

func (r *run) setOutput(name core.RepositoryName) {
	repo, ok := r.outputs[name.String()]
	if !ok {
		repo = r.executor.Repository(name)
		r.outputs[name.String()] = repo
	}
	r.output = repo
}

// finish records the HEAD of every output touched by the run.
func (r *run) finish() Result {
	for name, repo := range r.outputs {
		if head, err := repo.Head(context.Background()); err == nil {
			r.result.Outputs[name] = head.Hash
		}
	}
	r.result.ExecutionTimeSec = time.Since(r.started).Seconds()
	return r.result
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
