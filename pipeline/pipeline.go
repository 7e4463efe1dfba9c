// Package pipeline runs the four batch stages of the breast-cancer
// classifier: Prepare, Train, Evaluate and Explain.
//
// Stages communicate only through files named in the configuration, so any
// stage can run on its own once its inputs exist:
//
//	raw CSV --Prepare--> cleaned CSV --Train--> model bundles + manifest
//	cleaned CSV + bundles --Evaluate--> results CSV + confusion matrices
//	cleaned CSV + one tree bundle --Explain--> SHAP charts + ranking CSV
//
// Every stage failure is returned as an *errors.StageError.
package pipeline

import (
	"context"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/config"
	"github.com/YuminosukeSato/bcpipeline/dataset"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
	"github.com/YuminosukeSato/bcpipeline/pkg/log"
	"github.com/YuminosukeSato/bcpipeline/pkg/telemetry"
	"github.com/YuminosukeSato/bcpipeline/sklearn/model_selection"
)

// Stages lists the stage names in execution order.
var Stages = []string{
	errors.StagePrepare,
	errors.StageTrain,
	errors.StageEvaluate,
	errors.StageExplain,
}

// Pipeline holds everything a run needs. It is not safe for concurrent use.
type Pipeline struct {
	cfg      *config.Config
	schema   dataset.Schema
	logger   log.Logger
	recorder *telemetry.Recorder
	out      io.Writer
	runID    string
	now      func() time.Time
	roster   []Entry
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default is log.GetLogger().
func WithLogger(l log.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithRecorder sets the metrics recorder. A nil recorder disables metrics.
func WithRecorder(r *telemetry.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithOutput sets where the evaluation report table is printed. The
// default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(p *Pipeline) { p.out = w }
}

// WithSchema overrides the raw file layout.
func WithSchema(s dataset.Schema) Option {
	return func(p *Pipeline) { p.schema = s }
}

// WithRoster replaces the model roster. Configured model names are looked
// up in it.
func WithRoster(entries []Entry) Option {
	return func(p *Pipeline) { p.roster = entries }
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.runID = id }
}

// New validates cfg and creates a Pipeline.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("config", "must not be nil", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:      cfg,
		schema:   dataset.BreastCancerSchema(),
		recorder: telemetry.NewRecorder(),
		out:      os.Stdout,
		now:      time.Now,
		roster:   Roster(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.GetLogger()
	}
	if p.runID == "" {
		p.runID = uuid.NewString()
	}
	p.logger = p.logger.With(log.RunIDKey, p.runID)
	return p, nil
}

// RunID returns the identifier attached to every log record of this run.
func (p *Pipeline) RunID() string { return p.runID }

// Recorder returns the metrics recorder, which may be nil.
func (p *Pipeline) Recorder() *telemetry.Recorder { return p.recorder }

// Run executes every stage in order and stops at the first failure. The
// metrics file is written whether or not the run succeeds.
func (p *Pipeline) Run(ctx context.Context) error {
	start := p.now()
	p.logger.Info("pipeline started", log.RandomSeedKey, p.cfg.Training.Seed)

	err := p.runAll(ctx)
	if err == nil {
		p.recorder.MarkSuccess(p.now())
		p.logger.Info("pipeline finished", log.DurationMsKey, p.now().Sub(start).Milliseconds())
	}
	p.flushMetrics()
	return err
}

func (p *Pipeline) runAll(ctx context.Context) error {
	if _, err := p.Prepare(ctx); err != nil {
		return err
	}
	if _, err := p.Train(ctx); err != nil {
		return err
	}
	if _, err := p.Evaluate(ctx); err != nil {
		return err
	}
	_, err := p.Explain(ctx)
	return err
}

// RunStage executes a single stage by name and writes the metrics file.
func (p *Pipeline) RunStage(ctx context.Context, stage string) error {
	var err error
	switch stage {
	case errors.StagePrepare:
		_, err = p.Prepare(ctx)
	case errors.StageTrain:
		_, err = p.Train(ctx)
	case errors.StageEvaluate:
		_, err = p.Evaluate(ctx)
	case errors.StageExplain:
		_, err = p.Explain(ctx)
	default:
		return errors.NewValidationError("stage", "must be one of prepare, train, evaluate, explain", stage)
	}
	p.flushMetrics()
	return err
}

func (p *Pipeline) flushMetrics() {
	path := p.cfg.Paths.MetricsFile
	if err := p.recorder.WriteTextfile(path); err != nil {
		p.logger.Warn("failed to write metrics file", err, log.PathKey, path)
	}
}

// stage runs fn with a stage-scoped logger, records its duration and tags
// any failure with the stage name.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(logger log.Logger) error) error {
	if err := ctx.Err(); err != nil {
		return errors.NewStageError(name, err)
	}
	logger := p.logger.With(log.StageKey, name)
	start := p.now()
	logger.Info("stage started")

	err := errors.NewStageError(name, fn(logger))

	elapsed := p.now().Sub(start)
	p.recorder.ObserveStage(name, elapsed)
	if err != nil {
		logger.Error("stage failed", err, log.DurationMsKey, elapsed.Milliseconds())
		return err
	}
	logger.Info("stage finished", log.DurationMsKey, elapsed.Milliseconds())
	return nil
}

// loadCleaned reads the cleaned table written by Prepare.
func (p *Pipeline) loadCleaned(logger log.Logger) (*dataset.Table, error) {
	path := p.cfg.Paths.Cleaned
	t, err := dataset.ReadCSV(path)
	if err != nil {
		return nil, errors.Wrap(err, "read cleaned data (run the prepare stage first)")
	}
	if t.ColumnIndex(p.schema.LabelColumn) < 0 {
		return nil, errors.NewSchemaError(path, 1, p.schema.LabelColumn, "label column missing")
	}
	logger.Debug("cleaned data loaded",
		log.PathKey, path,
		log.SamplesKey, t.NumRows(),
		log.FeaturesKey, len(t.Columns)-1,
	)
	return t, nil
}

// split recomputes the stratified train/test partition of t. Every stage
// derives the same partition from the same table, seed and test size.
func (p *Pipeline) split(t *dataset.Table) (train, test []int, err error) {
	y, err := t.Column(p.schema.LabelColumn)
	if err != nil {
		return nil, nil, err
	}
	return model_selection.TrainTestSplit(mat.NewVecDense(len(y), y), p.cfg.Training.TestSize, p.cfg.Training.Seed)
}

// scopeRows returns the rows of t that Evaluate and Explain work on.
func (p *Pipeline) scopeRows(t *dataset.Table, logger log.Logger) (*dataset.Table, error) {
	if p.cfg.Evaluation.Scope == config.ScopeFull {
		logger.Warn("scoring on every cleaned row including training rows; metrics are optimistic",
			log.SamplesKey, t.NumRows())
		return t, nil
	}
	_, test, err := p.split(t)
	if err != nil {
		return nil, errors.Wrap(err, "recompute held-out partition")
	}
	return t.Subset(test), nil
}

func (p *Pipeline) lookup(name string) (Entry, bool) {
	for _, e := range p.roster {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// workers resolves the configured parallelism; 0 means every CPU.
func (p *Pipeline) workers() int {
	if p.cfg.Training.NJobs > 0 {
		return p.cfg.Training.NJobs
	}
	return runtime.NumCPU()
}
