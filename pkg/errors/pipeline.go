package errors

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// Stage names used to tag failures.
const (
	StagePrepare  = "prepare"
	StageTrain    = "train"
	StageEvaluate = "evaluate"
	StageExplain  = "explain"
)

// StageError tags a failure with the pipeline stage it happened in.
// The command line reports it as "stage <name>: <cause>".
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *StageError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("stage", e.Stage).
		Str("cause", fmt.Sprint(e.Err)).
		Str("type", "StageError")
}

// NewStageError wraps err with its stage. A nil err yields nil, and an err
// that already carries a stage is returned unchanged.
func NewStageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	var existing *StageError
	if errors.As(err, &existing) {
		return err
	}
	return errors.WithStack(&StageError{Stage: stage, Err: err})
}

// StageOf returns the stage recorded in err's chain, or "" if none.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// SchemaError reports raw input that does not have the expected shape:
// a missing file, a record with the wrong column count, or a cell that
// does not parse as a number.
type SchemaError struct {
	Path   string
	Line   int // 1-based; 0 when the whole file is affected
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("bcpipeline: schema: ")
	b.WriteString(e.Path)
	if e.Line > 0 {
		fmt.Fprintf(&b, ":%d", e.Line)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, " column %q", e.Column)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *SchemaError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("path", e.Path).
		Int("line", e.Line).
		Str("column", e.Column).
		Str("reason", e.Reason).
		Str("type", "SchemaError")
}

// NewSchemaError creates a SchemaError with a stack trace.
func NewSchemaError(path string, line int, column, reason string) error {
	return errors.WithStack(&SchemaError{Path: path, Line: line, Column: column, Reason: reason})
}

// LabelError reports a class label outside the known label mapping.
type LabelError struct {
	Line    int
	Value   string
	Allowed []string
}

func (e *LabelError) Error() string {
	return fmt.Sprintf("bcpipeline: label: line %d: unknown class value %q (allowed: %s)",
		e.Line, e.Value, strings.Join(e.Allowed, ", "))
}

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *LabelError) MarshalZerologObject(event *zerolog.Event) {
	event.Int("line", e.Line).
		Str("value", e.Value).
		Strs("allowed", e.Allowed).
		Str("type", "LabelError")
}

// NewLabelError creates a LabelError with a stack trace.
func NewLabelError(line int, value string, allowed []string) error {
	return errors.WithStack(&LabelError{Line: line, Value: value, Allowed: allowed})
}

// MissingArtifactError reports a model whose persisted artifact is absent.
type MissingArtifactError struct {
	Model string
	Path  string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("bcpipeline: artifact for model %q not found at %s", e.Model, e.Path)
}

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *MissingArtifactError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.Model).
		Str("path", e.Path).
		Str("type", "MissingArtifactError")
}

// NewMissingArtifactError creates a MissingArtifactError with a stack trace.
func NewMissingArtifactError(model, path string) error {
	return errors.WithStack(&MissingArtifactError{Model: model, Path: path})
}

// StaleArtifactError reports an artifact that the latest training run did
// not produce, such as one left behind by a model that failed on rerun.
type StaleArtifactError struct {
	Model         string
	Path          string
	RunID         string
	ManifestRunID string
}

func (e *StaleArtifactError) Error() string {
	return fmt.Sprintf("bcpipeline: artifact for model %q at %s is from run %q, latest training run is %q",
		e.Model, e.Path, e.RunID, e.ManifestRunID)
}

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *StaleArtifactError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.Model).
		Str("path", e.Path).
		Str("run_id", e.RunID).
		Str("manifest_run_id", e.ManifestRunID).
		Str("type", "StaleArtifactError")
}

// NewStaleArtifactError creates a StaleArtifactError with a stack trace.
func NewStaleArtifactError(model, path, runID, manifestRunID string) error {
	return errors.WithStack(&StaleArtifactError{Model: model, Path: path, RunID: runID, ManifestRunID: manifestRunID})
}

// UnsupportedModelError reports a model that cannot serve an operation,
// such as TreeSHAP over a non-tree model.
type UnsupportedModelError struct {
	Model  string
	Reason string
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("bcpipeline: model %q is not supported: %s", e.Model, e.Reason)
}

// NewUnsupportedModelError creates an UnsupportedModelError with a stack trace.
func NewUnsupportedModelError(model, reason string) error {
	return errors.WithStack(&UnsupportedModelError{Model: model, Reason: reason})
}
