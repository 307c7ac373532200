// Package pipeline orchestrates one collection run: fetch each
// configured source, derive row identifiers, validate against the
// canonical schema, then publish to the hosted dataset.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/tabular"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("pipeline")

// Source produces one named record set in the canonical layout.
// Implementations own their upstream protocol, the runner only ever
// sees the finished table.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (*tabular.Table, error)
}

// Publisher pushes a validated CSV to the hosted dataset and returns
// a URL for the published revision.
type Publisher interface {
	Update(ctx context.Context, datasetId string, csv []byte) (string, error)
}

// Archiver keeps a copy of each published CSV, lib/archive implements
// it over an S3 bucket.
type Archiver interface {
	Put(ctx context.Context, source string, runTime time.Time, csv []byte) (string, error)
}

// Stages a run can fail in, reported on RunError.
const (
	StageFetch    = "fetch"
	StageValidate = "validate"
	StageArchive  = "archive"
	StagePublish  = "publish"
)

// RunError pins a run failure to the source and stage it happened in.
type RunError struct {
	Source string
	Stage  string
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Source, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

type Runner struct {
	Sources   []Source
	Publisher Publisher
	DatasetId string
	// nil disables archiving
	Archive Archiver
}

type RunResult struct {
	Sources      []string
	Rows         int
	RevisionUrls []string
	Took         time.Duration
}

// Run executes every source in order, stopping at the first failure.
// A source publishes only after its whole table validated, so the
// hosted dataset only ever receives complete record sets. The
// returned error is always a *RunError.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	start := time.Now()
	result := &RunResult{}
	for _, source := range r.Sources {
		url, rows, err := r.runSource(ctx, source)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "pipeline run failed")
			return nil, err
		}
		result.Sources = append(result.Sources, source.Name())
		result.Rows += rows
		result.RevisionUrls = append(result.RevisionUrls, url)
	}
	result.Took = time.Since(start)

	slog.InfoContext(
		ctx, "pipeline run finished",
		"sources", len(result.Sources),
		"rows", result.Rows,
		"took", result.Took,
	)
	return result, nil
}

func (r *Runner) runSource(ctx context.Context, source Source) (string, int, error) {
	ctx, span := tracer.Start(ctx, "RunSource")
	defer span.End()

	name := source.Name()
	span.SetAttributes(attribute.String("source", name))

	fail := func(stage string, err error) (string, int, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed during "+stage)
		return "", 0, &RunError{Source: name, Stage: stage, Err: err}
	}

	table, err := source.Fetch(ctx)
	if err != nil {
		return fail(StageFetch, err)
	}
	slog.InfoContext(ctx, "fetched source", "source", name, "rows", len(table.Rows))

	err = AssignRowIDs(table)
	if err != nil {
		return fail(StageValidate, err)
	}
	err = Schema().Validate(table)
	if err != nil {
		return fail(StageValidate, err)
	}
	slog.InfoContext(ctx, "table passed validation", "source", name)

	csv, err := table.CSV()
	if err != nil {
		return fail(StagePublish, err)
	}

	if r.Archive != nil {
		_, err = r.Archive.Put(ctx, name, time.Now(), csv)
		if err != nil {
			return fail(StageArchive, err)
		}
	}

	url, err := r.Publisher.Update(ctx, r.DatasetId, csv)
	if err != nil {
		return fail(StagePublish, err)
	}
	slog.InfoContext(ctx, "published revision", "source", name, "url", url)

	return url, len(table.Rows), nil
}
