package pipeline

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/census"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/socrata"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/tabular"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/telemetry"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name  string
	table *tabular.Table
	err   error
	calls int
}

func (s *fakeSource) Name() string {
	return s.name
}

func (s *fakeSource) Fetch(ctx context.Context) (*tabular.Table, error) {
	s.calls++
	return s.table, s.err
}

type fakePublisher struct {
	datasets []string
	uploads  [][]byte
	err      error
}

func (p *fakePublisher) Update(ctx context.Context, datasetId string, csv []byte) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.datasets = append(p.datasets, datasetId)
	p.uploads = append(p.uploads, csv)
	return "https://data.example.org/d/" + datasetId + "/revisions/1", nil
}

type fakeArchiver struct {
	sources []string
	csvs    [][]byte
}

func (a *fakeArchiver) Put(ctx context.Context, source string, runTime time.Time, csv []byte) (string, error) {
	a.sources = append(a.sources, source)
	a.csvs = append(a.csvs, csv)
	return source + "/" + runTime.UTC().Format(time.RFC3339) + ".csv", nil
}

func testRunner(t *testing.T, sources ...Source) (*Runner, *fakePublisher) {
	cleanup := telemetry.SetupForTesting(t, "test:pipeline")
	t.Cleanup(cleanup)

	publisher := &fakePublisher{}
	return &Runner{
		Sources:   sources,
		Publisher: publisher,
		DatasetId: "enbi-fu9w",
	}, publisher
}

func TestRunPublishes(t *testing.T) {
	source := &fakeSource{name: "acs5", table: makeValidTable(t)}
	runner, publisher := testRunner(t, source)
	archive := &fakeArchiver{}
	runner.Archive = archive

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"acs5"}, result.Sources)
	require.Equal(t, 2, result.Rows)
	require.Equal(t,
		[]string{"https://data.example.org/d/enbi-fu9w/revisions/1"},
		result.RevisionUrls,
	)

	require.Equal(t, []string{"enbi-fu9w"}, publisher.datasets)
	require.Len(t, publisher.uploads, 1)
	csv := string(publisher.uploads[0])
	require.True(t, strings.HasPrefix(csv, strings.Join(Columns(), ",")+"\n"))
	require.Contains(t, csv, "ACS5|S1810_C02_001E|S1810_C01_001E|2018|1400000US12011050800")

	{
		// the archived artifact is byte for byte the published one
		require.Equal(t, []string{"acs5"}, archive.sources)
		require.Len(t, archive.csvs, 1)
		require.Equal(t, publisher.uploads[0], archive.csvs[0])
	}
}

func TestRunInvalidTableNeverPublishes(t *testing.T) {
	table := makeValidTable(t)
	table.Rows[0][table.ColumnIndex(ColumnValue)] = nil
	source := &fakeSource{name: "acs5", table: table}
	runner, publisher := testRunner(t, source)

	_, err := runner.Run(context.Background())
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, "acs5", runErr.Source)
	require.Equal(t, StageValidate, runErr.Stage)
	require.Equal(t, ErrorKindSchema, Classify(err))
	require.Empty(t, publisher.uploads)
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	failing := &fakeSource{name: "first", err: errors.New("upstream down")}
	untouched := &fakeSource{name: "second", table: makeValidTable(t)}
	runner, publisher := testRunner(t, failing, untouched)

	_, err := runner.Run(context.Background())
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, "first", runErr.Source)
	require.Equal(t, StageFetch, runErr.Stage)
	require.Equal(t, 0, untouched.calls)
	require.Empty(t, publisher.uploads)
}

func TestRunPublishFailure(t *testing.T) {
	source := &fakeSource{name: "acs5", table: makeValidTable(t)}
	runner, publisher := testRunner(t, source)
	publisher.err = &socrata.StatusError{StatusCode: 401, Body: "Unauthorized"}

	_, err := runner.Run(context.Background())
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, StagePublish, runErr.Stage)
	require.Equal(t, ErrorKindAuth, Classify(err))
}

func TestClassify(t *testing.T) {
	wrap := func(err error) error {
		return &RunError{Source: "acs5", Stage: StageFetch, Err: err}
	}

	require.Equal(t, ErrorKindRateLimit, Classify(wrap(&census.StatusError{StatusCode: 429})))
	require.Equal(t, ErrorKindAuth, Classify(wrap(&census.StatusError{StatusCode: 403})))
	require.Equal(t, ErrorKindNetwork, Classify(wrap(&census.StatusError{StatusCode: 502})))
	require.Equal(t, ErrorKindAuth, Classify(wrap(&socrata.StatusError{StatusCode: 401})))
	require.Equal(t, ErrorKindSchema, Classify(wrap(&tabular.SchemaError{})))
	require.Equal(t, ErrorKindNetwork, Classify(wrap(&url.Error{
		Op:  "Get",
		URL: "https://api.census.gov/data",
		Err: errors.New("connection refused"),
	})))
	require.Equal(t, ErrorKindOther, Classify(wrap(errors.New("boom"))))
}
