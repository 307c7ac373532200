// Package socrata publishes record sets to a hosted Socrata dataset
// through the Data Management API: open an update revision, upload the
// CSV as a source, wait for processing, then apply the revision. With
// a row identifier configured on the dataset the update is an upsert.
package socrata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/restyutil"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/socrata")
var restyInstrumentOutput restyutil.InstrumentOutput

func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}

type ClientOptions struct {
	// e.g. "nhit-odp.data.socrata.com"
	Domain    string
	KeyId     string
	KeySecret string

	// override for tests, defaults to https://{Domain}
	BaseUrl string
	// zero means 5 minutes per processing wait
	PollTimeout time.Duration
	// zero means 2 seconds
	PollInterval time.Duration
}

type Client struct {
	http *resty.Client
	opts ClientOptions
}

func NewClient(opts ClientOptions) *Client {
	if opts.BaseUrl == "" {
		opts.BaseUrl = fmt.Sprintf("https://%s", opts.Domain)
	}
	if opts.PollTimeout == 0 {
		opts.PollTimeout = 5 * time.Minute
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 2 * time.Second
	}

	client := resty.New().
		SetBaseURL(opts.BaseUrl).
		SetBasicAuth(opts.KeyId, opts.KeySecret).
		SetHeader("user-agent", "citizen-connect-acs/1.0")
	if restyInstrumentOutput != nil {
		restyutil.InstrumentClient(client, tracer, restyInstrumentOutput)
	} else {
		telemetry.InstrumentResty(client, "lib/socrata")
	}

	return &Client{
		http: client,
		opts: opts,
	}
}

// StatusError is a non-2xx response from the Socrata API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("socrata api returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) IsAuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized ||
		e.StatusCode == http.StatusForbidden
}

const maxErrorBody = 300

func statusError(res *resty.Response) *StatusError {
	body := res.String()
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return &StatusError{
		StatusCode: res.StatusCode(),
		Body:       body,
	}
}

type viewResponse struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

type revisionResponse struct {
	Resource struct {
		RevisionSeq int `json:"revision_seq"`
	} `json:"resource"`
}

type outputSchemaResource struct {
	Id          int     `json:"id"`
	ErrorCount  int     `json:"error_count"`
	CompletedAt *string `json:"completed_at"`
}

type outputSchemaResponse struct {
	Resource outputSchemaResource `json:"resource"`
}

type inputSchema struct {
	Id            int                    `json:"id"`
	OutputSchemas []outputSchemaResource `json:"output_schemas"`
}

type sourceResponse struct {
	Resource struct {
		Id         int           `json:"id"`
		FinishedAt *string       `json:"finished_at"`
		FailedAt   *string       `json:"failed_at"`
		Schemas    []inputSchema `json:"schemas"`
	} `json:"resource"`
}

// Update pushes the CSV into `datasetId` as an update revision and
// returns the revision's UI URL once the revision is applied.
func (c *Client) Update(ctx context.Context, datasetId string, csv []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "Update")
	defer span.End()
	span.SetAttributes(
		attribute.String("dataset_id", datasetId),
		attribute.Int("csv_bytes", len(csv)),
	)

	url, err := c.update(ctx, datasetId, csv)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update dataset")
		return "", err
	}
	return url, nil
}

func (c *Client) update(ctx context.Context, datasetId string, csv []byte) (string, error) {
	view, err := c.lookupView(ctx, datasetId)
	if err != nil {
		return "", err
	}
	slog.InfoContext(
		ctx, "updating socrata dataset",
		"name", view.Name,
		"dataset_id", datasetId,
	)

	seq, err := c.createUpdateRevision(ctx, datasetId)
	if err != nil {
		return "", err
	}

	sourceId, err := c.createUploadSource(ctx, datasetId, seq)
	if err != nil {
		return "", err
	}

	err = c.uploadCSV(ctx, sourceId, csv)
	if err != nil {
		return "", err
	}

	source, err := c.pollSource(ctx, sourceId)
	if err != nil {
		return "", err
	}

	inputSchemaId, err := latestInputSchema(source)
	if err != nil {
		return "", err
	}
	outputSchemaId, err := c.pollOutputSchema(ctx, sourceId, inputSchemaId)
	if err != nil {
		return "", err
	}

	err = c.applyRevision(ctx, datasetId, seq, outputSchemaId)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/d/%s/revisions/%d", c.opts.BaseUrl, datasetId, seq)
	slog.InfoContext(ctx, "applied socrata revision", "url", url)
	return url, nil
}

func (c *Client) lookupView(ctx context.Context, datasetId string) (viewResponse, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/api/views/%s", datasetId))
	if err != nil {
		return viewResponse{}, fmt.Errorf("lookup view: %w", err)
	}
	if !res.IsSuccess() {
		return viewResponse{}, fmt.Errorf("lookup view: %w", statusError(res))
	}

	var view viewResponse
	err = json.Unmarshal(res.Body(), &view)
	if err != nil {
		return viewResponse{}, fmt.Errorf("lookup view: %w", err)
	}
	return view, nil
}

func (c *Client) createUpdateRevision(ctx context.Context, datasetId string) (int, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetBody(`{"action": {"type": "update"}}`).
		Post(fmt.Sprintf("/api/publishing/v1/revision/%s", datasetId))
	if err != nil {
		return 0, fmt.Errorf("create revision: %w", err)
	}
	if !res.IsSuccess() {
		return 0, fmt.Errorf("create revision: %w", statusError(res))
	}

	var revision revisionResponse
	err = json.Unmarshal(res.Body(), &revision)
	if err != nil {
		return 0, fmt.Errorf("create revision: %w", err)
	}
	return revision.Resource.RevisionSeq, nil
}

func (c *Client) createUploadSource(ctx context.Context, datasetId string, seq int) (int, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetBody(`{
			"source_type": {"type": "upload", "filename": "rows.csv"},
			"parse_options": {"parse_source": true}
		}`).
		Post(fmt.Sprintf("/api/publishing/v1/revision/%s/%d/source", datasetId, seq))
	if err != nil {
		return 0, fmt.Errorf("create upload source: %w", err)
	}
	if !res.IsSuccess() {
		return 0, fmt.Errorf("create upload source: %w", statusError(res))
	}

	var source sourceResponse
	err = json.Unmarshal(res.Body(), &source)
	if err != nil {
		return 0, fmt.Errorf("create upload source: %w", err)
	}
	return source.Resource.Id, nil
}

func (c *Client) uploadCSV(ctx context.Context, sourceId int, csv []byte) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "text/csv").
		SetBody(csv).
		Post(fmt.Sprintf("/api/publishing/v1/source/%d", sourceId))
	if err != nil {
		return fmt.Errorf("upload csv: %w", err)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("upload csv: %w", statusError(res))
	}
	return nil
}

func (c *Client) pollSource(ctx context.Context, sourceId int) (sourceResponse, error) {
	deadline := time.Now().Add(c.opts.PollTimeout)
	for {
		res, err := c.http.R().
			SetContext(ctx).
			Get(fmt.Sprintf("/api/publishing/v1/source/%d", sourceId))
		if err != nil {
			return sourceResponse{}, fmt.Errorf("poll source: %w", err)
		}
		if !res.IsSuccess() {
			return sourceResponse{}, fmt.Errorf("poll source: %w", statusError(res))
		}

		var source sourceResponse
		err = json.Unmarshal(res.Body(), &source)
		if err != nil {
			return sourceResponse{}, fmt.Errorf("poll source: %w", err)
		}
		if source.Resource.FailedAt != nil {
			return sourceResponse{}, fmt.Errorf(
				"source %d failed processing at %s",
				sourceId, *source.Resource.FailedAt,
			)
		}
		if source.Resource.FinishedAt != nil {
			return source, nil
		}

		err = c.waitPoll(ctx, deadline, fmt.Sprintf("source %d", sourceId))
		if err != nil {
			return sourceResponse{}, err
		}
	}
}

func latestInputSchema(source sourceResponse) (int, error) {
	if len(source.Resource.Schemas) == 0 {
		return 0, fmt.Errorf("source %d has no input schemas", source.Resource.Id)
	}
	latest := source.Resource.Schemas[0].Id
	for _, schema := range source.Resource.Schemas[1:] {
		if schema.Id > latest {
			latest = schema.Id
		}
	}
	return latest, nil
}

func (c *Client) pollOutputSchema(ctx context.Context, sourceId, inputSchemaId int) (int, error) {
	deadline := time.Now().Add(c.opts.PollTimeout)
	for {
		res, err := c.http.R().
			SetContext(ctx).
			Get(fmt.Sprintf(
				"/api/publishing/v1/source/%d/schema/%d/output/latest",
				sourceId, inputSchemaId,
			))
		if err != nil {
			return 0, fmt.Errorf("poll output schema: %w", err)
		}
		if !res.IsSuccess() {
			return 0, fmt.Errorf("poll output schema: %w", statusError(res))
		}

		var schema outputSchemaResponse
		err = json.Unmarshal(res.Body(), &schema)
		if err != nil {
			return 0, fmt.Errorf("poll output schema: %w", err)
		}
		if schema.Resource.CompletedAt != nil {
			if schema.Resource.ErrorCount > 0 {
				return 0, fmt.Errorf(
					"output schema %d has %d row errors",
					schema.Resource.Id, schema.Resource.ErrorCount,
				)
			}
			return schema.Resource.Id, nil
		}

		err = c.waitPoll(ctx, deadline, fmt.Sprintf("output schema of source %d", sourceId))
		if err != nil {
			return 0, err
		}
	}
}

func (c *Client) applyRevision(ctx context.Context, datasetId string, seq, outputSchemaId int) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetBody(fmt.Sprintf(`{"output_schema_id": %d}`, outputSchemaId)).
		Put(fmt.Sprintf("/api/publishing/v1/revision/%s/%d/apply", datasetId, seq))
	if err != nil {
		return fmt.Errorf("apply revision: %w", err)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("apply revision: %w", statusError(res))
	}
	return nil
}

func (c *Client) waitPoll(ctx context.Context, deadline time.Time, waitingOn string) error {
	if time.Now().After(deadline) {
		return fmt.Errorf("timed out waiting for %s", waitingOn)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.opts.PollInterval):
		return nil
	}
}
