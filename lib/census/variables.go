package census

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type VariableMeta struct {
	Label   string `json:"label"`
	Concept string `json:"concept"`
}

type variablesPayload struct {
	Variables map[string]VariableMeta `json:"variables"`
}

// Variables fetches label and concept metadata for the given codes.
// Each table family publishes its own variables.json, one request is
// issued per family present in the list. Codes the API doesn't know
// are simply absent from the result.
func (c *Client) Variables(
	ctx context.Context,
	vintage int,
	dataset string,
	variables []string,
) (map[string]VariableMeta, error) {
	ctx, span := tracer.Start(ctx, "Variables")
	defer span.End()
	span.SetAttributes(
		attribute.Int("vintage", vintage),
		attribute.Int("variable_count", len(variables)),
	)

	wanted := map[string]bool{}
	for _, v := range variables {
		wanted[v] = true
	}

	out := map[string]VariableMeta{}
	families := groupByFamily(dataset, variables)
	for _, familyPath := range sortedKeys(families) {
		err := c.limiter.Wait(ctx)
		if err != nil {
			return nil, err
		}

		res, err := c.http.R().
			SetContext(ctx).
			Get(fmt.Sprintf("/%d/%s/variables.json", vintage, familyPath))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch variable metadata")
			return nil, fmt.Errorf("fetch %s/variables.json: %w", familyPath, err)
		}
		if res.StatusCode() != http.StatusOK {
			err = &StatusError{
				StatusCode: res.StatusCode(),
				Body:       errorBody(res.String()),
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch variable metadata")
			return nil, err
		}

		var payload variablesPayload
		err = json.Unmarshal(res.Body(), &payload)
		if err != nil {
			return nil, fmt.Errorf("malformed variables payload: %w", err)
		}
		for code, meta := range payload.Variables {
			if wanted[code] {
				out[code] = meta
			}
		}
	}
	return out, nil
}
