package census

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// the API caps a request at 50 variables, NAME and GEO_ID ride along
// on every one
const maxVariablesPerRequest = 48

// annotation sentinels the API substitutes for suppressed or
// unavailable estimates, they become nulls rather than values
var annotationValues = map[string]bool{
	"-111111111": true,
	"-222222222": true,
	"-333333333": true,
	"-444444444": true,
	"-555555555": true,
	"-666666666": true,
	"-777777777": true,
	"-888888888": true,
	"-999999999": true,
	"N":          true,
	"(X)":        true,
	"*":          true,
	"**":         true,
	"***":        true,
	"*****":      true,
	"-":          true,
	"null":       true,
}

type EstimatesRequest struct {
	// dataset vintage year, e.g. 2018
	Vintage int
	// e.g. "acs/acs5"
	Dataset string
	// variable codes, routed and batched automatically
	Variables []string
	// geography predicate, e.g. "county:*"
	ForGeo string
	// containing geographies, e.g. ["state:*"]
	InGeo []string
}

// Row is every requested estimate for one geography. A nil value means
// the API annotated the estimate away.
type Row struct {
	GeoId   string
	GeoName string
	Values  map[string]*float64
}

// tableFamilyPath routes a variable to the API path serving its table
// family. Subject (S...), data profile (DP...) and comparison profile
// (CP...) tables live under suffixed paths, detail tables (B.../C...)
// under the dataset root.
func tableFamilyPath(dataset, variable string) string {
	switch {
	case strings.HasPrefix(variable, "DP"):
		return dataset + "/profile"
	case strings.HasPrefix(variable, "CP"):
		return dataset + "/cprofile"
	case strings.HasPrefix(variable, "S"):
		return dataset + "/subject"
	default:
		return dataset
	}
}

func groupByFamily(dataset string, variables []string) map[string][]string {
	families := map[string][]string{}
	for _, v := range variables {
		path := tableFamilyPath(dataset, v)
		families[path] = append(families[path], v)
	}
	return families
}

func chunkVariables(variables []string, size int) [][]string {
	var chunks [][]string
	for len(variables) > size {
		chunks = append(chunks, variables[:size])
		variables = variables[size:]
	}
	if len(variables) > 0 {
		chunks = append(chunks, variables)
	}
	return chunks
}

func parseValue(s *string) *float64 {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" || annotationValues[trimmed] {
		return nil
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return nil
	}
	return &f
}

// Estimates fetches the requested variables for every matching
// geography, splitting the variable list by table family and batching
// within each family. Results from all requests are merged per
// geography and returned sorted by GEO_ID.
func (c *Client) Estimates(ctx context.Context, req EstimatesRequest) ([]Row, error) {
	ctx, span := tracer.Start(ctx, "Estimates")
	defer span.End()
	span.SetAttributes(
		attribute.Int("vintage", req.Vintage),
		attribute.String("dataset", req.Dataset),
		attribute.Int("variable_count", len(req.Variables)),
	)

	if len(req.Variables) == 0 {
		return nil, fmt.Errorf("estimates: no variables requested")
	}

	merged := map[string]*Row{}
	families := groupByFamily(req.Dataset, req.Variables)
	for _, familyPath := range sortedKeys(families) {
		for _, chunk := range chunkVariables(families[familyPath], maxVariablesPerRequest) {
			err := c.fetchEstimates(ctx, req, familyPath, chunk, merged)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to fetch estimates")
				return nil, err
			}
		}
	}

	rows := make([]Row, 0, len(merged))
	for _, row := range merged {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].GeoId < rows[j].GeoId
	})
	return rows, nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Client) fetchEstimates(
	ctx context.Context,
	req EstimatesRequest,
	familyPath string,
	variables []string,
	merged map[string]*Row,
) error {
	err := c.limiter.Wait(ctx)
	if err != nil {
		return err
	}

	query := url.Values{
		"get": {"NAME,GEO_ID," + strings.Join(variables, ",")},
		"for": {req.ForGeo},
	}
	for _, in := range req.InGeo {
		query.Add("in", in)
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		Get(fmt.Sprintf("/%d/%s", req.Vintage, familyPath))
	if err != nil {
		return fmt.Errorf("fetch %s: %w", familyPath, err)
	}
	if res.StatusCode() != http.StatusOK {
		return &StatusError{
			StatusCode: res.StatusCode(),
			Body:       errorBody(res.String()),
		}
	}

	return mergeEstimatesPayload(res.Body(), variables, merged)
}

// the payload is an array of arrays, first row is the header. all
// cells arrive as JSON strings or nulls but numbers have shown up in
// the wild, so cells decode as `any` and coerce afterwards.
func mergeEstimatesPayload(payload []byte, variables []string, merged map[string]*Row) error {
	var raw [][]any
	err := json.Unmarshal(payload, &raw)
	if err != nil {
		return fmt.Errorf("malformed estimates payload: %w", err)
	}
	if len(raw) < 2 {
		return fmt.Errorf("malformed estimates payload: missing header or data rows")
	}

	header := map[string]int{}
	for i, cell := range raw[0] {
		name, ok := cell.(string)
		if !ok {
			return fmt.Errorf("malformed estimates payload: non-string header cell %v", cell)
		}
		header[name] = i
	}
	nameIdx, ok := header["NAME"]
	if !ok {
		return fmt.Errorf("malformed estimates payload: missing NAME column")
	}
	geoIdIdx, ok := header["GEO_ID"]
	if !ok {
		return fmt.Errorf("malformed estimates payload: missing GEO_ID column")
	}
	for _, v := range variables {
		if _, ok := header[v]; !ok {
			return fmt.Errorf("malformed estimates payload: missing requested variable %s", v)
		}
	}

	for rowIdx, rawRow := range raw[1:] {
		if len(rawRow) != len(raw[0]) {
			return fmt.Errorf(
				"malformed estimates payload: row %d has %d cells, header has %d",
				rowIdx, len(rawRow), len(raw[0]),
			)
		}

		geoId := cellString(rawRow[geoIdIdx])
		geoName := cellString(rawRow[nameIdx])
		if geoId == nil || *geoId == "" {
			return fmt.Errorf("malformed estimates payload: row %d has no GEO_ID", rowIdx)
		}

		row := merged[*geoId]
		if row == nil {
			row = &Row{
				GeoId:  *geoId,
				Values: map[string]*float64{},
			}
			merged[*geoId] = row
		}
		if geoName != nil && row.GeoName == "" {
			row.GeoName = *geoName
		}
		for _, v := range variables {
			row.Values[v] = parseValue(cellString(rawRow[header[v]]))
		}
	}
	return nil
}

func cellString(cell any) *string {
	switch c := cell.(type) {
	case nil:
		return nil
	case string:
		return &c
	case float64:
		s := strconv.FormatFloat(c, 'f', -1, 64)
		return &s
	default:
		s := fmt.Sprint(c)
		return &s
	}
}
