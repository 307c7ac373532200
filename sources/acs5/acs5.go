// Package acs5 implements the American Community Survey 5-year
// estimates source: it fetches estimates for the curated variable
// list, joins curated labels, denominators and geography centroids,
// and emits the canonical record table.
package acs5

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/census"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/gazetteer"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/tabular"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/textutil"
	"github.com/NHIT-open/Citizen-Connect-ACS/pipeline"
	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("sources/acs5")

// SourceName is the value of the source column on every record.
const SourceName = "ACS5"

// labelDriftThreshold flags curated labels that no longer resemble
// what the API publishes under the same code.
const labelDriftThreshold = 0.6

type Config struct {
	// 1, 3 or 5 year estimates
	Estimate int   `json:"estimate"`
	Years    []int `json:"years"`
	// empty means the full production list
	Variables []string `json:"variables"`
	ForGeo    string   `json:"for_geo"`
	InGeo     []string `json:"in_geo"`
	// numerator variable -> denominator variable
	Denominators   map[string]string `json:"denominators"`
	GazetteerLayer string            `json:"gazetteer_layer"`
}

type Source struct {
	config Config
	census *census.Client
	gaz    gazetteer.Store
}

func New(config Config, censusClient *census.Client, gaz gazetteer.Store) *Source {
	if config.Estimate == 0 {
		config.Estimate = 5
	}
	if len(config.Years) == 0 {
		config.Years = []int{2015, 2016, 2017, 2018}
	}
	if len(config.Variables) == 0 {
		config.Variables = defaultVariables()
	}
	if config.ForGeo == "" {
		config.ForGeo = "county:*"
	}
	if len(config.InGeo) == 0 {
		config.InGeo = []string{"state:*"}
	}
	if config.Denominators == nil {
		config.Denominators = map[string]string{
			"S1810_C02_001E": "S1810_C01_001E",
		}
	}
	if config.GazetteerLayer == "" {
		config.GazetteerLayer = gazetteer.LayerCounties
	}
	return &Source{
		config: config,
		census: censusClient,
		gaz:    gaz,
	}
}

func (s *Source) Name() string {
	return SourceName
}

// Fetch builds the full ACS5 record table, one pass per configured
// year. Rows come back sorted by year, geography and variable so an
// unchanged upstream produces byte-identical output.
func (s *Source) Fetch(ctx context.Context) (*tabular.Table, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("years", len(s.config.Years)),
		attribute.Int("variables", len(s.config.Variables)),
	)

	fail := func(message string, err error) (*tabular.Table, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, message)
		return nil, err
	}

	table := tabular.NewTable(pipeline.Columns()...)
	dataset := fmt.Sprintf("acs/acs%d", s.config.Estimate)
	geoType := forGeoLevel(s.config.ForGeo)
	requested := s.requestVariables()

	for _, year := range s.config.Years {
		rows, err := s.census.Estimates(ctx, census.EstimatesRequest{
			Vintage:   year,
			Dataset:   dataset,
			Variables: requested,
			ForGeo:    s.config.ForGeo,
			InGeo:     s.config.InGeo,
		})
		if err != nil {
			return fail("estimates fetch failed", err)
		}

		meta, err := s.census.Variables(ctx, year, dataset, requested)
		if err != nil {
			return fail("variable metadata fetch failed", err)
		}
		s.warnLabelDrift(ctx, year, meta)

		centroids, err := s.gaz.Centroids(ctx, year, s.config.GazetteerLayer)
		if err != nil {
			return fail("centroid fetch failed", err)
		}

		err = s.appendYear(ctx, table, year, geoType, rows, meta, centroids)
		if err != nil {
			return fail("row assembly failed", err)
		}
	}

	sortCanonical(table)
	slog.InfoContext(ctx, "assembled acs5 table", "rows", len(table.Rows))
	return table, nil
}

// requestVariables is the fetch list: every configured variable plus
// any denominator not already among them.
func (s *Source) requestVariables() []string {
	seen := make(map[string]struct{}, len(s.config.Variables))
	variables := make([]string, 0, len(s.config.Variables))
	for _, code := range s.config.Variables {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		variables = append(variables, code)
	}

	denominators := make([]string, 0, len(s.config.Denominators))
	for _, code := range s.config.Denominators {
		denominators = append(denominators, code)
	}
	sort.Strings(denominators)
	for _, code := range denominators {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		variables = append(variables, code)
	}
	return variables
}

func (s *Source) appendYear(
	ctx context.Context,
	table *tabular.Table,
	year int,
	geoType string,
	rows []census.Row,
	meta map[string]census.VariableMeta,
	centroids map[string]gazetteer.Point,
) error {
	yearDate := fmt.Sprintf("%d-12-31", year)

	for _, row := range rows {
		point, ok := centroids[bareGeoId(row.GeoId)]
		if !ok {
			slog.WarnContext(
				ctx, "no centroid for geography, dropping its records",
				"geo_id", row.GeoId,
				"geo_name", row.GeoName,
				"year", year,
			)
			continue
		}
		location := point.WKT()

		for _, variable := range s.config.Variables {
			if !variableValidIn(variable, year) {
				continue
			}
			value, ok := row.Values[variable]
			if !ok || value == nil {
				continue
			}

			topic, concept, label := describe(variable, meta)

			var denomVariable, denomLabel, denominator any
			if code, ok := s.config.Denominators[variable]; ok {
				denomVariable = code
				_, _, text := describe(code, meta)
				denomLabel = text
				if v := row.Values[code]; v != nil {
					denominator = *v
				}
			}

			err := table.AppendRow(
				SourceName, topic, concept,
				variable, label, *value,
				denomVariable, denomLabel, denominator,
				year, yearDate,
				row.GeoId, row.GeoName, geoType,
				location, nil,
			)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// describe resolves the published topic, concept and label for a
// variable. Curated entries win, uncurated codes fall back to the
// API metadata with a null topic.
func describe(variable string, meta map[string]census.VariableMeta) (topic, concept any, label string) {
	entry, curated := catalog[variable]
	if curated {
		return entry.Topic, entry.Concept, entry.Label
	}
	m, ok := meta[variable]
	if !ok || m.Label == "" {
		return nil, nil, variable
	}
	if m.Concept == "" {
		return nil, nil, m.Label
	}
	return nil, m.Concept, m.Label
}

func (s *Source) warnLabelDrift(ctx context.Context, year int, meta map[string]census.VariableMeta) {
	for _, variable := range s.config.Variables {
		entry, curated := catalog[variable]
		if !curated {
			continue
		}
		m, ok := meta[variable]
		if !ok || m.Label == "" {
			continue
		}
		similarity := apiLabelSimilarity(entry.Label, m.Label)
		if similarity < labelDriftThreshold {
			slog.WarnContext(
				ctx, "curated label drifted from api label",
				"variable", variable,
				"year", year,
				"curated", entry.Label,
				"api", m.Label,
				"similarity", similarity,
			)
		}
	}
}

// apiLabelSimilarity scores a curated label against the API's
// "Estimate!!Total!!..." form, the best-matching segment wins.
func apiLabelSimilarity(curated, apiLabel string) float64 {
	curated = textutil.NormalizeLabel(curated)
	candidates := append(strings.Split(apiLabel, "!!"), apiLabel)

	best := 0.0
	for _, candidate := range candidates {
		candidate = strings.TrimSuffix(textutil.NormalizeLabel(candidate), ":")
		if candidate == "" || candidate == "estimate" {
			continue
		}
		similarity := matchr.JaroWinkler(curated, candidate, false)
		if similarity > best {
			best = similarity
		}
	}
	return best
}

// bareGeoId strips the summary-level prefix, "0500000US12011" and the
// gazetteer's "12011" name the same county.
func bareGeoId(geoId string) string {
	_, bare, found := strings.Cut(geoId, "US")
	if !found {
		return geoId
	}
	return bare
}

// forGeoLevel extracts the geography level from a for-geo clause,
// "county:*" publishes as geo_type "county".
func forGeoLevel(forGeo string) string {
	level, _, _ := strings.Cut(forGeo, ":")
	return level
}

func sortCanonical(table *tabular.Table) {
	yearIdx := table.ColumnIndex(pipeline.ColumnYear)
	geoIdx := table.ColumnIndex(pipeline.ColumnGeoId)
	variableIdx := table.ColumnIndex(pipeline.ColumnVariable)

	table.SortRows(func(a, b []any) bool {
		yearA, _ := a[yearIdx].(int)
		yearB, _ := b[yearIdx].(int)
		if yearA != yearB {
			return yearA < yearB
		}
		geoA, _ := a[geoIdx].(string)
		geoB, _ := b[geoIdx].(string)
		if geoA != geoB {
			return geoA < geoB
		}
		variableA, _ := a[variableIdx].(string)
		variableB, _ := b[variableIdx].(string)
		return variableA < variableB
	})
}
