// Package gazetteer resolves geography identifiers to point
// coordinates using the national Gazetteer centroid files, cached in a
// local database so a layer downloads once per vintage.
package gazetteer

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/restyutil"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/gazetteer")
var restyInstrumentOutput restyutil.InstrumentOutput

func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}

const DefaultBaseUrl = "https://www2.census.gov/geo/docs/maps-data/data/gazetteer"

const (
	LayerCounties = "counties"
	LayerTracts   = "tracts"
	LayerPlaces   = "place"
)

// Point is an internal-point centroid in WGS84 degrees.
type Point struct {
	Lat float64
	Lng float64
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WKT renders the point as well-known text, x (longitude) first.
func (p Point) WKT() string {
	return fmt.Sprintf("POINT (%s %s)", formatCoord(p.Lng), formatCoord(p.Lat))
}

// ParsePointWKT accepts exactly the form WKT() produces,
// `POINT (lng lat)`.
func ParsePointWKT(s string) (Point, error) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "POINT (") || !strings.HasSuffix(trimmed, ")") {
		return Point{}, fmt.Errorf("not a WKT point: %q", s)
	}
	inner := trimmed[len("POINT (") : len(trimmed)-1]
	fields := strings.Fields(inner)
	if len(fields) != 2 {
		return Point{}, fmt.Errorf("not a WKT point: %q", s)
	}
	lng, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Point{}, fmt.Errorf("not a WKT point: %q", s)
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Point{}, fmt.Errorf("not a WKT point: %q", s)
	}
	return Point{Lat: lat, Lng: lng}, nil
}

type Options struct {
	DB *sql.DB
	// override for tests, defaults to the census.gov gazetteer root
	BaseUrl string
}

type Store struct {
	db   *sql.DB
	http *resty.Client
}

func NewStore(opts Options) Store {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	client := resty.New().
		SetBaseURL(opts.BaseUrl).
		SetHeader("user-agent", "citizen-connect-acs/1.0")
	if restyInstrumentOutput != nil {
		restyutil.InstrumentClient(client, tracer, restyInstrumentOutput)
	} else {
		telemetry.InstrumentResty(client, "lib/gazetteer")
	}

	return Store{
		db:   opts.DB,
		http: client,
	}
}

// Centroids returns every centroid of a layer keyed by bare GEOID
// (the FIPS code without the `0500000US` style prefix), downloading
// and caching the layer on first use.
func (s Store) Centroids(ctx context.Context, vintage int, layer string) (map[string]Point, error) {
	ctx, span := tracer.Start(ctx, "Centroids")
	defer span.End()
	span.SetAttributes(
		attribute.Int("vintage", vintage),
		attribute.String("layer", layer),
	)

	err := s.ensureLayer(ctx, vintage, layer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load gazetteer layer")
		return nil, err
	}

	rows, err := s.db.QueryContext(
		ctx,
		"SELECT geoid, lat, lng FROM centroid WHERE vintage = ? AND layer = ?",
		vintage, layer,
	)
	if err != nil {
		return nil, fmt.Errorf("query centroids: %w", err)
	}
	defer rows.Close()

	out := map[string]Point{}
	for rows.Next() {
		var geoid string
		var p Point
		err = rows.Scan(&geoid, &p.Lat, &p.Lng)
		if err != nil {
			return nil, fmt.Errorf("scan centroid: %w", err)
		}
		out[geoid] = p
	}
	return out, rows.Err()
}

// Lookup resolves a single bare GEOID.
func (s Store) Lookup(ctx context.Context, vintage int, layer, geoid string) (Point, bool, error) {
	err := s.ensureLayer(ctx, vintage, layer)
	if err != nil {
		return Point{}, false, err
	}

	var p Point
	err = s.db.QueryRowContext(
		ctx,
		"SELECT lat, lng FROM centroid WHERE vintage = ? AND layer = ? AND geoid = ?",
		vintage, layer, geoid,
	).Scan(&p.Lat, &p.Lng)
	if err == sql.ErrNoRows {
		return Point{}, false, nil
	}
	if err != nil {
		return Point{}, false, fmt.Errorf("query centroid: %w", err)
	}
	return p, true, nil
}

func (s Store) ensureLayer(ctx context.Context, vintage int, layer string) error {
	var one int
	err := s.db.QueryRowContext(
		ctx,
		"SELECT 1 FROM loaded_layer WHERE vintage = ? AND layer = ?",
		vintage, layer,
	).Scan(&one)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("query loaded_layer: %w", err)
	}

	centroids, err := s.fetchLayer(ctx, vintage, layer)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for geoid, p := range centroids {
		_, err = tx.ExecContext(
			ctx,
			"INSERT OR REPLACE INTO centroid (vintage, layer, geoid, lat, lng) VALUES (?, ?, ?, ?, ?)",
			vintage, layer, geoid, p.Lat, p.Lng,
		)
		if err != nil {
			return fmt.Errorf("insert centroid: %w", err)
		}
	}
	_, err = tx.ExecContext(
		ctx,
		"INSERT OR REPLACE INTO loaded_layer (vintage, layer, fetchedat) VALUES (?, ?, ?)",
		vintage, layer, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert loaded_layer: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return err
	}

	slog.InfoContext(
		ctx, "cached gazetteer layer",
		"vintage", vintage,
		"layer", layer,
		"centroids", len(centroids),
	)
	return nil
}

func (s Store) fetchLayer(ctx context.Context, vintage int, layer string) (map[string]Point, error) {
	res, err := s.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/%d_Gazetteer/%d_Gaz_%s_national.zip", vintage, vintage, layer))
	if err != nil {
		return nil, fmt.Errorf("download gazetteer %d/%s: %w", vintage, layer, err)
	}
	if res.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf(
			"download gazetteer %d/%s: status %d",
			vintage, layer, res.StatusCode(),
		)
	}
	return parseLayerZip(res.Body())
}

func parseLayerZip(payload []byte) (map[string]Point, error) {
	archive, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("open gazetteer zip: %w", err)
	}

	for _, member := range archive.File {
		if !strings.HasSuffix(member.Name, ".txt") {
			continue
		}
		f, err := member.Open()
		if err != nil {
			return nil, fmt.Errorf("open gazetteer member %s: %w", member.Name, err)
		}
		defer f.Close()
		return parseLayerFile(f)
	}
	return nil, fmt.Errorf("gazetteer zip has no .txt member")
}

// the layer file is tab separated with one header row. column names
// and cells carry stray whitespace (the last header is notoriously
// padded), everything gets trimmed.
func parseLayerFile(r io.Reader) (map[string]Point, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gazetteer file: %w", err)
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("gazetteer file is empty")
	}

	header := map[string]int{}
	for i, name := range strings.Split(lines[0], "\t") {
		header[strings.TrimSpace(name)] = i
	}
	geoidIdx, ok := header["GEOID"]
	if !ok {
		return nil, fmt.Errorf("gazetteer file missing GEOID column")
	}
	latIdx, ok := header["INTPTLAT"]
	if !ok {
		return nil, fmt.Errorf("gazetteer file missing INTPTLAT column")
	}
	lngIdx, ok := header["INTPTLONG"]
	if !ok {
		return nil, fmt.Errorf("gazetteer file missing INTPTLONG column")
	}

	out := map[string]Point{}
	for lineNo, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := strings.Split(line, "\t")
		if len(cells) <= geoidIdx || len(cells) <= latIdx || len(cells) <= lngIdx {
			return nil, fmt.Errorf("gazetteer file line %d is too short", lineNo+2)
		}

		geoid := strings.TrimSpace(cells[geoidIdx])
		lat, err := strconv.ParseFloat(strings.TrimSpace(cells[latIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("gazetteer file line %d: bad INTPTLAT: %w", lineNo+2, err)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(cells[lngIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("gazetteer file line %d: bad INTPTLONG: %w", lineNo+2, err)
		}
		out[geoid] = Point{Lat: lat, Lng: lng}
	}
	return out, nil
}
