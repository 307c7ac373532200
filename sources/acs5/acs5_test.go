package acs5

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/census"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/gazetteer"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/gazetteer/db"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/testutil"
	"github.com/NHIT-open/Citizen-Connect-ACS/pipeline"
	"github.com/stretchr/testify/require"
)

// censusHandler serves a tiny 2018 vintage: three Florida counties,
// one sentinel estimate and one variable per table family.
func censusHandler() http.Handler {
	respond := func(payload string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(payload))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/2018/acs/acs5/subject", respond(`[
		["NAME","GEO_ID","S1810_C02_001E","S1810_C01_001E","state","county"],
		["Alachua County, Florida","0500000US12001","25013","253370","12","001"],
		["Broward County, Florida","0500000US12011","186593","1909151","12","011"],
		["Monroe County, Florida","0500000US12087","8317","76889","12","087"]]`))
	mux.HandleFunc("/2018/acs/acs5", respond(`[
		["NAME","GEO_ID","B28002_013E","B07001_001E","state","county"],
		["Alachua County, Florida","0500000US12001","21707","-555555555","12","001"],
		["Broward County, Florida","0500000US12011","98221","1897425","12","011"],
		["Monroe County, Florida","0500000US12087","7994","75312","12","087"]]`))
	mux.HandleFunc("/2018/acs/acs5/profile", respond(`[
		["NAME","GEO_ID","DP05_0017E","state","county"],
		["Alachua County, Florida","0500000US12001","31.3","12","001"],
		["Broward County, Florida","0500000US12011","40.1","12","011"],
		["Monroe County, Florida","0500000US12087","47.3","12","087"]]`))

	mux.HandleFunc("/2018/acs/acs5/subject/variables.json", respond(`{"variables": {
		"S1810_C02_001E": {"label": "Estimate!!With a disability!!Civilian noninstitutionalized population", "concept": "DISABILITY CHARACTERISTICS"},
		"S1810_C01_001E": {"label": "Estimate!!Total!!Civilian noninstitutionalized population", "concept": "DISABILITY CHARACTERISTICS"}}}`))
	mux.HandleFunc("/2018/acs/acs5/variables.json", respond(`{"variables": {
		"B28002_013E": {"label": "Estimate!!Total!!No Internet access", "concept": "PRESENCE AND TYPES OF INTERNET SUBSCRIPTIONS IN HOUSEHOLD"},
		"B07001_001E": {"label": "Estimate!!Total", "concept": "GEOGRAPHICAL MOBILITY IN THE PAST YEAR"}}}`))
	mux.HandleFunc("/2018/acs/acs5/profile/variables.json", respond(`{"variables": {
		"DP05_0017E": {"label": "Estimate!!SEX AND AGE!!Median age (years)", "concept": "ACS DEMOGRAPHIC AND HOUSING ESTIMATES"}}}`))
	return mux
}

// gazFixtureZip covers Alachua and Broward but not Monroe, so Monroe
// exercises the drop-on-missing-centroid path.
func gazFixtureZip(t *testing.T) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("2018_Gaz_counties_national.txt")
	require.NoError(t, err)

	_, err = f.Write([]byte(
		"USPS\tGEOID\tANSICODE\tNAME\tALAND\tAWATER\tALAND_SQMI\tAWATER_SQMI\tINTPTLAT\tINTPTLONG    \r\n" +
			"FL\t12001\t00295755\tAlachua County\t2266121421\t241073669\t874.954\t93.079\t29.674593\t-82.357222\r\n" +
			"FL\t12011\t00295758\tBroward County\t3121216875\t301383837\t1205.106\t116.365\t26.151958\t-80.488953\r\n",
	))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func setupSource(t *testing.T, config Config) (*Source, *atomic.Int64) {
	store, cleanup := testutil.SetupStore(t, testutil.StoreParams{
		Name:     "acs5",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)

	censusServer := httptest.NewServer(censusHandler())
	t.Cleanup(censusServer.Close)

	var downloads atomic.Int64
	gazServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads.Add(1)
		w.Write(gazFixtureZip(t))
	}))
	t.Cleanup(gazServer.Close)

	client := census.NewClient(census.ClientOptions{
		BaseUrl:          censusServer.URL,
		ApiKey:           "test-key",
		RateLimit:        1000,
		RateBurst:        100,
		RetryWaitTime:    time.Millisecond,
		RetryMaxWaitTime: 5 * time.Millisecond,
	})
	gaz := gazetteer.NewStore(gazetteer.Options{DB: store.DB, BaseUrl: gazServer.URL})

	return New(config, client, gaz), &downloads
}

func testConfig() Config {
	return Config{
		Years:     []int{2018},
		Variables: []string{"S1810_C02_001E", "B28002_013E", "DP05_0017E", "B07001_001E"},
	}
}

func TestFetch(t *testing.T) {
	source, downloads := setupSource(t, testConfig())
	ctx := context.Background()

	table, err := source.Fetch(ctx)
	require.NoError(t, err)
	require.Equal(t, pipeline.Columns(), table.Columns)

	// DP05_0017E is outside its validity window in 2018, Alachua's
	// B07001_001E came back as a sentinel and Monroe has no centroid
	require.Equal(t, [][]any{
		{
			"ACS5", "Social", "Internet Access",
			"B28002_013E", "Households with no internet access", 21707.0,
			nil, nil, nil,
			2018, "2018-12-31",
			"0500000US12001", "Alachua County, Florida", "county",
			"POINT (-82.357222 29.674593)", nil,
		},
		{
			"ACS5", "Health", "Disability",
			"S1810_C02_001E", "Population with a disability", 25013.0,
			"S1810_C01_001E", "Total civilian noninstitutionalized population", 253370.0,
			2018, "2018-12-31",
			"0500000US12001", "Alachua County, Florida", "county",
			"POINT (-82.357222 29.674593)", nil,
		},
		{
			"ACS5", nil, "GEOGRAPHICAL MOBILITY IN THE PAST YEAR",
			"B07001_001E", "Estimate!!Total", 1897425.0,
			nil, nil, nil,
			2018, "2018-12-31",
			"0500000US12011", "Broward County, Florida", "county",
			"POINT (-80.488953 26.151958)", nil,
		},
		{
			"ACS5", "Social", "Internet Access",
			"B28002_013E", "Households with no internet access", 98221.0,
			nil, nil, nil,
			2018, "2018-12-31",
			"0500000US12011", "Broward County, Florida", "county",
			"POINT (-80.488953 26.151958)", nil,
		},
		{
			"ACS5", "Health", "Disability",
			"S1810_C02_001E", "Population with a disability", 186593.0,
			"S1810_C01_001E", "Total civilian noninstitutionalized population", 1909151.0,
			2018, "2018-12-31",
			"0500000US12011", "Broward County, Florida", "county",
			"POINT (-80.488953 26.151958)", nil,
		},
	}, table.Rows)

	{
		// the emitted table passes the canonical schema as-is
		require.NoError(t, pipeline.AssignRowIDs(table))
		require.NoError(t, pipeline.Schema().Validate(table))
	}

	{
		// a second fetch produces byte-identical output and reuses
		// the cached gazetteer layer
		again, err := source.Fetch(ctx)
		require.NoError(t, err)
		require.NoError(t, pipeline.AssignRowIDs(again))

		first, err := table.CSV()
		require.NoError(t, err)
		second, err := again.CSV()
		require.NoError(t, err)
		require.Equal(t, first, second)
		require.EqualValues(t, 1, downloads.Load())
	}
}

func TestDefaultVariablesAreCurated(t *testing.T) {
	variables := defaultVariables()
	require.Len(t, variables, 174)
	for _, code := range variables {
		_, ok := catalog[code]
		require.True(t, ok, "variable %s has no catalog entry", code)
	}

	// the default denominator is curated too
	_, ok := catalog["S1810_C01_001E"]
	require.True(t, ok)
}

func TestValidityWindows(t *testing.T) {
	require.True(t, variableValidIn("DP05_0017E", 2016))
	require.False(t, variableValidIn("DP05_0017E", 2017))
	require.False(t, variableValidIn("DP05_0018E", 2016))
	require.True(t, variableValidIn("DP05_0018E", 2017))
	require.True(t, variableValidIn("B28002_013E", 2005))
}

func TestGeoHelpers(t *testing.T) {
	require.Equal(t, "12011", bareGeoId("0500000US12011"))
	require.Equal(t, "12011050800", bareGeoId("1400000US12011050800"))
	require.Equal(t, "12011", bareGeoId("12011"))

	require.Equal(t, "county", forGeoLevel("county:*"))
	require.Equal(t, "tract", forGeoLevel("tract:*"))
}
