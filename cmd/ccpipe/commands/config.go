package commands

import (
	"context"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/archive"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/census"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/configutil"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/gazetteer"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/gazetteer/db"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/notify"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/serviceutil"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/storeutil"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/tabular"
	"github.com/NHIT-open/Citizen-Connect-ACS/pipeline"
	"github.com/NHIT-open/Citizen-Connect-ACS/sources/acs5"
)

// Config is read from config.json5 with config.local.json5 overrides.
// Credentials stay out of both files as ${CENSUS_API_KEY},
// ${SOCRATA_KEY_ID} and ${SOCRATA_KEY_SECRET} references, expanded
// from the environment at read time.
type Config struct {
	Census    CensusConfig     `json:"census"`
	Socrata   SocrataConfig    `json:"socrata"`
	Gazetteer GazetteerConfig  `json:"gazetteer"`
	Cache     storeutil.Config `json:"cache"`
	Archive   archive.Config   `json:"archive"`
	Notify    notify.Config    `json:"notify"`
	Sources   SourcesConfig    `json:"sources"`
}

type CensusConfig struct {
	BaseUrl string `json:"base_url"`
	ApiKey  string `json:"api_key"`
	// requests per second against the census api
	RateLimit float64 `json:"rate_limit"`
}

type SocrataConfig struct {
	Domain    string `json:"domain"`
	DatasetId string `json:"dataset_id"`
	KeyId     string `json:"key_id"`
	KeySecret string `json:"key_secret"`
}

type GazetteerConfig struct {
	BaseUrl string `json:"base_url"`
}

type SourcesConfig struct {
	Acs5 acs5.Config `json:"acs5"`
}

func loadConfig() Config {
	config, err := configutil.ReadConfig[Config](*configPath)
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	if config.Socrata.Domain == "" {
		config.Socrata.Domain = "nhit-odp.data.socrata.com"
	}
	if config.Socrata.DatasetId == "" {
		config.Socrata.DatasetId = "enbi-fu9w"
	}
	if config.Cache.File == "" && config.Cache.Url == "" {
		config.Cache.File = "cache.db"
	}
	return config
}

// openSources builds every configured source against shared clients.
// The returned cleanup closes the gazetteer cache database.
func openSources(config Config) ([]pipeline.Source, func()) {
	censusClient := census.NewClient(census.ClientOptions{
		BaseUrl:   config.Census.BaseUrl,
		ApiKey:    config.Census.ApiKey,
		RateLimit: config.Census.RateLimit,
	})

	cacheDB, err := config.Cache.OpenDB(db.Schema)
	if err != nil {
		serviceutil.Fatal("failed to open gazetteer cache", err)
	}
	gaz := gazetteer.NewStore(gazetteer.Options{
		DB:      cacheDB,
		BaseUrl: config.Gazetteer.BaseUrl,
	})

	sources := []pipeline.Source{
		acs5.New(config.Sources.Acs5, censusClient, gaz),
	}
	return sources, func() { cacheDB.Close() }
}

// fetchValidated runs the non-publishing half of the pipeline for one
// source: fetch, assign row ids, validate.
func fetchValidated(ctx context.Context, source pipeline.Source) (*tabular.Table, error) {
	table, err := source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	err = pipeline.AssignRowIDs(table)
	if err != nil {
		return nil, err
	}
	err = pipeline.Schema().Validate(table)
	if err != nil {
		return nil, err
	}
	return table, nil
}
