package ingest

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/shanemeister/ChicagoDataPortal/internal/ingest/normalize"
)

// Feed describes one upstream open-data dataset: where to fetch it, how it is
// registered in the source table, and which normalizer maps its rows.
type Feed struct {
	City           string `yaml:"city"`
	DatasetID      string `yaml:"dataset_id"`
	Name           string `yaml:"name"`
	APIBase        string `yaml:"api_base"`
	License        string `yaml:"license"`
	RefreshCadence string `yaml:"refresh_cadence"`
	Normalizer     string `yaml:"normalizer"`
	// EventTimeField is the dataset column holding the event timestamp, used
	// to build window predicates. Defaults to "date".
	EventTimeField string `yaml:"event_time_field"`
}

type feedFile struct {
	Sources []Feed `yaml:"sources"`
}

// DefaultFeeds returns the built-in feed registry used when no sources file is
// provided.
func DefaultFeeds() []Feed {
	return []Feed{
		{
			City:           normalize.ChicagoCityCode,
			DatasetID:      normalize.ChicagoDatasetID,
			Name:           "Chicago Crimes - 2001 to Present",
			APIBase:        normalize.ChicagoAPIBase,
			License:        "Open Data Commons ODbL",
			RefreshCadence: "Daily",
			Normalizer:     normalize.ChicagoCityCode,
			EventTimeField: "date",
		},
	}
}

// LoadFeeds reads a sources YAML file. Each entry must name a registered
// normalizer.
func LoadFeeds(path string) ([]Feed, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var f feedFile
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	if len(f.Sources) == 0 {
		return nil, fmt.Errorf("sources file %s lists no sources", path)
	}

	for i := range f.Sources {
		feed := &f.Sources[i]
		if feed.City == "" || feed.DatasetID == "" || feed.APIBase == "" {
			return nil, fmt.Errorf("source %d: city, dataset_id and api_base are required", i)
		}
		if feed.Normalizer == "" {
			feed.Normalizer = feed.City
		}
		if feed.EventTimeField == "" {
			feed.EventTimeField = "date"
		}
		if _, err := normalize.Get(feed.Normalizer); err != nil {
			return nil, fmt.Errorf("source %s: %w", feed.City, err)
		}
	}
	return f.Sources, nil
}

// FeedForCity selects a feed by city code.
func FeedForCity(feeds []Feed, city string) (Feed, error) {
	for _, f := range feeds {
		if f.City == city {
			return f, nil
		}
	}
	return Feed{}, fmt.Errorf("no configured feed for city %q", city)
}
