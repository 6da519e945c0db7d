// Package feed defines the feed configuration entity. Feeds are owned by the
// management API; the pipeline only reads them, either from storage or from a
// YAML file when no feeds table is populated.
package feed

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Feed struct {
	ID              string `yaml:"id"`
	URL             string `yaml:"url"`
	Language        string `yaml:"language"`
	Category        string `yaml:"category"`
	Source          string `yaml:"source"`
	Active          bool   `yaml:"active"`
	CooldownMinutes int    `yaml:"cooldown_minutes"`
	MaxPerHour      int    `yaml:"max_per_hour"`
}

// Config is the YAML file structure:
//
// feeds:
//   - url: https://example.com/rss
//     language: da
//     category: news
//     source: Example
//     active: true
//     cooldown_minutes: 60
//     max_per_hour: 5
type Config struct {
	Feeds []Feed `yaml:"feeds"`
}

// LoadFromYAML reads the feed list from a YAML file. Feeds without an id get
// their URL as id; inactive feeds are kept so callers can filter explicitly.
func LoadFromYAML(path string) ([]Feed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feeds config: %w", err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode feeds config: %w", err)
	}

	for i := range cfg.Feeds {
		if cfg.Feeds[i].ID == "" {
			cfg.Feeds[i].ID = cfg.Feeds[i].URL
		}
	}
	return cfg.Feeds, nil
}

// Active filters the list down to active feeds.
func Active(feeds []Feed) []Feed {
	out := make([]Feed, 0, len(feeds))
	for _, f := range feeds {
		if f.Active {
			out = append(out, f)
		}
	}
	return out
}
