// Package config loads the process configuration from the environment and
// the optional site description from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/wikigreet/greeterbot/internal/wiki"
)

// Config is the environment-driven configuration. The two secrets are
// required; everything else has a default.
type Config struct {
	// StoreSecret namespaces all state-store keys per deployment.
	StoreSecret string `env:"GREETERBOT_STORE_SECRET,required,notEmpty"`

	// BucketSecret salts the treatment/control hash split.
	BucketSecret string `env:"GREETERBOT_BUCKET_SECRET,required,notEmpty"`

	// StoreDSN selects the state-store backend: a postgres:// URL or a
	// key=value connection string picks Postgres, anything else is used
	// as an SQLite file path.
	StoreDSN string `env:"GREETERBOT_STORE_DSN" envDefault:"greeterbot.db"`

	// FeedURL is the websocket address of the edit-event feed.
	FeedURL string `env:"GREETERBOT_FEED_URL" envDefault:"ws://127.0.0.1:8087/feed"`

	// WikiURL is the base address of the wiki collaborator bridge.
	WikiURL string `env:"GREETERBOT_WIKI_URL" envDefault:"http://127.0.0.1:8086"`

	// ControlPermille is how many of 1000 users land in the control group.
	ControlPermille int `env:"GREETERBOT_CONTROL_PERMILLE" envDefault:"500"`

	ActiveFromHour int `env:"GREETERBOT_ACTIVE_FROM_HOUR" envDefault:"8"`
	ActiveToHour   int `env:"GREETERBOT_ACTIVE_TO_HOUR" envDefault:"22"`

	CycleDelay time.Duration `env:"GREETERBOT_CYCLE_DELAY" envDefault:"30m"`
	Lookback   time.Duration `env:"GREETERBOT_LOOKBACK" envDefault:"24h"`
	Lag        time.Duration `env:"GREETERBOT_LAG" envDefault:"10m"`

	// Retention is the TTL of greeted and control-group records.
	Retention time.Duration `env:"GREETERBOT_RETENTION" envDefault:"2160h"`

	// Timezone governs the active-hours window and log dates.
	Timezone string `env:"GREETERBOT_TIMEZONE" envDefault:"Europe/Berlin"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("resolve timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// LoadSite returns the site description. An empty path yields the default
// site; otherwise the YAML file is applied on top of the defaults, so a
// partial file only overrides what it names.
func LoadSite(path string) (wiki.Site, error) {
	site := wiki.DefaultSite()
	if path == "" {
		return site, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return wiki.Site{}, fmt.Errorf("read site file: %w", err)
	}
	if err := yaml.Unmarshal(data, &site); err != nil {
		return wiki.Site{}, fmt.Errorf("parse site file %s: %w", path, err)
	}
	return site, nil
}
