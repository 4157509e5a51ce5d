package searchplan

import (
	"flag"
	"fmt"

	"github.com/grafana/dskit/flagext"
	dslog "github.com/grafana/dskit/log"
	"github.com/pkg/errors"

	"github.com/grafana/searchplan/pkg/backend/elastic"
	"github.com/grafana/searchplan/pkg/engine"
)

// Config is the root config for searchplan.
type Config struct {
	Log           LogConfig          `yaml:"log"`
	Engine        engine.Config      `yaml:"engine"`
	Capabilities  CapabilitiesConfig `yaml:"capabilities"`
	Elasticsearch elastic.Config     `yaml:"elasticsearch"`
	OpenSearch    elastic.Config     `yaml:"opensearch"`
}

type LogConfig struct {
	Level  dslog.Level `yaml:"level"`
	Format string      `yaml:"format"`
}

// CapabilitiesConfig lists the capabilities of the installation and the
// capabilities each search type requires. Queries using a search type whose
// capabilities are not available are rejected.
type CapabilitiesConfig struct {
	Available flagext.StringSliceCSV `yaml:"available"`
	Required  map[string][]string    `yaml:"required"`
}

// RegisterFlags registers flag.
func (c *Config) RegisterFlags(f *flag.FlagSet) {
	_ = c.Log.Level.Set("info")
	f.Var(&c.Log.Level, "log.level", "Only log messages with the given severity or above. Valid levels: [debug, info, warn, error]")
	f.StringVar(&c.Log.Format, "log.format", "logfmt", "Output log messages in the given format. Valid formats: [logfmt, json]")
	f.Var(&c.Capabilities.Available, "capabilities.available", "Comma-separated list of capabilities of the installation.")

	c.Engine.RegisterFlagsWithPrefix("engine.", f)
	c.Elasticsearch.RegisterFlagsWithPrefix("elasticsearch.", f)
	c.OpenSearch.RegisterFlagsWithPrefix("opensearch.", f)
}

// Validate the config and returns an error if the validation
// doesn't pass
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "logfmt", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	if err := c.Engine.Validate(); err != nil {
		return errors.Wrap(err, "invalid engine config")
	}
	if err := c.Elasticsearch.Validate(); err != nil {
		return errors.Wrap(err, "invalid elasticsearch config")
	}
	if err := c.OpenSearch.Validate(); err != nil {
		return errors.Wrap(err, "invalid opensearch config")
	}
	if !c.Elasticsearch.Enabled && !c.OpenSearch.Enabled {
		return errors.New("at least one backend must be enabled")
	}
	return nil
}
