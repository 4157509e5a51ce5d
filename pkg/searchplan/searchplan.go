// Package searchplan wires the configured backends into an engine.
package searchplan

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/searchplan/pkg/backend/elastic"
	"github.com/grafana/searchplan/pkg/engine"
	"github.com/grafana/searchplan/pkg/search"
)

// Query types served by the backends.
const (
	BackendElasticsearch = "elasticsearch"
	BackendOpenSearch    = "opensearch"
)

// ClientFactory creates the client of a cluster.
type ClientFactory func(elastic.Config) (elastic.Client, error)

// SearchPlan is the root data structure.
type SearchPlan struct {
	Cfg      Config
	Backends *engine.Registry
	Engine   *engine.Engine

	logger log.Logger
}

// New makes a new SearchPlan talking to real clusters.
func New(cfg Config, logger log.Logger, reg prometheus.Registerer) (*SearchPlan, error) {
	return newSearchPlan(cfg, logger, reg, map[string]ClientFactory{
		BackendElasticsearch: elastic.NewElasticsearchClient,
		BackendOpenSearch:    elastic.NewOpenSearchClient,
	})
}

func newSearchPlan(cfg Config, logger log.Logger, reg prometheus.Registerer, clients map[string]ClientFactory) (*SearchPlan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	backends := engine.NewRegistry()
	for _, b := range []struct {
		name string
		cfg  elastic.Config
	}{
		{BackendElasticsearch, cfg.Elasticsearch},
		{BackendOpenSearch, cfg.OpenSearch},
	} {
		if !b.cfg.Enabled {
			continue
		}
		backend, err := elastic.NewFromConfig(b.name, b.cfg, clients[b.name], logger, reg)
		if err != nil {
			return nil, err
		}
		if err := backends.Register(b.name, backend); err != nil {
			return nil, err
		}
		level.Info(logger).Log("msg", "registered backend", "backend", b.name, "addresses", b.cfg.Addresses.String())
	}

	var capabilities engine.CapabilityChecker
	if len(cfg.Capabilities.Required) > 0 {
		capabilities = engine.NewCapabilitySet(cfg.Capabilities.Available, cfg.Capabilities.Required)
	}

	e, err := engine.New(engine.Params{
		Logger:       logger,
		Registerer:   reg,
		Config:       cfg.Engine,
		Backends:     backends,
		Capabilities: capabilities,
	})
	if err != nil {
		return nil, err
	}
	return &SearchPlan{Cfg: cfg, Backends: backends, Engine: e, logger: logger}, nil
}

// Run executes s and waits until every query completed or ctx is done.
func (s *SearchPlan) Run(ctx context.Context, srch *search.Search) (*Response, error) {
	job, err := s.Engine.Execute(ctx, srch)
	if err != nil {
		return nil, err
	}
	if err := job.Wait(ctx); err != nil {
		return nil, err
	}
	return NewResponse(job), nil
}
