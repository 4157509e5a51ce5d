// Package elastic runs queries against Elasticsearch and OpenSearch clusters.
// Each search type of a query becomes one search of a multi-search request.
package elastic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/olivere/elastic/v7"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	"github.com/grafana/searchplan/pkg/engine"
	"github.com/grafana/searchplan/pkg/search"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Params holds parameters for constructing a new [Backend].
type Params struct {
	Name       string                // Query type served by the backend.
	Logger     log.Logger            // Logger for optional log messages.
	Registerer prometheus.Registerer // Registerer for optional metrics.

	Client     Client
	Handlers   *Handlers                // Search type handlers. Defaults to DefaultHandlers.
	Indices    IndexLookup              // Indices to search.
	TimeRanges search.TimeRangeResolver // Defaults to the real clock.

	AllowLeadingWildcard bool
}

// validate validates p and applies defaults.
func (p *Params) validate() error {
	if p.Name == "" {
		return errors.New("backend name is required")
	}
	if p.Client == nil {
		return errors.New("client is required")
	}
	if p.Indices == nil {
		return errors.New("index lookup is required")
	}
	if p.Logger == nil {
		p.Logger = log.NewNopLogger()
	}
	if p.Registerer == nil {
		p.Registerer = prometheus.NewRegistry()
	}
	if p.Handlers == nil {
		p.Handlers = DefaultHandlers(HandlerDefaults{MessageLimit: 150, ValuesLimit: 15}, p.Name)
	}
	if p.TimeRanges == nil {
		p.TimeRanges = search.NewClockResolver()
	}
	return nil
}

// Backend compiles queries into multi-search requests. It implements
// [engine.QueryBackend].
type Backend struct {
	name                 string
	logger               log.Logger
	metrics              *metrics
	client               Client
	handlers             *Handlers
	indices              IndexLookup
	timeRanges           search.TimeRangeResolver
	allowLeadingWildcard bool
}

var _ engine.QueryBackend = (*Backend)(nil)

func New(p Params) (*Backend, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Backend{
		name:                 p.Name,
		logger:               log.With(p.Logger, "backend", p.Name),
		metrics:              newMetrics(prometheus.WrapRegistererWith(prometheus.Labels{"backend": p.Name}, p.Registerer)),
		client:               p.Client,
		handlers:             p.Handlers,
		indices:              p.Indices,
		timeRanges:           p.TimeRanges,
		allowLeadingWildcard: p.AllowLeadingWildcard,
	}, nil
}

// NewFromConfig builds the backend of a cluster configured by cfg. The
// client returned by newClient is guarded by a circuit breaker and indices
// are looked up by day.
func NewFromConfig(name string, cfg Config, newClient func(Config) (Client, error), logger log.Logger, reg prometheus.Registerer) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", name, err)
	}
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	var indices IndexLookup = DailyIndexLookup{Prefix: cfg.IndexPrefix, MaxIndices: cfg.MaxIndicesPerQuery}
	if cfg.IndexCacheSize > 0 {
		if indices, err = NewCachedIndexLookup(indices, cfg.IndexCacheSize, cfg.IndexCacheTTL, time.Hour); err != nil {
			return nil, err
		}
	}

	b, err := New(Params{
		Name:       name,
		Logger:     logger,
		Registerer: reg,
		Client:     client,
		Handlers: DefaultHandlers(HandlerDefaults{
			MessageLimit: cfg.DefaultMessageLimit,
			ValuesLimit:  cfg.DefaultValuesLimit,
		}, name),
		Indices:              indices,
		AllowLeadingWildcard: cfg.AllowLeadingWildcard,
	})
	if err != nil {
		return nil, err
	}
	b.client = newBreakerClient(name, cfg.CircuitBreaker, client, b.metrics, b.logger)
	return b, nil
}

// Generate compiles every search type of q into its own search request.
// Search types which cannot be compiled are reported as errors of the
// result and do not fail the query.
func (b *Backend) Generate(ctx context.Context, q *search.Query, params search.ParameterValues) (engine.GeneratedQuery, error) {
	queryString, err := params.Expand(q.ID, q.Query.QueryString)
	if err != nil {
		return nil, err
	}

	g := &GeneratedQuery{QueryID: q.ID}
	for _, st := range q.SearchTypes {
		c, err := b.generateSearchType(ctx, q, st, params, queryString)
		if err != nil {
			var searchErr interface{ Is(error) bool }
			if !errors.As(err, &searchErr) {
				err = &search.SearchTypeError{
					QueryID:      q.ID,
					SearchTypeID: st.ID(),
					Description:  err.Error(),
					Cause:        err,
				}
			}
			b.metrics.searchTypeErrors.Inc()
			level.Warn(b.logger).Log("msg", "failed to generate search type", "query", q.ID, "search_type", st.ID(), "err", err)
			g.errors = append(g.errors, err)
			continue
		}
		g.searchTypes = append(g.searchTypes, c)
	}
	return g, nil
}

func (b *Backend) generateSearchType(ctx context.Context, q *search.Query, st search.SearchType, params search.ParameterValues, queryString string) (*SearchTypeContext, error) {
	handler, ok := b.handlers.Get(b.name, st.Type())
	if !ok {
		return nil, fmt.Errorf("search type %s is not supported by backend %s", st.Type(), b.name)
	}

	c := newSearchTypeContext(q, st, b.timeRanges)
	tr, err := c.EffectiveTimeRange()
	if err != nil {
		return nil, err
	}

	filter := elastic.NewBoolQuery()
	if q.Query.MatchesAll() {
		filter.Must(elastic.NewMatchAllQuery())
	} else {
		filter.Must(b.queryString(queryString))
	}
	if st.Settings().Query != "" {
		extra, err := params.Expand(q.ID, st.Settings().Query)
		if err != nil {
			return nil, err
		}
		filter.Must(b.queryString(extra))
	}
	filter.Filter(elastic.NewRangeQuery(search.TimestampField).
		Gte(tr.From.UTC().Format(time.RFC3339Nano)).
		Lt(tr.To.UTC().Format(time.RFC3339Nano)).
		Format("strict_date_optional_time"))
	if streams := c.Streams(); len(streams) > 0 {
		values := make([]any, len(streams))
		for i, s := range streams {
			values[i] = s
		}
		filter.Filter(elastic.NewTermsQuery("streams", values...))
	}
	c.Source().Query(filter).Size(0).TrackTotalHits(true)

	if err := handler.GenerateQueryPart(c); err != nil {
		return nil, err
	}

	if c.indices, err = b.indices.IndexNames(ctx, c.Streams(), tr); err != nil {
		return nil, fmt.Errorf("look up indices: %w", err)
	}
	return c, nil
}

func (b *Backend) queryString(s string) elastic.Query {
	return elastic.NewQueryStringQuery(s).AllowLeadingWildcard(b.allowLeadingWildcard)
}

// Run sends one multi-search request for all generated search types of q and
// extracts their results. Failures of single searches are reported as errors
// of the result. Failures of the whole request fail the query.
func (b *Backend) Run(ctx context.Context, q *search.Query, generated engine.GeneratedQuery, _ map[string]*search.QueryResult) (*search.QueryResult, error) {
	g, ok := generated.(*GeneratedQuery)
	if !ok {
		return nil, fmt.Errorf("unexpected generated query %T", generated)
	}

	start := time.Now()
	result := search.EmptyResult(q.ID)
	result.Errors = append(result.Errors, g.errors...)
	if len(g.searchTypes) == 0 {
		result.Stats = search.QueryExecutionStats{Timestamp: start}
		return result, nil
	}

	reqs := make([]SearchRequest, len(g.searchTypes))
	for i, c := range g.searchTypes {
		reqs[i] = SearchRequest{Indices: c.indices, Source: c.source}
	}
	responses, err := b.client.MultiSearch(ctx, reqs)
	status := statusSuccess
	if err != nil {
		status = statusFailure
	}
	b.metrics.requestDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, b.requestError(q, err)
	}

	for i, c := range g.searchTypes {
		st := c.SearchType()
		r, err := b.extract(q, c, responses[i])
		if err != nil {
			b.metrics.searchTypeErrors.Inc()
			level.Warn(b.logger).Log("msg", "search type failed", "query", q.ID, "search_type", st.ID(), "err", err)
			result.Errors = append(result.Errors, err)
			continue
		}
		result.SearchTypes[st.ID()] = r
	}
	result.Stats = search.QueryExecutionStats{
		Duration:  time.Since(start).Milliseconds(),
		Timestamp: start,
	}
	return result, nil
}

func (b *Backend) extract(q *search.Query, c *SearchTypeContext, resp *elastic.SearchResult) (search.Result, error) {
	st := c.SearchType()
	if resp == nil {
		return nil, &search.SearchTypeError{QueryID: q.ID, SearchTypeID: st.ID(), Description: "missing response"}
	}
	if resp.Error != nil {
		return nil, search.ClassifyBackendError(q.ID, st.ID(), errorReason(resp.Error), nil)
	}
	if resp.Shards != nil && resp.Shards.Failed > 0 && len(resp.Shards.Failures) > 0 {
		return nil, search.ClassifyBackendError(q.ID, st.ID(), shardFailureReason(resp.Shards.Failures), nil)
	}

	handler, ok := b.handlers.Get(b.name, st.Type())
	if !ok {
		return nil, &search.SearchTypeError{QueryID: q.ID, SearchTypeID: st.ID(), Description: "no handler for search type " + st.Type()}
	}
	r, err := handler.ExtractResult(c, resp)
	if err != nil {
		return nil, &search.SearchTypeError{QueryID: q.ID, SearchTypeID: st.ID(), Description: err.Error(), Cause: err}
	}
	return r, nil
}

func shardFailureReason(failures []*elastic.ShardOperationFailedException) string {
	for _, f := range failures {
		if f == nil {
			continue
		}
		if reason, ok := f.Reason["reason"].(string); ok && reason != "" {
			return reason
		}
	}
	return "shard failure"
}

func (b *Backend) requestError(q *search.Query, err error) error {
	var respErr *ResponseError
	switch {
	case errors.As(err, &respErr):
		return search.ClassifyBackendError(q.ID, "", respErr.Reason, err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &search.QueryError{QueryID: q.ID, Cause: fmt.Errorf("backend %s unavailable: %w", b.name, err)}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &search.QueryError{QueryID: q.ID, Cause: err}
	}
}
