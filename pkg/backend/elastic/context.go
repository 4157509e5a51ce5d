package elastic

import (
	"fmt"
	"sync"

	"github.com/olivere/elastic/v7"

	"github.com/grafana/searchplan/pkg/search"
)

// GeneratedQuery is a query compiled into one search request per search type.
type GeneratedQuery struct {
	QueryID string

	searchTypes []*SearchTypeContext
	// errors of search types which could not be generated.
	errors []error
}

// SearchType returns the context of the search type with the given id.
func (g *GeneratedQuery) SearchType(id string) (*SearchTypeContext, bool) {
	for _, c := range g.searchTypes {
		if c.searchType.ID() == id {
			return c, true
		}
	}
	return nil, false
}

// Errors returns the generation errors of single search types.
func (g *GeneratedQuery) Errors() []error { return g.errors }

func (g *GeneratedQuery) String() string {
	sources := make(map[string]any, len(g.searchTypes))
	for _, c := range g.searchTypes {
		src, err := c.source.Source()
		if err != nil {
			src = err.Error()
		}
		sources[c.searchType.ID()] = map[string]any{
			"indices": c.indices,
			"source":  src,
		}
	}
	out, err := json.Marshal(sources)
	if err != nil {
		return fmt.Sprintf("query %s: %v", g.QueryID, err)
	}
	return string(out)
}

// SearchTypeContext is the isolated request building state of one search
// type. Aggregation names are unique within the context and handlers record
// them by key to find them again when extracting the response.
type SearchTypeContext struct {
	query      *search.Query
	searchType search.SearchType
	source     *elastic.SearchSource
	indices    []string

	next         int
	aggregations map[string]string

	effectiveTimeRange func() (search.AbsoluteRange, error)
}

func newSearchTypeContext(q *search.Query, st search.SearchType, resolver search.TimeRangeResolver) *SearchTypeContext {
	return &SearchTypeContext{
		query:        q,
		searchType:   st,
		source:       elastic.NewSearchSource(),
		aggregations: make(map[string]string),
		effectiveTimeRange: sync.OnceValues(func() (search.AbsoluteRange, error) {
			return resolver.Resolve(q.TimeRange, st.Settings().TimeRange)
		}),
	}
}

func (c *SearchTypeContext) Query() *search.Query { return c.query }

func (c *SearchTypeContext) SearchType() search.SearchType { return c.searchType }

func (c *SearchTypeContext) Source() *elastic.SearchSource { return c.source }

// NextName returns a new aggregation name, prefixed with the search type id.
func (c *SearchTypeContext) NextName() string {
	name := fmt.Sprintf("%s-agg-%d", c.searchType.ID(), c.next)
	c.next++
	return name
}

// Record remembers the aggregation name of key.
func (c *SearchTypeContext) Record(key, name string) {
	c.aggregations[key] = name
}

// Lookup returns the aggregation name recorded for key.
func (c *SearchTypeContext) Lookup(key string) (string, bool) {
	name, ok := c.aggregations[key]
	return name, ok
}

// DeclaredTimeRange is the time range override of the search type, or the
// range of the query.
func (c *SearchTypeContext) DeclaredTimeRange() search.TimeRange {
	if tr := c.searchType.Settings().TimeRange; tr != nil {
		return tr
	}
	return c.query.TimeRange
}

// EffectiveTimeRange resolves the declared time range. It is resolved once
// and reused for the rest of the query.
func (c *SearchTypeContext) EffectiveTimeRange() (search.AbsoluteRange, error) {
	return c.effectiveTimeRange()
}

// Streams returns the streams searched by the search type.
func (c *SearchTypeContext) Streams() []string {
	if streams := c.searchType.Settings().Streams; len(streams) > 0 {
		return streams
	}
	return c.query.Streams
}
