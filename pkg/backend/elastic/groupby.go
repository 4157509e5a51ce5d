package elastic

import (
	"errors"
	"fmt"

	"github.com/olivere/elastic/v7"

	"github.com/grafana/searchplan/pkg/search"
)

type groupByHandler struct {
	defaultLimit int
}

func (h groupByHandler) Generate(g *search.GroupBy, c *SearchTypeContext) error {
	name, agg, err := h.terms(g, c)
	if err != nil {
		return err
	}
	c.Source().Aggregation(name, agg)
	return nil
}

func (h groupByHandler) Extract(g *search.GroupBy, c *SearchTypeContext, resp *elastic.SearchResult) (search.Result, error) {
	return &search.GroupByResult{
		ID:     g.ID(),
		Groups: h.groups(g, c, resp.Aggregations),
		Total:  resp.TotalHits(),
	}, nil
}

func (h groupByHandler) limit(g *search.GroupBy) int {
	if g.Limit > 0 {
		return g.Limit
	}
	return h.defaultLimit
}

// terms builds one terms aggregation per field, each nested in the one of
// the previous field, and returns the outermost.
func (h groupByHandler) terms(g *search.GroupBy, c *SearchTypeContext) (string, elastic.Aggregation, error) {
	if len(g.Fields) == 0 {
		return "", nil, errors.New("group by requires at least one field")
	}
	names := make([]string, len(g.Fields))
	for i := range g.Fields {
		names[i] = c.NextName()
		c.Record(groupKey(i), names[i])
	}

	orderBy, asc := "_count", g.Direction == search.Ascending
	if g.Order == search.OrderTerm {
		orderBy, asc = "_key", g.Direction != search.Descending
	}

	var inner *elastic.TermsAggregation
	for i := len(g.Fields) - 1; i >= 0; i-- {
		terms := elastic.NewTermsAggregation().
			Field(g.Fields[i]).
			Size(h.limit(g)).
			Order(orderBy, asc)
		if inner != nil {
			terms.SubAggregation(names[i+1], inner)
		}
		inner = terms
	}
	return names[0], inner, nil
}

// groups flattens the nested terms buckets below aggs into one group per
// combination of terms.
func (h groupByHandler) groups(g *search.GroupBy, c *SearchTypeContext, aggs elastic.Aggregations) []search.Group {
	groups := []search.Group{}
	collectGroups(c, aggs, 0, len(g.Fields), nil, &groups)
	if limit := h.limit(g); len(groups) > limit {
		groups = groups[:limit]
	}
	return groups
}

func collectGroups(c *SearchTypeContext, aggs elastic.Aggregations, depth, fields int, keys []string, out *[]search.Group) {
	name, _ := c.Lookup(groupKey(depth))
	terms, ok := aggs.Terms(name)
	if !ok {
		return
	}
	for _, b := range terms.Buckets {
		bucketKeys := append(keys[:len(keys):len(keys)], termsKey(b))
		if depth == fields-1 {
			*out = append(*out, search.Group{Keys: bucketKeys, Count: b.DocCount})
			continue
		}
		collectGroups(c, b.Aggregations, depth+1, fields, bucketKeys, out)
	}
}

func groupKey(depth int) string { return fmt.Sprintf("group-%d", depth) }

// termsKey renders the key of a terms bucket.
func termsKey(b *elastic.AggregationBucketKeyItem) string {
	if s, ok := b.Key.(string); ok {
		return s
	}
	if b.KeyAsString != nil {
		return *b.KeyAsString
	}
	if b.KeyNumber != "" {
		return b.KeyNumber.String()
	}
	return fmt.Sprint(b.Key)
}

type groupByHistogramHandler struct {
	defaultLimit int
}

func (h groupByHistogramHandler) Generate(g *search.GroupByHistogram, c *SearchTypeContext) error {
	if g.Interval <= 0 {
		return errors.New("histogram interval must be positive")
	}
	name := c.NextName()
	c.Record("histogram", name)
	termsName, terms, err := groupByHandler(h).terms(&g.GroupBy, c)
	if err != nil {
		return err
	}
	c.Source().Aggregation(name, elastic.NewDateHistogramAggregation().
		Field(search.TimestampField).
		FixedInterval(formatInterval(g.Interval)).
		SubAggregation(termsName, terms))
	return nil
}

func (h groupByHistogramHandler) Extract(g *search.GroupByHistogram, c *SearchTypeContext, resp *elastic.SearchResult) (search.Result, error) {
	res := &search.GroupByHistogramResult{
		ID:      g.ID(),
		Results: make(map[int64]*search.GroupByResult),
		Total:   resp.TotalHits(),
	}
	name, _ := c.Lookup("histogram")
	hist, ok := resp.Aggregations.DateHistogram(name)
	if !ok {
		return res, nil
	}
	for _, b := range hist.Buckets {
		res.Results[int64(b.Key)] = &search.GroupByResult{
			ID:     g.ID(),
			Groups: groupByHandler(h).groups(&g.GroupBy, c, b.Aggregations),
			Total:  b.DocCount,
		}
	}
	return res, nil
}
