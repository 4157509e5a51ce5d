package elastic

import (
	"errors"

	"github.com/olivere/elastic/v7"

	"github.com/grafana/searchplan/pkg/search"
)

type dateHistogramHandler struct{}

func (dateHistogramHandler) Generate(h *search.DateHistogram, c *SearchTypeContext) error {
	if h.Interval <= 0 {
		return errors.New("histogram interval must be positive")
	}
	name := c.NextName()
	c.Record("histogram", name)
	c.Source().Aggregation(name, elastic.NewDateHistogramAggregation().
		Field(search.TimestampField).
		FixedInterval(formatInterval(h.Interval)).
		MinDocCount(0))
	return nil
}

func (dateHistogramHandler) Extract(h *search.DateHistogram, c *SearchTypeContext, resp *elastic.SearchResult) (search.Result, error) {
	tr, err := c.EffectiveTimeRange()
	if err != nil {
		return nil, err
	}
	res := &search.DateHistogramResult{
		ID:                 h.ID(),
		Buckets:            make(map[int64]int64),
		Total:              resp.TotalHits(),
		EffectiveTimeRange: tr,
	}
	name, _ := c.Lookup("histogram")
	if agg, ok := resp.Aggregations.DateHistogram(name); ok {
		for _, b := range agg.Buckets {
			res.Buckets[int64(b.Key)/1000] = b.DocCount
		}
	}
	return res, nil
}
