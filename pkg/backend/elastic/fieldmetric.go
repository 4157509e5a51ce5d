package elastic

import (
	"fmt"

	"github.com/olivere/elastic/v7"

	"github.com/grafana/searchplan/pkg/search"
)

type fieldMetricHandler struct{}

func (fieldMetricHandler) Generate(m *search.FieldMetric, c *SearchTypeContext) error {
	var agg elastic.Aggregation
	switch m.Operation {
	case search.MetricAvg:
		agg = elastic.NewAvgAggregation().Field(m.Field)
	case search.MetricCardinality:
		agg = elastic.NewCardinalityAggregation().Field(m.Field)
	case search.MetricCount:
		agg = elastic.NewValueCountAggregation().Field(m.Field)
	case search.MetricMax:
		agg = elastic.NewMaxAggregation().Field(m.Field)
	case search.MetricMin:
		agg = elastic.NewMinAggregation().Field(m.Field)
	case search.MetricSum:
		agg = elastic.NewSumAggregation().Field(m.Field)
	default:
		return fmt.Errorf("unsupported metric operation %q", m.Operation)
	}
	name := c.NextName()
	c.Record("metric", name)
	c.Source().Aggregation(name, agg)
	return nil
}

func (fieldMetricHandler) Extract(m *search.FieldMetric, c *SearchTypeContext, resp *elastic.SearchResult) (search.Result, error) {
	name, _ := c.Lookup("metric")

	var (
		metric *elastic.AggregationValueMetric
		found  bool
	)
	switch m.Operation {
	case search.MetricAvg:
		metric, found = resp.Aggregations.Avg(name)
	case search.MetricCardinality:
		metric, found = resp.Aggregations.Cardinality(name)
	case search.MetricCount:
		metric, found = resp.Aggregations.ValueCount(name)
	case search.MetricMax:
		metric, found = resp.Aggregations.Max(name)
	case search.MetricMin:
		metric, found = resp.Aggregations.Min(name)
	case search.MetricSum:
		metric, found = resp.Aggregations.Sum(name)
	default:
		return nil, fmt.Errorf("unsupported metric operation %q", m.Operation)
	}

	var value float64
	if found && metric.Value != nil {
		value = *metric.Value
	}
	res := &search.FieldMetricResult{ID: m.ID(), Operation: m.Operation, Value: value}
	if m.Operation.Integer() {
		res.Value = int64(value)
	}
	return res, nil
}
