package elastic

import (
	"fmt"

	"github.com/olivere/elastic/v7"

	"github.com/grafana/searchplan/pkg/search"
)

// SeriesHandler computes one series function per pivot bucket.
type SeriesHandler interface {
	// CreateAggregation returns the metric aggregation of spec, or nil when
	// the value is read from the bucket itself.
	CreateAggregation(name string, spec search.SeriesSpec) (elastic.Aggregation, error)
	HandleResult(spec search.SeriesSpec, name string, bucket Bucket) any
}

type countSeries struct{}

func (countSeries) CreateAggregation(name string, spec search.SeriesSpec) (elastic.Aggregation, error) {
	if spec.Field == "" {
		return nil, nil
	}
	return elastic.NewValueCountAggregation().Field(spec.Field), nil
}

func (countSeries) HandleResult(spec search.SeriesSpec, name string, bucket Bucket) any {
	if spec.Field == "" {
		return bucket.DocCount
	}
	m, _ := bucket.Aggregations.ValueCount(name)
	return int64(metricValue(m))
}

type cardinalitySeries struct{}

func (cardinalitySeries) CreateAggregation(name string, spec search.SeriesSpec) (elastic.Aggregation, error) {
	if spec.Field == "" {
		return nil, fmt.Errorf("series %s requires a field", spec.Literal())
	}
	return elastic.NewCardinalityAggregation().Field(spec.Field), nil
}

func (cardinalitySeries) HandleResult(_ search.SeriesSpec, name string, bucket Bucket) any {
	m, _ := bucket.Aggregations.Cardinality(name)
	return int64(metricValue(m))
}

// valueSeries are the float valued series avg, max, min and sum.
type valueSeries struct {
	newAggregation func(field string) elastic.Aggregation
	value          func(aggs elastic.Aggregations, name string) (*elastic.AggregationValueMetric, bool)
}

func (s valueSeries) CreateAggregation(name string, spec search.SeriesSpec) (elastic.Aggregation, error) {
	if spec.Field == "" {
		return nil, fmt.Errorf("series %s requires a field", spec.Literal())
	}
	return s.newAggregation(spec.Field), nil
}

func (s valueSeries) HandleResult(_ search.SeriesSpec, name string, bucket Bucket) any {
	m, _ := s.value(bucket.Aggregations, name)
	return metricValue(m)
}

// metricValue is the value of m, or 0 for missing and empty metrics.
func metricValue(m *elastic.AggregationValueMetric) float64 {
	if m == nil || m.Value == nil {
		return 0
	}
	return *m.Value
}

func defaultSeriesHandlers() map[search.SeriesFunction]SeriesHandler {
	return map[search.SeriesFunction]SeriesHandler{
		search.SeriesCount:       countSeries{},
		search.SeriesCardinality: cardinalitySeries{},
		search.SeriesAvg: valueSeries{
			newAggregation: func(f string) elastic.Aggregation { return elastic.NewAvgAggregation().Field(f) },
			value:          elastic.Aggregations.Avg,
		},
		search.SeriesMax: valueSeries{
			newAggregation: func(f string) elastic.Aggregation { return elastic.NewMaxAggregation().Field(f) },
			value:          elastic.Aggregations.Max,
		},
		search.SeriesMin: valueSeries{
			newAggregation: func(f string) elastic.Aggregation { return elastic.NewMinAggregation().Field(f) },
			value:          elastic.Aggregations.Min,
		},
		search.SeriesSum: valueSeries{
			newAggregation: func(f string) elastic.Aggregation { return elastic.NewSumAggregation().Field(f) },
			value:          elastic.Aggregations.Sum,
		},
	}
}
