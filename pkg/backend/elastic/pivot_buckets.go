package elastic

import (
	"fmt"
	"iter"
	"time"

	"github.com/olivere/elastic/v7"

	"github.com/grafana/searchplan/pkg/search"
)

// Bucket is one bucket of a pivot dimension.
type Bucket struct {
	Aggregations elastic.Aggregations
	DocCount     int64
}

// BucketAggregation is an aggregation which nests further aggregations.
type BucketAggregation interface {
	elastic.Aggregation
	SubAggregation(name string, sub elastic.Aggregation)
}

// BucketHandler builds and decodes the aggregation of one kind of pivot
// dimension.
type BucketHandler interface {
	// CreateAggregation returns the aggregation of spec, to be registered as
	// name.
	CreateAggregation(name string, pivot *search.Pivot, spec search.BucketSpec, c *SearchTypeContext) (BucketAggregation, error)

	// HandleResult yields the buckets of the aggregation name found in aggs,
	// keyed by their rendered bucket key.
	HandleResult(pivot *search.Pivot, spec search.BucketSpec, resp *elastic.SearchResult, aggs elastic.Aggregations, name string, c *SearchTypeContext) iter.Seq2[string, Bucket]
}

type termsBucketAggregation struct{ *elastic.TermsAggregation }

func (a termsBucketAggregation) SubAggregation(name string, sub elastic.Aggregation) {
	a.TermsAggregation.SubAggregation(name, sub)
}

type histogramBucketAggregation struct{ *elastic.DateHistogramAggregation }

func (a histogramBucketAggregation) SubAggregation(name string, sub elastic.Aggregation) {
	a.DateHistogramAggregation.SubAggregation(name, sub)
}

type dateRangeBucketAggregation struct{ *elastic.DateRangeAggregation }

func (a dateRangeBucketAggregation) SubAggregation(name string, sub elastic.Aggregation) {
	a.DateRangeAggregation.SubAggregation(name, sub)
}

type orderKind int

const (
	orderByKey orderKind = iota
	orderByCount
	orderBySeries
)

type bucketOrder struct {
	kind   orderKind
	series int
	asc    bool
}

func (o bucketOrder) field(p *search.Pivot) string {
	switch o.kind {
	case orderByKey:
		return "_key"
	case orderByCount:
		return "_count"
	default:
		return seriesName(p, o.series)
	}
}

// deriveOrder returns the order given by the first sort of p which names
// either the field of spec or a series of p. count() orders by document
// count.
func deriveOrder(p *search.Pivot, spec search.BucketSpec, fallback bucketOrder) bucketOrder {
	for _, s := range p.Sort {
		asc := s.Direction == search.Ascending
		switch s.Type {
		case search.SortPivot:
			if s.Field == spec.Field() {
				return bucketOrder{kind: orderByKey, asc: asc}
			}
		case search.SortSeries:
			if s.Field == search.CountLiteral {
				return bucketOrder{kind: orderByCount, asc: asc}
			}
			if i, ok := p.SeriesByLiteral(s.Field); ok {
				return bucketOrder{kind: orderBySeries, series: i, asc: asc}
			}
		}
	}
	return fallback
}

type valuesBucketHandler struct {
	defaultLimit int
}

func (h valuesBucketHandler) CreateAggregation(_ string, p *search.Pivot, spec search.BucketSpec, _ *SearchTypeContext) (BucketAggregation, error) {
	v, ok := spec.(*search.ValuesBucket)
	if !ok {
		return nil, fmt.Errorf("unexpected bucket spec %T", spec)
	}
	limit := v.Limit
	if limit <= 0 {
		limit = h.defaultLimit
	}
	order := deriveOrder(p, spec, bucketOrder{kind: orderByCount})
	return termsBucketAggregation{
		elastic.NewTermsAggregation().
			Field(v.Field()).
			Size(limit).
			Order(order.field(p), order.asc),
	}, nil
}

func (valuesBucketHandler) HandleResult(_ *search.Pivot, _ search.BucketSpec, _ *elastic.SearchResult, aggs elastic.Aggregations, name string, _ *SearchTypeContext) iter.Seq2[string, Bucket] {
	return func(yield func(string, Bucket) bool) {
		terms, ok := aggs.Terms(name)
		if !ok {
			return
		}
		for _, b := range terms.Buckets {
			if !yield(termsKey(b), Bucket{Aggregations: b.Aggregations, DocCount: b.DocCount}) {
				return
			}
		}
	}
}

type timeBucketHandler struct{}

func (timeBucketHandler) CreateAggregation(_ string, p *search.Pivot, spec search.BucketSpec, c *SearchTypeContext) (BucketAggregation, error) {
	t, ok := spec.(*search.TimeBucket)
	if !ok {
		return nil, fmt.Errorf("unexpected bucket spec %T", spec)
	}
	if _, err := t.Location(); err != nil {
		return nil, err
	}
	interval := t.Interval
	if interval <= 0 {
		tr, err := c.EffectiveTimeRange()
		if err != nil {
			return nil, err
		}
		interval = autoInterval(tr.Duration())
	}
	order := deriveOrder(p, spec, bucketOrder{kind: orderByKey, asc: true})
	agg := elastic.NewDateHistogramAggregation().
		Field(t.Field()).
		FixedInterval(formatInterval(interval)).
		MinDocCount(1).
		Order(order.field(p), order.asc)
	if t.TimeZone != "" {
		agg.TimeZone(t.TimeZone)
	}
	return histogramBucketAggregation{agg}, nil
}

func (timeBucketHandler) HandleResult(_ *search.Pivot, spec search.BucketSpec, _ *elastic.SearchResult, aggs elastic.Aggregations, name string, _ *SearchTypeContext) iter.Seq2[string, Bucket] {
	return func(yield func(string, Bucket) bool) {
		hist, ok := aggs.DateHistogram(name)
		if !ok {
			return
		}
		loc := time.UTC
		if t, ok := spec.(*search.TimeBucket); ok {
			if l, err := t.Location(); err == nil {
				loc = l
			}
		}
		for _, b := range hist.Buckets {
			key := time.UnixMilli(int64(b.Key)).In(loc).Format(time.RFC3339)
			if !yield(key, Bucket{Aggregations: b.Aggregations, DocCount: b.DocCount}) {
				return
			}
		}
	}
}

// dateRangeFormat is the format of range boundaries in requests and
// responses.
const dateRangeFormat = "strict_date_optional_time"

type dateRangeBucketHandler struct{}

func (dateRangeBucketHandler) CreateAggregation(_ string, _ *search.Pivot, spec search.BucketSpec, _ *SearchTypeContext) (BucketAggregation, error) {
	d, ok := spec.(*search.DateRangeBucket)
	if !ok {
		return nil, fmt.Errorf("unexpected bucket spec %T", spec)
	}
	if len(d.Ranges) == 0 {
		return nil, fmt.Errorf("date range bucket on %s has no ranges", d.Field())
	}
	agg := elastic.NewDateRangeAggregation().Field(d.Field()).Format(dateRangeFormat)
	for _, r := range d.Ranges {
		agg.AddRange(rangeBound(r.From), rangeBound(r.To))
	}
	return dateRangeBucketAggregation{agg}, nil
}

func rangeBound(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func (dateRangeBucketHandler) HandleResult(_ *search.Pivot, spec search.BucketSpec, _ *elastic.SearchResult, aggs elastic.Aggregations, name string, _ *SearchTypeContext) iter.Seq2[string, Bucket] {
	return func(yield func(string, Bucket) bool) {
		ranges, ok := aggs.DateRange(name)
		if !ok {
			return
		}
		bucketKey := search.BucketKeyFrom
		if d, ok := spec.(*search.DateRangeBucket); ok && d.BucketKey != "" {
			bucketKey = d.BucketKey
		}
		for _, b := range ranges.Buckets {
			key := rangeKey(b.FromAsString, b.From)
			if bucketKey == search.BucketKeyTo {
				key = rangeKey(b.ToAsString, b.To)
			}
			if !yield(key, Bucket{Aggregations: b.Aggregations, DocCount: b.DocCount}) {
				return
			}
		}
	}
}

// rangeKey renders a range boundary. Unbounded sides are "*".
func rangeKey(formatted string, millis *float64) string {
	switch {
	case formatted != "":
		return formatted
	case millis != nil:
		return time.UnixMilli(int64(*millis)).UTC().Format(time.RFC3339)
	default:
		return "*"
	}
}
