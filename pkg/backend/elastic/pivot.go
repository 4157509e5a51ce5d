package elastic

import (
	"fmt"
	"time"

	"github.com/olivere/elastic/v7"

	"github.com/grafana/searchplan/pkg/search"
)

// MissingBucketKey is the key of the bucket of messages lacking the field of
// a values dimension.
const MissingBucketKey = "(Empty Value)"

type pivotHandler struct {
	buckets map[string]BucketHandler
	series  map[search.SeriesFunction]SeriesHandler
}

func newPivotHandler(valuesLimit int) *pivotHandler {
	return &pivotHandler{
		buckets: map[string]BucketHandler{
			search.BucketValues:    valuesBucketHandler{defaultLimit: valuesLimit},
			search.BucketTime:      timeBucketHandler{},
			search.BucketDateRange: dateRangeBucketHandler{},
		},
		series: defaultSeriesHandlers(),
	}
}

// pivotLevel is one row or column dimension of a pivot.
type pivotLevel struct {
	key     string
	spec    search.BucketSpec
	handler BucketHandler
	name    string
}

type namedAggregation struct {
	name string
	agg  elastic.Aggregation
}

func seriesName(p *search.Pivot, i int) string {
	return fmt.Sprintf("%s-series-%d", p.ID(), i)
}

func missingName(name string) string { return name + "-missing" }

func timestampName(p *search.Pivot, bound string) string {
	return fmt.Sprintf("%s-timestamp-%s", p.ID(), bound)
}

// levels returns the row dimensions followed by the column dimensions.
func (h *pivotHandler) levels(p *search.Pivot) ([]*pivotLevel, error) {
	levels := make([]*pivotLevel, 0, len(p.RowGroups)+len(p.ColumnGroups))
	add := func(kind string, specs []search.BucketSpec) error {
		for i, spec := range specs {
			handler, ok := h.buckets[spec.Type()]
			if !ok {
				return fmt.Errorf("unsupported bucket type %q", spec.Type())
			}
			levels = append(levels, &pivotLevel{
				key:     fmt.Sprintf("%s-%d", kind, i),
				spec:    spec,
				handler: handler,
			})
		}
		return nil
	}
	if err := add("row", p.RowGroups); err != nil {
		return nil, err
	}
	if err := add("column", p.ColumnGroups); err != nil {
		return nil, err
	}
	return levels, nil
}

func (h *pivotHandler) Generate(p *search.Pivot, c *SearchTypeContext) error {
	levels, err := h.levels(p)
	if err != nil {
		return err
	}

	series := make([]namedAggregation, 0, len(p.Series))
	for i, s := range p.Series {
		handler, ok := h.series[s.Function]
		if !ok {
			return fmt.Errorf("unsupported series function %q", s.Function)
		}
		agg, err := handler.CreateAggregation(seriesName(p, i), s)
		if err != nil {
			return err
		}
		if agg != nil {
			series = append(series, namedAggregation{seriesName(p, i), agg})
		}
	}

	aggs := make([]BucketAggregation, len(levels))
	for i, l := range levels {
		l.name = c.NextName()
		c.Record(l.key, l.name)
		if aggs[i], err = l.handler.CreateAggregation(l.name, p, l.spec, c); err != nil {
			return err
		}
	}

	// Nest from the innermost dimension outwards. Series are computed on the
	// innermost level, on levels ordered by a series and on every level when
	// rolling up.
	var below []namedAggregation
	for i := len(levels) - 1; i >= 0; i-- {
		l := levels[i]
		subs := below
		if i == len(levels)-1 || p.Rollup || deriveOrder(p, l.spec, bucketOrder{}).kind == orderBySeries {
			subs = append(subs[:len(subs):len(subs)], series...)
		}
		for _, sub := range subs {
			aggs[i].SubAggregation(sub.name, sub.agg)
		}
		below = []namedAggregation{{l.name, aggs[i]}}

		if l.spec.Type() == search.BucketValues {
			missing := elastic.NewMissingAggregation().Field(l.spec.Field())
			for _, sub := range subs {
				missing.SubAggregation(sub.name, sub.agg)
			}
			below = append(below, namedAggregation{missingName(l.name), missing})
		}
	}
	for _, a := range below {
		c.Source().Aggregation(a.name, a.agg)
	}
	if len(levels) == 0 || p.Rollup {
		for _, s := range series {
			c.Source().Aggregation(s.name, s.agg)
		}
	}

	if search.AllMessages(c.DeclaredTimeRange()) {
		c.Source().Aggregation(timestampName(p, "min"), elastic.NewMinAggregation().Field(search.TimestampField))
		c.Source().Aggregation(timestampName(p, "max"), elastic.NewMaxAggregation().Field(search.TimestampField))
	}
	return nil
}

func (h *pivotHandler) Extract(p *search.Pivot, c *SearchTypeContext, resp *elastic.SearchResult) (search.Result, error) {
	levels, err := h.levels(p)
	if err != nil {
		return nil, err
	}
	for _, l := range levels {
		l.name, _ = c.Lookup(l.key)
	}
	tr, err := c.EffectiveTimeRange()
	if err != nil {
		return nil, err
	}

	x := &pivotExtraction{
		handler: h,
		pivot:   p,
		c:       c,
		resp:    resp,
		rows:    levels[:len(p.RowGroups)],
		columns: levels[len(p.RowGroups):],
	}
	res := &search.PivotResult{
		ID:                 p.ID(),
		Rows:               []search.PivotRow{},
		Total:              resp.TotalHits(),
		EffectiveTimeRange: tr,
	}
	x.processRows(x.rows, []string{}, Bucket{Aggregations: resp.Aggregations, DocCount: resp.TotalHits()}, &res.Rows)

	if search.AllMessages(c.DeclaredTimeRange()) {
		res.EffectiveTimeRange = narrowTimeRange(tr, resp.Aggregations, p)
	}
	return res, nil
}

// narrowTimeRange limits tr to the timestamps of the oldest and newest
// matching message.
func narrowTimeRange(tr search.AbsoluteRange, aggs elastic.Aggregations, p *search.Pivot) search.AbsoluteRange {
	oldest, okOldest := aggs.Min(timestampName(p, "min"))
	newest, okNewest := aggs.Max(timestampName(p, "max"))
	if !okOldest || !okNewest || oldest.Value == nil || newest.Value == nil {
		return tr
	}
	return search.AbsoluteRange{
		From: time.UnixMilli(int64(*oldest.Value)).UTC(),
		To:   time.UnixMilli(int64(*newest.Value)).UTC(),
	}
}

type pivotExtraction struct {
	handler *pivotHandler
	pivot   *search.Pivot
	c       *SearchTypeContext
	resp    *elastic.SearchResult
	rows    []*pivotLevel
	columns []*pivotLevel
}

// buckets yields the buckets of level l below b, followed by the bucket of
// messages missing the field of a values dimension.
func (x *pivotExtraction) buckets(l *pivotLevel, b Bucket, yield func(string, Bucket)) {
	for key, sub := range l.handler.HandleResult(x.pivot, l.spec, x.resp, b.Aggregations, l.name, x.c) {
		yield(key, sub)
	}
	if l.spec.Type() != search.BucketValues {
		return
	}
	if missing, ok := b.Aggregations.Missing(missingName(l.name)); ok && missing.DocCount > 0 {
		yield(MissingBucketKey, Bucket{Aggregations: missing.Aggregations, DocCount: missing.DocCount})
	}
}

func (x *pivotExtraction) processRows(levels []*pivotLevel, keys []string, b Bucket, out *[]search.PivotRow) {
	if len(levels) == 0 {
		row := search.PivotRow{Key: keys, Values: []search.PivotValue{}, Source: search.SourceLeaf}
		x.processColumns(x.columns, nil, b, &row)
		if x.pivot.Rollup || len(x.columns) == 0 {
			row.Values = append(row.Values, x.seriesValues(nil, b, true, search.SourceRowLeaf)...)
		}
		*out = append(*out, row)
		return
	}

	x.buckets(levels[0], b, func(key string, sub Bucket) {
		x.processRows(levels[1:], append(keys[:len(keys):len(keys)], key), sub, out)
	})
	if x.pivot.Rollup && len(keys) > 0 {
		*out = append(*out, search.PivotRow{
			Key:    keys,
			Values: x.seriesValues(nil, b, true, search.SourceNonLeaf),
			Source: search.SourceNonLeaf,
		})
	}
}

func (x *pivotExtraction) processColumns(levels []*pivotLevel, keys []string, b Bucket, row *search.PivotRow) {
	if len(levels) == 0 {
		if len(keys) > 0 {
			row.Values = append(row.Values, x.seriesValues(keys, b, false, search.SourceColumnLeaf)...)
		}
		return
	}

	x.buckets(levels[0], b, func(key string, sub Bucket) {
		x.processColumns(levels[1:], append(keys[:len(keys):len(keys)], key), sub, row)
	})
	if x.pivot.Rollup && len(keys) > 0 {
		row.Values = append(row.Values, x.seriesValues(keys, b, true, search.SourceNonLeaf)...)
	}
}

// seriesValues reads every series of the pivot from b. Values are keyed by
// the column keys followed by the series literal.
func (x *pivotExtraction) seriesValues(columnKeys []string, b Bucket, rollup bool, source string) []search.PivotValue {
	values := make([]search.PivotValue, 0, len(x.pivot.Series))
	for i, s := range x.pivot.Series {
		handler, ok := x.handler.series[s.Function]
		if !ok {
			continue
		}
		values = append(values, search.PivotValue{
			Key:    append(columnKeys[:len(columnKeys):len(columnKeys)], s.Literal()),
			Value:  handler.HandleResult(s, seriesName(x.pivot, i), b),
			Rollup: rollup,
			Source: source,
		})
	}
	return values
}
