package search

import (
	"fmt"
	"time"
)

const (
	BucketValues    = "values"
	BucketTime      = "time"
	BucketDateRange = "date_range"
)

// BucketSpec is one dimension of a pivot.
type BucketSpec interface {
	Type() string
	Field() string
}

// ValuesBucket groups by the distinct values of a field.
type ValuesBucket struct {
	FieldName string `json:"field"`
	Limit     int    `json:"limit,omitempty"`
}

func (*ValuesBucket) Type() string    { return BucketValues }
func (b *ValuesBucket) Field() string { return b.FieldName }

// TimeBucket groups by time. A zero Interval is picked automatically from the
// effective time range of the pivot.
type TimeBucket struct {
	FieldName string        `json:"field"`
	Interval  time.Duration `json:"interval,omitempty"`
	TimeZone  string        `json:"timezone,omitempty"`
}

func (*TimeBucket) Type() string    { return BucketTime }
func (b *TimeBucket) Field() string { return b.FieldName }

// Location returns the time zone of the bucket keys.
func (b *TimeBucket) Location() (*time.Location, error) {
	if b.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(b.TimeZone)
}

// BucketKey selects which boundary names a date range bucket.
type BucketKey string

const (
	BucketKeyFrom BucketKey = "from"
	BucketKeyTo   BucketKey = "to"
)

// DateRange is a range of a DateRangeBucket. A zero boundary is unbounded.
type DateRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// DateRangeBucket groups by explicit date ranges.
type DateRangeBucket struct {
	FieldName string      `json:"field"`
	Ranges    []DateRange `json:"ranges"`
	BucketKey BucketKey   `json:"bucket_key,omitempty"`
}

func (*DateRangeBucket) Type() string    { return BucketDateRange }
func (b *DateRangeBucket) Field() string { return b.FieldName }

// SeriesFunction is the aggregate function of a series.
type SeriesFunction string

const (
	SeriesCount       SeriesFunction = "count"
	SeriesAvg         SeriesFunction = "avg"
	SeriesMax         SeriesFunction = "max"
	SeriesMin         SeriesFunction = "min"
	SeriesSum         SeriesFunction = "sum"
	SeriesCardinality SeriesFunction = "card"
)

// SeriesSpec is an aggregate function computed for each pivot bucket.
type SeriesSpec struct {
	Function SeriesFunction `json:"function"`
	Field    string         `json:"field,omitempty"`
}

// Literal is the canonical name of the series, e.g. "count()" or "avg(took_ms)".
func (s SeriesSpec) Literal() string {
	return fmt.Sprintf("%s(%s)", s.Function, s.Field)
}

// CountLiteral names the document count series.
const CountLiteral = "count()"

const (
	SortPivot  = "pivot"
	SortSeries = "series"
)

// SortSpec orders pivot buckets by a bucket field (SortPivot) or by the value
// of a series literal (SortSeries).
type SortSpec struct {
	Type      string    `json:"type"`
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

// Pivot groups messages along row and column dimensions and computes series
// for each combination of buckets.
type Pivot struct {
	SearchTypeSettings
	RowGroups    []BucketSpec `json:"row_groups"`
	ColumnGroups []BucketSpec `json:"column_groups,omitempty"`
	Series       []SeriesSpec `json:"series"`
	Sort         []SortSpec   `json:"sort,omitempty"`
	Rollup       bool         `json:"rollup"`
}

func (*Pivot) Type() string { return TypePivot }

// SeriesByLiteral returns the index of the series with the given literal.
func (p *Pivot) SeriesByLiteral(literal string) (int, bool) {
	for i, s := range p.Series {
		if s.Literal() == literal {
			return i, true
		}
	}
	return 0, false
}
