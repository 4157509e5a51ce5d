package search

import "time"

const (
	TypeDateHistogram    = "date_histogram"
	TypeFieldMetric      = "field_metric"
	TypeGroupBy          = "group_by"
	TypeGroupByHistogram = "group_by_histogram"
	TypePivot            = "pivot"
	TypeMessageList      = "messages"
)

// TimestampField is the event time field of every message.
const TimestampField = "timestamp"

// SearchType is a typed analysis requested on a query.
type SearchType interface {
	ID() string
	Type() string
	Settings() *SearchTypeSettings
}

// SearchTypeSettings are the settings shared by all search types. A search
// type may narrow its query with its own query string, and replace the time
// range and streams of the query.
type SearchTypeSettings struct {
	SearchTypeID string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Query        string    `json:"query,omitempty"`
	TimeRange    TimeRange `json:"timerange,omitempty"`
	Streams      []string  `json:"streams,omitempty"`
}

func (s *SearchTypeSettings) ID() string                    { return s.SearchTypeID }
func (s *SearchTypeSettings) Settings() *SearchTypeSettings { return s }

// Direction is a sort direction.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// DateHistogram counts messages per fixed-width time bucket.
type DateHistogram struct {
	SearchTypeSettings
	Interval time.Duration `json:"interval"`
}

func (*DateHistogram) Type() string { return TypeDateHistogram }

// MetricOperation is the scalar aggregation of a FieldMetric.
type MetricOperation string

const (
	MetricAvg         MetricOperation = "avg"
	MetricCardinality MetricOperation = "cardinality"
	MetricCount       MetricOperation = "count"
	MetricMax         MetricOperation = "max"
	MetricMin         MetricOperation = "min"
	MetricSum         MetricOperation = "sum"
)

// Integer reports whether results of the operation are integers.
func (op MetricOperation) Integer() bool {
	return op == MetricCount || op == MetricCardinality
}

// FieldMetric computes one scalar aggregation over a field.
type FieldMetric struct {
	SearchTypeSettings
	Field     string          `json:"field"`
	Operation MetricOperation `json:"operation"`
}

func (*FieldMetric) Type() string { return TypeFieldMetric }

// GroupOrder is the order of groups, either by message count or by the
// lexical value of the group's terms.
type GroupOrder string

const (
	OrderCount GroupOrder = "count"
	OrderTerm  GroupOrder = "term"
)

// GroupBy counts messages per combination of values of Fields. Groups are
// nested in field order.
type GroupBy struct {
	SearchTypeSettings
	Fields    []string   `json:"fields"`
	Limit     int        `json:"limit"`
	Order     GroupOrder `json:"order,omitempty"`
	Direction Direction  `json:"direction,omitempty"`
}

func (*GroupBy) Type() string { return TypeGroupBy }

// GroupByHistogram is a GroupBy computed per time bucket.
type GroupByHistogram struct {
	GroupBy
	Interval time.Duration `json:"interval"`
}

func (*GroupByHistogram) Type() string { return TypeGroupByHistogram }

// SortField orders messages of a MessageList.
type SortField struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

// MessageList fetches a page of raw messages.
type MessageList struct {
	SearchTypeSettings
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
	Sort   []SortField `json:"sort,omitempty"`
	Fields []string    `json:"fields,omitempty"`
}

func (*MessageList) Type() string { return TypeMessageList }

// EffectiveSort returns the configured sort, or timestamp descending.
func (m *MessageList) EffectiveSort() []SortField {
	if len(m.Sort) > 0 {
		return m.Sort
	}
	return []SortField{{Field: TimestampField, Direction: Descending}}
}
