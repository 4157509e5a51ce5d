package search

import (
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Result is the typed outcome of one search type.
type Result interface {
	SearchTypeID() string
	Type() string
}

// ParameterSource is implemented by results that can supply values to
// parameters of dependent queries.
type ParameterSource interface {
	ParameterValues() ([]string, error)
}

// DateHistogramResult maps bucket start, in epoch seconds, to message count.
type DateHistogramResult struct {
	ID                 string          `json:"id"`
	Buckets            map[int64]int64 `json:"buckets"`
	Total              int64           `json:"total"`
	EffectiveTimeRange AbsoluteRange   `json:"effective_timerange"`
}

func (r *DateHistogramResult) SearchTypeID() string { return r.ID }
func (*DateHistogramResult) Type() string           { return TypeDateHistogram }

// FieldMetricResult holds a float64 for avg, max, min and sum and an int64 for
// count and cardinality.
type FieldMetricResult struct {
	ID        string          `json:"id"`
	Operation MetricOperation `json:"operation"`
	Value     any             `json:"value"`
}

func (r *FieldMetricResult) SearchTypeID() string { return r.ID }
func (*FieldMetricResult) Type() string           { return TypeFieldMetric }

func (r *FieldMetricResult) ParameterValues() ([]string, error) {
	switch v := r.Value.(type) {
	case int64:
		return []string{strconv.FormatInt(v, 10)}, nil
	case float64:
		return []string{strconv.FormatFloat(v, 'f', -1, 64)}, nil
	}
	return nil, fmt.Errorf("unsupported metric value %T", r.Value)
}

// Group is the count of one combination of group-by terms. Keys are in the
// order of the GroupBy fields.
type Group struct {
	Keys  []string `json:"keys"`
	Count int64    `json:"count"`
}

type GroupByResult struct {
	ID     string  `json:"id"`
	Groups []Group `json:"groups"`
	Total  int64   `json:"total"`
}

func (r *GroupByResult) SearchTypeID() string { return r.ID }
func (*GroupByResult) Type() string           { return TypeGroupBy }

func (r *GroupByResult) ParameterValues() ([]string, error) {
	var values []string
	seen := map[string]struct{}{}
	for _, g := range r.Groups {
		if len(g.Keys) == 0 {
			continue
		}
		if _, ok := seen[g.Keys[0]]; ok {
			continue
		}
		seen[g.Keys[0]] = struct{}{}
		values = append(values, g.Keys[0])
	}
	return values, nil
}

// GroupByHistogramResult maps bucket start, in epoch milliseconds, to the
// groups of that bucket.
type GroupByHistogramResult struct {
	ID      string                   `json:"id"`
	Results map[int64]*GroupByResult `json:"results"`
	Total   int64                    `json:"total"`
}

func (r *GroupByHistogramResult) SearchTypeID() string { return r.ID }
func (*GroupByHistogramResult) Type() string           { return TypeGroupByHistogram }

const (
	SourceLeaf       = "leaf"
	SourceNonLeaf    = "non-leaf"
	SourceRowLeaf    = "row-leaf"
	SourceColumnLeaf = "col-leaf"
)

// PivotValue is the value of one series. Key holds the column keys followed by
// the series literal.
type PivotValue struct {
	Key    []string `json:"key"`
	Value  any      `json:"value"`
	Rollup bool     `json:"rollup"`
	Source string   `json:"source"`
}

// PivotRow is one combination of row keys.
type PivotRow struct {
	Key    []string     `json:"key"`
	Values []PivotValue `json:"values"`
	Source string       `json:"source"`
}

type PivotResult struct {
	ID                 string        `json:"id"`
	Rows               []PivotRow    `json:"rows"`
	Total              int64         `json:"total"`
	EffectiveTimeRange AbsoluteRange `json:"effective_timerange"`
}

func (r *PivotResult) SearchTypeID() string { return r.ID }
func (*PivotResult) Type() string           { return TypePivot }

// ParameterValues returns the distinct keys of the first row dimension.
func (r *PivotResult) ParameterValues() ([]string, error) {
	var values []string
	seen := map[string]struct{}{}
	for _, row := range r.Rows {
		if len(row.Key) == 0 {
			continue
		}
		if _, ok := seen[row.Key[0]]; ok {
			continue
		}
		seen[row.Key[0]] = struct{}{}
		values = append(values, row.Key[0])
	}
	return values, nil
}

// Message is a raw document.
type Message struct {
	Index  string         `json:"index"`
	ID     string         `json:"id"`
	Fields map[string]any `json:"message"`
}

type MessageListResult struct {
	ID                 string        `json:"id"`
	Messages           []Message     `json:"messages"`
	Total              int64         `json:"total"`
	EffectiveTimeRange AbsoluteRange `json:"effective_timerange"`
}

func (r *MessageListResult) SearchTypeID() string { return r.ID }
func (*MessageListResult) Type() string           { return TypeMessageList }

// QueryExecutionStats describes the backend execution of a query.
type QueryExecutionStats struct {
	Duration  int64     `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}

// QueryResult collects the results of all search types of a query. Errors
// holds failures of individual search types.
type QueryResult struct {
	QueryID     string
	SearchTypes map[string]Result
	Errors      []error
	Stats       QueryExecutionStats
}

// EmptyResult returns a result without search types.
func EmptyResult(queryID string) *QueryResult {
	return &QueryResult{QueryID: queryID, SearchTypes: map[string]Result{}}
}

func (r *QueryResult) MarshalJSON() ([]byte, error) {
	errs, err := MarshalErrors(r.Errors)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		QueryID     string              `json:"query_id"`
		SearchTypes map[string]Result   `json:"search_types"`
		Errors      jsoniter.RawMessage `json:"errors"`
		Stats       QueryExecutionStats `json:"execution_stats"`
	}{r.QueryID, r.SearchTypes, jsoniter.RawMessage(errs), r.Stats})
}
