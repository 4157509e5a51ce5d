package search

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/prometheus/common/model"
)

// DecodeSearch reads a search document. A search without id is given a
// random one. Every query is structurally validated.
func DecodeSearch(r io.Reader) (*Search, error) {
	var w struct {
		ID         string                `json:"id"`
		Queries    []jsoniter.RawMessage `json:"queries"`
		Parameters []Parameter           `json:"parameters"`
	}
	if err := json.NewDecoder(r).Decode(&w); err != nil {
		return nil, errors.Wrap(err, "decoding search")
	}

	s := &Search{ID: w.ID, Parameters: w.Parameters}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	for i, raw := range w.Queries {
		q, err := decodeQuery(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding query %d", i)
		}
		if err := q.Validate(); err != nil {
			return nil, err
		}
		s.Queries = append(s.Queries, q)
	}
	return s, nil
}

func decodeQuery(raw []byte) (*Query, error) {
	var w struct {
		ID          string                `json:"id"`
		Query       BackendQuery          `json:"query"`
		TimeRange   jsoniter.RawMessage   `json:"timerange"`
		Streams     []string              `json:"streams"`
		Bindings    []ParameterBinding    `json:"bindings"`
		SearchTypes []jsoniter.RawMessage `json:"search_types"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}

	tr, err := decodeTimeRange(w.TimeRange)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		tr = RelativeRange{Range: 5 * time.Minute}
	}
	q := &Query{
		ID:        w.ID,
		Query:     w.Query,
		TimeRange: tr,
		Streams:   w.Streams,
		Bindings:  w.Bindings,
	}
	for _, rawST := range w.SearchTypes {
		st, err := decodeSearchType(rawST)
		if err != nil {
			return nil, errors.Wrapf(err, "query %s", w.ID)
		}
		q.SearchTypes = append(q.SearchTypes, st)
	}
	return q, nil
}

func decodeTimeRange(raw []byte) (TimeRange, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var w struct {
		Type     string    `json:"type"`
		From     time.Time `json:"from"`
		To       time.Time `json:"to"`
		Range    string    `json:"range"`
		Keyword  string    `json:"keyword"`
		TimeZone string    `json:"timezone"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	switch w.Type {
	case TimeRangeAbsolute:
		return AbsoluteRange{From: w.From, To: w.To}, nil
	case TimeRangeRelative:
		d, err := parseDuration(w.Range)
		if err != nil {
			return nil, err
		}
		return RelativeRange{Range: d}, nil
	case TimeRangeKeyword:
		return KeywordRange{Keyword: w.Keyword, TimeZone: w.TimeZone}, nil
	}
	return nil, fmt.Errorf("unknown time range type %q", w.Type)
}

// parseDuration accepts Prometheus durations ("90s", "1d"). Empty and "0"
// are zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" || s == "auto" {
		return 0, nil
	}
	d, err := model.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(d), nil
}

func decodeSearchType(raw []byte) (SearchType, error) {
	var w struct {
		Type      string              `json:"type"`
		ID        string              `json:"id"`
		Name      string              `json:"name"`
		Query     string              `json:"query"`
		TimeRange jsoniter.RawMessage `json:"timerange"`
		Streams   []string            `json:"streams"`

		Interval  string          `json:"interval"`
		Field     string          `json:"field"`
		Operation MetricOperation `json:"operation"`
		Fields    []string        `json:"fields"`
		Limit     int             `json:"limit"`
		Offset    int             `json:"offset"`
		Order     GroupOrder      `json:"order"`
		Direction Direction       `json:"direction"`

		Sort         []jsoniter.RawMessage `json:"sort"`
		RowGroups    []jsoniter.RawMessage `json:"row_groups"`
		ColumnGroups []jsoniter.RawMessage `json:"column_groups"`
		Series       []jsoniter.RawMessage `json:"series"`
		Rollup       bool                  `json:"rollup"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	tr, err := decodeTimeRange(w.TimeRange)
	if err != nil {
		return nil, errors.Wrapf(err, "search type %s", w.ID)
	}
	settings := SearchTypeSettings{
		SearchTypeID: w.ID,
		Name:         w.Name,
		Query:        w.Query,
		TimeRange:    tr,
		Streams:      w.Streams,
	}
	interval, err := parseDuration(w.Interval)
	if err != nil {
		return nil, errors.Wrapf(err, "search type %s", w.ID)
	}
	groupBy := GroupBy{
		SearchTypeSettings: settings,
		Fields:             w.Fields,
		Limit:              w.Limit,
		Order:              w.Order,
		Direction:          w.Direction,
	}

	switch w.Type {
	case TypeDateHistogram:
		if interval <= 0 {
			return nil, fmt.Errorf("search type %s: interval must be positive", w.ID)
		}
		return &DateHistogram{SearchTypeSettings: settings, Interval: interval}, nil
	case TypeFieldMetric:
		return &FieldMetric{SearchTypeSettings: settings, Field: w.Field, Operation: w.Operation}, nil
	case TypeGroupBy:
		return &groupBy, nil
	case TypeGroupByHistogram:
		if interval <= 0 {
			return nil, fmt.Errorf("search type %s: interval must be positive", w.ID)
		}
		return &GroupByHistogram{GroupBy: groupBy, Interval: interval}, nil
	case TypeMessageList:
		m := &MessageList{SearchTypeSettings: settings, Limit: w.Limit, Offset: w.Offset, Fields: w.Fields}
		for _, rawSort := range w.Sort {
			var sf SortField
			if err := json.Unmarshal(rawSort, &sf); err != nil {
				return nil, err
			}
			m.Sort = append(m.Sort, sf)
		}
		return m, nil
	case TypePivot:
		p := &Pivot{SearchTypeSettings: settings, Rollup: w.Rollup}
		if p.RowGroups, err = decodeBuckets(w.RowGroups); err != nil {
			return nil, errors.Wrapf(err, "pivot %s", w.ID)
		}
		if p.ColumnGroups, err = decodeBuckets(w.ColumnGroups); err != nil {
			return nil, errors.Wrapf(err, "pivot %s", w.ID)
		}
		for _, rawSeries := range w.Series {
			s, err := decodeSeries(rawSeries)
			if err != nil {
				return nil, errors.Wrapf(err, "pivot %s", w.ID)
			}
			p.Series = append(p.Series, s)
		}
		for _, rawSort := range w.Sort {
			var ss SortSpec
			if err := json.Unmarshal(rawSort, &ss); err != nil {
				return nil, err
			}
			p.Sort = append(p.Sort, ss)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown search type %q", w.Type)
}

func decodeBuckets(raws []jsoniter.RawMessage) ([]BucketSpec, error) {
	var out []BucketSpec
	for _, raw := range raws {
		var w struct {
			Type      string      `json:"type"`
			Field     string      `json:"field"`
			Limit     int         `json:"limit"`
			Interval  string      `json:"interval"`
			TimeZone  string      `json:"timezone"`
			Ranges    []DateRange `json:"ranges"`
			BucketKey BucketKey   `json:"bucket_key"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		switch w.Type {
		case BucketValues:
			out = append(out, &ValuesBucket{FieldName: w.Field, Limit: w.Limit})
		case BucketTime:
			interval, err := parseDuration(w.Interval)
			if err != nil {
				return nil, err
			}
			out = append(out, &TimeBucket{FieldName: w.Field, Interval: interval, TimeZone: w.TimeZone})
		case BucketDateRange:
			key := w.BucketKey
			if key == "" {
				key = BucketKeyFrom
			}
			out = append(out, &DateRangeBucket{FieldName: w.Field, Ranges: w.Ranges, BucketKey: key})
		default:
			return nil, fmt.Errorf("unknown bucket type %q", w.Type)
		}
	}
	return out, nil
}

// decodeSeries accepts either {"function": "avg", "field": "took_ms"} or the
// literal "avg(took_ms)".
func decodeSeries(raw []byte) (SeriesSpec, error) {
	var literal string
	if err := json.Unmarshal(raw, &literal); err == nil {
		return ParseSeries(literal)
	}
	var s SeriesSpec
	if err := json.Unmarshal(raw, &s); err != nil {
		return SeriesSpec{}, err
	}
	return s, nil
}

// ParseSeries parses a series literal such as "count()" or "avg(took_ms)".
func ParseSeries(literal string) (SeriesSpec, error) {
	open := strings.IndexByte(literal, '(')
	if open <= 0 || !strings.HasSuffix(literal, ")") {
		return SeriesSpec{}, fmt.Errorf("invalid series %q", literal)
	}
	return SeriesSpec{
		Function: SeriesFunction(literal[:open]),
		Field:    literal[open+1 : len(literal)-1],
	}, nil
}
