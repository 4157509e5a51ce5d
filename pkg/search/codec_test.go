package search

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const searchDocument = `{
  "id": "s1",
  "parameters": [{"name": "source", "default": "web"}],
  "queries": [
    {
      "id": "top-sources",
      "query": {"type": "elasticsearch", "query_string": "level:error"},
      "timerange": {"type": "relative", "range": "1h"},
      "search_types": [
        {
          "type": "pivot",
          "id": "sources",
          "row_groups": [{"type": "values", "field": "source", "limit": 5}],
          "column_groups": [{"type": "time", "field": "timestamp", "interval": "5m", "timezone": "Europe/Berlin"}],
          "series": ["count()", {"function": "avg", "field": "took_ms"}],
          "sort": [{"type": "series", "field": "avg(took_ms)", "direction": "desc"}],
          "rollup": true
        }
      ]
    },
    {
      "id": "messages",
      "query": {"type": "elasticsearch", "query_string": "source:$source$"},
      "timerange": {"type": "keyword", "keyword": "last 15m"},
      "bindings": [{"name": "source", "query_refs": ["top-sources"], "search_type_id": "sources"}],
      "search_types": [
        {"type": "messages", "id": "page", "limit": 50, "offset": 100},
        {"type": "field_metric", "id": "max", "field": "took_ms", "operation": "max",
         "timerange": {"type": "absolute", "from": "2024-01-01T00:00:00Z", "to": "2024-01-02T00:00:00Z"}},
        {"type": "date_histogram", "id": "hist", "interval": "1m"},
        {"type": "group_by_histogram", "id": "gbh", "interval": "1h", "fields": ["source", "level"], "limit": 10, "order": "term", "direction": "asc"},
        {"type": "pivot", "id": "ranges", "row_groups": [{"type": "date_range", "field": "timestamp", "bucket_key": "to",
          "ranges": [{"to": "2024-01-01T00:00:00Z"}, {"from": "2024-01-01T00:00:00Z"}]}], "series": ["count()"]}
      ]
    }
  ]
}`

func TestDecodeSearch(t *testing.T) {
	s, err := DecodeSearch(strings.NewReader(searchDocument))
	require.NoError(t, err)
	require.Equal(t, "s1", s.ID)
	require.Len(t, s.Queries, 2)

	p, ok := s.Parameter("source")
	require.True(t, ok)
	require.Equal(t, "web", *p.Default)

	top, ok := s.Query("top-sources")
	require.True(t, ok)
	require.Equal(t, RelativeRange{Range: time.Hour}, top.TimeRange)
	st, ok := top.SearchType("sources")
	require.True(t, ok)
	pivot := st.(*Pivot)
	require.Equal(t, []BucketSpec{&ValuesBucket{FieldName: "source", Limit: 5}}, pivot.RowGroups)
	require.Equal(t, []BucketSpec{&TimeBucket{FieldName: "timestamp", Interval: 5 * time.Minute, TimeZone: "Europe/Berlin"}}, pivot.ColumnGroups)
	require.Equal(t, []SeriesSpec{{Function: SeriesCount}, {Function: SeriesAvg, Field: "took_ms"}}, pivot.Series)
	require.Equal(t, []SortSpec{{Type: SortSeries, Field: "avg(took_ms)", Direction: Descending}}, pivot.Sort)
	require.True(t, pivot.Rollup)

	messages, _ := s.Query("messages")
	require.Equal(t, KeywordRange{Keyword: "last 15m"}, messages.TimeRange)
	require.Equal(t, []string{"top-sources"}, messages.References())
	require.Len(t, messages.SearchTypes, 5)

	page := messages.SearchTypes[0].(*MessageList)
	require.Equal(t, 50, page.Limit)
	require.Equal(t, 100, page.Offset)
	require.Equal(t, []SortField{{Field: TimestampField, Direction: Descending}}, page.EffectiveSort())

	metric := messages.SearchTypes[1].(*FieldMetric)
	require.Equal(t, MetricMax, metric.Operation)
	require.Equal(t, AbsoluteRange{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}, metric.TimeRange)

	require.Equal(t, time.Minute, messages.SearchTypes[2].(*DateHistogram).Interval)

	gbh := messages.SearchTypes[3].(*GroupByHistogram)
	require.Equal(t, time.Hour, gbh.Interval)
	require.Equal(t, []string{"source", "level"}, gbh.Fields)
	require.Equal(t, OrderTerm, gbh.Order)
	require.Equal(t, "gbh", gbh.ID())

	ranges := messages.SearchTypes[4].(*Pivot).RowGroups[0].(*DateRangeBucket)
	require.Equal(t, BucketKeyTo, ranges.BucketKey)
	require.Len(t, ranges.Ranges, 2)
	require.True(t, ranges.Ranges[0].From.IsZero())
}

func TestDecodeSearch_Invalid(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown search type": `{"queries": [{"id": "q", "query": {"type": "elasticsearch"}, "search_types": [{"type": "nope", "id": "x"}]}]}`,
		"duplicate ids":       `{"queries": [{"id": "q", "query": {"type": "elasticsearch"}, "search_types": [{"type": "messages", "id": "x"}, {"type": "messages", "id": "x"}]}]}`,
		"missing backend":     `{"queries": [{"id": "q", "query": {}, "search_types": []}]}`,
		"bad series":          `{"queries": [{"id": "q", "query": {"type": "elasticsearch"}, "search_types": [{"type": "pivot", "id": "p", "series": ["avg"]}]}]}`,
		"bad interval":        `{"queries": [{"id": "q", "query": {"type": "elasticsearch"}, "search_types": [{"type": "date_histogram", "id": "h", "interval": "often"}]}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSearch(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestDecodeSearch_GeneratesID(t *testing.T) {
	s, err := DecodeSearch(strings.NewReader(`{"queries": []}`))
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)
}

func TestParseSeries(t *testing.T) {
	s, err := ParseSeries("card(user_id)")
	require.NoError(t, err)
	require.Equal(t, SeriesSpec{Function: SeriesCardinality, Field: "user_id"}, s)
	require.Equal(t, "card(user_id)", s.Literal())
	require.Equal(t, CountLiteral, SeriesSpec{Function: SeriesCount}.Literal())
}
