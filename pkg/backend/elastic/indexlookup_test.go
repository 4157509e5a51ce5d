package elastic

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/grafana/searchplan/pkg/search"
)

func TestDailyIndexLookup(t *testing.T) {
	l := DailyIndexLookup{Prefix: "graylog", MaxIndices: 3}

	for _, tc := range []struct {
		name string
		tr   search.AbsoluteRange
		want []string
	}{
		{
			name: "single day",
			tr: search.AbsoluteRange{
				From: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
				To:   time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC),
			},
			want: []string{"graylog_2024.03.01"},
		},
		{
			name: "across midnight",
			tr: search.AbsoluteRange{
				From: time.Date(2024, 2, 28, 22, 0, 0, 0, time.UTC),
				To:   time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC),
			},
			want: []string{"graylog_2024.02.28", "graylog_2024.02.29", "graylog_2024.03.01"},
		},
		{
			name: "too many days",
			tr: search.AbsoluteRange{
				From: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
				To:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			},
			want: []string{"graylog_*"},
		},
		{
			name: "all messages",
			tr:   search.AbsoluteRange{From: time.Unix(0, 0), To: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
			want: []string{"graylog_*"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			names, err := l.IndexNames(context.Background(), nil, tc.tr)
			require.NoError(t, err)
			require.Equal(t, tc.want, names)
		})
	}

	_, err := l.IndexNames(context.Background(), nil, search.AbsoluteRange{From: time.Unix(100, 0), To: time.Unix(10, 0)})
	require.Error(t, err)
}

type countingLookup struct {
	calls  int
	ranges []search.AbsoluteRange
}

func (l *countingLookup) IndexNames(_ context.Context, _ []string, tr search.AbsoluteRange) ([]string, error) {
	l.calls++
	l.ranges = append(l.ranges, tr)
	return []string{"graylog_0"}, nil
}

func TestCachedIndexLookup(t *testing.T) {
	next := &countingLookup{}
	l, err := NewCachedIndexLookup(next, 10, time.Minute, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)
	for i := range 3 {
		tr := search.AbsoluteRange{From: base.Add(time.Duration(i) * time.Minute), To: base.Add(time.Duration(i+5) * time.Minute)}
		names, err := l.IndexNames(ctx, []string{"b", "a"}, tr)
		require.NoError(t, err)
		require.Equal(t, []string{"graylog_0"}, names)
	}
	require.Equal(t, 1, next.calls)
	require.Equal(t, search.AbsoluteRange{
		From: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC),
	}, next.ranges[0])

	// Stream order does not matter, the set of streams does.
	_, err = l.IndexNames(ctx, []string{"a", "b"}, search.AbsoluteRange{From: base, To: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Equal(t, 1, next.calls)
	_, err = l.IndexNames(ctx, []string{"c"}, search.AbsoluteRange{From: base, To: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
}

func TestCachedIndexLookup_Expiry(t *testing.T) {
	next := &countingLookup{}
	l, err := NewCachedIndexLookup(next, 10, time.Minute, time.Hour)
	require.NoError(t, err)
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	l.clock = clock

	tr := search.AbsoluteRange{From: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), To: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	lookup := func() {
		t.Helper()
		_, err := l.IndexNames(context.Background(), []string{"a"}, tr)
		require.NoError(t, err)
	}

	lookup()
	clock.Advance(59 * time.Second)
	lookup()
	require.Equal(t, 1, next.calls)

	clock.Advance(time.Second)
	lookup()
	require.Equal(t, 2, next.calls)

	_, err = NewCachedIndexLookup(next, 0, time.Minute, time.Hour)
	require.Error(t, err)
}
