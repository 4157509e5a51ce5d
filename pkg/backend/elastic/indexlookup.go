package elastic

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coder/quartz"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/grafana/searchplan/pkg/search"
)

const indexDateLayout = "2006.01.02"

// IndexLookup names the indices which hold the messages of the given streams
// within a time range.
type IndexLookup interface {
	IndexNames(ctx context.Context, streams []string, tr search.AbsoluteRange) ([]string, error)
}

// StaticIndexLookup always searches the same indices.
type StaticIndexLookup []string

func (l StaticIndexLookup) IndexNames(context.Context, []string, search.AbsoluteRange) ([]string, error) {
	return l, nil
}

// DailyIndexLookup maps a time range to daily indices named
// <prefix>_YYYY.MM.DD. All streams share the same indices.
type DailyIndexLookup struct {
	Prefix     string
	MaxIndices int
}

func (l DailyIndexLookup) IndexNames(_ context.Context, _ []string, tr search.AbsoluteRange) ([]string, error) {
	if tr.To.Before(tr.From) {
		return nil, fmt.Errorf("invalid time range %s", tr)
	}
	wildcard := []string{l.Prefix + "_*"}

	from := truncateDay(tr.From)
	to := truncateDay(tr.To)
	days := int(to.Sub(from)/(24*time.Hour)) + 1
	if from.Unix() <= 0 || (l.MaxIndices > 0 && days > l.MaxIndices) {
		return wildcard, nil
	}

	names := make([]string, 0, days)
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		names = append(names, l.Prefix+"_"+day.Format(indexDateLayout))
	}
	return names, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CachedIndexLookup caches the lookups of another IndexLookup. Time ranges are
// widened to Granularity before the lookup, so the cached names cover every
// range that rounds to the same key. Entries expire lazily on access; the cache
// runs no background goroutine.
type CachedIndexLookup struct {
	next        IndexLookup
	ttl         time.Duration
	granularity time.Duration
	clock       quartz.Clock
	cache       *lru.Cache[string, cachedIndices]
}

type cachedIndices struct {
	names   []string
	expires time.Time
}

// NewCachedIndexLookup caches up to size lookups of next for ttl. A ttl of 0
// keeps entries until they are evicted.
func NewCachedIndexLookup(next IndexLookup, size int, ttl, granularity time.Duration) (*CachedIndexLookup, error) {
	cache, err := lru.New[string, cachedIndices](size)
	if err != nil {
		return nil, err
	}
	return &CachedIndexLookup{
		next:        next,
		ttl:         ttl,
		granularity: granularity,
		clock:       quartz.NewReal(),
		cache:       cache,
	}, nil
}

func (l *CachedIndexLookup) IndexNames(ctx context.Context, streams []string, tr search.AbsoluteRange) ([]string, error) {
	widened := l.widen(tr)

	sorted := slices.Clone(streams)
	slices.Sort(sorted)
	key := fmt.Sprintf("%s|%d|%d", strings.Join(sorted, ","), widened.From.UnixNano(), widened.To.UnixNano())

	now := l.clock.Now()
	if entry, ok := l.cache.Get(key); ok {
		if l.ttl <= 0 || now.Before(entry.expires) {
			return entry.names, nil
		}
		l.cache.Remove(key)
	}
	names, err := l.next.IndexNames(ctx, streams, widened)
	if err != nil {
		return nil, err
	}
	l.cache.Add(key, cachedIndices{names: names, expires: now.Add(l.ttl)})
	return names, nil
}

func (l *CachedIndexLookup) widen(tr search.AbsoluteRange) search.AbsoluteRange {
	if l.granularity <= 0 {
		return tr
	}
	from := tr.From.UTC().Truncate(l.granularity)
	to := tr.To.UTC().Truncate(l.granularity)
	if to.Before(tr.To) {
		to = to.Add(l.granularity)
	}
	return search.AbsoluteRange{From: from, To: to}
}
