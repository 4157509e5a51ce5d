package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/common/model"
)

// TimeRange is the declared time window of a query or search type. It is
// resolved into an AbsoluteRange by a TimeRangeResolver.
type TimeRange interface {
	Type() string
}

const (
	TimeRangeAbsolute = "absolute"
	TimeRangeRelative = "relative"
	TimeRangeKeyword  = "keyword"
)

// AbsoluteRange is a resolved [From, To) window.
type AbsoluteRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (AbsoluteRange) Type() string { return TimeRangeAbsolute }

// Duration returns the length of the range.
func (r AbsoluteRange) Duration() time.Duration { return r.To.Sub(r.From) }

// IsZero reports whether neither boundary is set.
func (r AbsoluteRange) IsZero() bool { return r.From.IsZero() && r.To.IsZero() }

func (r AbsoluteRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.From.UTC().Format(time.RFC3339Nano), r.To.UTC().Format(time.RFC3339Nano))
}

// RelativeRange covers the last Range before now. A zero Range means all
// messages.
type RelativeRange struct {
	Range time.Duration `json:"range"`
}

func (RelativeRange) Type() string { return TimeRangeRelative }

// AllMessages reports whether the range is unbounded in the past.
func (r RelativeRange) AllMessages() bool { return r.Range == 0 }

// KeywordRange is a natural-language range such as "last 15m", "today" or
// "yesterday", evaluated in TimeZone (UTC if empty).
type KeywordRange struct {
	Keyword  string `json:"keyword"`
	TimeZone string `json:"timezone,omitempty"`
}

func (KeywordRange) Type() string { return TimeRangeKeyword }

// AllMessages reports whether tr covers every message ever stored.
func AllMessages(tr TimeRange) bool {
	r, ok := tr.(RelativeRange)
	return ok && r.AllMessages()
}

// TimeRangeResolver turns the declared range of a query, plus an optional
// search-type override, into one effective absolute range.
type TimeRangeResolver interface {
	Resolve(query TimeRange, override TimeRange) (AbsoluteRange, error)
}

// ClockResolver resolves time ranges relative to Clock. The override wins over
// the query range when set.
type ClockResolver struct {
	Clock quartz.Clock
}

// NewClockResolver returns a resolver using the real clock.
func NewClockResolver() *ClockResolver {
	return &ClockResolver{Clock: quartz.NewReal()}
}

func (r *ClockResolver) Resolve(query TimeRange, override TimeRange) (AbsoluteRange, error) {
	tr := query
	if override != nil {
		tr = override
	}
	if tr == nil {
		return AbsoluteRange{}, &ConfigurationError{Reason: "missing time range"}
	}
	now := r.Clock.Now().UTC()

	switch v := tr.(type) {
	case AbsoluteRange:
		if v.To.Before(v.From) {
			return AbsoluteRange{}, &ConfigurationError{Reason: fmt.Sprintf("time range %s ends before it starts", v)}
		}
		return v, nil
	case RelativeRange:
		if v.Range < 0 {
			return AbsoluteRange{}, &ConfigurationError{Reason: fmt.Sprintf("negative relative range %s", v.Range)}
		}
		if v.AllMessages() {
			return AbsoluteRange{From: time.Unix(0, 0).UTC(), To: now}, nil
		}
		return AbsoluteRange{From: now.Add(-v.Range), To: now}, nil
	case KeywordRange:
		return resolveKeyword(v, now)
	default:
		return AbsoluteRange{}, &ConfigurationError{Reason: fmt.Sprintf("unsupported time range type %q", tr.Type())}
	}
}

func resolveKeyword(k KeywordRange, now time.Time) (AbsoluteRange, error) {
	loc := time.UTC
	if k.TimeZone != "" {
		var err error
		if loc, err = time.LoadLocation(k.TimeZone); err != nil {
			return AbsoluteRange{}, &ConfigurationError{Reason: fmt.Sprintf("invalid time zone %q: %v", k.TimeZone, err)}
		}
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	keyword := strings.ToLower(strings.TrimSpace(k.Keyword))
	switch {
	case keyword == "today":
		return AbsoluteRange{From: midnight.UTC(), To: now}, nil
	case keyword == "yesterday":
		return AbsoluteRange{From: midnight.AddDate(0, 0, -1).UTC(), To: midnight.UTC()}, nil
	case strings.HasPrefix(keyword, "last "):
		d, err := model.ParseDuration(strings.TrimSpace(strings.TrimPrefix(keyword, "last ")))
		if err != nil {
			return AbsoluteRange{}, &ConfigurationError{Reason: fmt.Sprintf("invalid keyword %q: %v", k.Keyword, err)}
		}
		return AbsoluteRange{From: now.Add(-time.Duration(d)), To: now}, nil
	}
	return AbsoluteRange{}, &ConfigurationError{Reason: fmt.Sprintf("unsupported keyword %q", k.Keyword)}
}
