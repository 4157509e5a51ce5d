package elastic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/olivere/elastic/v7"
	"github.com/sony/gobreaker/v2"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SearchRequest is one search of a multi-search request.
type SearchRequest struct {
	Indices []string
	Source  *elastic.SearchSource
}

// Client executes multi-search requests against a cluster. Responses are
// returned in request order.
type Client interface {
	MultiSearch(ctx context.Context, reqs []SearchRequest) ([]*elastic.SearchResult, error)
}

// ResponseError is a failed multi-search request as reported by the cluster.
type ResponseError struct {
	StatusCode int
	Type       string
	Reason     string
}

func (e *ResponseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s: %s", e.StatusCode, e.Type, e.Reason)
}

type multiSearchHeader struct {
	Index             string `json:"index,omitempty"`
	IgnoreUnavailable bool   `json:"ignore_unavailable"`
	AllowNoIndices    bool   `json:"allow_no_indices"`
}

// encodeMultiSearch renders reqs as newline delimited JSON body.
func encodeMultiSearch(reqs []SearchRequest) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, req := range reqs {
		header := multiSearchHeader{
			Index:             strings.Join(req.Indices, ","),
			IgnoreUnavailable: true,
			AllowNoIndices:    true,
		}
		if err := enc.Encode(header); err != nil {
			return nil, fmt.Errorf("encode header of search %d: %w", i, err)
		}
		var body any = map[string]any{}
		if req.Source != nil {
			src, err := req.Source.Source()
			if err != nil {
				return nil, fmt.Errorf("build search %d: %w", i, err)
			}
			body = src
		}
		if err := enc.Encode(body); err != nil {
			return nil, fmt.Errorf("encode search %d: %w", i, err)
		}
	}
	return &buf, nil
}

func decodeMultiSearch(r io.Reader, expected int) ([]*elastic.SearchResult, error) {
	var res elastic.MultiSearchResult
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode multi-search response: %w", err)
	}
	if len(res.Responses) != expected {
		return nil, fmt.Errorf("multi-search returned %d responses for %d searches", len(res.Responses), expected)
	}
	return res.Responses, nil
}

func decodeErrorResponse(status int, body io.Reader) error {
	var res struct {
		Error *elastic.ErrorDetails `json:"error"`
	}
	respErr := &ResponseError{StatusCode: status}
	if err := json.NewDecoder(body).Decode(&res); err == nil && res.Error != nil {
		respErr.Type = res.Error.Type
		respErr.Reason = errorReason(res.Error)
	}
	return respErr
}

// errorReason flattens the reason of an error and its root causes.
func errorReason(d *elastic.ErrorDetails) string {
	reasons := []string{d.Reason}
	for _, cause := range d.RootCause {
		if cause != nil && cause.Reason != "" && cause.Reason != d.Reason {
			reasons = append(reasons, cause.Reason)
		}
	}
	if reason, ok := d.CausedBy["reason"].(string); ok && reason != "" {
		reasons = append(reasons, reason)
	}
	return strings.Join(reasons, "; ")
}

type breakerClient struct {
	next Client
	cb   *gobreaker.CircuitBreaker[[]*elastic.SearchResult]
}

// newBreakerClient guards next with a circuit breaker. Rejected requests and
// context cancellations do not count as failures of the cluster.
func newBreakerClient(name string, cfg BreakerConfig, next Client, m *metrics, logger log.Logger) Client {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.MaxRequests),
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.ConsecutiveFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			level.Warn(logger).Log("msg", "circuit breaker changed state", "backend", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				m.breakerState.Set(1)
			} else {
				m.breakerState.Set(0)
			}
		},
		IsSuccessful: func(err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			var respErr *ResponseError
			if errors.As(err, &respErr) {
				return respErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
	}
	if cfg.ConsecutiveFailures == 0 {
		settings.ReadyToTrip = nil
	}
	return &breakerClient{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[[]*elastic.SearchResult](settings),
	}
}

func (c *breakerClient) MultiSearch(ctx context.Context, reqs []SearchRequest) ([]*elastic.SearchResult, error) {
	return c.cb.Execute(func() ([]*elastic.SearchResult, error) {
		return c.next.MultiSearch(ctx, reqs)
	})
}
