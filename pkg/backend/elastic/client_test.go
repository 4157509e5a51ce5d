package elastic

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/olivere/elastic/v7"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"
)

func TestEncodeMultiSearch(t *testing.T) {
	buf, err := encodeMultiSearch([]SearchRequest{
		{Indices: []string{"graylog_2024.03.01", "graylog_2024.03.02"}, Source: elastic.NewSearchSource().Size(0)},
		{Indices: []string{"graylog_*"}},
	})
	require.NoError(t, err)

	var lines []string
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 4)
	require.JSONEq(t, `{"index":"graylog_2024.03.01,graylog_2024.03.02","ignore_unavailable":true,"allow_no_indices":true}`, lines[0])
	require.JSONEq(t, `{"size":0}`, lines[1])
	require.JSONEq(t, `{"index":"graylog_*","ignore_unavailable":true,"allow_no_indices":true}`, lines[2])
	require.JSONEq(t, `{}`, lines[3])
}

func TestDecodeMultiSearch(t *testing.T) {
	_, err := decodeMultiSearch(strings.NewReader(`{"responses":[{"hits":{"total":{"value":1,"relation":"eq"}}}]}`), 2)
	require.ErrorContains(t, err, "1 responses for 2 searches")

	res, err := decodeMultiSearch(strings.NewReader(`{"responses":[{"hits":{"total":{"value":1,"relation":"eq"}}}]}`), 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), res[0].TotalHits())
}

func TestDecodeErrorResponse(t *testing.T) {
	err := decodeErrorResponse(http.StatusBadRequest, strings.NewReader(`{"error":{"type":"parsing_exception","reason":"unknown query",
		"root_cause":[{"type":"parsing_exception","reason":"no [query] registered for [foo]"}]},"status":400}`))
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, http.StatusBadRequest, respErr.StatusCode)
	require.Equal(t, "parsing_exception", respErr.Type)
	require.Equal(t, "unknown query; no [query] registered for [foo]", respErr.Reason)

	err = decodeErrorResponse(http.StatusBadGateway, strings.NewReader("<html>"))
	require.EqualError(t, err, "request failed with status 502")
}

const msearchResponse = `{"took":1,"responses":[{"took":1,"hits":{"total":{"value":7,"relation":"eq"},"hits":[]},"status":200}]}`

const clusterInfo = `{"version":{"number":"7.17.0","build_flavor":"default"},"tagline":"You Know, for Search"}`

// clusterServer serves multi-search requests. It answers the product check
// of the Elasticsearch client on /.
func clusterServer(t *testing.T, status int, body string) (*httptest.Server, <-chan string) {
	t.Helper()
	bodies := make(chan string, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/":
			_, _ = io.WriteString(w, clusterInfo)
		case "/_msearch":
			b, _ := io.ReadAll(r.Body)
			bodies <- string(b)
			w.WriteHeader(status)
			_, _ = io.WriteString(w, body)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, bodies
}

func TestClients(t *testing.T) {
	for name, newClient := range map[string]func(Config) (Client, error){
		"elasticsearch": NewElasticsearchClient,
		"opensearch":    NewOpenSearchClient,
	} {
		t.Run(name, func(t *testing.T) {
			srv, bodies := clusterServer(t, http.StatusOK, msearchResponse)
			client, err := newClient(Config{Addresses: []string{srv.URL}})
			require.NoError(t, err)

			res, err := client.MultiSearch(context.Background(), []SearchRequest{
				{Indices: []string{"graylog_0"}, Source: elastic.NewSearchSource().Size(0)},
			})
			require.NoError(t, err)
			require.Len(t, res, 1)
			require.Equal(t, int64(7), res[0].TotalHits())
			require.Contains(t, <-bodies, `"index":"graylog_0"`)
		})

		t.Run(name+" basic auth", func(t *testing.T) {
			credentials := make(chan [2]string, 4)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Elastic-Product", "Elasticsearch")
				w.Header().Set("Content-Type", "application/json")
				if r.URL.Path == "/" {
					_, _ = io.WriteString(w, clusterInfo)
					return
				}
				user, pass, _ := r.BasicAuth()
				credentials <- [2]string{user, pass}
				_, _ = io.WriteString(w, msearchResponse)
			}))
			t.Cleanup(srv.Close)

			cfg := Config{Addresses: []string{srv.URL}, Username: "searcher"}
			require.NoError(t, cfg.Password.Set("s3cret"))
			client, err := newClient(cfg)
			require.NoError(t, err)

			_, err = client.MultiSearch(context.Background(), []SearchRequest{{Indices: []string{"graylog_0"}}})
			require.NoError(t, err)
			require.Equal(t, [2]string{"searcher", "s3cret"}, <-credentials)
		})

		t.Run(name+" error", func(t *testing.T) {
			srv, _ := clusterServer(t, http.StatusBadRequest, `{"error":{"type":"parsing_exception","reason":"bad query"},"status":400}`)
			client, err := newClient(Config{Addresses: []string{srv.URL}})
			require.NoError(t, err)

			_, err = client.MultiSearch(context.Background(), []SearchRequest{{Indices: []string{"graylog_0"}}})
			var respErr *ResponseError
			require.ErrorAs(t, err, &respErr)
			require.Equal(t, http.StatusBadRequest, respErr.StatusCode)
			require.Equal(t, "bad query", respErr.Reason)
		})
	}
}

type failingClient struct {
	calls int
	err   error
}

func (c *failingClient) MultiSearch(context.Context, []SearchRequest) ([]*elastic.SearchResult, error) {
	c.calls++
	return nil, c.err
}

func TestBreakerClient(t *testing.T) {
	cfg := BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Hour, ConsecutiveFailures: 2}

	t.Run("opens on server errors", func(t *testing.T) {
		m := newMetrics(prometheus.NewRegistry())
		next := &failingClient{err: &ResponseError{StatusCode: http.StatusServiceUnavailable}}
		client := newBreakerClient("test", cfg, next, m, log.NewNopLogger())

		for range 2 {
			_, err := client.MultiSearch(context.Background(), nil)
			require.ErrorAs(t, err, new(*ResponseError))
		}
		_, err := client.MultiSearch(context.Background(), nil)
		require.ErrorIs(t, err, gobreaker.ErrOpenState)
		require.Equal(t, 2, next.calls)
		require.Equal(t, float64(1), testutil.ToFloat64(m.breakerState))
	})

	t.Run("ignores client errors and cancellations", func(t *testing.T) {
		m := newMetrics(prometheus.NewRegistry())
		next := &failingClient{err: &ResponseError{StatusCode: http.StatusBadRequest}}
		client := newBreakerClient("test", cfg, next, m, log.NewNopLogger())

		for range 3 {
			_, err := client.MultiSearch(context.Background(), nil)
			require.ErrorAs(t, err, new(*ResponseError))
		}
		next.err = context.Canceled
		for range 3 {
			_, err := client.MultiSearch(context.Background(), nil)
			require.ErrorIs(t, err, context.Canceled)
		}
		require.Equal(t, 6, next.calls)
		require.Equal(t, float64(0), testutil.ToFloat64(m.breakerState))
	})
}
