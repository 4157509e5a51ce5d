package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grafana/searchplan/pkg/search"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeGenerated struct {
	queryID string
}

func (g fakeGenerated) String() string { return g.queryID }

// fakeBackend records the order of calls and returns canned results.
type fakeBackend struct {
	mu         sync.Mutex
	events     []string
	params     map[string]search.ParameterValues
	results    map[string]*search.QueryResult
	errs       map[string]error
	gates      map[string]chan struct{}
	panics     map[string]bool
	running    int
	maxRunning int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		params:  map[string]search.ParameterValues{},
		results: map[string]*search.QueryResult{},
		errs:    map[string]error{},
		gates:   map[string]chan struct{}{},
		panics:  map[string]bool{},
	}
}

func (b *fakeBackend) record(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *fakeBackend) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func (b *fakeBackend) Running() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *fakeBackend) Generate(_ context.Context, q *search.Query, params search.ParameterValues) (GeneratedQuery, error) {
	b.record("generate:" + q.ID)
	b.mu.Lock()
	b.params[q.ID] = params
	b.mu.Unlock()
	return fakeGenerated{queryID: q.ID}, nil
}

func (b *fakeBackend) Run(ctx context.Context, q *search.Query, _ GeneratedQuery, _ map[string]*search.QueryResult) (*search.QueryResult, error) {
	b.mu.Lock()
	b.running++
	if b.running > b.maxRunning {
		b.maxRunning = b.running
	}
	gate := b.gates[q.ID]
	result, err, panics := b.results[q.ID], b.errs[q.ID], b.panics[q.ID]
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.running--
		b.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.record("run:" + q.ID)
	if panics {
		panic("boom")
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = search.EmptyResult(q.ID)
	}
	return result, nil
}

func newQuery(id, backend string, refs ...string) *search.Query {
	q := &search.Query{
		ID:        id,
		Query:     search.BackendQuery{Type: backend, QueryString: "*"},
		TimeRange: search.RelativeRange{Range: time.Hour},
		SearchTypes: []search.SearchType{
			&search.FieldMetric{
				SearchTypeSettings: search.SearchTypeSettings{SearchTypeID: "metric"},
				Field:              "took_ms",
				Operation:          search.MetricMax,
			},
		},
	}
	if len(refs) > 0 {
		q.Bindings = []search.ParameterBinding{{Name: "p_" + id, QueryRefs: refs, SearchTypeID: "metric"}}
	}
	return q
}

func metricResult(queryID string, value float64) *search.QueryResult {
	r := search.EmptyResult(queryID)
	r.SearchTypes["metric"] = &search.FieldMetricResult{ID: "metric", Operation: search.MetricMax, Value: value}
	return r
}

func newTestEngine(t *testing.T, cfg Config, backend QueryBackend) *Engine {
	t.Helper()
	registry := NewRegistry()
	require.NoError(t, registry.Register("fake", backend))
	e, err := New(Params{Registerer: prometheus.NewRegistry(), Config: cfg, Backends: registry})
	require.NoError(t, err)
	return e
}

func waitJob(t *testing.T, job *Job) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, job.Wait(ctx))
}

func indexOf(events []string, event string) int {
	for i, e := range events {
		if e == event {
			return i
		}
	}
	return -1
}

func TestEngine_IndependentQueries(t *testing.T) {
	backend := newFakeBackend()
	backend.results["a"] = metricResult("a", 1)
	backend.results["b"] = metricResult("b", 2)
	gateA, gateB := make(chan struct{}), make(chan struct{})
	backend.gates["a"], backend.gates["b"] = gateA, gateB
	e := newTestEngine(t, Config{}, backend)

	job, err := e.Execute(context.Background(), &search.Search{
		ID:      "s",
		Queries: []*search.Query{newQuery("a", "fake"), newQuery("b", "fake")},
	})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID())

	// Both queries hang below the root and run at the same time.
	require.Eventually(t, func() bool { return backend.Running() == 2 }, 5*time.Second, time.Millisecond)
	close(gateA)
	close(gateB)
	waitJob(t, job)
	require.Equal(t, 2, backend.maxRunning)

	require.NoError(t, job.Err())
	results := job.Results()
	require.Len(t, results, 2)
	require.Equal(t, 2.0, results["b"].SearchTypes["metric"].(*search.FieldMetricResult).Value)
	require.Equal(t, "a", results["a"].QueryID)
	require.False(t, results["a"].Stats.Timestamp.IsZero())

	f, ok := job.Query("a")
	require.True(t, ok)
	r, err := f.Get(context.Background())
	require.NoError(t, err)
	require.Same(t, results["a"], r)

	require.Equal(t, 2.0, testutil.ToFloat64(e.metrics.queries.WithLabelValues("fake", statusSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(e.metrics.plans.WithLabelValues(statusSuccess)))
	require.Equal(t, 0.0, testutil.ToFloat64(e.metrics.inflight))
}

func TestEngine_WaitsForAllPredecessors(t *testing.T) {
	backend := newFakeBackend()
	backend.results["a"] = metricResult("a", 10)
	backend.results["b"] = metricResult("b", 20)
	gate := make(chan struct{})
	backend.gates["b"] = gate
	e := newTestEngine(t, Config{}, backend)

	// c depends on both a and b. b is held back until a has completed.
	job, err := e.Execute(context.Background(), &search.Search{
		Queries: []*search.Query{newQuery("c", "fake", "a", "b"), newQuery("a", "fake"), newQuery("b", "fake")},
	})
	require.NoError(t, err)

	fa, _ := job.Query("a")
	_, err = fa.Get(context.Background())
	require.NoError(t, err)

	fc, _ := job.Query("c")
	require.False(t, fc.Completed())
	require.Equal(t, -1, indexOf(backend.Events(), "generate:c"))

	close(gate)
	waitJob(t, job)
	require.NoError(t, job.Err())

	events := backend.Events()
	genC := indexOf(events, "generate:c")
	require.Greater(t, genC, indexOf(events, "run:a"))
	require.Greater(t, genC, indexOf(events, "run:b"))
	require.Equal(t, search.ParameterValues{"p_c": `("10" OR "20")`}, backend.params["c"])
}

func TestEngine_ErrorIsolation(t *testing.T) {
	backend := newFakeBackend()
	e := newTestEngine(t, Config{}, backend)

	job, err := e.Execute(context.Background(), &search.Search{
		Queries: []*search.Query{
			newQuery("unknown", "mysql"),
			newQuery("ok", "fake"),
			newQuery("dependent", "fake", "unknown"),
		},
	})
	require.NoError(t, err)
	waitJob(t, job)

	require.Contains(t, job.Results(), "ok")
	errs := job.Errors()
	require.Len(t, errs, 2)
	require.ErrorIs(t, errs["unknown"], search.ErrConfiguration)
	require.ErrorIs(t, errs["dependent"], search.ErrDependencyFailed)
	require.ErrorIs(t, errs["dependent"], search.ErrConfiguration)

	require.Equal(t, -1, indexOf(backend.Events(), "generate:dependent"))
	require.Error(t, job.Err())
}

func TestEngine_PlanErrors(t *testing.T) {
	backend := newFakeBackend()
	e := newTestEngine(t, Config{}, backend)

	_, err := e.Execute(context.Background(), &search.Search{
		Queries: []*search.Query{newQuery("a", "fake", "b"), newQuery("b", "fake", "a")},
	})
	require.ErrorIs(t, err, search.ErrConfiguration)

	_, err = e.Execute(context.Background(), &search.Search{
		Queries: []*search.Query{newQuery("a", "fake", "missing")},
	})
	require.ErrorIs(t, err, search.ErrConfiguration)

	require.Empty(t, backend.Events())
	require.Equal(t, 2.0, testutil.ToFloat64(e.metrics.plans.WithLabelValues(statusFailure)))
}

func TestEngine_Parameters(t *testing.T) {
	def := "web"
	literal := "error"

	backend := newFakeBackend()
	e := newTestEngine(t, Config{}, backend)

	withParams := newQuery("params", "fake")
	withParams.Query.QueryString = "source:$source$ AND level:$level$"
	withParams.Bindings = []search.ParameterBinding{{Name: "level", Value: &literal}}

	unbound := newQuery("unbound", "fake")
	unbound.Query.QueryString = "host:$host$"

	job, err := e.Execute(context.Background(), &search.Search{
		Parameters: []search.Parameter{{Name: "source", Default: &def}, {Name: "host"}},
		Queries:    []*search.Query{withParams, unbound},
	})
	require.NoError(t, err)
	waitJob(t, job)

	require.Equal(t, search.ParameterValues{"source": "web", "level": "error"}, backend.params["params"])

	errs := job.Errors()
	require.ErrorIs(t, errs["unbound"], search.ErrUnboundParameter)
	var unboundErr *search.UnboundParameterError
	require.ErrorAs(t, errs["unbound"], &unboundErr)
	require.Equal(t, "host", unboundErr.Parameter)
	require.Equal(t, -1, indexOf(backend.Events(), "generate:unbound"))
}

func TestEngine_ParameterExpansionError(t *testing.T) {
	backend := newFakeBackend()
	backend.results["a"] = &search.QueryResult{
		QueryID: "a",
		SearchTypes: map[string]search.Result{
			"metric": &search.DateHistogramResult{ID: "metric"},
		},
	}
	e := newTestEngine(t, Config{}, backend)

	job, err := e.Execute(context.Background(), &search.Search{
		Queries: []*search.Query{newQuery("a", "fake"), newQuery("b", "fake", "a")},
	})
	require.NoError(t, err)
	waitJob(t, job)

	var expansion *search.ParameterExpansionError
	require.ErrorAs(t, job.Errors()["b"], &expansion)
	require.Equal(t, "p_b", expansion.Parameter)
	require.Contains(t, expansion.Cause, "cannot supply parameter values")
}

func TestEngine_BackendFailures(t *testing.T) {
	backend := newFakeBackend()
	backend.errs["failing"] = errors.New("connection refused")
	backend.errs["window"] = search.ClassifyBackendError("window", "", "Result window is too large, from + size must be less than or equal to: [10000]", nil)
	backend.panics["panicking"] = true
	e := newTestEngine(t, Config{}, backend)

	job, err := e.Execute(context.Background(), &search.Search{
		Queries: []*search.Query{newQuery("failing", "fake"), newQuery("window", "fake"), newQuery("panicking", "fake")},
	})
	require.NoError(t, err)
	waitJob(t, job)

	errs := job.Errors()
	var qe *search.QueryError
	require.ErrorAs(t, errs["failing"], &qe)
	require.EqualError(t, qe.Cause, "connection refused")

	var rw *search.ResultWindowLimitError
	require.ErrorAs(t, errs["window"], &rw)
	require.Equal(t, 10000, rw.Limit)

	require.ErrorAs(t, errs["panicking"], &qe)
	require.Contains(t, qe.Error(), "backend panic: boom")
	require.Equal(t, 3.0, testutil.ToFloat64(e.metrics.queries.WithLabelValues("fake", statusFailure)))
}

func TestEngine_QueryTimeout(t *testing.T) {
	backend := newFakeBackend()
	backend.gates["slow"] = make(chan struct{})
	e := newTestEngine(t, Config{QueryTimeout: 20 * time.Millisecond}, backend)

	job, err := e.Execute(context.Background(), &search.Search{
		Queries: []*search.Query{newQuery("slow", "fake"), newQuery("fast", "fake")},
	})
	require.NoError(t, err)
	waitJob(t, job)

	require.Contains(t, job.Results(), "fast")
	slowErr := job.Errors()["slow"]
	require.ErrorIs(t, slowErr, search.ErrExecution)
	require.ErrorIs(t, slowErr, context.DeadlineExceeded)
	require.Contains(t, slowErr.Error(), "timed out after 20ms")
}

func TestEngine_BackendRegisteredAfterNew(t *testing.T) {
	backend := newFakeBackend()
	registry := NewRegistry()
	require.NoError(t, registry.Register("fake", backend))
	e, err := New(Params{Registerer: prometheus.NewRegistry(), Backends: registry})
	require.NoError(t, err)
	require.NoError(t, registry.Register("late", backend))

	job, err := e.Execute(context.Background(), &search.Search{
		Queries: []*search.Query{newQuery("a", "late"), newQuery("b", "fake")},
	})
	require.NoError(t, err)
	waitJob(t, job)

	errs := job.Errors()
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs["a"], search.ErrConfiguration)
	require.Contains(t, errs["a"].Error(), `backend "late" was registered after the engine was created`)
	require.Contains(t, job.Results(), "b")
	require.Equal(t, -1, indexOf(backend.Events(), "generate:a"))
}

func TestEngine_ConcurrencyLimit(t *testing.T) {
	backend := newFakeBackend()
	e := newTestEngine(t, Config{MaxConcurrentQueries: 1}, backend)

	var queries []*search.Query
	for i := 0; i < 5; i++ {
		queries = append(queries, newQuery(fmt.Sprintf("q%d", i), "fake"))
	}
	job, err := e.Execute(context.Background(), &search.Search{Queries: queries})
	require.NoError(t, err)
	waitJob(t, job)

	require.Len(t, job.Results(), 5)
	require.Equal(t, 1, backend.maxRunning)
}

func TestEngine_Capabilities(t *testing.T) {
	backend := newFakeBackend()
	registry := NewRegistry()
	require.NoError(t, registry.Register("fake", backend))
	e, err := New(Params{
		Backends:     registry,
		Capabilities: NewCapabilitySet([]string{"search"}, map[string][]string{search.TypeFieldMetric: {"search", "metrics"}}),
	})
	require.NoError(t, err)

	job, err := e.Execute(context.Background(), &search.Search{Queries: []*search.Query{newQuery("a", "fake")}})
	require.NoError(t, err)
	waitJob(t, job)

	var missing *search.MissingCapabilityError
	require.ErrorAs(t, job.Errors()["a"], &missing)
	require.Equal(t, []string{"metrics"}, missing.Missing)
	require.Equal(t, "metric", missing.SearchTypeID)
	require.Empty(t, backend.Events())
}

func TestEngine_CanceledContext(t *testing.T) {
	backend := newFakeBackend()
	backend.gates["a"] = make(chan struct{})
	e := newTestEngine(t, Config{}, backend)

	ctx, cancel := context.WithCancel(context.Background())
	job, err := e.Execute(ctx, &search.Search{Queries: []*search.Query{newQuery("a", "fake"), newQuery("b", "fake", "a")}})
	require.NoError(t, err)
	cancel()
	waitJob(t, job)

	errs := job.Errors()
	require.ErrorIs(t, errs["a"], context.Canceled)
	require.ErrorIs(t, errs["b"], search.ErrDependencyFailed)
}

func TestEngine_EmptySearch(t *testing.T) {
	e := newTestEngine(t, Config{}, newFakeBackend())
	job, err := e.Execute(context.Background(), &search.Search{ID: "empty"})
	require.NoError(t, err)
	waitJob(t, job)
	require.Empty(t, job.Results())
	require.NoError(t, job.Err())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("b", newFakeBackend()))
	require.NoError(t, r.Register("a", newFakeBackend()))
	require.Error(t, r.Register("a", newFakeBackend()))
	require.Error(t, r.Register("", newFakeBackend()))
	require.Equal(t, []string{"a", "b"}, r.Names())

	_, ok := r.Resolve("c")
	require.False(t, ok)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, (&Config{}).Validate())
	require.Error(t, (&Config{MaxConcurrentQueries: -1}).Validate())
	require.Error(t, (&Config{QueryTimeout: -time.Second}).Validate())

	_, err := New(Params{})
	require.Error(t, err)
}
