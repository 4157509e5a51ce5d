// Package engine executes searches: it plans the queries of a search by their
// parameter dependencies and runs each query on its backend once all queries
// it depends on are complete.
package engine

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"

	"github.com/grafana/searchplan/pkg/engine/plan"
	"github.com/grafana/searchplan/pkg/search"
)

var tracer = otel.Tracer("pkg/engine")

// Config configures query execution.
type Config struct {
	// MaxConcurrentQueries limits concurrently running queries per backend.
	MaxConcurrentQueries int `yaml:"max_concurrent_queries"`

	// QueryTimeout is the deadline of a single backend run.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.MaxConcurrentQueries, prefix+"max-concurrent-queries", 16, "Maximum number of queries running concurrently against each backend. 0 means no limit.")
	f.DurationVar(&cfg.QueryTimeout, prefix+"query-timeout", time.Minute, "Timeout of a single query run against its backend. 0 disables the timeout.")
}

func (cfg *Config) Validate() error {
	if cfg.MaxConcurrentQueries < 0 {
		return errors.New("max concurrent queries must not be negative")
	}
	if cfg.QueryTimeout < 0 {
		return errors.New("query timeout must not be negative")
	}
	return nil
}

// Params holds parameters for constructing a new [Engine].
type Params struct {
	Logger     log.Logger            // Logger for optional log messages.
	Registerer prometheus.Registerer // Registerer for optional metrics.

	Config       Config
	Backends     *Registry         // Backends by query type.
	Capabilities CapabilityChecker // Optional capability checks.
}

// validate validates p and applies defaults.
func (p *Params) validate() error {
	if p.Logger == nil {
		p.Logger = log.NewNopLogger()
	}
	if p.Registerer == nil {
		p.Registerer = prometheus.NewRegistry()
	}
	if p.Backends == nil {
		return errors.New("backend registry is required")
	}
	return p.Config.Validate()
}

// Engine executes searches.
type Engine struct {
	logger       log.Logger
	metrics      *metrics
	cfg          Config
	backends     *Registry
	capabilities CapabilityChecker
	admission    *admissionControl
}

// New creates a new Engine.
func New(params Params) (*Engine, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Engine{
		logger:       params.Logger,
		metrics:      newMetrics(params.Registerer),
		cfg:          params.Config,
		backends:     params.Backends,
		capabilities: params.Capabilities,
		admission:    newAdmissionControl(params.Backends.Names(), int64(params.Config.MaxConcurrentQueries)),
	}, nil
}

// Execute plans s and starts executing it. It does not wait for any query:
// the returned job reports the outcome of every query as it completes.
//
// Plan errors, such as references to unknown queries or cyclic references,
// are returned before any query runs. Query failures are reported through
// the job. ctx bounds the whole execution.
func (e *Engine) Execute(ctx context.Context, s *search.Search) (*Job, error) {
	ctx, span := tracer.Start(ctx, "Engine.Execute", trace.WithAttributes(
		attribute.String("search", s.ID),
		attribute.Int("queries", len(s.Queries)),
	))
	logger := log.With(e.logger, "search", s.ID)

	timer := prometheus.NewTimer(e.metrics.planning)
	p, err := plan.Build(s)
	if err != nil {
		e.metrics.plans.WithLabelValues(statusFailure).Inc()
		level.Warn(logger).Log("msg", "failed to build query plan", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build query plan")
		span.End()
		return nil, err
	}
	duration := timer.ObserveDuration()
	e.metrics.plans.WithLabelValues(statusSuccess).Inc()

	start := time.Now()
	job := newJob(ulid.Make().String(), p)
	logger = log.With(logger, "job", job.ID())
	level.Debug(logger).Log("msg", "built query plan", "queries", p.Len(), "duration", duration, "plan", p.String())

	job.onFinish(func() {
		failed := len(job.Errors())
		level.Info(logger).Log(
			"msg", "finished executing search",
			"queries", p.Len(),
			"failed", failed,
			"duration", time.Since(start),
		)
		if failed > 0 {
			span.SetStatus(codes.Error, fmt.Sprintf("%d queries failed", failed))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	})

	for _, n := range p.Queries() {
		e.chain(ctx, logger, job, n)
	}
	job.root.complete(search.EmptyResult(plan.RootID), nil)
	return job, nil
}

// chain schedules n to run once all of its predecessors are complete.
func (e *Engine) chain(ctx context.Context, logger log.Logger, job *Job, n *plan.Node) {
	predecessors := job.plan.Predecessors(n)
	pending := atomic.NewInt32(int32(len(predecessors)))
	for _, pred := range predecessors {
		job.future(pred).OnComplete(func(*search.QueryResult, error) {
			if pending.Dec() == 0 {
				go e.execute(ctx, logger, job, n)
			}
		})
	}
}

func (e *Engine) execute(ctx context.Context, logger log.Logger, job *Job, n *plan.Node) {
	q := n.Query()
	predecessors := make(map[string]*search.QueryResult)
	for _, pred := range job.plan.Predecessors(n) {
		if pred.IsRoot() {
			continue
		}
		r, err := job.future(pred).Outcome()
		if err != nil {
			err = &search.DependencyError{QueryID: q.ID, DependsOn: pred.ID(), Cause: err}
			level.Warn(logger).Log("msg", "skipping query", "query", q.ID, "err", err)
			e.metrics.queries.WithLabelValues(q.Query.Type, statusFailure).Inc()
			job.future(n).complete(nil, err)
			return
		}
		predecessors[pred.ID()] = r
	}

	result, err := e.runQuery(ctx, logger, job.Search(), q, predecessors)
	if err != nil {
		if dependents := job.plan.Dependents(n); len(dependents) > 0 {
			level.Debug(logger).Log("msg", "failed query blocks dependent queries", "query", q.ID, "dependents", len(dependents))
		}
	}
	job.future(n).complete(result, err)
}

func (e *Engine) runQuery(ctx context.Context, logger log.Logger, s *search.Search, q *search.Query, predecessors map[string]*search.QueryResult) (result *search.QueryResult, err error) {
	backendName := q.Query.Type
	start := time.Now()
	defer func() {
		if err != nil {
			level.Warn(logger).Log("msg", "query failed", "query", q.ID, "backend", backendName, "err", err)
			e.metrics.queries.WithLabelValues(backendName, statusFailure).Inc()
			return
		}
		level.Debug(logger).Log("msg", "query finished", "query", q.ID, "backend", backendName, "duration", time.Since(start))
		e.metrics.queries.WithLabelValues(backendName, statusSuccess).Inc()
	}()

	backend, ok := e.backends.Resolve(backendName)
	if !ok {
		return nil, &search.ConfigurationError{
			QueryID: q.ID,
			Reason:  fmt.Sprintf("no backend registered for query type %q", backendName),
		}
	}

	lane, ok := e.admission.laneFor(backendName)
	if !ok {
		return nil, &search.ConfigurationError{
			QueryID: q.ID,
			Reason:  fmt.Sprintf("backend %q was registered after the engine was created", backendName),
		}
	}
	if err := lane.Acquire(ctx, 1); err != nil {
		return nil, &search.QueryError{QueryID: q.ID, Cause: err}
	}
	defer lane.Release(1)
	e.metrics.inflight.Inc()
	defer e.metrics.inflight.Dec()

	ctx, span := tracer.Start(ctx, "Engine.runQuery", trace.WithAttributes(
		attribute.String("query", q.ID),
		attribute.String("backend", backendName),
		attribute.Int("search_types", len(q.SearchTypes)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "query failed")
		}
		span.End()
	}()
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &search.QueryError{QueryID: q.ID, Cause: fmt.Errorf("backend panic: %v", r)}
		}
	}()

	if e.capabilities != nil {
		if err := e.capabilities.Check(ctx, q); err != nil {
			return nil, err
		}
	}

	params, err := resolveParameters(s, q, predecessors)
	if err != nil {
		return nil, err
	}

	generated, err := backend.Generate(ctx, q, params)
	if err != nil {
		return nil, asSearchError(q.ID, err)
	}
	span.AddEvent("generated query")

	runCtx := ctx
	if e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}

	timer := prometheus.NewTimer(e.metrics.queryDuration.WithLabelValues(backendName))
	result, err = backend.Run(runCtx, q, generated, predecessors)
	timer.ObserveDuration()
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &search.QueryError{QueryID: q.ID, Cause: fmt.Errorf("query timed out after %s: %w", e.cfg.QueryTimeout, err)}
		}
		return nil, asSearchError(q.ID, err)
	}

	if result == nil {
		result = search.EmptyResult(q.ID)
	}
	result.QueryID = q.ID
	if result.Stats.Timestamp.IsZero() {
		result.Stats = search.QueryExecutionStats{Duration: time.Since(start).Milliseconds(), Timestamp: start}
	}
	return result, nil
}

// asSearchError wraps errors outside of the search error taxonomy into a
// *search.QueryError.
func asSearchError(queryID string, err error) error {
	for _, target := range []error{
		search.ErrConfiguration,
		search.ErrUnboundParameter,
		search.ErrParameterExpansion,
		search.ErrExecution,
		search.ErrMissingCapability,
		search.ErrDependencyFailed,
	} {
		if errors.Is(err, target) {
			return err
		}
	}
	return &search.QueryError{QueryID: queryID, Cause: err}
}
