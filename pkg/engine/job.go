package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/grafana/dskit/multierror"
	"go.uber.org/atomic"

	"github.com/grafana/searchplan/pkg/engine/plan"
	"github.com/grafana/searchplan/pkg/search"
)

// Future is the eventual outcome of one query: either a result or an error.
type Future struct {
	queryID string

	mu        sync.Mutex
	done      chan struct{}
	result    *search.QueryResult
	err       error
	callbacks []func(*search.QueryResult, error)
}

func newFuture(queryID string) *Future {
	return &Future{queryID: queryID, done: make(chan struct{})}
}

// QueryID returns the id of the query the future belongs to.
func (f *Future) QueryID() string { return f.queryID }

// Done is closed once the outcome is known.
func (f *Future) Done() <-chan struct{} { return f.done }

// Get waits for the outcome or for ctx to be canceled.
func (f *Future) Get(ctx context.Context) (*search.QueryResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ErrPending is returned by [Future.Outcome] while the query is running.
var ErrPending = errors.New("query is still running")

// Completed reports whether the outcome is known.
func (f *Future) Completed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Outcome returns the outcome without waiting, or ErrPending.
func (f *Future) Outcome() (*search.QueryResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	default:
		return nil, ErrPending
	}
}

// OnComplete registers fn to be called with the outcome. fn runs on the
// goroutine completing the future, or immediately if it is already complete.
// fn must not block.
func (f *Future) OnComplete(fn func(*search.QueryResult, error)) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		fn(f.result, f.err)
	default:
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
	}
}

// complete sets the outcome. Only the first call has an effect.
func (f *Future) complete(result *search.QueryResult, err error) bool {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return false
	default:
	}
	if err != nil {
		result = nil
	}
	f.result, f.err = result, err
	close(f.done)
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	for _, fn := range callbacks {
		fn(result, err)
	}
	return true
}

// Job is the handle of one execution of a search.
type Job struct {
	id     string
	plan   *plan.Plan
	root   *Future
	byNode map[*plan.Node]*Future

	remaining *atomic.Int64
	finish    func()
	done      chan struct{}
}

func newJob(id string, p *plan.Plan) *Job {
	j := &Job{
		id:        id,
		plan:      p,
		root:      newFuture(plan.RootID),
		byNode:    make(map[*plan.Node]*Future, p.Len()),
		remaining: atomic.NewInt64(int64(p.Len())),
		done:      make(chan struct{}),
	}
	j.byNode[p.Root()] = j.root
	for _, n := range p.Queries() {
		f := newFuture(n.ID())
		j.byNode[n] = f
		f.OnComplete(func(*search.QueryResult, error) {
			if j.remaining.Dec() == 0 {
				if j.finish != nil {
					j.finish()
				}
				close(j.done)
			}
		})
	}
	if p.Len() == 0 {
		close(j.done)
	}
	return j
}

// onFinish registers fn to run once every query is complete, right before
// Done is closed. It must be called before any query starts.
func (j *Job) onFinish(fn func()) {
	j.finish = fn
	if j.plan.Len() == 0 {
		fn()
	}
}

// ID returns the unique id of the execution.
func (j *Job) ID() string { return j.id }

// Search returns the executed search.
func (j *Job) Search() *search.Search { return j.plan.Search() }

// Plan returns the plan the job executes.
func (j *Job) Plan() *plan.Plan { return j.plan }

// Done is closed once every query has a result or an error.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job is done or ctx is canceled.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query returns the future of the query with the given id.
func (j *Job) Query(id string) (*Future, bool) {
	n, ok := j.plan.Node(id)
	if !ok {
		return nil, false
	}
	return j.byNode[n], true
}

func (j *Job) future(n *plan.Node) *Future { return j.byNode[n] }

// Results returns the results of all successful queries completed so far.
func (j *Job) Results() map[string]*search.QueryResult {
	results := make(map[string]*search.QueryResult, j.plan.Len())
	for _, n := range j.plan.Queries() {
		if r, err := j.byNode[n].Outcome(); err == nil {
			results[n.ID()] = r
		}
	}
	return results
}

// Errors returns the errors of all failed queries completed so far.
func (j *Job) Errors() map[string]error {
	errs := make(map[string]error)
	for _, n := range j.plan.Queries() {
		f := j.byNode[n]
		if !f.Completed() {
			continue
		}
		if _, err := f.Outcome(); err != nil {
			errs[n.ID()] = err
		}
	}
	return errs
}

// Err combines the errors of all failed queries in plan order.
func (j *Job) Err() error {
	var errs multierror.MultiError
	for _, n := range j.plan.Queries() {
		f := j.byNode[n]
		if !f.Completed() {
			continue
		}
		if _, err := f.Outcome(); err != nil {
			errs.Add(err)
		}
	}
	return errs.Err()
}
