package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/grafana/searchplan/pkg/search"
)

// GeneratedQuery is the compiled, backend-specific form of a query. Its
// String form is used for logging only.
type GeneratedQuery interface {
	fmt.Stringer
}

// QueryBackend compiles and runs queries against one kind of search backend.
//
// Generate must finish for all search types of a query before Run is called
// with its output. Implementations must be safe for concurrent use by
// multiple queries.
type QueryBackend interface {
	// Generate compiles q with the resolved parameter values.
	Generate(ctx context.Context, q *search.Query, params search.ParameterValues) (GeneratedQuery, error)

	// Run executes the compiled query. predecessors holds the results of the
	// queries q depends on, keyed by query id.
	Run(ctx context.Context, q *search.Query, query GeneratedQuery, predecessors map[string]*search.QueryResult) (*search.QueryResult, error)
}

// Registry maps backend query types to backends. It is populated at startup
// and must not be modified after it has been passed to [New].
type Registry struct {
	backends map[string]QueryBackend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]QueryBackend)}
}

// Register adds b as the backend of queries of the given type.
func (r *Registry) Register(queryType string, b QueryBackend) error {
	if queryType == "" {
		return errors.New("backend query type must not be empty")
	}
	if _, ok := r.backends[queryType]; ok {
		return fmt.Errorf("backend for query type %q already registered", queryType)
	}
	r.backends[queryType] = b
	return nil
}

// Resolve returns the backend of the given query type.
func (r *Registry) Resolve(queryType string) (QueryBackend, bool) {
	b, ok := r.backends[queryType]
	return b, ok
}

// Names returns the registered query types, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
