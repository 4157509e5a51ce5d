// Package search holds the model of searches: queries, the analyses
// (search types) requested on them, their results and the errors they can
// fail with.
package search

import (
	"fmt"
	"strings"
)

// Search is a named set of queries submitted together. It is read-only once
// handed to the engine.
type Search struct {
	ID         string      `json:"id"`
	Queries    []*Query    `json:"queries"`
	Parameters []Parameter `json:"parameters,omitempty"`
}

// Query returns the query with the given id.
func (s *Search) Query(id string) (*Query, bool) {
	for _, q := range s.Queries {
		if q.ID == id {
			return q, true
		}
	}
	return nil, false
}

// Parameter returns the declaration of the named parameter.
func (s *Search) Parameter(name string) (Parameter, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// BackendQuery is a query expression for a specific backend. Type selects the
// backend that compiles and runs it.
type BackendQuery struct {
	Type        string `json:"type"`
	QueryString string `json:"query_string"`
}

// MatchesAll reports whether the query string selects every document.
func (q BackendQuery) MatchesAll() bool {
	s := strings.TrimSpace(q.QueryString)
	return s == "" || s == "*"
}

// Query is one request against a search backend.
type Query struct {
	ID          string             `json:"id"`
	Query       BackendQuery       `json:"query"`
	TimeRange   TimeRange          `json:"timerange"`
	Streams     []string           `json:"streams,omitempty"`
	Bindings    []ParameterBinding `json:"bindings,omitempty"`
	SearchTypes []SearchType       `json:"search_types"`
}

// SearchType returns the search type with the given id.
func (q *Query) SearchType(id string) (SearchType, bool) {
	for _, st := range q.SearchTypes {
		if st.ID() == id {
			return st, true
		}
	}
	return nil, false
}

// References returns the ids of all queries whose results this query needs,
// in binding order and without duplicates.
func (q *Query) References() []string {
	var (
		refs []string
		seen = map[string]struct{}{}
	)
	for _, b := range q.Bindings {
		for _, ref := range b.QueryRefs {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	return refs
}

// Validate checks structural constraints of the query which later stages
// rely on.
func (q *Query) Validate() error {
	if q.ID == "" {
		return &ConfigurationError{Reason: "query without id"}
	}
	if q.Query.Type == "" {
		return &ConfigurationError{QueryID: q.ID, Reason: "missing backend query type"}
	}
	seen := make(map[string]struct{}, len(q.SearchTypes))
	for _, st := range q.SearchTypes {
		if st.ID() == "" {
			return &ConfigurationError{QueryID: q.ID, Reason: fmt.Sprintf("%s search type without id", st.Type())}
		}
		if _, ok := seen[st.ID()]; ok {
			return &ConfigurationError{QueryID: q.ID, Reason: fmt.Sprintf("duplicate search type id %s", st.ID())}
		}
		seen[st.ID()] = struct{}{}
	}
	return nil
}
