package engine

import (
	"fmt"

	"github.com/grafana/searchplan/pkg/search"
)

// resolveParameters computes the parameter values of q. A binding with a
// literal value wins over values taken from predecessor results, which win
// over the default declared on the search.
func resolveParameters(s *search.Search, q *search.Query, predecessors map[string]*search.QueryResult) (search.ParameterValues, error) {
	values := search.ParameterValues{}
	for _, p := range s.Parameters {
		if p.Default != nil {
			values[p.Name] = *p.Default
		}
	}

	for _, b := range q.Bindings {
		if b.Value != nil {
			values[b.Name] = *b.Value
			continue
		}
		if len(b.QueryRefs) == 0 {
			continue
		}

		var collected []string
		for _, ref := range b.QueryRefs {
			vals, err := valuesFromResult(predecessors[ref], ref, b.SearchTypeID)
			if err != nil {
				return nil, &search.ParameterExpansionError{QueryID: q.ID, Parameter: b.Name, Cause: err.Error()}
			}
			collected = append(collected, vals...)
		}
		if len(collected) == 0 {
			return nil, &search.ParameterExpansionError{
				QueryID:   q.ID,
				Parameter: b.Name,
				Cause:     "referenced queries returned no values",
			}
		}
		values[b.Name] = search.JoinValues(collected)
	}

	if err := checkBound(q, values); err != nil {
		return nil, err
	}
	return values, nil
}

func valuesFromResult(r *search.QueryResult, queryID, searchTypeID string) ([]string, error) {
	if r == nil {
		return nil, fmt.Errorf("result of query %s is not available", queryID)
	}

	var result search.Result
	switch {
	case searchTypeID != "":
		var ok bool
		if result, ok = r.SearchTypes[searchTypeID]; !ok {
			return nil, fmt.Errorf("query %s has no result for search type %s", queryID, searchTypeID)
		}
	case len(r.SearchTypes) == 1:
		for _, st := range r.SearchTypes {
			result = st
		}
	default:
		return nil, fmt.Errorf("query %s has %d search type results, binding must name one", queryID, len(r.SearchTypes))
	}

	src, ok := result.(search.ParameterSource)
	if !ok {
		return nil, fmt.Errorf("%s result %s of query %s cannot supply parameter values", result.Type(), result.SearchTypeID(), queryID)
	}
	return src.ParameterValues()
}

// checkBound fails with an *search.UnboundParameterError if the query string
// of q or of one of its search types uses a parameter without value.
func checkBound(q *search.Query, values search.ParameterValues) error {
	queries := []string{q.Query.QueryString}
	for _, st := range q.SearchTypes {
		queries = append(queries, st.Settings().Query)
	}
	for _, qs := range queries {
		for _, name := range search.UsedParameters(qs) {
			if _, ok := values[name]; !ok {
				return &search.UnboundParameterError{QueryID: q.ID, Parameter: name}
			}
		}
	}
	return nil
}
