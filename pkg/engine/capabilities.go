package engine

import (
	"context"
	"sort"

	"github.com/grafana/searchplan/pkg/search"
)

// CapabilityChecker rejects queries which need capabilities the installation
// does not provide. It is called before a query is generated.
type CapabilityChecker interface {
	Check(ctx context.Context, q *search.Query) error
}

// CapabilitySet is a static CapabilityChecker. Search types require the
// capabilities listed for their type.
type CapabilitySet struct {
	available map[string]struct{}
	required  map[string][]string
}

// NewCapabilitySet returns a checker which grants the available capabilities.
// required maps search type names to the capabilities they need.
func NewCapabilitySet(available []string, required map[string][]string) *CapabilitySet {
	s := &CapabilitySet{
		available: make(map[string]struct{}, len(available)),
		required:  required,
	}
	for _, c := range available {
		s.available[c] = struct{}{}
	}
	return s
}

// Check returns a *search.MissingCapabilityError for the first search type
// with missing capabilities.
func (s *CapabilitySet) Check(_ context.Context, q *search.Query) error {
	for _, st := range q.SearchTypes {
		var missing []string
		for _, c := range s.required[st.Type()] {
			if _, ok := s.available[c]; !ok {
				missing = append(missing, c)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return &search.MissingCapabilityError{QueryID: q.ID, SearchTypeID: st.ID(), Missing: missing}
		}
	}
	return nil
}
