package searchplan

import (
	"sort"

	jsoniter "github.com/json-iterator/go"

	"github.com/grafana/searchplan/pkg/engine"
	"github.com/grafana/searchplan/pkg/search"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Response is the outcome of a finished job.
type Response struct {
	SearchID string                         `json:"search_id"`
	JobID    string                         `json:"job_id"`
	Results  map[string]*search.QueryResult `json:"results"`
	// Errors of failed queries, ordered by query id.
	Errors []error `json:"-"`
}

// NewResponse collects the results and errors of job.
func NewResponse(job *engine.Job) *Response {
	resp := &Response{
		SearchID: job.Search().ID,
		JobID:    job.ID(),
		Results:  job.Results(),
	}
	failed := job.Errors()
	ids := make([]string, 0, len(failed))
	for id := range failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		resp.Errors = append(resp.Errors, failed[id])
	}
	return resp
}

// Failed reports whether any query failed.
func (r *Response) Failed() bool { return len(r.Errors) > 0 }

func (r *Response) MarshalJSON() ([]byte, error) {
	errs, err := search.MarshalErrors(r.Errors)
	if err != nil {
		return nil, err
	}
	type plain Response
	return json.Marshal(struct {
		*plain
		Errors jsoniter.RawMessage `json:"errors"`
	}{(*plain)(r), jsoniter.RawMessage(errs)})
}
