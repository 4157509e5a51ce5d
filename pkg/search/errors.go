package search

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/grafana/regexp"
	jsoniter "github.com/json-iterator/go"
)

var (
	ErrConfiguration      = errors.New("invalid search configuration")
	ErrUnboundParameter   = errors.New("unbound parameter")
	ErrParameterExpansion = errors.New("parameter expansion failed")
	ErrExecution          = errors.New("search execution failed")
	ErrResultWindowLimit  = errors.New("result window is too large")
	ErrMissingCapability  = errors.New("missing capability")
	ErrDependencyFailed   = errors.New("dependency failed")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ConfigurationError is raised for searches which cannot be planned or
// executed as declared: unknown backends, unknown query references and
// cyclic dependencies.
type ConfigurationError struct {
	QueryID string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.QueryID == "" {
		return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
	}
	return fmt.Sprintf("%s: query %s: %s", ErrConfiguration, e.QueryID, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func (e *ConfigurationError) MarshalJSON() ([]byte, error) {
	return marshalError("configuration", e.Error(), map[string]any{"query_id": e.QueryID})
}

// UnboundParameterError is raised when a query uses a parameter that has no
// value.
type UnboundParameterError struct {
	QueryID   string
	Parameter string
}

func (e *UnboundParameterError) Error() string {
	return fmt.Sprintf("%s %q in query %s", ErrUnboundParameter, e.Parameter, e.QueryID)
}

func (e *UnboundParameterError) Is(target error) bool { return target == ErrUnboundParameter }

func (e *UnboundParameterError) MarshalJSON() ([]byte, error) {
	return marshalError("unbound_parameter", e.Error(), map[string]any{
		"query_id":  e.QueryID,
		"parameter": e.Parameter,
	})
}

// ParameterExpansionError is raised when a bound parameter value cannot be
// computed or substituted.
type ParameterExpansionError struct {
	QueryID   string
	Parameter string
	Cause     string
}

func (e *ParameterExpansionError) Error() string {
	msg := fmt.Sprintf("%s: parameter %q in query %s", ErrParameterExpansion, e.Parameter, e.QueryID)
	if e.Cause != "" {
		msg += ": " + e.Cause
	}
	return msg
}

func (e *ParameterExpansionError) Is(target error) bool { return target == ErrParameterExpansion }

func (e *ParameterExpansionError) MarshalJSON() ([]byte, error) {
	return marshalError("parameter_expansion", e.Error(), map[string]any{
		"query_id":  e.QueryID,
		"parameter": e.Parameter,
	})
}

// QueryError reports that the backend failed to run a query as a whole.
type QueryError struct {
	QueryID string
	Cause   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: query %s: %v", ErrExecution, e.QueryID, e.Cause)
}

func (e *QueryError) Is(target error) bool { return target == ErrExecution }
func (e *QueryError) Unwrap() error        { return e.Cause }

func (e *QueryError) MarshalJSON() ([]byte, error) {
	return marshalError("query", e.Error(), map[string]any{"query_id": e.QueryID})
}

// SearchTypeError reports that the backend failed to compute a single search
// type of a query. Other search types of the same query are unaffected.
type SearchTypeError struct {
	QueryID      string
	SearchTypeID string
	Description  string
	Cause        error
}

func (e *SearchTypeError) Error() string {
	return fmt.Sprintf("%s: query %s search type %s: %s", ErrExecution, e.QueryID, e.SearchTypeID, e.Description)
}

func (e *SearchTypeError) Is(target error) bool { return target == ErrExecution }
func (e *SearchTypeError) Unwrap() error        { return e.Cause }

func (e *SearchTypeError) MarshalJSON() ([]byte, error) {
	return marshalError("search_type", e.Error(), map[string]any{
		"query_id":       e.QueryID,
		"search_type_id": e.SearchTypeID,
	})
}

// ResultWindowLimitError is a SearchTypeError raised when the requested page
// lies beyond the backend's result window.
type ResultWindowLimitError struct {
	SearchTypeError
	Limit int
}

func (e *ResultWindowLimitError) Error() string {
	return fmt.Sprintf("%s: query %s search type %s: limit is %d", ErrResultWindowLimit, e.QueryID, e.SearchTypeID, e.Limit)
}

func (e *ResultWindowLimitError) Is(target error) bool {
	return target == ErrResultWindowLimit || target == ErrExecution
}

func (e *ResultWindowLimitError) MarshalJSON() ([]byte, error) {
	return marshalError("result_window_limit", e.Error(), map[string]any{
		"query_id":       e.QueryID,
		"search_type_id": e.SearchTypeID,
		"result_window":  e.Limit,
	})
}

// MissingCapabilityError reports capabilities a query needs but the
// installation does not provide.
type MissingCapabilityError struct {
	QueryID      string
	SearchTypeID string
	Missing      []string
}

func (e *MissingCapabilityError) Error() string {
	return fmt.Sprintf("%s: query %s requires %s", ErrMissingCapability, e.QueryID, strings.Join(e.Missing, ", "))
}

func (e *MissingCapabilityError) Is(target error) bool { return target == ErrMissingCapability }

func (e *MissingCapabilityError) MarshalJSON() ([]byte, error) {
	return marshalError("missing_capability", e.Error(), map[string]any{
		"query_id":       e.QueryID,
		"search_type_id": e.SearchTypeID,
		"missing":        e.Missing,
	})
}

// DependencyError is the outcome of a query whose predecessor failed. It
// unwraps to the predecessor's error.
type DependencyError struct {
	QueryID   string
	DependsOn string
	Cause     error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: query %s depends on failed query %s: %v", ErrDependencyFailed, e.QueryID, e.DependsOn, e.Cause)
}

func (e *DependencyError) Is(target error) bool { return target == ErrDependencyFailed }
func (e *DependencyError) Unwrap() error        { return e.Cause }

func (e *DependencyError) MarshalJSON() ([]byte, error) {
	return marshalError("dependency", e.Error(), map[string]any{
		"query_id":   e.QueryID,
		"depends_on": e.DependsOn,
	})
}

func marshalError(kind, description string, fields map[string]any) ([]byte, error) {
	out := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}
	out["type"] = kind
	out["description"] = description
	return json.Marshal(out)
}

// MarshalErrors renders errs as a JSON array. Errors outside the taxonomy are
// reported as their message.
func MarshalErrors(errs []error) ([]byte, error) {
	out := make([]any, 0, len(errs))
	for _, err := range errs {
		if m, ok := err.(interface{ MarshalJSON() ([]byte, error) }); ok {
			b, merr := m.MarshalJSON()
			if merr != nil {
				return nil, merr
			}
			out = append(out, jsoniter.RawMessage(b))
			continue
		}
		out = append(out, map[string]string{"type": "unknown", "description": err.Error()})
	}
	return json.Marshal(out)
}

var (
	resultWindowRegexp = regexp.MustCompile(`(?is)result window is too large\D*(\d+)`)
	numericFieldRegexp = regexp.MustCompile(`(?i)expected numeric type on field \[([^\]]+)\]`)
)

// ClassifyBackendError maps a message reported by the backend onto the error
// taxonomy. searchTypeID may be empty when the failure concerns the whole
// query.
func ClassifyBackendError(queryID, searchTypeID, message string, cause error) error {
	if m := resultWindowRegexp.FindStringSubmatch(message); m != nil {
		limit, err := strconv.Atoi(m[1])
		if err == nil {
			return &ResultWindowLimitError{
				SearchTypeError: SearchTypeError{
					QueryID:      queryID,
					SearchTypeID: searchTypeID,
					Description:  message,
					Cause:        cause,
				},
				Limit: limit,
			}
		}
	}

	description := message
	if m := numericFieldRegexp.FindStringSubmatch(message); m != nil {
		description = fmt.Sprintf("field %s is not numeric: %s", m[1], message)
	}
	if searchTypeID == "" {
		if cause == nil {
			cause = errors.New(description)
		}
		return &QueryError{QueryID: queryID, Cause: cause}
	}
	return &SearchTypeError{
		QueryID:      queryID,
		SearchTypeID: searchTypeID,
		Description:  description,
		Cause:        cause,
	}
}
