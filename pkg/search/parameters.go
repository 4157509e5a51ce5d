package search

import (
	"sort"
	"strings"

	"github.com/grafana/regexp"
)

// Parameter declares a parameter of a search with an optional default value.
type Parameter struct {
	Name    string  `json:"name"`
	Default *string `json:"default,omitempty"`
}

// ParameterBinding supplies the value of a parameter used in a query. The
// value is either given literally or taken from the results of the queries
// in QueryRefs. SearchTypeID selects the search type of the referenced
// queries to read; it may be empty when those queries have a single search
// type.
type ParameterBinding struct {
	Name         string   `json:"name"`
	QueryRefs    []string `json:"query_refs,omitempty"`
	SearchTypeID string   `json:"search_type_id,omitempty"`
	Value        *string  `json:"value,omitempty"`
}

// ParameterValues maps parameter names to resolved values.
type ParameterValues map[string]string

var parameterRegexp = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)\$`)

// UsedParameters returns the names of the parameters referenced by s, sorted.
func UsedParameters(s string) []string {
	seen := map[string]struct{}{}
	for _, m := range parameterRegexp.FindAllStringSubmatch(s, -1) {
		seen[m[1]] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Expand replaces every $name$ token of s with its value. The first token
// without a value fails the expansion with an UnboundParameterError.
func (v ParameterValues) Expand(queryID, s string) (string, error) {
	var unbound string
	out := parameterRegexp.ReplaceAllStringFunc(s, func(token string) string {
		name := token[1 : len(token)-1]
		value, ok := v[name]
		if !ok {
			if unbound == "" {
				unbound = name
			}
			return token
		}
		return value
	})
	if unbound != "" {
		return "", &UnboundParameterError{QueryID: queryID, Parameter: unbound}
	}
	return out, nil
}

// JoinValues combines several values of a parameter into one query string
// disjunction.
func JoinValues(values []string) string {
	if len(values) == 1 {
		return quote(values[0])
	}
	quoted := make([]string, len(values))
	for i, value := range values {
		quoted[i] = quote(value)
	}
	return "(" + strings.Join(quoted, " OR ") + ")"
}

var phraseEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// quote makes s a query string phrase. Only backslash and double quote are
// escaped; every other character is taken literally inside a phrase.
func quote(s string) string {
	return `"` + phraseEscaper.Replace(s) + `"`
}
