package elastic

import (
	"fmt"

	"github.com/olivere/elastic/v7"

	"github.com/grafana/searchplan/pkg/search"
)

// SearchTypeHandler compiles one kind of search type into its part of the
// search request and extracts its result from the response.
type SearchTypeHandler interface {
	GenerateQueryPart(c *SearchTypeContext) error
	ExtractResult(c *SearchTypeContext, resp *elastic.SearchResult) (search.Result, error)
}

// TypedHandler is a SearchTypeHandler for the search type T.
type TypedHandler[T search.SearchType] interface {
	Generate(st T, c *SearchTypeContext) error
	Extract(st T, c *SearchTypeContext, resp *elastic.SearchResult) (search.Result, error)
}

// HandlerFor adapts a TypedHandler to a SearchTypeHandler.
func HandlerFor[T search.SearchType](h TypedHandler[T]) SearchTypeHandler {
	return typedHandler[T]{h}
}

type typedHandler[T search.SearchType] struct {
	h TypedHandler[T]
}

func (a typedHandler[T]) searchType(c *SearchTypeContext) (T, error) {
	st, ok := c.SearchType().(T)
	if !ok {
		return st, fmt.Errorf("handler for %T cannot handle search type %T", st, c.SearchType())
	}
	return st, nil
}

func (a typedHandler[T]) GenerateQueryPart(c *SearchTypeContext) error {
	st, err := a.searchType(c)
	if err != nil {
		return err
	}
	return a.h.Generate(st, c)
}

func (a typedHandler[T]) ExtractResult(c *SearchTypeContext, resp *elastic.SearchResult) (search.Result, error) {
	st, err := a.searchType(c)
	if err != nil {
		return nil, err
	}
	return a.h.Extract(st, c, resp)
}

type handlerKey struct {
	backend    string
	searchType string
}

// Handlers maps (backend, search type) pairs to handlers. It must not be
// modified once it is used by a Backend.
type Handlers struct {
	handlers map[handlerKey]SearchTypeHandler
}

func NewHandlers() *Handlers {
	return &Handlers{handlers: make(map[handlerKey]SearchTypeHandler)}
}

// Register sets the handler of searchType on backend, replacing any
// previous one.
func (h *Handlers) Register(backend, searchType string, handler SearchTypeHandler) {
	h.handlers[handlerKey{backend, searchType}] = handler
}

func (h *Handlers) Get(backend, searchType string) (SearchTypeHandler, bool) {
	handler, ok := h.handlers[handlerKey{backend, searchType}]
	return handler, ok
}

// HandlerDefaults are the limits applied to search types which do not set
// their own.
type HandlerDefaults struct {
	MessageLimit int
	ValuesLimit  int
}

// DefaultHandlers registers the handlers of all search types for each of
// the given backends.
func DefaultHandlers(defaults HandlerDefaults, backends ...string) *Handlers {
	h := NewHandlers()
	for _, backend := range backends {
		h.Register(backend, search.TypeDateHistogram, HandlerFor[*search.DateHistogram](dateHistogramHandler{}))
		h.Register(backend, search.TypeFieldMetric, HandlerFor[*search.FieldMetric](fieldMetricHandler{}))
		h.Register(backend, search.TypeGroupBy, HandlerFor[*search.GroupBy](groupByHandler{defaultLimit: defaults.ValuesLimit}))
		h.Register(backend, search.TypeGroupByHistogram, HandlerFor[*search.GroupByHistogram](groupByHistogramHandler{defaultLimit: defaults.ValuesLimit}))
		h.Register(backend, search.TypeMessageList, HandlerFor[*search.MessageList](messageListHandler{defaultLimit: defaults.MessageLimit}))
		h.Register(backend, search.TypePivot, HandlerFor[*search.Pivot](newPivotHandler(defaults.ValuesLimit)))
	}
	return h
}
