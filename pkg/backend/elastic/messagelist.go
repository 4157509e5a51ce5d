package elastic

import (
	"fmt"

	"github.com/olivere/elastic/v7"

	"github.com/grafana/searchplan/pkg/search"
)

type messageListHandler struct {
	defaultLimit int
}

func (h messageListHandler) Generate(m *search.MessageList, c *SearchTypeContext) error {
	if m.Offset < 0 || m.Limit < 0 {
		return fmt.Errorf("invalid page offset %d limit %d", m.Offset, m.Limit)
	}
	limit := m.Limit
	if limit == 0 {
		limit = h.defaultLimit
	}
	src := c.Source().From(m.Offset).Size(limit)
	for _, s := range m.EffectiveSort() {
		src.SortBy(elastic.NewFieldSort(s.Field).Order(s.Direction != search.Descending).UnmappedType("keyword"))
	}
	if len(m.Fields) > 0 {
		src.FetchSourceContext(elastic.NewFetchSourceContext(true).Include(m.Fields...))
	}
	return nil
}

func (messageListHandler) Extract(m *search.MessageList, c *SearchTypeContext, resp *elastic.SearchResult) (search.Result, error) {
	tr, err := c.EffectiveTimeRange()
	if err != nil {
		return nil, err
	}
	res := &search.MessageListResult{
		ID:                 m.ID(),
		Messages:           []search.Message{},
		Total:              resp.TotalHits(),
		EffectiveTimeRange: tr,
	}
	if resp.Hits == nil {
		return res, nil
	}
	for _, hit := range resp.Hits.Hits {
		fields := map[string]any{}
		if len(hit.Source) > 0 {
			if err := json.Unmarshal(hit.Source, &fields); err != nil {
				return nil, fmt.Errorf("decode message %s: %w", hit.Id, err)
			}
		}
		res.Messages = append(res.Messages, search.Message{Index: hit.Index, ID: hit.Id, Fields: fields})
	}
	return res, nil
}
