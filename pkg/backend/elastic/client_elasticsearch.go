package elastic

import (
	"context"

	elasticsearch "github.com/elastic/go-elasticsearch/v7"
	"github.com/olivere/elastic/v7"
	"github.com/pkg/errors"
)

type elasticsearchClient struct {
	client *elasticsearch.Client
}

// NewElasticsearchClient returns a Client talking to an Elasticsearch 7
// cluster.
func NewElasticsearchClient(cfg Config) (Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password.String(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create elasticsearch client")
	}
	return &elasticsearchClient{client: client}, nil
}

func (c *elasticsearchClient) MultiSearch(ctx context.Context, reqs []SearchRequest) ([]*elastic.SearchResult, error) {
	body, err := encodeMultiSearch(reqs)
	if err != nil {
		return nil, err
	}
	res, err := c.client.Msearch(body, c.client.Msearch.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "msearch request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, decodeErrorResponse(res.StatusCode, res.Body)
	}
	return decodeMultiSearch(res.Body, len(reqs))
}
