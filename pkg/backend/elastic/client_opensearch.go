package elastic

import (
	"context"

	"github.com/olivere/elastic/v7"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/pkg/errors"
)

type opensearchClient struct {
	client *opensearch.Client
}

// NewOpenSearchClient returns a Client talking to an OpenSearch cluster.
func NewOpenSearchClient(cfg Config) (Client, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password.String(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create opensearch client")
	}
	return &opensearchClient{client: client}, nil
}

func (c *opensearchClient) MultiSearch(ctx context.Context, reqs []SearchRequest) ([]*elastic.SearchResult, error) {
	body, err := encodeMultiSearch(reqs)
	if err != nil {
		return nil, err
	}
	req := opensearchapi.MsearchRequest{Body: body}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "msearch request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, decodeErrorResponse(res.StatusCode, res.Body)
	}
	return decodeMultiSearch(res.Body, len(reqs))
}
