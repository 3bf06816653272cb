package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	"github.com/tanpawarit/Chative-Shopping-Assistant/pkg/brave"
)

const defaultSearchCount = 5

type WebSearcher interface {
	Search(ctx context.Context, searchType, query string, count int) (brave.Response, error)
}

var GenericWebSearchSpec = Spec{
	Name: string(contractx.ToolGenericWebSearch),
	Desc: "Search the web for general information, news or query suggestions.",
	Params: map[string]*schema.ParameterInfo{
		"query_text": {Type: schema.String, Required: true},
		"search_type": {
			Type: schema.String,
			Enum: []string{
				string(contractx.SearchTypeWeb),
				string(contractx.SearchTypeNews),
				string(contractx.SearchTypeSuggestion),
			},
		},
		"count": {Type: schema.Integer, Desc: "Number of results, default 5"},
	},
}

func RegisterWebSearchTools(c *Catalog, searcher WebSearcher) error {
	if searcher == nil {
		return errors.New("web searcher is required")
	}
	return c.Register(GenericWebSearchSpec, func(ctx context.Context, args map[string]any) (any, error) {
		searchType := contractx.SearchType(stringArg(args, "search_type"))
		if searchType == "" {
			searchType = contractx.SearchTypeWeb
		}
		if !searchType.Valid() {
			return nil, fmt.Errorf("%w: invalid search_type %q", contractx.ErrInvalidToolArgs, searchType)
		}
		count := intArg(args, "count", defaultSearchCount)
		if count <= 0 {
			count = defaultSearchCount
		}
		return searcher.Search(ctx, string(searchType), stringArg(args, "query_text"), count)
	})
}
