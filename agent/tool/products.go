package tool

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

const (
	defaultCategoryLimit = 200
	defaultWebCount      = 5
)

type ProductFinder interface {
	FindProducts(ctx context.Context, q contractx.ProductQuery) (contractx.ProductSearchResults, error)
}

type CategoryLister interface {
	ListCategories(ctx context.Context, limit int) ([]string, error)
}

var FindProductsSpec = Spec{
	Name: string(contractx.ToolFindProducts),
	Desc: "Search the internal catalog first; the runtime decides whether web fallback is allowed. " +
		"Only use categories returned by list_product_categories. Keep query_text to a short 2-3 word query.",
	Params: map[string]*schema.ParameterInfo{
		"query_text": {Type: schema.String, Desc: "Short product search query", Required: true},
		"common_filters": {
			Type: schema.Object,
			Desc: "Shared filters carried across turns",
			SubParams: map[string]*schema.ParameterInfo{
				"color":     {Type: schema.String},
				"price_min": {Type: schema.Number},
				"price_max": {Type: schema.Number},
				"gender":    {Type: schema.String, Enum: []string{"Men", "Women", "none", "non"}},
			},
		},
		"product_filters": {
			Type: schema.Object,
			SubParams: map[string]*schema.ParameterInfo{
				"category": {Type: schema.String, Desc: "Category to filter by, taken from list_product_categories"},
				"style":    {Type: schema.String},
			},
		},
		"web_count": {Type: schema.Integer, Desc: "Maximum number of web fallback results"},
	},
}

var ListProductCategoriesSpec = Spec{
	Name: string(contractx.ToolListProductCategories),
	Desc: "Returns available product categories from the internal catalog.",
	Params: map[string]*schema.ParameterInfo{
		"limit": {Type: schema.Integer, Desc: "Maximum number of categories to return, prefer 200"},
	},
}

// RegisterProductTools adds find_products and list_product_categories.
func RegisterProductTools(c *Catalog, finder ProductFinder, lister CategoryLister) error {
	if finder == nil || lister == nil {
		return errors.New("product finder and category lister are required")
	}
	if err := c.Register(FindProductsSpec, findProductsHandler(finder)); err != nil {
		return err
	}
	return c.Register(ListProductCategoriesSpec, func(ctx context.Context, args map[string]any) (any, error) {
		limit := intArg(args, "limit", defaultCategoryLimit)
		if limit <= 0 {
			limit = defaultCategoryLimit
		}
		return lister.ListCategories(ctx, limit)
	})
}

func findProductsHandler(finder ProductFinder) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		webCount := intArg(args, "web_count", defaultWebCount)
		if webCount < 1 {
			webCount = 1
		}
		// allow_web_fallback is injected by the dispatcher, never by the model.
		allow, _ := args["allow_web_fallback"].(bool)
		q := contractx.ProductQuery{
			QueryText:        strings.TrimSpace(stringArg(args, "query_text")),
			CommonFilters:    contractx.ParseCommonFilters(args["common_filters"]),
			ProductFilters:   contractx.ParseProductFilters(args["product_filters"]),
			AllowWebFallback: allow,
			WebCount:         webCount,
		}
		return finder.FindProducts(ctx, q)
	}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
