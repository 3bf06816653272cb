package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	"github.com/tanpawarit/Chative-Shopping-Assistant/pkg/brave"
	"github.com/tanpawarit/Chative-Shopping-Assistant/pkg/openmeteo"
)

type fakeFinder struct {
	got contractx.ProductQuery
}

func (f *fakeFinder) FindProducts(_ context.Context, q contractx.ProductQuery) (contractx.ProductSearchResults, error) {
	f.got = q
	return contractx.ProductSearchResults{
		Internal: []contractx.ProductResult{{ID: "p1", Name: "Pegasus", Source: contractx.SourceDB}},
	}, nil
}

type fakeLister struct {
	limit int
}

func (f *fakeLister) ListCategories(_ context.Context, limit int) ([]string, error) {
	f.limit = limit
	return []string{"Shoes", "Jackets"}, nil
}

type fakeWeather struct{}

func (fakeWeather) GeocodeCity(_ context.Context, city string) (openmeteo.Location, error) {
	return openmeteo.Location{Name: city, Country: "Norway"}, nil
}

func (fakeWeather) HistoricalMonth(_ context.Context, city string, year, month int) (openmeteo.MonthSummary, error) {
	return openmeteo.MonthSummary{City: city, Year: year, Month: month}, nil
}

type fakeSearcher struct {
	searchType string
	count      int
}

func (f *fakeSearcher) Search(_ context.Context, searchType, query string, count int) (brave.Response, error) {
	f.searchType = searchType
	f.count = count
	return brave.Response{Query: query, SearchType: searchType}, nil
}

func newFullCatalog(t *testing.T) (*Catalog, *fakeFinder, *fakeLister, *fakeSearcher) {
	t.Helper()

	c := NewCatalog()
	finder, lister, searcher := &fakeFinder{}, &fakeLister{}, &fakeSearcher{}
	if err := RegisterProductTools(c, finder, lister); err != nil {
		t.Fatalf("RegisterProductTools() error = %v", err)
	}
	if err := RegisterWeatherTools(c, fakeWeather{}); err != nil {
		t.Fatalf("RegisterWeatherTools() error = %v", err)
	}
	if err := RegisterWebSearchTools(c, searcher); err != nil {
		t.Fatalf("RegisterWebSearchTools() error = %v", err)
	}
	return c, finder, lister, searcher
}

func TestCatalogRegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	noop := func(context.Context, map[string]any) (any, error) { return nil, nil }
	if err := c.Register(Spec{Name: "x"}, noop); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := c.Register(Spec{Name: "x"}, noop); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("duplicate Register() error = %v, want ErrValidation", err)
	}
	if err := c.Register(Spec{Name: " "}, noop); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("blank name error = %v, want ErrValidation", err)
	}
	if err := c.Register(Spec{Name: "y"}, nil); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("nil handler error = %v, want ErrValidation", err)
	}
}

func TestCatalogInfosKeepsRequestedOrder(t *testing.T) {
	t.Parallel()

	c, _, _, _ := newFullCatalog(t)
	infos := c.Infos(
		string(contractx.ToolFindProducts),
		"not_registered",
		string(contractx.ToolListProductCategories),
	)
	if len(infos) != 2 {
		t.Fatalf("got %d infos, want 2", len(infos))
	}
	if infos[0].Name != "find_products" || infos[1].Name != "list_product_categories" {
		t.Fatalf("unexpected order: %s, %s", infos[0].Name, infos[1].Name)
	}
	for _, name := range []contractx.ToolName{
		contractx.ToolFindProducts,
		contractx.ToolListProductCategories,
		contractx.ToolResolveCityLocation,
		contractx.ToolGetHistoricalMonthWeather,
		contractx.ToolGenericWebSearch,
	} {
		if !c.Has(string(name)) {
			t.Fatalf("tool %s not registered", name)
		}
	}
}

func TestCatalogCallUnknownTool(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	if _, err := c.Call(context.Background(), "nope", nil); !errors.Is(err, contractx.ErrUnknownTool) {
		t.Fatalf("error = %v, want ErrUnknownTool", err)
	}
}

func TestCatalogCallValidatesArguments(t *testing.T) {
	t.Parallel()

	c, _, _, _ := newFullCatalog(t)
	tests := []struct {
		name string
		tool contractx.ToolName
		args map[string]any
	}{
		{name: "missing required", tool: contractx.ToolFindProducts, args: map[string]any{}},
		{name: "wrong type", tool: contractx.ToolFindProducts, args: map[string]any{"query_text": 42}},
		{name: "bad enum", tool: contractx.ToolFindProducts, args: map[string]any{
			"query_text":     "shoes",
			"common_filters": map[string]any{"gender": "Kids"},
		}},
		{name: "fractional integer", tool: contractx.ToolGetHistoricalMonthWeather, args: map[string]any{"city": "Oslo", "year": 2024, "month": 1.5}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := c.Call(context.Background(), string(tt.tool), tt.args)
			if !errors.Is(err, contractx.ErrInvalidToolArgs) {
				t.Fatalf("error = %v, want argument error", err)
			}
		})
	}
}

func TestFindProductsHandler(t *testing.T) {
	t.Parallel()

	c, finder, _, _ := newFullCatalog(t)
	out, err := c.Call(context.Background(), string(contractx.ToolFindProducts), map[string]any{
		"query_text":         " running shoes ",
		"common_filters":     map[string]any{"color": "black", "price_max": 120, "gender": nil, "price_min": nil},
		"product_filters":    map[string]any{"category": "Shoes"},
		"allow_web_fallback": true,
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	results, ok := out.(contractx.ProductSearchResults)
	if !ok || len(results.Internal) != 1 {
		t.Fatalf("unexpected result %#v", out)
	}
	q := finder.got
	if q.QueryText != "running shoes" || !q.AllowWebFallback || q.WebCount != defaultWebCount {
		t.Fatalf("unexpected query: %+v", q)
	}
	if q.CommonFilters == nil || *q.CommonFilters.PriceMax != 120 || q.CommonFilters.PriceMin != nil {
		t.Fatalf("unexpected filters: %+v", q.CommonFilters)
	}
	if q.ProductFilters == nil || q.ProductFilters.Category != "Shoes" {
		t.Fatalf("unexpected product filters: %+v", q.ProductFilters)
	}
}

func TestListProductCategoriesDefaultsLimit(t *testing.T) {
	t.Parallel()

	c, _, lister, _ := newFullCatalog(t)
	out, err := c.Call(context.Background(), string(contractx.ToolListProductCategories), nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if lister.limit != defaultCategoryLimit {
		t.Fatalf("limit = %d", lister.limit)
	}
	if got, ok := out.([]string); !ok || len(got) != 2 {
		t.Fatalf("unexpected output %#v", out)
	}
}

func TestGenericWebSearchDefaults(t *testing.T) {
	t.Parallel()

	c, _, _, searcher := newFullCatalog(t)
	if _, err := c.Call(context.Background(), string(contractx.ToolGenericWebSearch), map[string]any{"query_text": "marathon results"}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if searcher.searchType != string(contractx.SearchTypeWeb) || searcher.count != defaultSearchCount {
		t.Fatalf("searchType=%s count=%d", searcher.searchType, searcher.count)
	}
}

func TestWeatherHandlers(t *testing.T) {
	t.Parallel()

	c, _, _, _ := newFullCatalog(t)
	out, err := c.Call(context.Background(), string(contractx.ToolGetHistoricalMonthWeather), map[string]any{"city": "Oslo", "year": 2024, "month": 2})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	summary, ok := out.(openmeteo.MonthSummary)
	if !ok || summary.Year != 2024 || summary.Month != 2 {
		t.Fatalf("unexpected summary %#v", out)
	}
}

func TestParamSchemaAllowsNullForOptional(t *testing.T) {
	t.Parallel()

	got := paramSchema(&schema.ParameterInfo{Type: schema.String, Enum: []string{"a"}}, false)
	types, ok := got["type"].([]any)
	if !ok || len(types) != 2 || types[1] != "null" {
		t.Fatalf("type = %#v", got["type"])
	}
	enum := got["enum"].([]any)
	if enum[len(enum)-1] != nil {
		t.Fatalf("enum must accept null: %#v", enum)
	}
}
