package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	"github.com/tanpawarit/Chative-Shopping-Assistant/pkg/brave"
)

const (
	defaultInternalLimit = 10
	defaultWebCandidates = 20
)

var (
	pricePattern      = regexp.MustCompile(`\$([0-9]+(?:\.[0-9]{2})?)`)
	bestBuySKUPattern = regexp.MustCompile(`/\d+\.p($|[/?])`)
)

// CatalogSearcher queries the internal product catalog.
type CatalogSearcher interface {
	SearchProducts(ctx context.Context, q contractx.ProductQuery, limit int) ([]contractx.ProductResult, error)
}

type ShoppingSearcher interface {
	ShoppingSearch(ctx context.Context, query string, sources []string, count int) (brave.Response, error)
}

type Option func(*Retriever)

func WithInternalLimit(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.internalLimit = n
		}
	}
}

func WithWebCandidates(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.webCandidates = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Retriever) {
		r.log = l
	}
}

// Retriever implements the primary retrieval tool: the internal catalog
// first, then a shopping web search when the catalog has nothing and the
// caller allows fallback.
type Retriever struct {
	catalog       CatalogSearcher
	web           ShoppingSearcher
	internalLimit int
	webCandidates int
	log           zerolog.Logger
}

// New builds a Retriever. web may be nil, in which case fallback never runs.
func New(catalog CatalogSearcher, web ShoppingSearcher, opts ...Option) (*Retriever, error) {
	if catalog == nil {
		return nil, errors.New("catalog searcher is required")
	}
	r := &Retriever{
		catalog:       catalog,
		web:           web,
		internalLimit: defaultInternalLimit,
		webCandidates: defaultWebCandidates,
		log:           log.Logger.With().Str("component", "retrieval").Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

func (r *Retriever) FindProducts(ctx context.Context, q contractx.ProductQuery) (contractx.ProductSearchResults, error) {
	internal, err := r.catalog.SearchProducts(ctx, q, r.internalLimit)
	if err != nil {
		return contractx.ProductSearchResults{}, fmt.Errorf("search catalog: %w", err)
	}

	out := contractx.ProductSearchResults{
		Internal: internal,
		External: []contractx.ProductResult{},
		Meta:     contractx.FallbackMeta{DomainBreakdown: map[string]int{}},
	}
	if out.Internal == nil {
		out.Internal = []contractx.ProductResult{}
	}
	if len(internal) > 0 || !q.AllowWebFallback || r.web == nil {
		return out, nil
	}

	webQuery := WebQuery(q)
	resp, err := r.web.ShoppingSearch(ctx, webQuery, nil, r.webCandidates)
	if err != nil {
		// Web failures degrade to an empty external set.
		r.log.Warn().Err(err).Str("query", webQuery).Msg("web fallback failed")
		return out, nil
	}

	limit := q.WebCount
	if limit < 1 {
		limit = 1
	}
	out.External, out.Meta = webResultsToProducts(resp.Results, limit)
	return out, nil
}

// WebQuery picks the query sent to the web: the query text, else a phrase
// built from the shared filters, else "products".
func WebQuery(q contractx.ProductQuery) string {
	if text := strings.TrimSpace(q.QueryText); text != "" {
		return text
	}
	if f := q.CommonFilters; f != nil {
		parts := make([]string, 0, 2)
		for _, v := range []string{f.Color, f.Gender} {
			if v = strings.TrimSpace(v); v != "" {
				parts = append(parts, v)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	return "products"
}

func webResultsToProducts(items []brave.Result, limit int) ([]contractx.ProductResult, contractx.FallbackMeta) {
	meta := contractx.FallbackMeta{
		CandidateCount:  len(items),
		DomainBreakdown: map[string]int{},
	}
	results := make([]contractx.ProductResult, 0, limit)
	for idx, item := range items {
		if strings.TrimSpace(item.Title) == "" || !IsProductDetailURL(item.URL) {
			continue
		}

		domain := "unknown"
		if u, err := url.Parse(item.URL); err == nil && u.Hostname() != "" {
			domain = strings.ToLower(u.Hostname())
		}
		meta.DomainBreakdown[domain]++

		id := item.URL
		if id == "" {
			id = "web-" + strconv.Itoa(idx)
		}
		results = append(results, contractx.ProductResult{
			ID:       id,
			Name:     item.Title,
			Price:    ExtractPrice(item.Description),
			URL:      item.URL,
			ImageURL: item.ImageURL,
			Source:   contractx.SourceWeb,
		})
		if len(results) >= limit {
			break
		}
	}
	meta.ValidCount = len(results)
	return results, meta
}

// IsProductDetailURL accepts only product-detail pages of known retailers.
func IsProductDetailURL(raw string) bool {
	u := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case u == "":
		return false
	case strings.Contains(u, "amazon."):
		return strings.Contains(u, "/dp/") || strings.Contains(u, "/gp/product/")
	case strings.Contains(u, "walmart."):
		return strings.Contains(u, "/ip/")
	case strings.Contains(u, "bestbuy."):
		return strings.Contains(u, "/site/") && bestBuySKUPattern.MatchString(u)
	case strings.Contains(u, "target."):
		return strings.Contains(u, "/p/")
	default:
		return false
	}
}

// ExtractPrice returns the first dollar amount in text.
func ExtractPrice(text string) *float64 {
	m := pricePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &v
}
