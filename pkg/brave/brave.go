package brave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrSearch = errors.New("brave search failed")

const (
	SearchTypeWeb        = "web_search"
	SearchTypeNews       = "news_search"
	SearchTypeSuggestion = "suggestion_search"

	maxResponseSizeBytes = 4 << 20
)

// DefaultShoppingSources are the retailers a shopping search is restricted to.
var DefaultShoppingSources = []string{"amazon.com", "walmart.com", "bestbuy.com", "target.com"}

type Config struct {
	SearchAPIKey string        `split_words:"true" required:"true"`
	BaseURL      string        `split_words:"true" default:"https://api.search.brave.com/res/v1"`
	Country      string        `split_words:"true" default:"CA"`
	SearchLang   string        `split_words:"true" default:"en"`
	Timeout      time.Duration `split_words:"true" default:"20s"`
}

// Result is a provider item normalised to the fields the assistant uses.
type Result struct {
	Title       string `json:"title"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Age         string `json:"age,omitempty"`
}

type Response struct {
	Query      string   `json:"query"`
	SearchType string   `json:"search_type"`
	Results    []Result `json:"results"`
}

type Client struct {
	baseURL    string
	apiKey     string
	country    string
	searchLang string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.SearchAPIKey)
	if apiKey == "" {
		return nil, errors.New("brave search api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.search.brave.com/res/v1"
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid brave base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	country := strings.TrimSpace(cfg.Country)
	if country == "" {
		country = "CA"
	}
	lang := strings.TrimSpace(cfg.SearchLang)
	if lang == "" {
		lang = "en"
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		country:    country,
		searchLang: lang,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// Search runs the endpoint matching searchType. Unknown types run a web search.
func (c *Client) Search(ctx context.Context, searchType, query string, count int) (Response, error) {
	switch searchType {
	case SearchTypeNews:
		return c.NewsSearch(ctx, query, count)
	case SearchTypeSuggestion:
		return c.Suggest(ctx, query, count)
	default:
		return c.WebSearch(ctx, query, count)
	}
}

func (c *Client) WebSearch(ctx context.Context, query string, count int) (Response, error) {
	var payload struct {
		Web struct {
			Results []map[string]any `json:"results"`
		} `json:"web"`
	}
	params := c.baseParams(query, count)
	params.Set("offset", "0")
	params.Set("search_lang", c.searchLang)
	if err := c.get(ctx, "/web/search", params, &payload); err != nil {
		return Response{}, err
	}
	return newResponse(query, SearchTypeWeb, payload.Web.Results), nil
}

func (c *Client) NewsSearch(ctx context.Context, query string, count int) (Response, error) {
	var payload struct {
		Results []map[string]any `json:"results"`
	}
	if err := c.get(ctx, "/news/search", c.baseParams(query, count), &payload); err != nil {
		return Response{}, err
	}
	return newResponse(query, SearchTypeNews, payload.Results), nil
}

func (c *Client) Suggest(ctx context.Context, query string, count int) (Response, error) {
	var payload struct {
		Results []map[string]any `json:"results"`
	}
	if err := c.get(ctx, "/suggest/search", c.baseParams(query, count), &payload); err != nil {
		return Response{}, err
	}
	out := Response{Query: query, SearchType: SearchTypeSuggestion, Results: make([]Result, 0, len(payload.Results))}
	for _, item := range payload.Results {
		if q := firstString(item, "query"); q != "" {
			out.Results = append(out.Results, Result{Title: q})
		}
	}
	return out, nil
}

// ShoppingSearch runs a web search restricted to retailer domains. Nil
// sources means DefaultShoppingSources.
func (c *Client) ShoppingSearch(ctx context.Context, query string, sources []string, count int) (Response, error) {
	if len(sources) == 0 {
		sources = DefaultShoppingSources
	}
	sites := make([]string, 0, len(sources))
	for _, s := range sources {
		if s = strings.TrimSpace(s); s != "" {
			sites = append(sites, "site:"+s)
		}
	}
	q := strings.TrimSpace(query)
	if len(sites) > 0 {
		q = q + " (" + strings.Join(sites, " OR ") + ")"
	}
	resp, err := c.WebSearch(ctx, q, count)
	if err != nil {
		return Response{}, err
	}
	resp.Query = query
	return resp, nil
}

func (c *Client) baseParams(query string, count int) url.Values {
	if count <= 0 {
		count = 5
	}
	return url.Values{
		"q":       {query},
		"count":   {strconv.Itoa(count)},
		"country": {c.country},
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if strings.TrimSpace(params.Get("q")) == "" {
		return fmt.Errorf("%w: query is empty", ErrSearch)
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/") + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrSearch, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSearch, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrSearch, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body := string(raw)
		if len(body) > 500 {
			body = body[:500]
		}
		return fmt.Errorf("%w: status=%d on %s: %s", ErrSearch, resp.StatusCode, path, body)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrSearch, err)
	}
	return nil
}

func newResponse(query, searchType string, items []map[string]any) Response {
	out := Response{Query: query, SearchType: searchType, Results: make([]Result, 0, len(items))}
	for _, item := range items {
		out.Results = append(out.Results, NormalizeItem(item))
	}
	return out
}

// NormalizeItem maps the loosely shaped provider item onto Result. Link and
// image fields may be plain strings or objects carrying a url or src.
func NormalizeItem(item map[string]any) Result {
	return Result{
		Title:       firstString(item, "title", "name"),
		URL:         firstLink(item, "url", "link"),
		Description: firstString(item, "description", "snippet", "summary"),
		ImageURL:    firstLink(item, "image", "thumbnail", "thumbnail_url", "thumbnailUrl"),
		Age:         firstString(item, "age"),
	}
}

func firstString(item map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := item[key].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func firstLink(item map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := item[key].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		case map[string]any:
			if nested := firstString(v, "url", "src"); nested != "" {
				return nested
			}
		}
	}
	return ""
}
