package response

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	"github.com/tanpawarit/Chative-Shopping-Assistant/pkg/brave"
)

const (
	ProductCardLimit = 10
	NewsCardLimit    = 5

	untitledArticle = "Untitled article"
	sourceNews      = "news"
)

// ProductCards maps internal results, then external ones, to at most limit
// cards.
func ProductCards(results contractx.ProductSearchResults, limit int) []contractx.Card {
	cards := make([]contractx.Card, 0, limit)
	for _, group := range [][]contractx.ProductResult{results.Internal, results.External} {
		for _, item := range group {
			if len(cards) >= limit {
				return cards
			}
			cards = append(cards, contractx.Card{
				ID:       item.ID,
				Name:     item.Name,
				Price:    item.Price,
				URL:      item.URL,
				ImageURL: item.ImageURL,
				Source:   string(item.Source),
			})
		}
	}
	return cards
}

// NewsCards maps the results of a web search payload to at most limit
// cards. Items are read loosely: a title may come from title or name and a
// link from url or link.
func NewsCards(payload map[string]any, limit int) []contractx.Card {
	items, _ := payload["results"].([]any)
	cards := make([]contractx.Card, 0, min(limit, len(items)))
	for idx, raw := range items {
		if len(cards) >= limit {
			break
		}
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		item := brave.NormalizeItem(m)
		if item.ImageURL == "" {
			item.ImageURL, _ = m["image_url"].(string)
		}

		id := item.URL
		if id == "" {
			id = fmt.Sprintf("news-%d", idx)
		}
		name := item.Title
		if name == "" {
			name = untitledArticle
		}
		cards = append(cards, contractx.Card{
			ID:          id,
			Name:        name,
			Description: item.Description,
			URL:         item.URL,
			ImageURL:    item.ImageURL,
			Source:      sourceNews,
		})
	}
	return cards
}
