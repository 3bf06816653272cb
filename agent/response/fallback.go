package response

import contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"

// Unsupported is the fixed answer for requests outside the assistant's
// routes.
func Unsupported() contractx.ResponsePayload {
	return contractx.ResponsePayload{
		Response: "I can't help with that yet. I can currently help with product search and web/news information lookups.",
		Cards:    []contractx.Card{},
		FollowUp: "Try: 'Find black running shoes under $100' or 'latest trail running news'.",
	}
}

// SafeFallback answers with the closest product matches when synthesis
// fails.
func SafeFallback(results contractx.ProductSearchResults) contractx.ResponsePayload {
	return contractx.ResponsePayload{
		Response: "I had trouble finalizing product recommendations, but here are the closest matches I found.",
		Cards:    ProductCards(results, ProductCardLimit),
		FollowUp: "Want me to narrow these by price, color, or style?",
	}
}

// GeneralInfoFallback answers when synthesis of an information request fails.
func GeneralInfoFallback() contractx.ResponsePayload {
	return contractx.ResponsePayload{
		Response: "I had trouble finalizing that information request.",
		Cards:    []contractx.Card{},
		FollowUp: "Try narrowing the topic or timeframe.",
	}
}
