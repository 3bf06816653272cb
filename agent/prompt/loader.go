package prompt

import (
	_ "embed"
	"strings"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

var (
	//go:embed template/products.txt
	productsRaw string

	//go:embed template/general_info.txt
	generalInfoRaw string

	//go:embed template/response.txt
	responseRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Products    string
	GeneralInfo string
	Response    string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Products:    strings.TrimSpace(productsRaw),
		GeneralInfo: strings.TrimSpace(generalInfoRaw),
		Response:    strings.TrimSpace(responseRaw),
	}
}

// Planner returns the planner system prompt for route, or "" for routes
// that do not plan.
func (p PromptSet) Planner(route contractx.Route) string {
	switch route {
	case contractx.RouteProducts:
		return p.Products
	case contractx.RouteGeneralInfo:
		return p.GeneralInfo
	default:
		return ""
	}
}
