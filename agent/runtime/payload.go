package runtime

import (
	"strings"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
)

const sampleSize = 5

var decisionSchema = map[string]any{
	"goal":                    "string",
	"done":                    "boolean",
	"query_refinement_reason": "string?",
}

// StepInput builds the route-specific planner payload for the current turn.
func StepInput(route contractx.Route, state *statex.AgentState, req contractx.ParsedRequest, minFallbackResults int) map[string]any {
	if route == contractx.RouteGeneralInfo {
		return generalInfoStepInput(state, req)
	}
	return productsStepInput(state, minFallbackResults)
}

func generalInfoStepInput(state *statex.AgentState, req contractx.ParsedRequest) map[string]any {
	searchType := req.Query.SearchType
	if strings.TrimSpace(string(searchType)) == "" {
		searchType = contractx.SearchTypeWeb
	}
	return map[string]any{
		"goal":                statex.GeneralInfoGoal,
		"query_text":          req.Query.QueryText,
		"search_type":         string(searchType),
		"previous_tool_calls": previousCalls(state),
		"decision_schema":     decisionSchema,
	}
}

func productsStepInput(state *statex.AgentState, minFallbackResults int) map[string]any {
	out := state.LastRetrievalOutput
	resp := state.LastProductResponse

	input := map[string]any{
		"turn_index":                 state.TurnIndex,
		"max_turns":                  state.MaxTurns,
		"original_query_text":        state.OriginalQueryText,
		"current_refined_query_text": state.RefinedQueryText,
		"query_refinement_history": []map[string]any{
			{"label": "original", "query_text": state.OriginalQueryText},
			{"label": "current_refined", "query_text": state.RefinedQueryText},
		},
		"current_common_filters": state.CurrentCommonFilters.Map(),
		"current_goal":           state.Goal,
		"weather_context":        state.LastWeatherContext,
		"last_discovery_tools":   state.LastDiscoveryTools,
		"retrieval_summary": map[string]any{
			"source_priority":        map[string]any{"primary": "internal_catalog", "fallback": "web_search"},
			"web_fallback_condition": "internal_count == 0",
			"fallback_stop_policy": map[string]any{
				"enabled":              true,
				"min_external_results": minFallbackResults,
				"condition":            "internal_count == 0",
			},
			"redundant_fetch_guard_enabled": true,
			"web_fallback_used":             out.InternalCount == 0 && out.ExternalCount > 0,
			"internal_count":                out.InternalCount,
			"external_count":                out.ExternalCount,
			"internal_sample":               sample(resp.Internal),
			"external_sample":               sample(resp.External),
		},
		"previous_tool_calls": previousCalls(state),
		"decision_schema":     decisionSchema,
	}
	if len(state.LastCategories) > 0 {
		input["available_categories"] = state.LastCategories
	}
	return input
}

func sample(items []contractx.ProductResult) []map[string]any {
	n := len(items)
	if n > sampleSize {
		n = sampleSize
	}
	out := make([]map[string]any, 0, n)
	for _, p := range items[:n] {
		var price any
		if p.Price != nil {
			price = *p.Price
		}
		out = append(out, map[string]any{
			"id":     p.ID,
			"name":   p.Name,
			"price":  price,
			"source": string(p.Source),
		})
	}
	return out
}

func previousCalls(state *statex.AgentState) []map[string]any {
	if state.LastPlannerToolCalls == nil {
		return []map[string]any{}
	}
	return state.LastPlannerToolCalls
}
