package policy

import (
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

var discoveryTools = map[string]struct{}{
	string(contractx.ToolListProductCategories):     {},
	string(contractx.ToolResolveCityLocation):       {},
	string(contractx.ToolGetHistoricalMonthWeather): {},
}

func IsDiscoveryTool(name string) bool {
	_, ok := discoveryTools[name]
	return ok
}

// OrderToolCalls returns calls in canonical execution order:
// discovery, other, primary retrieval, terminal decision. The partition is
// stable within each bucket.
func OrderToolCalls(calls []contractx.ToolCall) []contractx.ToolCall {
	if len(calls) == 0 {
		return nil
	}

	var discovery, other, retrieval, final []contractx.ToolCall
	for _, call := range calls {
		switch {
		case call.Name == string(contractx.ToolFinalDecision):
			final = append(final, call)
		case IsDiscoveryTool(call.Name):
			discovery = append(discovery, call)
		case call.Name == string(contractx.ToolFindProducts):
			retrieval = append(retrieval, call)
		default:
			other = append(other, call)
		}
	}

	ordered := make([]contractx.ToolCall, 0, len(calls))
	ordered = append(ordered, discovery...)
	ordered = append(ordered, other...)
	ordered = append(ordered, retrieval...)
	ordered = append(ordered, final...)
	return ordered
}
