package policy

import (
	"strings"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

// sensitiveSafetyFlags force the unsupported route regardless of intent.
var sensitiveSafetyFlags = map[string]struct{}{
	"self_harm":           {},
	"suicide":             {},
	"kill_myself":         {},
	"bomb":                {},
	"weapon":              {},
	"malware":             {},
	"ransomware":          {},
	"exploit":             {},
	"bypass":              {},
	"credential_stuffing": {},
	"ddos":                {},
}

var sensitiveTerms = buildSensitiveTerms()

func buildSensitiveTerms() []string {
	seen := make(map[string]struct{}, len(sensitiveSafetyFlags)*3)
	terms := make([]string, 0, len(sensitiveSafetyFlags)*3)
	for flag := range sensitiveSafetyFlags {
		for _, term := range []string{
			flag,
			strings.ReplaceAll(flag, "_", " "),
			strings.ReplaceAll(flag, "_", "-"),
		} {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			terms = append(terms, term)
		}
	}
	return terms
}

// RoutingPolicy maps parsed requests to routes and routes to allowed tools.
type RoutingPolicy struct {
	allowlist map[contractx.Route]map[contractx.ToolName]struct{}
}

func NewRoutingPolicy() *RoutingPolicy {
	return &RoutingPolicy{
		allowlist: map[contractx.Route]map[contractx.ToolName]struct{}{
			contractx.RouteProducts: toolSet(
				contractx.ToolListProductCategories,
				contractx.ToolFindProducts,
				contractx.ToolGenerateResponse,
				contractx.ToolResolveCityLocation,
				contractx.ToolGetHistoricalMonthWeather,
			),
			contractx.RouteGeneralInfo: toolSet(
				contractx.ToolGenericWebSearch,
				contractx.ToolGenerateResponse,
			),
			contractx.RouteUnsupported: {},
		},
	}
}

// NewRoutingPolicyWithAllowlist builds a policy over a custom allowlist. A
// route absent from the allowlist is treated as not allowed.
func NewRoutingPolicyWithAllowlist(allowlist map[contractx.Route][]contractx.ToolName) *RoutingPolicy {
	p := &RoutingPolicy{allowlist: make(map[contractx.Route]map[contractx.ToolName]struct{}, len(allowlist))}
	for route, tools := range allowlist {
		p.allowlist[route] = toolSet(tools...)
	}
	return p
}

func (p *RoutingPolicy) Allow(route contractx.Route) bool {
	if route == contractx.RouteUnsupported {
		return false
	}
	_, ok := p.allowlist[route]
	return ok
}

func (p *RoutingPolicy) Decide(req contractx.ParsedRequest) contractx.RouteDecision {
	queryText := strings.TrimSpace(req.Query.QueryText)

	var route contractx.Route
	var reason string
	switch {
	case isSensitive(req.SafetyFlags, queryText):
		route = contractx.RouteUnsupported
		reason = "Request matches a sensitive safety category."
	case req.Intent == contractx.IntentFindProducts:
		route = contractx.RouteProducts
		reason = "Intent mapped to product-search workflow."
	case req.Intent == contractx.IntentGeneralInformation:
		route = contractx.RouteGeneralInfo
		reason = "Intent mapped to general-information workflow."
	case req.Intent == contractx.IntentUnknown && queryText != "":
		route = contractx.RouteGeneralInfo
		reason = "Unknown intent with usable query text; defaulting to general-information route."
	default:
		route = contractx.RouteUnsupported
		reason = "Intent is unknown or unsupported."
	}

	supported := p.Allow(route)
	if !supported && route != contractx.RouteUnsupported {
		route = contractx.RouteUnsupported
		reason = "Request blocked by routing policy."
	}

	allowed := make(map[contractx.ToolName]struct{})
	if supported {
		for name := range p.allowlist[route] {
			allowed[name] = struct{}{}
		}
	}

	return contractx.RouteDecision{
		Route:        route,
		Supported:    supported,
		Reason:       reason,
		AllowedTools: allowed,
	}
}

func isSensitive(flags []string, queryText string) bool {
	for _, flag := range flags {
		normalized := strings.ToLower(strings.TrimSpace(flag))
		if normalized == "" {
			continue
		}
		normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
		if _, ok := sensitiveSafetyFlags[normalized]; ok {
			return true
		}
	}

	lowered := strings.ToLower(queryText)
	for _, term := range sensitiveTerms {
		if strings.Contains(lowered, term) {
			return true
		}
	}
	return false
}

func toolSet(names ...contractx.ToolName) map[contractx.ToolName]struct{} {
	out := make(map[contractx.ToolName]struct{}, len(names))
	for _, name := range names {
		out[name] = struct{}{}
	}
	return out
}

// plannerTools are the tools offered to the planner per route, in the order
// they are presented.
var plannerTools = map[contractx.Route][]string{
	contractx.RouteProducts: {
		string(contractx.ToolListProductCategories),
		string(contractx.ToolFindProducts),
		string(contractx.ToolResolveCityLocation),
		string(contractx.ToolGetHistoricalMonthWeather),
	},
	contractx.RouteGeneralInfo: {
		string(contractx.ToolGenericWebSearch),
	},
}

// PlannerTools returns the tool names offered to the planner on route.
func PlannerTools(route contractx.Route) []string {
	return append([]string(nil), plannerTools[route]...)
}
