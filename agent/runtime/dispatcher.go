package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
)

const (
	fallbackModeEligible     = "eligible_for_fallback"
	fallbackModeInternalOnly = "internal_only"

	blockedMessage = "Tool is not allowed for this route."
)

// ToolCaller executes a registered tool by name.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (any, error)
}

// DispatchResult is the outcome of one dispatched call.
type DispatchResult struct {
	Status     contractx.CallStatus
	Output     map[string]any
	Error      string
	DurationMs int64
	Raw        any
}

// Dispatcher enforces the route allowlist and deduplicates primary retrieval
// before handing calls to the tool catalog. One Dispatcher serves one turn.
type Dispatcher struct {
	tools            ToolCaller
	route            contractx.RouteDecision
	state            *statex.AgentState
	allowWebFallback bool
	log              zerolog.Logger
}

func NewDispatcher(tools ToolCaller, route contractx.RouteDecision, state *statex.AgentState, allowWebFallback bool, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		tools:            tools,
		route:            route,
		state:            state,
		allowWebFallback: allowWebFallback,
		log:              log,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) DispatchResult {
	var res DispatchResult
	switch {
	case !contractx.IsKnownTool(name) || !d.route.Allows(name):
		res = DispatchResult{Status: contractx.StatusBlocked, Error: blockedMessage}
	case name == string(contractx.ToolFindProducts):
		res = d.dispatchRetrieval(ctx, args)
	default:
		res = d.dispatchTool(ctx, name, args)
	}

	d.observe(name, res)
	return res
}

// Reject records a call that cannot run because its arguments were not
// decodable. A tool outside the route is still reported as blocked.
func (d *Dispatcher) Reject(name, argsError string) DispatchResult {
	res := DispatchResult{
		Status: contractx.StatusError,
		Error:  fmt.Sprintf("%v: %s", contractx.ErrInvalidToolArgs, argsError),
	}
	if !contractx.IsKnownTool(name) || !d.route.Allows(name) {
		res = DispatchResult{Status: contractx.StatusBlocked, Error: blockedMessage}
	}
	d.observe(name, res)
	return res
}

func (d *Dispatcher) observe(name string, res DispatchResult) {
	toolCallsTotal.WithLabelValues(name, string(res.Status)).Inc()
	if res.Status == contractx.StatusError {
		d.log.Warn().Str("tool", name).Str("error", res.Error).Msg("tool call failed")
	}
}

func (d *Dispatcher) fallbackMode() string {
	if d.allowWebFallback {
		return fallbackModeEligible
	}
	return fallbackModeInternalOnly
}

func (d *Dispatcher) dispatchRetrieval(ctx context.Context, args map[string]any) DispatchResult {
	queryText := strings.TrimSpace(stringArg(args, "query_text"))
	if queryText == "" {
		queryText = strings.TrimSpace(d.state.RefinedQueryText)
	}
	commonFilters := contractx.ParseCommonFilters(args["common_filters"]).Map()
	productFilters := contractx.ParseProductFilters(args["product_filters"]).Map()
	mode := d.fallbackMode()

	sig, err := RetrievalSignature(queryText, commonFilters, productFilters, mode)
	if err != nil {
		return DispatchResult{Status: contractx.StatusError, Error: err.Error()}
	}

	if sig == d.state.LastRetrievalSignature {
		return DispatchResult{
			Status: contractx.StatusSkipped,
			Output: map[string]any{
				"internal_count":        d.state.LastRetrievalOutput.InternalCount,
				"external_count":        d.state.LastRetrievalOutput.ExternalCount,
				"dedupe_skipped":        true,
				"runtime_fallback_mode": mode,
				"signature":             sig,
			},
		}
	}

	callArgs := map[string]any{
		"query_text":         queryText,
		"allow_web_fallback": d.allowWebFallback,
	}
	if commonFilters != nil {
		callArgs["common_filters"] = commonFilters
	}
	if productFilters != nil {
		callArgs["product_filters"] = productFilters
	}
	if v, ok := args["web_count"]; ok {
		callArgs["web_count"] = v
	}

	started := time.Now()
	raw, err := d.safeCall(ctx, string(contractx.ToolFindProducts), callArgs)
	duration := time.Since(started).Milliseconds()
	if err != nil {
		return DispatchResult{Status: contractx.StatusError, Error: err.Error(), DurationMs: duration}
	}
	results, ok := raw.(contractx.ProductSearchResults)
	if !ok {
		return DispatchResult{
			Status:     contractx.StatusError,
			Error:      fmt.Sprintf("unexpected retrieval result type %T", raw),
			DurationMs: duration,
		}
	}

	internal, external := len(results.Internal), len(results.External)
	d.state.LastRetrievalSignature = sig

	breakdown := results.Meta.DomainBreakdown
	if breakdown == nil {
		breakdown = map[string]int{}
	}
	return DispatchResult{
		Status: contractx.StatusSuccess,
		Output: map[string]any{
			"internal_count":            internal,
			"external_count":            external,
			"internal_search_executed":  true,
			"original_query_text":       d.state.OriginalQueryText,
			"refined_query_text":        d.state.RefinedQueryText,
			"query_used_for_retrieval":  queryText,
			"runtime_fallback_mode":     mode,
			"dedupe_skipped":            false,
			"web_fallback_allowed":      d.allowWebFallback,
			"web_fallback_eligible":     internal == 0,
			"web_fallback_used":         d.allowWebFallback && internal == 0 && external > 0,
			"signature":                 sig,
			"fallback_candidate_count":  results.Meta.CandidateCount,
			"fallback_valid_count":      results.Meta.ValidCount,
			"fallback_domain_breakdown": breakdown,
		},
		DurationMs: duration,
		Raw:        results,
	}
}

func (d *Dispatcher) dispatchTool(ctx context.Context, name string, args map[string]any) DispatchResult {
	started := time.Now()
	raw, err := d.safeCall(ctx, name, args)
	duration := time.Since(started).Milliseconds()
	if err != nil {
		return DispatchResult{Status: contractx.StatusError, Error: err.Error(), DurationMs: duration}
	}

	output, err := normalizeOutput(raw)
	if err != nil {
		return DispatchResult{Status: contractx.StatusError, Error: err.Error(), DurationMs: duration}
	}
	return DispatchResult{Status: contractx.StatusSuccess, Output: output, DurationMs: duration, Raw: raw}
}

// safeCall converts a panicking tool into an error result.
func (d *Dispatcher) safeCall(ctx context.Context, name string, args map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("tool", name).Interface("panic", r).Msg("tool panicked")
			out, err = nil, fmt.Errorf("tool %s panicked: %v", name, r)
		}
	}()
	return d.tools.Call(ctx, name, args)
}

// RetrievalSignature is the canonical identity of a retrieval request. Map
// keys are serialized in sorted order.
func RetrievalSignature(queryText string, commonFilters, productFilters map[string]any, mode string) (string, error) {
	if commonFilters == nil {
		commonFilters = map[string]any{}
	}
	if productFilters == nil {
		productFilters = map[string]any{}
	}
	b, err := json.Marshal(map[string]any{
		"query_text":            strings.TrimSpace(queryText),
		"common_filters":        commonFilters,
		"product_filters":       productFilters,
		"runtime_fallback_mode": mode,
	})
	if err != nil {
		return "", fmt.Errorf("build retrieval signature: %w", err)
	}
	return string(b), nil
}

// normalizeOutput turns a tool result into a key-value payload. Results that
// do not serialize to an object are wrapped under "value".
func normalizeOutput(raw any) (map[string]any, error) {
	if m, ok := raw.(map[string]any); ok {
		return m, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode tool output: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return nil, fmt.Errorf("decode tool output: %w", err)
	}
	if m, ok := decoded.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"value": decoded}, nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
