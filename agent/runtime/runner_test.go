package runtime

import (
	"context"
	"errors"
	"fmt"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	plannerx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/planner"
	policyx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/policy"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
)

type scriptedPlanner struct {
	outputs []contractx.PlannerOutput
	errs    []error
	reqs    []contractx.PlannerRequest
}

func (p *scriptedPlanner) Plan(_ context.Context, req contractx.PlannerRequest) (contractx.PlannerOutput, error) {
	i := len(p.reqs)
	p.reqs = append(p.reqs, req)
	if i < len(p.errs) && p.errs[i] != nil {
		return contractx.PlannerOutput{}, p.errs[i]
	}
	if len(p.outputs) == 0 {
		return contractx.PlannerOutput{}, nil
	}
	if i >= len(p.outputs) {
		return p.outputs[len(p.outputs)-1], nil
	}
	return p.outputs[i], nil
}

type fakeRegistry map[contractx.Route]contractx.Planner

func (r fakeRegistry) Planner(route contractx.Route) (contractx.Planner, error) {
	p, ok := r[route]
	if !ok {
		return nil, fmt.Errorf("%w: no planner for %s", contractx.ErrValidation, route)
	}
	return p, nil
}

type fakeTools struct {
	find      func(args map[string]any) (contractx.ProductSearchResults, error)
	calls     []string
	findArgs  []map[string]any
	panicTool string
}

func (f *fakeTools) Call(_ context.Context, name string, args map[string]any) (any, error) {
	f.calls = append(f.calls, name)
	if name == f.panicTool {
		panic("boom")
	}
	switch contractx.ToolName(name) {
	case contractx.ToolFindProducts:
		f.findArgs = append(f.findArgs, args)
		if f.find == nil {
			return contractx.ProductSearchResults{}, nil
		}
		return f.find(args)
	case contractx.ToolListProductCategories:
		return []string{"Jackets", "Shoes"}, nil
	case contractx.ToolGenericWebSearch:
		return map[string]any{"query": args["query_text"], "results": []any{}}, nil
	case contractx.ToolResolveCityLocation:
		return map[string]any{"name": "Vancouver", "country": "Canada"}, nil
	case contractx.ToolGetHistoricalMonthWeather:
		return map[string]any{"city": "Vancouver", "country": "Canada", "avg_temp_max_c": 8.5}, nil
	}
	return nil, fmt.Errorf("%w: %s", contractx.ErrUnknownTool, name)
}

func (f *fakeTools) Infos(names ...string) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(names))
	for _, n := range names {
		out = append(out, &schema.ToolInfo{Name: n, Desc: n + " tool"})
	}
	return out
}

type staticPrompts struct{}

func (staticPrompts) Planner(route contractx.Route) string {
	return "plan " + string(route)
}

func call(name contractx.ToolName, args map[string]any) contractx.ToolCall {
	return contractx.ToolCall{Name: string(name), Args: args}
}

func decision(done bool) string {
	return fmt.Sprintf(`{"goal": "Find a rain jacket", "done": %t}`, done)
}

func internalResults(n int) contractx.ProductSearchResults {
	res := contractx.ProductSearchResults{}
	for i := 0; i < n; i++ {
		res.Internal = append(res.Internal, contractx.ProductResult{ID: fmt.Sprint(i), Name: "item", Source: contractx.SourceDB})
	}
	return res
}

func externalResults(n int) contractx.ProductSearchResults {
	res := contractx.ProductSearchResults{Internal: []contractx.ProductResult{}}
	for i := 0; i < n; i++ {
		res.External = append(res.External, contractx.ProductResult{ID: fmt.Sprint("web-", i), Name: "item", Source: contractx.SourceWeb})
	}
	return res
}

type harness struct {
	runner  *Runner
	planner *scriptedPlanner
	tools   *fakeTools
	state   *statex.AgentState
	req     RunRequest
}

func newHarness(t *testing.T, intent contractx.Intent, query string, cfg Config, planner *scriptedPlanner, tools *fakeTools) *harness {
	t.Helper()

	parsed := contractx.ParsedRequest{Intent: intent, Query: contractx.QueryDetails{QueryText: query}}
	route := policyx.NewRoutingPolicy().Decide(parsed)
	require.True(t, route.Supported)

	runner := NewRunner(
		fakeRegistry{contractx.RouteProducts: planner, contractx.RouteGeneralInfo: planner},
		tools,
		staticPrompts{},
		WithConfig(cfg),
	)
	return &harness{
		runner:  runner,
		planner: planner,
		tools:   tools,
		state:   runner.NewState(parsed, route.Route),
		req:     RunRequest{Request: parsed, Route: route, History: []contractx.ConversationEntry{{Role: contractx.RoleUser, Content: query}}},
	}
}

func (h *harness) run() LoopResult {
	return h.runner.Run(context.Background(), h.state, h.req)
}

func toolNames(traces []contractx.TraceEntry) []string {
	out := make([]string, 0, len(traces))
	for _, t := range traces {
		out = append(out, t.ToolName)
	}
	return out
}

func assertContiguousCallIndex(t *testing.T, traces []contractx.TraceEntry) {
	t.Helper()
	for i, tr := range traces {
		require.Equal(t, i, tr.CallIndex, "trace %d (%s)", i, tr.ToolName)
	}
}

func TestRunGoalReachedFirstTurn(t *testing.T) {
	t.Parallel()

	planner := &scriptedPlanner{outputs: []contractx.PlannerOutput{{
		ToolCalls: []contractx.ToolCall{call(contractx.ToolFindProducts, map[string]any{"query_text": "rain jacket"})},
		Content:   decision(true),
	}}}
	tools := &fakeTools{find: func(map[string]any) (contractx.ProductSearchResults, error) { return internalResults(2), nil }}
	h := newHarness(t, contractx.IntentFindProducts, "rain jacket for vancouver", DefaultConfig(), planner, tools)

	res := h.run()

	assert.Equal(t, contractx.StopReasonGoalReached, res.StopReason)
	assert.Equal(t, contractx.StatusSuccess, res.PlannerStatus)
	assert.True(t, h.state.GoalReached)
	assert.Equal(t, "Find a rain jacket", h.state.Goal)
	assert.Equal(t, "rain jacket", h.state.RefinedQueryText)
	assert.Equal(t, 1, h.state.IterationsUsed)
	assert.Equal(t, []string{"find_products", "planner_decision"}, toolNames(h.state.Traces))
	assertContiguousCallIndex(t, h.state.Traces)
	assert.Equal(t, 2, res.NextCallIndex)

	retrieval := h.state.Traces[0]
	assert.Equal(t, contractx.StatusSuccess, retrieval.Status)
	assert.Equal(t, reasonToolRequested, retrieval.Reason)
	assert.Nil(t, retrieval.Done)
	assert.Equal(t, 2, retrieval.Output["internal_count"])
	assert.Equal(t, false, retrieval.Output["web_fallback_allowed"])
	assert.Equal(t, fallbackModeInternalOnly, retrieval.Output["runtime_fallback_mode"])

	dec := h.state.Traces[1]
	assert.Equal(t, reasonDecisionParsed, dec.Reason)
	require.NotNil(t, dec.Done)
	assert.True(t, *dec.Done)
	assert.Equal(t, 1, dec.Input["tool_calls_count"])
	assert.Equal(t, true, dec.Input["done_requested"])

	require.Len(t, res.Iterations, 1)
	assert.Equal(t, contractx.StopReasonGoalReached, res.Iterations[0].StopReason)
	assert.Equal(t, 1, res.Iterations[0].ExecutedCalls)
}

func TestRunFinalizeRejectedWithoutRetrieval(t *testing.T) {
	t.Parallel()

	planner := &scriptedPlanner{outputs: []contractx.PlannerOutput{
		{Content: decision(true)},
		{
			ToolCalls: []contractx.ToolCall{call(contractx.ToolFindProducts, map[string]any{"query_text": "rain jacket"})},
			Content:   "```json\n" + decision(true) + "\n```",
		},
	}}
	tools := &fakeTools{find: func(map[string]any) (contractx.ProductSearchResults, error) { return internalResults(1), nil }}
	h := newHarness(t, contractx.IntentFindProducts, "rain jacket for vancouver", DefaultConfig(), planner, tools)

	res := h.run()

	assert.Equal(t, contractx.StopReasonGoalReached, res.StopReason)
	assert.Equal(t, []string{"planner_decision", "find_products", "find_products", "planner_decision"}, toolNames(h.state.Traces))
	assertContiguousCallIndex(t, h.state.Traces)

	guard := h.state.Traces[1]
	assert.Equal(t, contractx.StatusSkipped, guard.Status)
	assert.Equal(t, "Finalize rejected: required tool 'find_products' not executed this turn.", guard.Reason)
	assert.Equal(t, map[string]any{}, guard.Input)
	require.NotNil(t, guard.Done)
	assert.False(t, *guard.Done)

	require.Len(t, res.Iterations, 2)
	assert.False(t, res.Iterations[0].GoalReached)
	assert.Empty(t, res.Iterations[0].StopReason)
}

func TestRunPlannerProducesNothing(t *testing.T) {
	t.Parallel()

	planner := &scriptedPlanner{outputs: []contractx.PlannerOutput{{Content: "I am not sure."}}}
	h := newHarness(t, contractx.IntentFindProducts, "rain jacket", DefaultConfig(), planner, &fakeTools{})

	res := h.run()

	assert.Equal(t, contractx.StopReasonPlannerError, res.StopReason)
	assert.Equal(t, contractx.StatusError, res.PlannerStatus)
	assert.Equal(t, errNoToolsNoDecision, res.PlannerError)
	assert.Equal(t, contractx.StopReasonPlannerError, h.state.TurnStopReason)
	assert.False(t, h.state.GoalReached)
	assert.Equal(t, map[string]any{"goal": h.state.Goal, "done": false}, res.FinalDecision)

	require.Len(t, h.state.Traces, 1)
	assert.Equal(t, contractx.StatusError, h.state.Traces[0].Status)
	assert.Equal(t, reasonDecisionFallback, h.state.Traces[0].Reason)
	assert.Equal(t, errNoToolsNoDecision, h.state.Traces[0].ErrorMessage)
}

func TestRunPlannerInvocationError(t *testing.T) {
	t.Parallel()

	planner := &scriptedPlanner{errs: []error{errors.New("upstream 503")}}
	h := newHarness(t, contractx.IntentFindProducts, "rain jacket", DefaultConfig(), planner, &fakeTools{})

	res := h.run()

	assert.Equal(t, contractx.StopReasonPlannerError, res.StopReason)
	assert.Equal(t, "upstream 503", res.PlannerError)
	require.Len(t, h.state.Iterations, 1)
	assert.Equal(t, contractx.StatusError, h.state.Iterations[0].PlannerStatus)
}

func TestRunMaxTurnsReached(t *testing.T) {
	t.Parallel()

	planner := &scriptedPlanner{outputs: []contractx.PlannerOutput{{
		ToolCalls: []contractx.ToolCall{call(contractx.ToolListProductCategories, map[string]any{"limit": 200})},
	}}}
	h := newHarness(t, contractx.IntentFindProducts, "rain jacket", Config{MaxTurns: 3}, planner, &fakeTools{})

	res := h.run()

	assert.Equal(t, contractx.StopReasonMaxTurns, res.StopReason)
	assert.Equal(t, 3, h.state.IterationsUsed)
	assert.Len(t, res.Iterations, 3)
	assert.Len(t, h.state.Traces, 6)
	assertContiguousCallIndex(t, h.state.Traces)
	assert.Equal(t, reasonDecisionDefault, h.state.Traces[1].Reason)
	assert.Equal(t, []string{"Jackets", "Shoes"}, h.state.LastCategories)
	assert.Equal(t, []string{"list_product_categories"}, h.state.LastDiscoveryTools)
	assert.Empty(t, h.state.TurnStopReason)

	last := planner.reqs[2]
	assert.Equal(t, []string{"Jackets", "Shoes"}, last.StepInput["available_categories"])
	require.Len(t, last.PreviousCall, 1)
	assert.Equal(t, "list_product_categories", last.PreviousCall[0]["name"])
}

func TestRunBlocksToolsOutsideRoute(t *testing.T) {
	t.Parallel()

	planner := &scriptedPlanner{outputs: []contractx.PlannerOutput{{
		ToolCalls: []contractx.ToolCall{
			call(contractx.ToolFindProducts, map[string]any{"query_text": "jacket"}),
			call(contractx.ToolGenericWebSearch, map[string]any{"query_text": "trail running news"}),
		},
		Content: `{"goal": "Answer", "done": true}`,
	}}}
	tools := &fakeTools{}
	h := newHarness(t, contractx.IntentGeneralInformation, "trail running news", DefaultConfig(), planner, tools)

	res := h.run()

	assert.Equal(t, contractx.StopReasonGoalReached, res.StopReason)
	assert.Equal(t, []string{"generic_web_search"}, tools.calls)

	// Retrieval is ordered after other tools.
	require.Len(t, h.state.Traces, 3)
	assert.Equal(t, "generic_web_search", h.state.Traces[0].ToolName)
	blocked := h.state.Traces[1]
	assert.Equal(t, "find_products", blocked.ToolName)
	assert.Equal(t, contractx.StatusBlocked, blocked.Status)
	assert.Equal(t, blockedMessage, blocked.ErrorMessage)
	assert.Zero(t, blocked.DurationMs)
	assert.NotNil(t, h.state.LastGenericSearch)
}

func TestRunDedupSkipsIdenticalRetrieval(t *testing.T) {
	t.Parallel()

	args := map[string]any{"query_text": "shoes", "common_filters": map[string]any{"color": "black"}}
	planner := &scriptedPlanner{outputs: []contractx.PlannerOutput{{
		ToolCalls: []contractx.ToolCall{call(contractx.ToolFindProducts, args)},
	}}}
	tools := &fakeTools{}
	h := newHarness(t, contractx.IntentFindProducts, "black shoes", Config{MaxTurns: 2}, planner, tools)

	res := h.run()

	assert.Equal(t, contractx.StopReasonMaxTurns, res.StopReason)
	assert.Len(t, tools.findArgs, 1)
	second := h.state.Traces[2]
	assert.Equal(t, contractx.StatusSkipped, second.Status)
	assert.Equal(t, true, second.Output["dedupe_skipped"])
	assert.Equal(t, h.state.LastRetrievalSignature, second.Output["signature"])
}

func TestRunForceFollowUpThenFallbackThreshold(t *testing.T) {
	t.Parallel()

	planner := &scriptedPlanner{outputs: []contractx.PlannerOutput{
		{
			ToolCalls: []contractx.ToolCall{call(contractx.ToolFindProducts, map[string]any{"query_text": "alpaca poncho"})},
			Content:   decision(true),
		},
		{
			ToolCalls: []contractx.ToolCall{call(contractx.ToolFindProducts, map[string]any{"query_text": "poncho"})},
		},
	}}
	tools := &fakeTools{find: func(args map[string]any) (contractx.ProductSearchResults, error) {
		if args["allow_web_fallback"] == true {
			return externalResults(3), nil
		}
		return contractx.ProductSearchResults{}, nil
	}}
	h := newHarness(t, contractx.IntentFindProducts, "alpaca poncho", Config{MaxTurns: 5, WebFallbackMinTurn: 1}, planner, tools)

	res := h.run()

	assert.Equal(t, contractx.StopReasonFallbackThresholdMet, res.StopReason)
	assert.Equal(t, contractx.StopReasonFallbackThresholdMet, h.state.TurnStopReason)
	assert.False(t, h.state.GoalReached)
	assert.Equal(t, []string{
		"find_products", "planner_decision", "find_products",
		"find_products", "planner_decision", "fallback_stop_guard",
	}, toolNames(h.state.Traces))
	assertContiguousCallIndex(t, h.state.Traces)

	force := h.state.Traces[2]
	assert.Equal(t, contractx.StatusSkipped, force.Status)
	assert.Equal(t, false, force.Input["allow_web_fallback_this_turn"])
	assert.Equal(t, true, force.Input["allow_web_fallback_next_turn"])

	require.Len(t, res.Iterations, 2)
	assert.Equal(t, contractx.StopReasonForceFollowUp, res.Iterations[0].StopReason)

	threshold := h.state.Traces[5]
	assert.Equal(t, 3, threshold.Input["min_external_results"])
	assert.Equal(t, true, h.state.Traces[3].Output["web_fallback_used"])
}

func TestRunNoProgressStops(t *testing.T) {
	t.Parallel()

	planner := &scriptedPlanner{outputs: []contractx.PlannerOutput{
		{ToolCalls: []contractx.ToolCall{call(contractx.ToolFindProducts, map[string]any{"query_text": "shoes"})}},
		{ToolCalls: []contractx.ToolCall{call(contractx.ToolListProductCategories, nil)}},
	}}
	tools := &fakeTools{find: func(map[string]any) (contractx.ProductSearchResults, error) { return internalResults(2), nil }}
	h := newHarness(t, contractx.IntentFindProducts, "running shoes", DefaultConfig(), planner, tools)

	res := h.run()

	assert.Equal(t, contractx.StopReasonNoProgress, res.StopReason)
	assert.Equal(t, contractx.StopReasonNoProgress, h.state.TurnStopReason)
	last := h.state.Traces[len(h.state.Traces)-1]
	assert.Equal(t, "redundant_fetch_guard", last.ToolName)
	assert.Equal(t, "shoes", last.Input["query_text"])
	assert.Equal(t, 2, h.state.IterationsUsed)
}

func TestRunToolPanicBecomesError(t *testing.T) {
	t.Parallel()

	planner := &scriptedPlanner{outputs: []contractx.PlannerOutput{{
		ToolCalls: []contractx.ToolCall{call(contractx.ToolListProductCategories, nil)},
		Content:   decision(false),
	}}}
	tools := &fakeTools{panicTool: "list_product_categories"}
	h := newHarness(t, contractx.IntentFindProducts, "shoes", Config{MaxTurns: 1}, planner, tools)

	res := h.run()

	assert.Equal(t, contractx.StopReasonMaxTurns, res.StopReason)
	assert.Equal(t, contractx.StatusError, h.state.Traces[0].Status)
	assert.Contains(t, h.state.Traces[0].ErrorMessage, "panicked")
}

func TestRunMissingPlannerStopsWithPlannerError(t *testing.T) {
	t.Parallel()

	parsed := contractx.ParsedRequest{Intent: contractx.IntentFindProducts, Query: contractx.QueryDetails{QueryText: "shoes"}}
	route := policyx.NewRoutingPolicy().Decide(parsed)
	runner := NewRunner(fakeRegistry{}, &fakeTools{}, staticPrompts{})
	state := runner.NewState(parsed, route.Route)

	res := runner.Run(context.Background(), state, RunRequest{Request: parsed, Route: route})

	assert.Equal(t, contractx.StopReasonPlannerError, res.StopReason)
	assert.Contains(t, res.PlannerError, "no planner")
}

type cannedChatModel struct {
	msg *schema.Message
}

func (m *cannedChatModel) Generate(context.Context, []*schema.Message, ...einomodel.Option) (*schema.Message, error) {
	return m.msg, nil
}

func (m *cannedChatModel) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (m *cannedChatModel) WithTools([]*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return m, nil
}

func TestRunMalformedToolArgsTracedAsError(t *testing.T) {
	t.Parallel()

	model := &cannedChatModel{msg: &schema.Message{ToolCalls: []schema.ToolCall{
		{ID: "c1", Function: schema.FunctionCall{Name: "list_product_categories", Arguments: `{"limit":50}`}},
		{ID: "c2", Function: schema.FunctionCall{Name: "find_products", Arguments: `{"query_text":"rain jacket"`}},
	}}}
	tools := &fakeTools{}
	planner, err := plannerx.New(context.Background(), contractx.RouteProducts, model, tools.Infos(policyx.PlannerTools(contractx.RouteProducts)...))
	require.NoError(t, err)

	parsed := contractx.ParsedRequest{Intent: contractx.IntentFindProducts, Query: contractx.QueryDetails{QueryText: "rain jacket"}}
	route := policyx.NewRoutingPolicy().Decide(parsed)
	runner := NewRunner(fakeRegistry{contractx.RouteProducts: planner}, tools, staticPrompts{}, WithConfig(Config{MaxTurns: 1}))
	state := runner.NewState(parsed, route.Route)

	res := runner.Run(context.Background(), state, RunRequest{Request: parsed, Route: route})

	assert.NotEqual(t, contractx.StopReasonPlannerError, res.StopReason)
	assert.Equal(t, contractx.StopReasonMaxTurns, res.StopReason)
	assert.Equal(t, contractx.StatusSuccess, res.PlannerStatus)
	assert.Empty(t, res.PlannerError)
	assert.Equal(t, []string{"list_product_categories"}, tools.calls)

	require.Equal(t, []string{"list_product_categories", "find_products", "planner_decision"}, toolNames(state.Traces))
	assertContiguousCallIndex(t, state.Traces)
	assert.Equal(t, contractx.StatusSuccess, state.Traces[0].Status)
	assert.Equal(t, float64(50), state.Traces[0].Input["limit"])

	bad := state.Traces[1]
	assert.Equal(t, contractx.StatusError, bad.Status)
	assert.Equal(t, reasonToolRequested, bad.Reason)
	assert.Contains(t, bad.ErrorMessage, contractx.ErrInvalidToolArgs.Error())
	assert.Equal(t, map[string]any{}, bad.Input)
	assert.False(t, state.RetrievalCalledThisTurn)

	dec := state.Traces[2]
	assert.Equal(t, contractx.StatusSuccess, dec.Status)
	assert.Equal(t, reasonDecisionDefault, dec.Reason)
	assert.Equal(t, 2, dec.Input["tool_calls_count"])
}

func TestPlannerRequestTraceKeepsMessageError(t *testing.T) {
	t.Parallel()

	req := contractx.PlannerRequest{
		SystemPrompt: "plan products",
		StepInput:    map[string]any{"bad": make(chan int)},
		TurnIndex:    2,
		Tools:        []*schema.ToolInfo{{Name: "find_products", Desc: "search"}},
	}

	got := plannerRequestTrace(req, zerolog.Nop())

	assert.Equal(t, "plan products", got["system_prompt"])
	assert.Equal(t, []contractx.ConversationEntry{}, got["messages"])
	assert.Contains(t, got["messages_error"], "marshal step payload")
	assert.Len(t, got["tools"], 1)

	req.StepInput = map[string]any{"turn_index": 2}
	got = plannerRequestTrace(req, zerolog.Nop())
	assert.NotContains(t, got, "messages_error")
	require.Len(t, got["messages"], 1)
}
