package runtime

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	plannerx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/planner"
	policyx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/policy"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	reasonToolRequested    = "Agent requested tool execution."
	reasonDecisionParsed   = "Parsed decision JSON from assistant message."
	reasonDecisionDefault  = "No decision JSON; defaulted decision after tool execution."
	reasonDecisionFallback = "Model did not produce tool calls or valid decision JSON; defaulted decision."

	errNoToolsNoDecision = "Model returned neither tool calls nor a valid decision JSON object."
)

// ToolCatalog executes tools and describes them to the planner.
type ToolCatalog interface {
	ToolCaller
	Infos(names ...string) []*schema.ToolInfo
}

// PromptSource supplies the planner system prompt per route.
type PromptSource interface {
	Planner(route contractx.Route) string
}

// RunRequest is the input of one agent loop.
type RunRequest struct {
	Request contractx.ParsedRequest
	Route   contractx.RouteDecision
	History []contractx.ConversationEntry
}

// LoopResult summarizes a finished loop. The authoritative record is the
// state's trace list.
type LoopResult struct {
	FinalDecision map[string]any
	ExecutedCalls []statex.ToolExecution
	Iterations    []contractx.IterationSummary
	PlannerStatus contractx.CallStatus
	PlannerError  string
	NextCallIndex int
	StopReason    string
}

type RunnerOption func(*Runner)

func WithConfig(cfg Config) RunnerOption {
	return func(r *Runner) {
		r.cfg = cfg.withDefaults()
	}
}

func WithLogger(l zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.log = l
	}
}

// Runner drives the bounded plan / execute / decide / govern loop.
type Runner struct {
	planners contractx.Registry
	tools    ToolCatalog
	prompts  PromptSource
	cfg      Config
	log      zerolog.Logger
}

func NewRunner(planners contractx.Registry, tools ToolCatalog, prompts PromptSource, opts ...RunnerOption) *Runner {
	r := &Runner{
		planners: planners,
		tools:    tools,
		prompts:  prompts,
		cfg:      DefaultConfig(),
		log:      log.Logger.With().Str("component", "agent_runtime").Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// NewState builds a run state bounded by the runner's configuration.
func (r *Runner) NewState(req contractx.ParsedRequest, route contractx.Route, opts ...statex.Option) *statex.AgentState {
	base := []statex.Option{
		statex.WithMaxTurns(r.cfg.MaxTurns),
		statex.WithWebFallbackMinTurn(r.cfg.WebFallbackMinTurn),
	}
	return statex.NewAgentState(req, route, append(base, opts...)...)
}

// Run executes the loop until a stop condition or max turns. It never
// returns an error: planner and tool failures become traces and stop
// reasons.
func (r *Runner) Run(ctx context.Context, state *statex.AgentState, req RunRequest) LoopResult {
	route := req.Route.Route
	ctx, span := tracer.Start(ctx, "agent.loop", trace.WithAttributes(
		attribute.String("agent.route", string(route)),
		attribute.Int("agent.max_turns", state.MaxTurns),
	))
	defer span.End()

	governor := GovernorFor(route, r.cfg.MinFallbackResults)
	result := LoopResult{PlannerStatus: contractx.StatusSuccess}

	for turn := 0; turn < state.MaxTurns; turn++ {
		stop, reason := r.runTurn(ctx, state, req, governor, turn, &result)
		if stop {
			result.StopReason = reason
			break
		}
	}
	if result.StopReason == "" {
		result.StopReason = contractx.StopReasonMaxTurns
	}

	result.Iterations = state.Iterations
	result.NextCallIndex = state.CallIndex

	loopStopsTotal.WithLabelValues(string(route), result.StopReason).Inc()
	loopTurns.WithLabelValues(string(route)).Observe(float64(state.IterationsUsed))
	span.SetAttributes(
		attribute.String("agent.stop_reason", result.StopReason),
		attribute.Int("agent.iterations_used", state.IterationsUsed),
		attribute.Bool("agent.goal_reached", state.GoalReached),
	)
	if result.PlannerStatus == contractx.StatusError {
		span.SetStatus(codes.Error, result.PlannerError)
	}

	r.log.Debug().
		Str("route", string(route)).
		Str("stop_reason", result.StopReason).
		Int("iterations", state.IterationsUsed).
		Bool("goal_reached", state.GoalReached).
		Msg("agent loop finished")
	return result
}

func (r *Runner) runTurn(
	ctx context.Context,
	state *statex.AgentState,
	req RunRequest,
	governor Governor,
	turn int,
	result *LoopResult,
) (bool, string) {
	route := req.Route.Route
	ctx, span := tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("agent.route", string(route)),
		attribute.Int("agent.turn_index", turn),
	))
	defer span.End()

	state.BeginTurn(turn)
	previousQuery := state.CurrentQueryText
	previousFilters := state.CurrentCommonFilters.Clone()
	allowWebFallback := state.AllowWebFallback(turn)

	toolNames := policyx.PlannerTools(route)
	plannerReq := contractx.PlannerRequest{
		SystemPrompt: r.systemPrompt(route),
		History:      req.History,
		StepInput:    StepInput(route, state, req.Request, r.cfg.MinFallbackResults),
		PreviousCall: previousCalls(state),
		TurnIndex:    turn,
		Tools:        r.tools.Infos(toolNames...),
	}

	output, planErr := r.plan(ctx, route, plannerReq)
	ordered := policyx.OrderToolCalls(output.ToolCalls)

	dispatcher := NewDispatcher(r.tools, req.Route, state, allowWebFallback, r.log)
	executed := make([]statex.ToolExecution, 0, len(ordered))
	for _, call := range ordered {
		args := call.Args
		if args == nil {
			args = map[string]any{}
		}
		var res DispatchResult
		if call.ArgsError != "" {
			res = dispatcher.Reject(call.Name, call.ArgsError)
		} else {
			res = dispatcher.Dispatch(ctx, call.Name, args)
		}
		entry := state.AppendTrace(contractx.TraceEntry{
			TurnIndex:    turn,
			ToolName:     call.Name,
			Status:       res.Status,
			Reason:       reasonToolRequested,
			Input:        args,
			Output:       res.Output,
			ErrorMessage: res.Error,
			DurationMs:   res.DurationMs,
			Goal:         state.Goal,
		})
		exec := statex.ToolExecution{
			Name:       call.Name,
			Args:       args,
			Status:     res.Status,
			Output:     res.Output,
			Error:      res.Error,
			DurationMs: res.DurationMs,
			TurnIndex:  entry.TurnIndex,
			CallIndex:  entry.CallIndex,
			Raw:        res.Raw,
		}
		executed = append(executed, exec)
		state.ApplyToolExecution(exec)
	}
	result.ExecutedCalls = append(result.ExecutedCalls, executed...)
	recordDiscovery(state, executed)

	decision, parsed := ParseDecision(output.Content)
	var decisionReason, plannerError string
	decisionStatus := contractx.StatusSuccess
	switch {
	case planErr == nil && parsed:
		decisionReason = reasonDecisionParsed
	case planErr == nil && len(ordered) > 0:
		decision = defaultDecision(state)
		decisionReason = reasonDecisionDefault
	default:
		decision = defaultDecision(state)
		decisionReason = reasonDecisionFallback
		decisionStatus = contractx.StatusError
		plannerError = errNoToolsNoDecision
		if planErr != nil {
			plannerError = planErr.Error()
		}
	}
	result.FinalDecision = decision
	result.PlannerStatus = decisionStatus
	result.PlannerError = plannerError

	compact := make([]map[string]any, 0, len(executed))
	for _, e := range executed {
		compact = append(compact, e.Compact())
	}
	state.LastPlannerToolCalls = compact
	state.ApplyDecision(decision)

	state.AppendTrace(contractx.TraceEntry{
		TurnIndex: turn,
		ToolName:  string(contractx.ToolPlannerDecision),
		Status:    decisionStatus,
		Reason:    decisionReason,
		Input: map[string]any{
			"turn_index":           turn,
			"planner_request":      plannerRequestTrace(plannerReq, r.log),
			"tool_calls_count":     len(ordered),
			"tool_calls_requested": requestedCalls(ordered),
			"tool_calls_executed":  executedEntries(executed),
			"goal_requested":       decision["goal"],
			"done_requested":       decision["done"],
		},
		Output:       decision,
		ErrorMessage: plannerError,
		Goal:         state.Goal,
		Done:         contractx.BoolPtr(state.GoalReached),
	})

	action := governor.AfterTurn(state, TurnContext{
		TurnIndex:         turn,
		AllowWebFallback:  allowWebFallback,
		Executed:          executed,
		PreviousQueryText: previousQuery,
		PreviousFilters:   previousFilters,
	})

	var stop bool
	var stopReason, markReason string
	switch {
	case decisionStatus == contractx.StatusError:
		stop, stopReason, markReason = true, contractx.StopReasonPlannerError, contractx.StopReasonPlannerError
	case state.GoalReached:
		stop, stopReason = true, contractx.StopReasonGoalReached
	case action.Action == contractx.ActionContinue:
		stopReason = action.StopReason
	case action.Action == contractx.ActionStop:
		stop, stopReason, markReason = true, action.StopReason, action.MarkStopReason
	}

	state.AddIteration(contractx.IterationSummary{
		TurnIndex:     turn,
		PlannerStatus: decisionStatus,
		PlannerError:  plannerError,
		Goal:          state.Goal,
		GoalReached:   state.GoalReached,
		ExecutedCalls: len(executed),
		StopReason:    stopReason,
	})

	if stop && markReason != "" {
		state.MarkStop(markReason, state.GoalReached)
	}

	span.SetAttributes(
		attribute.Int("agent.executed_calls", len(executed)),
		attribute.String("agent.stop_reason", stopReason),
	)
	if decisionStatus == contractx.StatusError {
		span.SetStatus(codes.Error, plannerError)
	}
	return stop, stopReason
}

func (r *Runner) systemPrompt(route contractx.Route) string {
	if r.prompts == nil {
		return ""
	}
	return r.prompts.Planner(route)
}

func (r *Runner) plan(ctx context.Context, route contractx.Route, req contractx.PlannerRequest) (contractx.PlannerOutput, error) {
	if r.planners == nil {
		return contractx.PlannerOutput{}, contractx.ErrModelInvoke
	}
	p, err := r.planners.Planner(route)
	if err != nil {
		return contractx.PlannerOutput{}, err
	}
	out, err := p.Plan(ctx, req)
	if err != nil {
		r.log.Warn().Err(err).Str("route", string(route)).Int("turn_index", req.TurnIndex).Msg("planner invocation failed")
		return contractx.PlannerOutput{}, err
	}
	return out, nil
}

func defaultDecision(state *statex.AgentState) map[string]any {
	return map[string]any{"goal": state.Goal, "done": false}
}

func recordDiscovery(state *statex.AgentState, executed []statex.ToolExecution) {
	var names []string
	seen := map[string]struct{}{}
	for _, e := range executed {
		if e.Status != contractx.StatusSuccess || !policyx.IsDiscoveryTool(e.Name) {
			continue
		}
		if _, ok := seen[e.Name]; ok {
			continue
		}
		seen[e.Name] = struct{}{}
		names = append(names, e.Name)
	}
	if len(names) == 0 {
		return
	}
	state.DiscoveryHappenedThisIteration = true
	state.LastDiscoveryTools = names
}

func requestedCalls(calls []contractx.ToolCall) []map[string]any {
	out := make([]map[string]any, 0, len(calls))
	for _, c := range calls {
		out = append(out, map[string]any{"name": c.Name, "args": c.Args})
	}
	return out
}

func executedEntries(executed []statex.ToolExecution) []map[string]any {
	out := make([]map[string]any, 0, len(executed))
	for _, e := range executed {
		var errMsg any
		if e.Error != "" {
			errMsg = e.Error
		}
		out = append(out, map[string]any{
			"name":        e.Name,
			"args":        e.Args,
			"status":      string(e.Status),
			"output":      e.Output,
			"error":       errMsg,
			"duration_ms": e.DurationMs,
			"call_index":  e.CallIndex,
			"turn_index":  e.TurnIndex,
		})
	}
	return out
}

// plannerRequestTrace records what was sent to the planner. A request whose
// messages cannot be rendered keeps the rest and carries the error.
func plannerRequestTrace(req contractx.PlannerRequest, logger zerolog.Logger) map[string]any {
	out := map[string]any{
		"system_prompt": req.SystemPrompt,
		"tools":         describeTools(req.Tools),
		"temperature":   plannerx.Temperature,
	}
	messages, err := req.Messages()
	if err != nil {
		logger.Warn().Err(err).Int("turn_index", req.TurnIndex).Msg("planner messages not rendered for trace")
		out["messages"] = []contractx.ConversationEntry{}
		out["messages_error"] = err.Error()
		return out
	}
	out["messages"] = messages
	return out
}

func describeTools(infos []*schema.ToolInfo) []map[string]any {
	out := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		if info == nil || strings.TrimSpace(info.Name) == "" {
			continue
		}
		out = append(out, map[string]any{"name": info.Name, "description": info.Desc})
	}
	return out
}
