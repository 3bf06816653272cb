package assistantnode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	responsex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/response"
	runtimex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/runtime"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
)

const (
	reasonProductsResponse    = "Compose the final user-facing answer from the final retrieval set."
	reasonGeneralInfoResponse = "Compose final response for general information route."
)

var errNoResponder = errors.New("response generator is not configured")

// RouteDeps are the collaborators of the route handlers.
type RouteDeps struct {
	Runner    *runtimex.Runner
	Responder contractx.ResponseGenerator
	OnTrace   func(contractx.TraceEntry)
	Log       zerolog.Logger
}

// RunRoute runs the handler of the decided route. Handler failures never
// surface as errors: they are recorded as traces and answered with a
// fallback.
func RunRoute(ctx context.Context, in *GraphState, deps RouteDeps) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if deps.Runner == nil {
		return nil, fmt.Errorf("%w: agent runner is required", contractx.ErrValidation)
	}

	var opts []statex.Option
	if deps.OnTrace != nil {
		opts = append(opts, statex.WithTraceObserver(deps.OnTrace))
	}
	in.Agent = deps.Runner.NewState(in.Request, in.Route.Route, opts...)

	switch {
	case in.Route.Supported && in.Route.Route == contractx.RouteProducts:
		runProducts(ctx, in, deps)
	case in.Route.Supported && in.Route.Route == contractx.RouteGeneralInfo:
		runGeneralInfo(ctx, in, deps)
	default:
		runUnsupported(in)
	}

	deps.Log.Info().
		Str("run_id", in.RunID).
		Str("route", string(in.Route.Route)).
		Str("stop_reason", in.Loop.StopReason).
		Int("traces", len(in.Agent.Traces)).
		Msg("route handled")
	return in, nil
}

func runProducts(ctx context.Context, in *GraphState, deps RouteDeps) {
	state := in.Agent
	in.Loop = deps.Runner.Run(ctx, state, runtimex.RunRequest{
		Request: in.Request,
		Route:   in.Route,
		History: in.History,
	})

	results := state.LastProductResponse
	internal, external := results.Internal, results.External
	if internal == nil {
		internal = []contractx.ProductResult{}
	}
	if external == nil {
		external = []contractx.ProductResult{}
	}
	queryResults, err := json.Marshal(map[string]any{
		"internal_results": internal,
		"external_results": external,
		"weather_context":  state.LastWeatherContext,
		"turn_stop_reason": state.TurnStopReason,
	})

	started := time.Now()
	var answer contractx.ResponsePayload
	if err == nil {
		answer, err = generate(ctx, deps, in, string(queryResults))
	}

	status := contractx.StatusSuccess
	var errMsg string
	output := map[string]any{}
	if err != nil {
		deps.Log.Warn().Err(err).Str("run_id", in.RunID).Msg("response synthesis failed; using fallback")
		status, errMsg = contractx.StatusError, err.Error()
		answer = responsex.SafeFallback(results)
		output["has_cards"] = len(answer.Cards) > 0
		output["fallback_used"] = true
	} else {
		output["has_cards"] = len(answer.Cards) > 0
		output["follow_up_present"] = answer.FollowUp != ""
	}

	state.AppendTrace(contractx.TraceEntry{
		TurnIndex: lastTurn(state),
		ToolName:  string(contractx.ToolGenerateResponse),
		Status:    status,
		Reason:    reasonProductsResponse,
		Input: map[string]any{
			"conversation_id": in.ConversationID,
			"query_results_preview": map[string]any{
				"internal_count": len(internal),
				"external_count": len(external),
			},
			"weather_context_present": len(state.LastWeatherContext) > 0,
			"goal":                    state.Goal,
			"goal_reached":            state.GoalReached,
			"turn_stop_reason":        state.TurnStopReason,
		},
		Output:       output,
		ErrorMessage: errMsg,
		DurationMs:   time.Since(started).Milliseconds(),
		Goal:         state.Goal,
		Done:         contractx.BoolPtr(state.GoalReached),
	})

	if len(answer.Cards) == 0 {
		answer.Cards = responsex.ProductCards(results, responsex.ProductCardLimit)
	}
	in.Answer = answer
}

func runGeneralInfo(ctx context.Context, in *GraphState, deps RouteDeps) {
	state := in.Agent
	in.Loop = deps.Runner.Run(ctx, state, runtimex.RunRequest{
		Request: in.Request,
		Route:   in.Route,
		History: in.History,
	})

	searchPayload := state.LastGenericSearch
	if searchPayload == nil {
		searchPayload = map[string]any{}
	}
	queryResults, err := json.Marshal(searchPayload)

	started := time.Now()
	var answer contractx.ResponsePayload
	if err == nil {
		answer, err = generate(ctx, deps, in, string(queryResults))
	}

	status := contractx.StatusSuccess
	var errMsg string
	if err != nil {
		deps.Log.Warn().Err(err).Str("run_id", in.RunID).Msg("response synthesis failed; using fallback")
		status, errMsg = contractx.StatusError, err.Error()
		answer = responsex.GeneralInfoFallback()
	}

	if in.Request.Query.SearchType == contractx.SearchTypeNews &&
		status == contractx.StatusSuccess &&
		len(answer.Cards) == 0 {
		if cards := responsex.NewsCards(searchPayload, responsex.NewsCardLimit); len(cards) > 0 {
			answer.Cards = cards
		}
	}

	state.AppendTrace(contractx.TraceEntry{
		TurnIndex:    lastTurn(state),
		ToolName:     string(contractx.ToolGenerateResponse),
		Status:       status,
		Reason:       reasonGeneralInfoResponse,
		Input:        map[string]any{"conversation_id": in.ConversationID},
		Output:       map[string]any{"has_cards": len(answer.Cards) > 0},
		ErrorMessage: errMsg,
		DurationMs:   time.Since(started).Milliseconds(),
		Goal:         statex.GeneralInfoGoal,
		Done:         contractx.BoolPtr(true),
	})
	in.Answer = answer
}

func runUnsupported(in *GraphState) {
	answer := responsex.Unsupported()
	in.Agent.AppendTrace(contractx.TraceEntry{
		TurnIndex: 0,
		ToolName:  string(contractx.ToolUnknownIntentHandler),
		Status:    contractx.StatusSuccess,
		Reason:    in.Route.Reason,
		Input:     map[string]any{"intent": string(in.Request.Intent)},
		Output:    map[string]any{"response": answer.Response},
		Goal:      in.Agent.Goal,
		Done:      contractx.BoolPtr(true),
	})
	in.Answer = answer
}

func generate(ctx context.Context, deps RouteDeps, in *GraphState, queryResults string) (contractx.ResponsePayload, error) {
	if deps.Responder == nil {
		return contractx.ResponsePayload{}, errNoResponder
	}
	return deps.Responder.Generate(ctx, contractx.ResponseRequest{
		ConversationID: in.ConversationID,
		History:        in.History,
		QueryResults:   queryResults,
	})
}

func lastTurn(state *statex.AgentState) int {
	if state.IterationsUsed < 1 {
		return 0
	}
	return state.IterationsUsed - 1
}
