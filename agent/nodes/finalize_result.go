package assistantnode

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
)

func FinalizeResult(in *GraphState) (*GraphState, error) {
	if in == nil || in.Agent == nil {
		return nil, fmt.Errorf("%w: graph state is incomplete", contractx.ErrValidation)
	}
	if in.Answer.Response == "" {
		return nil, fmt.Errorf("%w: answer is empty", contractx.ErrValidation)
	}

	state := in.Agent
	goal := state.Goal
	if in.Route.Supported && in.Route.Route == contractx.RouteGeneralInfo {
		goal = statex.GeneralInfoGoal
	}

	answer := in.Answer
	if answer.Cards == nil {
		answer.Cards = []contractx.Card{}
	}
	traces := state.Traces
	if traces == nil {
		traces = []contractx.TraceEntry{}
	}
	iterations := state.Iterations
	if iterations == nil {
		iterations = []contractx.IterationSummary{}
	}

	in.Result = contractx.AgentResult{
		RunID:          in.RunID,
		ConversationID: in.ConversationID,
		Answer:         answer,
		Route:          in.Route,
		Goal:           goal,
		GoalReached:    state.GoalReached,
		IterationsUsed: state.IterationsUsed,
		StopReason:     in.Loop.StopReason,
		Traces:         traces,
		Iterations:     iterations,
		Debug: contractx.NewDebugTrace(
			in.Request.Intent,
			in.Route,
			goal,
			state.GoalReached,
			state.MaxTurns,
			state.IterationsUsed,
			traces,
		),
	}
	return in, nil
}
