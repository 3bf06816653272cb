package runtime

import (
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
)

// TurnContext is what a governor sees after the decision of one turn.
type TurnContext struct {
	TurnIndex         int
	AllowWebFallback  bool
	Executed          []statex.ToolExecution
	PreviousQueryText string
	PreviousFilters   *contractx.CommonFilters
}

func (t TurnContext) executed(name contractx.ToolName) bool {
	for _, e := range t.Executed {
		if e.Name == string(name) {
			return true
		}
	}
	return false
}

// Governor applies route-specific guard rails after each turn. Guards that
// fire append exactly one skipped trace through the state.
type Governor interface {
	AfterTurn(state *statex.AgentState, turn TurnContext) contractx.GovernorAction
}

// GovernorFor returns the governor of route.
func GovernorFor(route contractx.Route, minFallbackResults int) Governor {
	if route == contractx.RouteProducts {
		return &ProductsGovernor{MinFallbackResults: minFallbackResults}
	}
	return GeneralInfoGovernor{}
}

// GeneralInfoGovernor never intervenes.
type GeneralInfoGovernor struct{}

func (GeneralInfoGovernor) AfterTurn(*statex.AgentState, TurnContext) contractx.GovernorAction {
	return contractx.GovernorAction{Action: contractx.ActionNone}
}

func appendGuardTrace(state *statex.AgentState, turnIndex int, tool contractx.ToolName, reason string, input map[string]any) {
	state.AppendTrace(contractx.TraceEntry{
		TurnIndex: turnIndex,
		ToolName:  string(tool),
		Status:    contractx.StatusSkipped,
		Reason:    reason,
		Input:     input,
		Goal:      state.Goal,
		Done:      contractx.BoolPtr(false),
	})
}
