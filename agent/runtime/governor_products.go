package runtime

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
)

// ProductsGovernor runs the retrieval guards in fixed order: require
// retrieval before finalize, force a follow-up fallback turn, stop on no
// progress, stop once the fallback threshold is met.
type ProductsGovernor struct {
	MinFallbackResults int
}

func (g *ProductsGovernor) minFallback() int {
	if g.MinFallbackResults <= 0 {
		return DefaultMinFallbackResults
	}
	return g.MinFallbackResults
}

func (g *ProductsGovernor) AfterTurn(state *statex.AgentState, turn TurnContext) contractx.GovernorAction {
	if state.GoalReached && !turn.executed(contractx.ToolFindProducts) {
		appendGuardTrace(state, turn.TurnIndex, contractx.ToolFindProducts,
			fmt.Sprintf("Finalize rejected: required tool '%s' not executed this turn.", contractx.ToolFindProducts),
			map[string]any{})
		state.GoalReached = false
	}

	counts := state.LastRetrievalOutput
	if turn.TurnIndex+1 < state.MaxTurns &&
		state.RetrievalCalledThisTurn &&
		!turn.AllowWebFallback &&
		counts.InternalCount == 0 &&
		counts.ExternalCount == 0 &&
		!state.WeatherFetchedThisTurn &&
		state.GoalReached {
		appendGuardTrace(state, turn.TurnIndex, contractx.ToolFindProducts,
			"Deferring finalize: forcing a follow-up retrieval turn before web fallback is eligible.",
			map[string]any{
				"internal_count":               counts.InternalCount,
				"external_count":               counts.ExternalCount,
				"allow_web_fallback_this_turn": turn.AllowWebFallback,
				"allow_web_fallback_next_turn": state.AllowWebFallback(turn.TurnIndex + 1),
			})
		state.GoalReached = false
		return contractx.GovernorAction{
			Action:     contractx.ActionContinue,
			StopReason: contractx.StopReasonForceFollowUp,
		}
	}

	if state.CurrentQueryText == turn.PreviousQueryText &&
		state.CurrentCommonFilters.Equal(turn.PreviousFilters) &&
		state.HasResults() {
		appendGuardTrace(state, turn.TurnIndex, contractx.ToolRedundantFetchGuard,
			"No progress: query/filters unchanged; stopping iteration.",
			map[string]any{
				"query_text":     state.CurrentQueryText,
				"common_filters": state.CurrentCommonFilters.Map(),
			})
		state.MarkStop(contractx.StopReasonNoProgress, false)
		return contractx.GovernorAction{
			Action:         contractx.ActionStop,
			StopReason:     contractx.StopReasonNoProgress,
			MarkStopReason: contractx.StopReasonNoProgress,
		}
	}

	if counts.InternalCount == 0 && counts.ExternalCount >= g.minFallback() {
		appendGuardTrace(state, turn.TurnIndex, contractx.ToolFallbackStopGuard,
			"Fallback threshold met; stopping further retrieval with available external results.",
			map[string]any{
				"internal_count":       counts.InternalCount,
				"external_count":       counts.ExternalCount,
				"min_external_results": g.minFallback(),
			})
		state.MarkStop(contractx.StopReasonFallbackThresholdMet, false)
		return contractx.GovernorAction{
			Action:         contractx.ActionStop,
			StopReason:     contractx.StopReasonFallbackThresholdMet,
			MarkStopReason: contractx.StopReasonFallbackThresholdMet,
		}
	}

	return contractx.GovernorAction{Action: contractx.ActionNone}
}
