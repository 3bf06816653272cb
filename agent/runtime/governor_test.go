package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
)

func governorState(query string) *statex.AgentState {
	req := contractx.ParsedRequest{Intent: contractx.IntentFindProducts, Query: contractx.QueryDetails{QueryText: query}}
	return statex.NewAgentState(req, contractx.RouteProducts, statex.WithMaxTurns(4), statex.WithWebFallbackMinTurn(1))
}

func retrievalTurn(turn int, allow bool, previousQuery string) TurnContext {
	return TurnContext{
		TurnIndex:         turn,
		AllowWebFallback:  allow,
		Executed:          []statex.ToolExecution{{Name: string(contractx.ToolFindProducts), Status: contractx.StatusSuccess}},
		PreviousQueryText: previousQuery,
	}
}

func TestProductsGovernorRejectsFinalizeWithoutRetrieval(t *testing.T) {
	t.Parallel()

	state := governorState("boots")
	state.GoalReached = true

	action := (&ProductsGovernor{}).AfterTurn(state, TurnContext{TurnIndex: 0, PreviousQueryText: "boots"})

	assert.Equal(t, contractx.ActionNone, action.Action)
	assert.False(t, state.GoalReached)
	require.Len(t, state.Traces, 1)
	assert.Equal(t, "find_products", state.Traces[0].ToolName)
	assert.Equal(t, contractx.StatusSkipped, state.Traces[0].Status)
}

func TestProductsGovernorForcesFollowUp(t *testing.T) {
	t.Parallel()

	state := governorState("boots")
	state.BeginTurn(0)
	state.RetrievalCalledThisTurn = true
	state.GoalReached = true

	action := (&ProductsGovernor{}).AfterTurn(state, retrievalTurn(0, false, "boots"))

	assert.Equal(t, contractx.ActionContinue, action.Action)
	assert.Equal(t, contractx.StopReasonForceFollowUp, action.StopReason)
	assert.False(t, state.GoalReached)
	require.Len(t, state.Traces, 1)
	assert.Equal(t, true, state.Traces[0].Input["allow_web_fallback_next_turn"])
	assert.Empty(t, state.TurnStopReason)
}

func TestProductsGovernorNoFollowUpOnLastTurnOrAfterWeather(t *testing.T) {
	t.Parallel()

	last := governorState("boots")
	last.BeginTurn(3)
	last.RetrievalCalledThisTurn = true
	last.GoalReached = true
	action := (&ProductsGovernor{}).AfterTurn(last, retrievalTurn(3, false, "hiking boots"))
	assert.Equal(t, contractx.ActionNone, action.Action)
	assert.True(t, last.GoalReached)

	weather := governorState("boots")
	weather.BeginTurn(0)
	weather.RetrievalCalledThisTurn = true
	weather.WeatherFetchedThisTurn = true
	weather.GoalReached = true
	action = (&ProductsGovernor{}).AfterTurn(weather, retrievalTurn(0, false, "hiking boots"))
	assert.Equal(t, contractx.ActionNone, action.Action)
	assert.Empty(t, weather.Traces)
}

func TestProductsGovernorStopsWithoutProgress(t *testing.T) {
	t.Parallel()

	state := governorState("boots")
	state.LastProductResponse = internalResults(1)
	state.LastRetrievalOutput = statex.RetrievalOutput{InternalCount: 1}

	action := (&ProductsGovernor{}).AfterTurn(state, TurnContext{TurnIndex: 1, PreviousQueryText: "boots"})

	assert.Equal(t, contractx.ActionStop, action.Action)
	assert.Equal(t, contractx.StopReasonNoProgress, action.MarkStopReason)
	assert.Equal(t, contractx.StopReasonNoProgress, state.TurnStopReason)
	require.Len(t, state.Traces, 1)
	assert.Equal(t, "redundant_fetch_guard", state.Traces[0].ToolName)
	assert.Equal(t, "No progress: query/filters unchanged; stopping iteration.", state.Traces[0].Reason)
}

func TestProductsGovernorFilterChangeIsProgress(t *testing.T) {
	t.Parallel()

	state := governorState("boots")
	state.LastProductResponse = internalResults(1)
	state.LastRetrievalOutput = statex.RetrievalOutput{InternalCount: 1}
	state.CurrentCommonFilters = &contractx.CommonFilters{Color: "brown"}

	action := (&ProductsGovernor{}).AfterTurn(state, TurnContext{TurnIndex: 1, PreviousQueryText: "boots"})
	assert.Equal(t, contractx.ActionNone, action.Action)
}

func TestProductsGovernorFallbackThreshold(t *testing.T) {
	t.Parallel()

	state := governorState("boots")
	state.CurrentQueryText = "leather boots"
	state.LastProductResponse = externalResults(2)
	state.LastRetrievalOutput = statex.RetrievalOutput{ExternalCount: 2}

	action := (&ProductsGovernor{MinFallbackResults: 2}).AfterTurn(state, retrievalTurn(2, true, "boots"))
	assert.Equal(t, contractx.ActionStop, action.Action)
	assert.Equal(t, contractx.StopReasonFallbackThresholdMet, action.StopReason)
	require.Len(t, state.Traces, 1)
	assert.Equal(t, 2, state.Traces[0].Input["min_external_results"])

	below := governorState("boots")
	below.CurrentQueryText = "leather boots"
	below.LastRetrievalOutput = statex.RetrievalOutput{ExternalCount: 2}
	action = (&ProductsGovernor{}).AfterTurn(below, retrievalTurn(2, true, "boots"))
	assert.Equal(t, contractx.ActionNone, action.Action)
}

func TestGovernorFor(t *testing.T) {
	t.Parallel()

	assert.IsType(t, &ProductsGovernor{}, GovernorFor(contractx.RouteProducts, 3))
	general := GovernorFor(contractx.RouteGeneralInfo, 3)
	assert.IsType(t, GeneralInfoGovernor{}, general)

	state := governorState("news")
	state.GoalReached = true
	assert.Equal(t, contractx.ActionNone, general.AfterTurn(state, TurnContext{}).Action)
	assert.Empty(t, state.Traces)
}
