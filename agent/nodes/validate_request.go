package assistantnode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	runtimex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/runtime"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
)

var ErrInvalidRequest = errors.New("request is invalid")

type GraphInput struct {
	ConversationID string
	Request        contractx.ParsedRequest
}

// GraphState is threaded through every node of one request.
type GraphState struct {
	RunID          string
	ConversationID string
	Request        contractx.ParsedRequest
	Now            time.Time

	Route   contractx.RouteDecision
	History []contractx.ConversationEntry

	Agent  *statex.AgentState
	Loop   runtimex.LoopResult
	Answer contractx.ResponsePayload

	Result contractx.AgentResult
}

func ValidateRequest(in GraphInput, newID func() string, nowFn func() time.Time) (*GraphState, error) {
	req := in.Request
	req.Query.QueryText = strings.TrimSpace(req.Query.QueryText)

	intent := contractx.Intent(strings.ToLower(strings.TrimSpace(string(req.Intent))))
	if intent == "" {
		intent = contractx.IntentUnknown
	}
	req.Intent = intent

	searchType := contractx.SearchType(strings.TrimSpace(string(req.Query.SearchType)))
	if searchType != "" && !searchType.Valid() {
		return nil, fmt.Errorf("%w: search_type=%q", ErrInvalidRequest, searchType)
	}
	req.Query.SearchType = searchType
	req.CommonFilters = req.CommonFilters.Clone()

	runID := strings.TrimSpace(newID())
	if runID == "" {
		return nil, fmt.Errorf("%w: run id is empty", ErrInvalidRequest)
	}

	return &GraphState{
		RunID:          runID,
		ConversationID: strings.TrimSpace(in.ConversationID),
		Request:        req,
		Now:            nowFn().UTC(),
	}, nil
}
