package contract

import "context"

// Planner is the external tool-calling model that decides each turn.
type Planner interface {
	Plan(ctx context.Context, req PlannerRequest) (PlannerOutput, error)
}

type Registry interface {
	Planner(route Route) (Planner, error)
}

type TraceSink interface {
	AppendTraces(ctx context.Context, roundtripID string, traces []TraceEntry) error
}

type ConversationStore interface {
	Load(ctx context.Context, conversationID string) ([]ConversationEntry, error)
	Append(ctx context.Context, conversationID string, entries ...ConversationEntry) error
}

type ResponseRequest struct {
	ConversationID string              `json:"conversation_id"`
	History        []ConversationEntry `json:"history"`
	QueryResults   string              `json:"query_results"`
}

type ResponseGenerator interface {
	Generate(ctx context.Context, req ResponseRequest) (ResponsePayload, error)
}

// RunPublisher receives a summary of every completed request.
type RunPublisher interface {
	PublishRun(ctx context.Context, result AgentResult) error
}
