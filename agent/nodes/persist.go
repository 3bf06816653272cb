package assistantnode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

// PersistTraces writes the run's trace list to the audit sink. Audit
// failures are logged and do not fail the request.
func PersistTraces(ctx context.Context, in *GraphState, sink contractx.TraceSink, log zerolog.Logger) (*GraphState, error) {
	if in == nil || in.Agent == nil {
		return nil, fmt.Errorf("%w: graph state is incomplete", contractx.ErrValidation)
	}
	if sink == nil {
		return in, nil
	}
	if err := sink.AppendTraces(ctx, in.RunID, in.Agent.Traces); err != nil {
		log.Warn().Err(err).Str("run_id", in.RunID).Int("traces", len(in.Agent.Traces)).Msg("persist tool traces failed")
	}
	return in, nil
}

// SaveConversation appends the user turn and the answer to the stored
// conversation.
func SaveConversation(ctx context.Context, in *GraphState, store contractx.ConversationStore) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if store == nil || in.ConversationID == "" {
		return in, nil
	}

	entries := make([]contractx.ConversationEntry, 0, 2)
	if text := in.Request.Query.QueryText; text != "" {
		entries = append(entries, contractx.ConversationEntry{Role: contractx.RoleUser, Content: text})
	}
	if text := in.Answer.Response; text != "" {
		entries = append(entries, contractx.ConversationEntry{Role: contractx.RoleAssistant, Content: text})
	}
	if len(entries) == 0 {
		return in, nil
	}
	if err := store.Append(ctx, in.ConversationID, entries...); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}
	return in, nil
}

// PublishRun hands the finished result to the publisher. Publish failures
// are logged only.
func PublishRun(ctx context.Context, in *GraphState, publisher contractx.RunPublisher, log zerolog.Logger) (contractx.AgentResult, error) {
	if in == nil {
		return contractx.AgentResult{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if publisher != nil {
		if err := publisher.PublishRun(ctx, in.Result); err != nil {
			log.Warn().Err(err).Str("run_id", in.RunID).Msg("publish run failed")
		}
	}
	return in.Result, nil
}
