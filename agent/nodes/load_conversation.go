package assistantnode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

// LoadConversation reads the stored history and appends the current user
// turn. Without a store or conversation id the history is the user turn
// alone.
func LoadConversation(ctx context.Context, in *GraphState, store contractx.ConversationStore) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	history := []contractx.ConversationEntry{}
	if store != nil && in.ConversationID != "" {
		stored, err := store.Load(ctx, in.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		history = append(history, stored...)
	}
	if text := in.Request.Query.QueryText; text != "" {
		history = append(history, contractx.ConversationEntry{Role: contractx.RoleUser, Content: text})
	}
	in.History = history
	return in, nil
}
