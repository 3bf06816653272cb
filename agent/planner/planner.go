package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

// Temperature is the sampling temperature every planning call runs at.
const Temperature float32 = 0

type plannerImpl struct {
	route  contractx.Route
	runner compose.Runnable[map[string]any, *schema.Message]
	log    zerolog.Logger
}

// New binds tools to chatModel and compiles the planning graph for route.
func New(
	ctx context.Context,
	route contractx.Route,
	chatModel einomodel.ToolCallingChatModel,
	tools []*schema.ToolInfo,
) (contractx.Planner, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}

	bound := einomodel.BaseChatModel(chatModel)
	if len(tools) > 0 {
		withTools, err := chatModel.WithTools(tools)
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools for route=%s: %v", contractx.ErrModelInvoke, route, err)
		}
		bound = withTools
	}

	runner, err := compilePlanningGraph(ctx, bound, "planner."+string(route))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	return &plannerImpl{
		route:  route,
		runner: runner,
		log:    log.Logger.With().Str("component", "planner").Str("route", string(route)).Logger(),
	}, nil
}

func (p *plannerImpl) Plan(ctx context.Context, req contractx.PlannerRequest) (contractx.PlannerOutput, error) {
	if strings.TrimSpace(req.SystemPrompt) == "" {
		return contractx.PlannerOutput{}, fmt.Errorf("%w: route=%s", contractx.ErrPromptMissing, p.route)
	}

	entries, err := req.Messages()
	if err != nil {
		return contractx.PlannerOutput{}, err
	}

	msg, err := p.runner.Invoke(ctx, map[string]any{
		varSystemPrompt: req.SystemPrompt,
		varMessages:     toSchemaMessages(entries),
	}, compose.WithChatModelOption(einomodel.WithTemperature(Temperature)))
	if err != nil {
		return contractx.PlannerOutput{}, fmt.Errorf("%w: planner invoke: %v", contractx.ErrModelInvoke, err)
	}
	if msg == nil {
		return contractx.PlannerOutput{}, fmt.Errorf("%w: empty planner response", contractx.ErrSchemaViolation)
	}

	calls, err := toToolCalls(msg.ToolCalls, p.log)
	if err != nil {
		return contractx.PlannerOutput{}, err
	}
	return contractx.PlannerOutput{ToolCalls: calls, Content: msg.Content}, nil
}

func toSchemaMessages(entries []contractx.ConversationEntry) []*schema.Message {
	out := make([]*schema.Message, 0, len(entries))
	for _, e := range entries {
		switch e.Role {
		case contractx.RoleAssistant:
			out = append(out, schema.AssistantMessage(e.Content, nil))
		case contractx.RoleSystem:
			out = append(out, schema.SystemMessage(e.Content))
		default:
			out = append(out, schema.UserMessage(e.Content))
		}
	}
	return out
}

// toToolCalls keeps a call whose arguments are not a JSON object. It gets
// empty arguments and ArgsError so the runner traces it as a failed call.
func toToolCalls(calls []schema.ToolCall, logger zerolog.Logger) ([]contractx.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]contractx.ToolCall, 0, len(calls))
	for _, call := range calls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}

		tc := contractx.ToolCall{ID: call.ID, Name: name, Args: map[string]any{}}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			var args map[string]any
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				logger.Warn().Err(err).Str("tool", name).Msg("tool call arguments are not a JSON object")
				tc.ArgsError = err.Error()
			} else if args != nil {
				tc.Args = args
			}
		}
		out = append(out, tc)
	}
	return out, nil
}
