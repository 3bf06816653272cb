package planner

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	llmx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/llm"
	policyx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/policy"
)

// ToolInfoSource supplies tool descriptors by name.
type ToolInfoSource interface {
	Infos(names ...string) []*schema.ToolInfo
}

// ModelFactory builds the chat model used for a role.
type ModelFactory func(ctx context.Context, role llmx.Role) (model.ToolCallingChatModel, error)

// OpenRouterModels is the ModelFactory backed by per-role OpenRouter settings.
func OpenRouterModels(cfg llmx.Config) ModelFactory {
	return func(ctx context.Context, role llmx.Role) (model.ToolCallingChatModel, error) {
		modelCfg := cfg.OpenRouterFor(role)
		return modelCfg.New(ctx)
	}
}

type registryImpl struct {
	planners map[contractx.Route]contractx.Planner
}

func (r *registryImpl) Planner(route contractx.Route) (contractx.Planner, error) {
	p, ok := r.planners[route]
	if !ok {
		return nil, fmt.Errorf("%w: no planner for route=%s", contractx.ErrValidation, route)
	}
	return p, nil
}

// NewRegistry compiles one planner per planning route with that route's
// tools bound.
func NewRegistry(ctx context.Context, models ModelFactory, tools ToolInfoSource) (contractx.Registry, error) {
	if models == nil || tools == nil {
		return nil, fmt.Errorf("%w: model factory and tool source are required", contractx.ErrValidation)
	}

	reg := &registryImpl{planners: map[contractx.Route]contractx.Planner{}}
	for _, route := range []contractx.Route{contractx.RouteProducts, contractx.RouteGeneralInfo} {
		role, _ := llmx.RoleForRoute(route)
		chatModel, err := models(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("%w: create %s model: %v", contractx.ErrModelInvoke, role, err)
		}
		p, err := New(ctx, route, chatModel, tools.Infos(policyx.PlannerTools(route)...))
		if err != nil {
			return nil, err
		}
		reg.planners[route] = p
	}
	return reg, nil
}
