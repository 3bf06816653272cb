package assistant

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	nodex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/nodes"
)

func (a *Assistant) compileHandleRequestGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, contractx.AgentResult], error) {
	graph := compose.NewGraph[nodex.GraphInput, contractx.AgentResult]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, a.newID, a.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("route_request",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RouteRequest(in, a.router)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node route_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_conversation",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadConversation(ctx, in, a.conversations)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_conversation: %w", err)
	}

	if err := graph.AddLambdaNode("run_route",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunRoute(ctx, in, nodex.RouteDeps{
				Runner:    a.runner,
				Responder: a.responder,
				OnTrace:   a.onTrace,
				Log:       a.log,
			})
		}),
	); err != nil {
		return nil, fmt.Errorf("add node run_route: %w", err)
	}

	if err := graph.AddLambdaNode("persist_traces",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.PersistTraces(ctx, in, a.traces, a.log)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node persist_traces: %w", err)
	}

	if err := graph.AddLambdaNode("save_conversation",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.SaveConversation(ctx, in, a.conversations)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node save_conversation: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_result",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.FinalizeResult(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_result: %w", err)
	}

	if err := graph.AddLambdaNode("publish_run",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (contractx.AgentResult, error) {
			return nodex.PublishRun(ctx, in, a.publisher, a.log)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node publish_run: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "route_request"},
		{"route_request", "load_conversation"},
		{"load_conversation", "run_route"},
		{"run_route", "persist_traces"},
		{"persist_traces", "save_conversation"},
		{"save_conversation", "finalize_result"},
		{"finalize_result", "publish_run"},
		{"publish_run", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("assistant.handle_request"))
	if err != nil {
		return nil, fmt.Errorf("compile assistant graph: %w", err)
	}
	return runner, nil
}
