package assistantnode

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

// Router decides the route of a parsed request.
type Router interface {
	Decide(req contractx.ParsedRequest) contractx.RouteDecision
}

func RouteRequest(in *GraphState, router Router) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Route = router.Decide(in.Request)
	return in, nil
}
