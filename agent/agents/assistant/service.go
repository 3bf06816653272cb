package assistant

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	nodex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/nodes"
	policyx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/policy"
	runtimex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/runtime"
)

var ErrInvalidRequest = nodex.ErrInvalidRequest

// Deps are the collaborators of the assistant. Runner is required; the
// stores and the publisher are optional.
type Deps struct {
	Router        nodex.Router
	Runner        *runtimex.Runner
	Responder     contractx.ResponseGenerator
	Conversations contractx.ConversationStore
	Traces        contractx.TraceSink
	Publisher     contractx.RunPublisher
}

type Option func(*Assistant)

// WithTraceObserver registers fn to receive every trace entry as it is
// appended during a run.
func WithTraceObserver(fn func(contractx.TraceEntry)) Option {
	return func(a *Assistant) {
		a.onTrace = fn
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Assistant) {
		a.log = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Assistant) {
		if now != nil {
			a.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(a *Assistant) {
		if newID != nil {
			a.newID = newID
		}
	}
}

// Assistant answers one parsed request: route, run the agent loop, compose
// the answer, persist and publish.
type Assistant struct {
	router        nodex.Router
	runner        *runtimex.Runner
	responder     contractx.ResponseGenerator
	conversations contractx.ConversationStore
	traces        contractx.TraceSink
	publisher     contractx.RunPublisher

	graphRunner compose.Runnable[nodex.GraphInput, contractx.AgentResult]

	onTrace func(contractx.TraceEntry)
	log     zerolog.Logger
	now     func() time.Time
	newID   func() string
}

func New(deps Deps, opts ...Option) (*Assistant, error) {
	if deps.Runner == nil {
		return nil, errors.New("agent runner is required")
	}
	router := deps.Router
	if router == nil {
		router = policyx.NewRoutingPolicy()
	}

	a := &Assistant{
		router:        router,
		runner:        deps.Runner,
		responder:     deps.Responder,
		conversations: deps.Conversations,
		traces:        deps.Traces,
		publisher:     deps.Publisher,
		log:           log.Logger.With().Str("component", "assistant").Logger(),
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	graphRunner, err := a.compileHandleRequestGraph(context.Background())
	if err != nil {
		return nil, err
	}
	a.graphRunner = graphRunner

	return a, nil
}

func (a *Assistant) Handle(ctx context.Context, conversationID string, req contractx.ParsedRequest) (contractx.AgentResult, error) {
	return a.graphRunner.Invoke(ctx, nodex.GraphInput{
		ConversationID: conversationID,
		Request:        req,
	})
}
