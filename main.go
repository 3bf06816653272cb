package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/agents/assistant"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	llmx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/llm"
	plannerx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/planner"
	promptx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/prompt"
	repositoryx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/repository"
	responsex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/response"
	retrievalx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/retrieval"
	runtimex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/runtime"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
	toolx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/tool"
	bravex "github.com/tanpawarit/Chative-Shopping-Assistant/pkg/brave"
	configx "github.com/tanpawarit/Chative-Shopping-Assistant/pkg/config"
	logx "github.com/tanpawarit/Chative-Shopping-Assistant/pkg/logger"
	openmeteox "github.com/tanpawarit/Chative-Shopping-Assistant/pkg/openmeteo"
	openrouterx "github.com/tanpawarit/Chative-Shopping-Assistant/pkg/openrouter"
	qstashx "github.com/tanpawarit/Chative-Shopping-Assistant/pkg/qstash"
)

type requestFlags struct {
	intent         string
	query          string
	searchType     string
	conversationID string
	safetyFlags    string
	color          string
	gender         string
	priceMin       float64
	priceMax       float64
}

// Flags are registered before the first config load, which parses them.
func registerFlags() *requestFlags {
	f := &requestFlags{}
	flag.StringVar(&f.intent, "intent", string(contractx.IntentFindProducts), "parsed intent: find_products, general_information or unknown")
	flag.StringVar(&f.query, "q", "", "query text")
	flag.StringVar(&f.searchType, "search-type", "", "web_search, news_search or suggestion_search")
	flag.StringVar(&f.conversationID, "conversation", "", "conversation id; history is kept only when set")
	flag.StringVar(&f.safetyFlags, "safety", "", "comma separated safety flags")
	flag.StringVar(&f.color, "color", "", "color filter")
	flag.StringVar(&f.gender, "gender", "", "gender filter")
	flag.Float64Var(&f.priceMin, "price-min", 0, "minimum price, 0 for none")
	flag.Float64Var(&f.priceMax, "price-max", 0, "maximum price, 0 for none")
	return f
}

func (f *requestFlags) parsedRequest() contractx.ParsedRequest {
	req := contractx.ParsedRequest{
		Intent: contractx.Intent(f.intent),
		Query: contractx.QueryDetails{
			QueryText:  f.query,
			SearchType: contractx.SearchType(f.searchType),
		},
	}
	for _, sf := range strings.Split(f.safetyFlags, ",") {
		if sf = strings.TrimSpace(sf); sf != "" {
			req.SafetyFlags = append(req.SafetyFlags, sf)
		}
	}

	filters := contractx.CommonFilters{Color: f.color, Gender: f.gender}
	if f.priceMin > 0 {
		filters.PriceMin = &f.priceMin
	}
	if f.priceMax > 0 {
		filters.PriceMax = &f.priceMax
	}
	if filters != (contractx.CommonFilters{}) {
		req.CommonFilters = &filters
	}
	return req
}

func main() {
	reqFlags := registerFlags()

	logx.Init(*configx.MustNew[logx.Config]("LOG"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")
	agentCfg := configx.MustNew[runtimex.Config]("AGENT")
	dbCfg := configx.MustNew[repositoryx.Config]("DATABASE")
	braveCfg := configx.MustNew[bravex.Config]("BRAVE")
	meteoCfg := configx.MustNew[openmeteox.Config]("OPEN_METEO")

	db := repositoryx.MustOpen(*dbCfg)
	defer db.Close()

	products, err := repositoryx.NewProductRepository(db)
	if err != nil {
		log.Fatal().Err(err).Msg("product repository")
	}
	toolCalls, err := repositoryx.NewToolCallRepository(db)
	if err != nil {
		log.Fatal().Err(err).Msg("tool call repository")
	}
	if dbCfg.CreateSchema {
		if err := toolCalls.CreateSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("create schema")
		}
	}

	braveClient := bravex.MustNew(*braveCfg)
	retriever, err := retrievalx.New(products, braveClient)
	if err != nil {
		log.Fatal().Err(err).Msg("retriever")
	}

	catalog := toolx.NewCatalog()
	if err := toolx.RegisterProductTools(catalog, retriever, products); err != nil {
		log.Fatal().Err(err).Msg("register product tools")
	}
	if err := toolx.RegisterWeatherTools(catalog, openmeteox.MustNew(*meteoCfg)); err != nil {
		log.Fatal().Err(err).Msg("register weather tools")
	}
	if err := toolx.RegisterWebSearchTools(catalog, braveClient); err != nil {
		log.Fatal().Err(err).Msg("register web search tools")
	}

	planners, err := plannerx.NewRegistry(ctx, plannerx.OpenRouterModels(*llmCfg), catalog)
	if err != nil {
		log.Fatal().Err(err).Msg("planner registry")
	}

	prompts := promptx.LoadPromptSet()
	runner := runtimex.NewRunner(planners, catalog, prompts, runtimex.WithConfig(*agentCfg))

	responseCfg := llmCfg.OpenRouterFor(llmx.RoleResponse)
	openRouterClient := openrouterx.NewClient(responseCfg)
	if openRouterClient == nil {
		log.Fatal().Msg("failed to initialize openrouter client")
	}
	responder, err := responsex.NewGenerator(&openRouterClient.Chat.Completions, responseCfg, prompts.Response)
	if err != nil {
		log.Fatal().Err(err).Msg("response generator")
	}

	deps := assistant.Deps{
		Runner:    runner,
		Responder: responder,
		Traces:    toolCalls,
	}
	// Conversation history and run publishing are enabled by their env.
	if os.Getenv("UPSTASH_REDIS_URL") != "" {
		redisCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		store, err := statex.NewUpstashRedisStore(*redisCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("conversation store")
		}
		deps.Conversations = store
	}
	if os.Getenv("QSTASH_URL") != "" {
		qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")
		deps.Publisher = qstashx.MustNew(*qstashCfg)
	}

	agent, err := assistant.New(deps)
	if err != nil {
		log.Fatal().Err(err).Msg("assistant")
	}

	result, err := agent.Handle(ctx, reqFlags.conversationID, reqFlags.parsedRequest())
	if err != nil {
		log.Fatal().Err(err).Msg("handle request")
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("encode result")
	}
	fmt.Println(string(out))
}
