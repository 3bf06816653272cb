package state

import (
	"strings"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

const (
	DefaultMaxTurns           = 10
	DefaultWebFallbackMinTurn = 5

	GeneralInfoGoal     = "Answer general information request"
	defaultProductsGoal = "Find products that match the user's request"
)

// LoopState holds the turn bounds, goal and query refinement for one run.
type LoopState struct {
	TurnIndex             int                      `json:"turn_index"`
	MaxTurns              int                      `json:"max_turns"`
	Goal                  string                   `json:"goal"`
	GoalReached           bool                     `json:"goal_reached"`
	OriginalQueryText     string                   `json:"original_query_text"`
	RefinedQueryText      string                   `json:"refined_query_text"`
	CurrentQueryText      string                   `json:"current_query_text"`
	QueryRefinementReason string                   `json:"query_refinement_reason,omitempty"`
	CurrentCommonFilters  *contractx.CommonFilters `json:"current_common_filters,omitempty"`
	TurnStopReason        string                   `json:"turn_stop_reason,omitempty"`
	CallIndex             int                      `json:"call_index"`
}

// MarkStop records the first stop reason of the run and the goal verdict.
// A reason already recorded is never replaced; the return value reports
// whether this call set it.
func (s *LoopState) MarkStop(reason string, goalReached bool) bool {
	s.GoalReached = goalReached
	if s.TurnStopReason != "" || strings.TrimSpace(reason) == "" {
		return false
	}
	s.TurnStopReason = reason
	return true
}

type RetrievalOutput struct {
	InternalCount int `json:"internal_count"`
	ExternalCount int `json:"external_count"`
}

// ToolExecution is the runner's record of one dispatched call.
type ToolExecution struct {
	Name       string               `json:"name"`
	Args       map[string]any       `json:"args"`
	Status     contractx.CallStatus `json:"status"`
	Output     map[string]any       `json:"output"`
	Error      string               `json:"error,omitempty"`
	DurationMs int64                `json:"duration_ms"`
	TurnIndex  int                  `json:"turn_index"`
	CallIndex  int                  `json:"call_index"`
	Raw        any                  `json:"-"`
}

func (e ToolExecution) Compact() map[string]any {
	return map[string]any{
		"name":       e.Name,
		"status":     string(e.Status),
		"call_index": e.CallIndex,
		"turn_index": e.TurnIndex,
	}
}

// AgentState wraps LoopState with the bookkeeping of a single run. It is
// owned by one runner and is not safe for concurrent use.
type AgentState struct {
	LoopState

	Route       contractx.Route              `json:"route"`
	Traces      []contractx.TraceEntry       `json:"tool_traces"`
	Iterations  []contractx.IterationSummary `json:"iterations"`
	ToolHistory []ToolExecution              `json:"tool_history"`

	IterationsUsed         int                            `json:"iterations_used"`
	LastRetrievalOutput    RetrievalOutput                `json:"last_retrieval_output"`
	LastProductResponse    contractx.ProductSearchResults `json:"last_product_response"`
	LastRetrievalSignature string                         `json:"last_retrieval_signature,omitempty"`
	LastWeatherContext     map[string]any                 `json:"last_weather_context,omitempty"`
	LastGenericSearch      map[string]any                 `json:"last_generic_search_payload,omitempty"`
	LastPlannerToolCalls   []map[string]any               `json:"last_planner_tool_calls"`
	LastDiscoveryTools     []string                       `json:"last_discovery_tools"`
	LastCategories         []string                       `json:"available_categories,omitempty"`

	RetrievalCalledThisTurn        bool           `json:"retrieval_called_this_turn"`
	WeatherFetchedThisTurn         bool           `json:"weather_fetched_this_turn"`
	WeatherFetchedLastTurn         bool           `json:"weather_fetched_last_turn"`
	DiscoveryHappenedThisIteration bool           `json:"discovery_happened_this_iteration"`
	LastResolvedLocation           map[string]any `json:"last_resolved_location,omitempty"`

	webFallbackMinTurn int
	onTrace            func(contractx.TraceEntry)
}

type Option func(*AgentState)

func WithMaxTurns(n int) Option {
	return func(s *AgentState) {
		if n > 0 {
			s.MaxTurns = n
		}
	}
}

func WithWebFallbackMinTurn(n int) Option {
	return func(s *AgentState) {
		if n >= 0 {
			s.webFallbackMinTurn = n
		}
	}
}

// WithTraceObserver registers fn to receive every trace entry as it is
// appended.
func WithTraceObserver(fn func(contractx.TraceEntry)) Option {
	return func(s *AgentState) {
		s.onTrace = fn
	}
}

// WithCallIndex starts the run's call-index counter at n.
func WithCallIndex(n int) Option {
	return func(s *AgentState) {
		if n >= 0 {
			s.CallIndex = n
		}
	}
}

func NewAgentState(req contractx.ParsedRequest, route contractx.Route, opts ...Option) *AgentState {
	queryText := req.Query.QueryText
	goal := defaultProductsGoal
	if route == contractx.RouteGeneralInfo {
		goal = GeneralInfoGoal
	}

	s := &AgentState{
		LoopState: LoopState{
			MaxTurns:             DefaultMaxTurns,
			Goal:                 goal,
			OriginalQueryText:    queryText,
			RefinedQueryText:     queryText,
			CurrentQueryText:     queryText,
			CurrentCommonFilters: req.CommonFilters.Clone(),
		},
		Route:                route,
		LastPlannerToolCalls: []map[string]any{},
		LastDiscoveryTools:   []string{},
		webFallbackMinTurn:   DefaultWebFallbackMinTurn,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// BeginTurn resets the per-turn flags. The weather flag of the previous turn
// is carried into WeatherFetchedLastTurn before the reset.
func (s *AgentState) BeginTurn(turnIndex int) {
	s.TurnIndex = turnIndex
	s.IterationsUsed = turnIndex + 1
	s.WeatherFetchedLastTurn = s.WeatherFetchedThisTurn
	s.WeatherFetchedThisTurn = false
	s.RetrievalCalledThisTurn = false
	s.DiscoveryHappenedThisIteration = false
	s.LastResolvedLocation = nil
}

// AllowWebFallback reports whether external results may be requested on the
// given turn: only from the configured minimum turn onward, and never right
// after a turn that fetched weather.
func (s *AgentState) AllowWebFallback(turnIndex int) bool {
	return turnIndex >= s.webFallbackMinTurn && !s.WeatherFetchedLastTurn
}

// AppendTrace stamps entry with the next call index, records it and returns
// the stored copy.
func (s *AgentState) AppendTrace(entry contractx.TraceEntry) contractx.TraceEntry {
	entry.CallIndex = s.CallIndex
	s.CallIndex++
	if entry.Input == nil {
		entry.Input = map[string]any{}
	}
	s.Traces = append(s.Traces, entry)
	if s.onTrace != nil {
		s.onTrace(entry)
	}
	return entry
}

func (s *AgentState) AddIteration(summary contractx.IterationSummary) {
	s.Iterations = append(s.Iterations, summary)
}

// ApplyDecision projects a planner decision onto the loop state. Only a
// non-blank string replaces the goal and only a boolean replaces done.
func (s *AgentState) ApplyDecision(decision map[string]any) {
	if goal, ok := decision["goal"].(string); ok {
		if goal = strings.TrimSpace(goal); goal != "" {
			s.Goal = goal
		}
	}
	if done, ok := decision["done"].(bool); ok {
		s.GoalReached = done
	}
	if reason, ok := decision["query_refinement_reason"].(string); ok {
		if reason = strings.TrimSpace(reason); reason != "" {
			s.QueryRefinementReason = reason
		}
	}
}

// ApplyToolExecution translates a dispatched call into state. Only successful
// calls change anything beyond the tool history.
func (s *AgentState) ApplyToolExecution(exec ToolExecution) {
	s.ToolHistory = append(s.ToolHistory, exec)
	if exec.Status != contractx.StatusSuccess {
		return
	}

	switch contractx.ToolName(exec.Name) {
	case contractx.ToolFindProducts:
		s.RetrievalCalledThisTurn = true
		if q := strings.TrimSpace(stringArg(exec.Args, "query_text")); q != "" {
			s.RefinedQueryText = q
			s.CurrentQueryText = q
		}
		if filters := contractx.ParseCommonFilters(exec.Args["common_filters"]); filters != nil {
			s.CurrentCommonFilters = filters
		}
		if exec.Output != nil {
			s.LastRetrievalOutput = RetrievalOutput{
				InternalCount: intValue(exec.Output["internal_count"]),
				ExternalCount: intValue(exec.Output["external_count"]),
			}
		}
		if results, ok := exec.Raw.(contractx.ProductSearchResults); ok {
			s.LastProductResponse = results
		}

	case contractx.ToolResolveCityLocation:
		if exec.Output != nil {
			s.LastResolvedLocation = exec.Output
		}

	case contractx.ToolGetHistoricalMonthWeather:
		if exec.Output == nil {
			return
		}
		s.LastWeatherContext = map[string]any{
			"requested_city":   nilIfBlank(stringArg(exec.Args, "city")),
			"resolved_city":    firstPresent(s.LastResolvedLocation["name"], exec.Output["city"]),
			"resolved_country": firstPresent(s.LastResolvedLocation["country"], exec.Output["country"]),
			"year":             exec.Args["year"],
			"month":            exec.Args["month"],
			"avg_temp_max_c":   exec.Output["avg_temp_max_c"],
			"avg_temp_min_c":   exec.Output["avg_temp_min_c"],
			"total_precip_mm":  exec.Output["total_precip_mm"],
			"avg_wind_max_kmh": exec.Output["avg_wind_max_kmh"],
		}
		s.WeatherFetchedThisTurn = true

	case contractx.ToolGenericWebSearch:
		if exec.Output != nil {
			s.LastGenericSearch = exec.Output
		}

	case contractx.ToolListProductCategories:
		values, _ := exec.Output["value"].([]any)
		categories := make([]string, 0, len(values))
		for _, v := range values {
			if c, ok := v.(string); ok && strings.TrimSpace(c) != "" {
				categories = append(categories, c)
			}
		}
		s.LastCategories = categories
	}
}

// HasResults reports whether any retrieval so far produced a product.
func (s *AgentState) HasResults() bool {
	return !s.LastProductResponse.Empty()
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intValue(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}

func nilIfBlank(s string) any {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return s
}

func firstPresent(values ...any) any {
	for _, v := range values {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			if t == "" {
				continue
			}
		}
		return v
	}
	return nil
}
