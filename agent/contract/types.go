package contract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
)

type Intent string

const (
	IntentFindProducts       Intent = "find_products"
	IntentGeneralInformation Intent = "general_information"
	IntentUnknown            Intent = "unknown"
)

type Route string

const (
	RouteProducts    Route = "products"
	RouteGeneralInfo Route = "general_info"
	RouteUnsupported Route = "unsupported"
)

type ToolName string

const (
	ToolFinalDecision             ToolName = "final_decision"
	ToolFindProducts              ToolName = "find_products"
	ToolGenerateResponse          ToolName = "generate_response"
	ToolGenericWebSearch          ToolName = "generic_web_search"
	ToolResolveCityLocation       ToolName = "resolve_city_location"
	ToolGetHistoricalMonthWeather ToolName = "get_historical_month_weather"
	ToolListProductCategories     ToolName = "list_product_categories"
	ToolUnknownIntentHandler      ToolName = "unknown_intent_handler"
	ToolRedundantFetchGuard       ToolName = "redundant_fetch_guard"
	ToolFallbackStopGuard         ToolName = "fallback_stop_guard"
	ToolPlannerDecision           ToolName = "planner_decision"
)

// knownTools are the names the dispatcher recognises as real tools.
var knownTools = map[ToolName]struct{}{
	ToolFinalDecision:             {},
	ToolFindProducts:              {},
	ToolGenerateResponse:          {},
	ToolGenericWebSearch:          {},
	ToolResolveCityLocation:       {},
	ToolGetHistoricalMonthWeather: {},
	ToolListProductCategories:     {},
}

func IsKnownTool(name string) bool {
	_, ok := knownTools[ToolName(name)]
	return ok
}

type CallStatus string

const (
	StatusSuccess CallStatus = "success"
	StatusError   CallStatus = "error"
	StatusBlocked CallStatus = "blocked"
	StatusSkipped CallStatus = "skipped"
)

type SearchType string

const (
	SearchTypeWeb        SearchType = "web_search"
	SearchTypeNews       SearchType = "news_search"
	SearchTypeSuggestion SearchType = "suggestion_search"
)

func (t SearchType) Valid() bool {
	switch t {
	case SearchTypeWeb, SearchTypeNews, SearchTypeSuggestion:
		return true
	default:
		return false
	}
}

// CommonFilters are the shared criteria carried across retrieval turns.
type CommonFilters struct {
	Color    string   `json:"color,omitempty"`
	PriceMin *float64 `json:"price_min,omitempty"`
	PriceMax *float64 `json:"price_max,omitempty"`
	Gender   string   `json:"gender,omitempty"`
}

func (f *CommonFilters) Clone() *CommonFilters {
	if f == nil {
		return nil
	}
	out := *f
	if f.PriceMin != nil {
		v := *f.PriceMin
		out.PriceMin = &v
	}
	if f.PriceMax != nil {
		v := *f.PriceMax
		out.PriceMax = &v
	}
	return &out
}

// Map returns the filter set in its wire shape. A nil receiver yields nil.
func (f *CommonFilters) Map() map[string]any {
	if f == nil {
		return nil
	}
	return map[string]any{
		"color":     nilIfEmpty(f.Color),
		"price_min": floatOrNil(f.PriceMin),
		"price_max": floatOrNil(f.PriceMax),
		"gender":    nilIfEmpty(f.Gender),
	}
}

// Equal reports whether both filter sets carry the same values. Two nil sets
// are equal.
func (f *CommonFilters) Equal(o *CommonFilters) bool {
	if f == nil || o == nil {
		return f == nil && o == nil
	}
	return f.Color == o.Color &&
		f.Gender == o.Gender &&
		floatPtrEqual(f.PriceMin, o.PriceMin) &&
		floatPtrEqual(f.PriceMax, o.PriceMax)
}

// ParseCommonFilters reads a filter set out of a loosely typed tool argument.
// It returns nil when v is not an object.
func ParseCommonFilters(v any) *CommonFilters {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return &CommonFilters{
		Color:    stringValue(m["color"]),
		PriceMin: floatValue(m["price_min"]),
		PriceMax: floatValue(m["price_max"]),
		Gender:   stringValue(m["gender"]),
	}
}

type ProductFilters struct {
	Category string `json:"category,omitempty"`
	Style    string `json:"style,omitempty"`
}

func (f *ProductFilters) Empty() bool {
	return f == nil || (strings.TrimSpace(f.Category) == "" && strings.TrimSpace(f.Style) == "")
}

// Map returns only the non-blank fields, or nil when none are set.
func (f *ProductFilters) Map() map[string]any {
	if f.Empty() {
		return nil
	}
	out := make(map[string]any, 2)
	if v := strings.TrimSpace(f.Category); v != "" {
		out["category"] = v
	}
	if v := strings.TrimSpace(f.Style); v != "" {
		out["style"] = v
	}
	return out
}

func ParseProductFilters(v any) *ProductFilters {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	f := &ProductFilters{
		Category: strings.TrimSpace(stringValue(m["category"])),
		Style:    strings.TrimSpace(stringValue(m["style"])),
	}
	if f.Empty() {
		return nil
	}
	return f
}

// ProductQuery is the normalised input of the primary retrieval tool.
type ProductQuery struct {
	QueryText        string          `json:"query_text"`
	CommonFilters    *CommonFilters  `json:"common_filters,omitempty"`
	ProductFilters   *ProductFilters `json:"product_filters,omitempty"`
	AllowWebFallback bool            `json:"allow_web_fallback"`
	WebCount         int             `json:"web_count,omitempty"`
}

type QueryDetails struct {
	QueryText  string     `json:"query_text"`
	SearchType SearchType `json:"search_type,omitempty"`
}

// ParsedRequest is the output of intent parsing for one user utterance.
type ParsedRequest struct {
	Intent        Intent         `json:"intent"`
	Query         QueryDetails   `json:"query_details"`
	CommonFilters *CommonFilters `json:"common_properties,omitempty"`
	SafetyFlags   []string       `json:"safety_flags,omitempty"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type ConversationEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`

	// ArgsError is set when the model's arguments could not be decoded.
	ArgsError string `json:"args_error,omitempty"`
}

type PlannerRequest struct {
	SystemPrompt string              `json:"system_prompt"`
	History      []ConversationEntry `json:"history"`
	StepInput    map[string]any      `json:"step_input"`
	PreviousCall []map[string]any    `json:"previous_tool_calls"`
	TurnIndex    int                 `json:"turn_index"`
	Tools        []*schema.ToolInfo  `json:"-"`
}

// Messages returns the conversation followed by one system message that
// carries the step payload as JSON.
func (r PlannerRequest) Messages() ([]ConversationEntry, error) {
	previous := r.PreviousCall
	if previous == nil {
		previous = []map[string]any{}
	}
	payload, err := json.Marshal(map[string]any{
		"step_input":          r.StepInput,
		"previous_tool_calls": previous,
		"turn_index":          r.TurnIndex,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal step payload: %v", ErrValidation, err)
	}

	out := make([]ConversationEntry, 0, len(r.History)+1)
	out = append(out, r.History...)
	return append(out, ConversationEntry{Role: RoleSystem, Content: string(payload)}), nil
}

// PlannerOutput is what the planning oracle returns for one turn: requested
// tool invocations and the raw assistant text that may carry a decision.
type PlannerOutput struct {
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Content   string     `json:"content,omitempty"`
}

// TraceEntry is an immutable audit record of one tool call or decision event.
type TraceEntry struct {
	CallIndex    int            `json:"call_index"`
	TurnIndex    int            `json:"turn_index"`
	ToolName     string         `json:"tool_name"`
	Status       CallStatus     `json:"status"`
	Reason       string         `json:"reason,omitempty"`
	Input        map[string]any `json:"input_payload"`
	Output       map[string]any `json:"output_payload,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
	Goal         string         `json:"goal,omitempty"`
	Done         *bool          `json:"done,omitempty"`
}

type RouteDecision struct {
	Route        Route                 `json:"route"`
	Supported    bool                  `json:"supported"`
	Reason       string                `json:"reason"`
	AllowedTools map[ToolName]struct{} `json:"-"`
}

func (d RouteDecision) Allows(name string) bool {
	_, ok := d.AllowedTools[ToolName(name)]
	return ok
}

func (d RouteDecision) ToolNames() []string {
	names := make([]string, 0, len(d.AllowedTools))
	for name := range d.AllowedTools {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

type GovernorActionKind string

const (
	ActionNone     GovernorActionKind = "none"
	ActionContinue GovernorActionKind = "continue"
	ActionStop     GovernorActionKind = "stop"
)

// GovernorAction is the only channel through which a governor affects the
// runner's control flow.
type GovernorAction struct {
	Action         GovernorActionKind `json:"action"`
	StopReason     string             `json:"stop_reason,omitempty"`
	MarkStopReason string             `json:"mark_stop_reason,omitempty"`
}

const (
	StopReasonGoalReached          = "goal_reached"
	StopReasonPlannerError         = "planner_error"
	StopReasonMaxTurns             = "max_turns_reached"
	StopReasonNoProgress           = "no_progress"
	StopReasonFallbackThresholdMet = "fallback_threshold_met"
	StopReasonForceFollowUp        = "force_follow_up_fallback_turn"
)

type ProductSource string

const (
	SourceDB  ProductSource = "db"
	SourceRAG ProductSource = "rag"
	SourceWeb ProductSource = "web"
)

type ProductResult struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Category string        `json:"category,omitempty"`
	Color    string        `json:"color,omitempty"`
	Style    string        `json:"style,omitempty"`
	Gender   string        `json:"gender,omitempty"`
	Season   string        `json:"season,omitempty"`
	Year     *int          `json:"year,omitempty"`
	Price    *float64      `json:"price,omitempty"`
	URL      string        `json:"url,omitempty"`
	ImageURL string        `json:"image_url,omitempty"`
	Score    *float64      `json:"score,omitempty"`
	Source   ProductSource `json:"source"`
}

type FallbackMeta struct {
	CandidateCount  int            `json:"fallback_candidate_count"`
	ValidCount      int            `json:"fallback_valid_count"`
	DomainBreakdown map[string]int `json:"fallback_domain_breakdown"`
}

type ProductSearchResults struct {
	Internal []ProductResult `json:"internal_results"`
	External []ProductResult `json:"external_results"`
	Meta     FallbackMeta    `json:"-"`
}

func (r ProductSearchResults) Empty() bool {
	return len(r.Internal) == 0 && len(r.External) == 0
}

type Card struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	URL         string   `json:"url,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	Source      string   `json:"source"`
}

type ResponsePayload struct {
	Response string `json:"response"`
	Cards    []Card `json:"cards"`
	FollowUp string `json:"follow_up"`
}

type IterationSummary struct {
	TurnIndex     int        `json:"turn_index"`
	PlannerStatus CallStatus `json:"planner_status"`
	PlannerError  string     `json:"planner_error,omitempty"`
	Goal          string     `json:"goal"`
	GoalReached   bool       `json:"goal_reached"`
	ExecutedCalls int        `json:"executed_calls"`
	StopReason    string     `json:"stop_reason,omitempty"`
}

type AgentResult struct {
	RunID          string             `json:"run_id"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Answer         ResponsePayload    `json:"answer"`
	Route          RouteDecision      `json:"route"`
	Goal           string             `json:"goal"`
	GoalReached    bool               `json:"goal_reached"`
	IterationsUsed int                `json:"iterations_used"`
	StopReason     string             `json:"stop_reason,omitempty"`
	Traces         []TraceEntry       `json:"tool_traces"`
	Iterations     []IterationSummary `json:"iterations"`
	Debug          DebugTrace         `json:"debug_trace"`
}

// DebugTurn is the planner-decision view of one turn.
type DebugTurn struct {
	TurnIndex     int            `json:"turn_index"`
	Goal          string         `json:"goal"`
	Done          *bool          `json:"done"`
	PlannerStatus CallStatus     `json:"planner_status"`
	PlannerReason string         `json:"planner_reason"`
	PlannerError  string         `json:"planner_error,omitempty"`
	PlannerOutput map[string]any `json:"planner_output,omitempty"`
}

type DebugTrace struct {
	Intent         Intent      `json:"intent"`
	Route          Route       `json:"route"`
	Supported      bool        `json:"supported"`
	Reason         string      `json:"reason"`
	AllowedTools   []string    `json:"allowed_tools"`
	Goal           string      `json:"goal"`
	GoalReached    bool        `json:"goal_reached"`
	MaxTurns       int         `json:"max_turns"`
	IterationsUsed int         `json:"iterations_used"`
	Turns          []DebugTurn `json:"turns"`
}

// NewDebugTrace summarises the planner decisions among traces.
func NewDebugTrace(intent Intent, route RouteDecision, goal string, goalReached bool, maxTurns, iterationsUsed int, traces []TraceEntry) DebugTrace {
	turns := make([]DebugTurn, 0, iterationsUsed)
	for _, t := range traces {
		if t.ToolName != string(ToolPlannerDecision) {
			continue
		}
		turns = append(turns, DebugTurn{
			TurnIndex:     t.TurnIndex,
			Goal:          t.Goal,
			Done:          t.Done,
			PlannerStatus: t.Status,
			PlannerReason: t.Reason,
			PlannerError:  t.ErrorMessage,
			PlannerOutput: t.Output,
		})
	}
	return DebugTrace{
		Intent:         intent,
		Route:          route.Route,
		Supported:      route.Supported,
		Reason:         route.Reason,
		AllowedTools:   route.ToolNames(),
		Goal:           goal,
		GoalReached:    goalReached,
		MaxTurns:       maxTurns,
		IterationsUsed: iterationsUsed,
		Turns:          turns,
	}
}

func BoolPtr(v bool) *bool {
	return &v
}

func nilIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func floatValue(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
