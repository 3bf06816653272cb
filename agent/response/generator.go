package response

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	openrouterx "github.com/tanpawarit/Chative-Shopping-Assistant/pkg/openrouter"
)

var (
	fencedObject = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*\\})\\s*```")
	pricePattern = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)
)

// ChatCompleter is the slice of the openai-go client the generator needs.
// *openai.ChatCompletionService satisfies it.
type ChatCompleter interface {
	New(ctx context.Context, body openaisdk.ChatCompletionNewParams, opts ...option.RequestOption) (*openaisdk.ChatCompletion, error)
}

type Option func(*Generator)

func WithLogger(l zerolog.Logger) Option {
	return func(g *Generator) {
		g.log = l
	}
}

// Generator composes the user-facing answer from the conversation and the
// retrieved results.
type Generator struct {
	client       ChatCompleter
	model        string
	temperature  float64
	maxTokens    int
	systemPrompt string
	log          zerolog.Logger
}

var _ contractx.ResponseGenerator = (*Generator)(nil)

func NewGenerator(client ChatCompleter, cfg openrouterx.Config, systemPrompt string, opts ...Option) (*Generator, error) {
	if client == nil {
		return nil, errors.New("chat completion client is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%w: response model is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: response prompt", contractx.ErrPromptMissing)
	}

	g := &Generator{
		client:       client,
		model:        strings.TrimSpace(cfg.Model),
		temperature:  float64(cfg.Temperature),
		systemPrompt: systemPrompt,
		log:          log.Logger.With().Str("component", "response").Logger(),
	}
	if cfg.MaxCompletionToken != nil {
		g.maxTokens = *cfg.MaxCompletionToken
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

func (g *Generator) Generate(ctx context.Context, req contractx.ResponseRequest) (contractx.ResponsePayload, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model:       openaisdk.ChatModel(g.model),
		Messages:    g.messages(req),
		Temperature: openaisdk.Float(g.temperature),
		ResponseFormat: openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if g.maxTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(g.maxTokens))
	}

	completion, err := g.client.New(ctx, params)
	if err != nil {
		return contractx.ResponsePayload{}, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return contractx.ResponsePayload{}, fmt.Errorf("%w: completion has no choices", contractx.ErrSchemaViolation)
	}

	payload, err := ParsePayload(completion.Choices[0].Message.Content)
	if err != nil {
		return contractx.ResponsePayload{}, err
	}
	g.log.Debug().
		Str("conversation_id", req.ConversationID).
		Int("cards", len(payload.Cards)).
		Msg("response generated")
	return payload, nil
}

func (g *Generator) messages(req contractx.ResponseRequest) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	out = append(out, openaisdk.SystemMessage(g.systemPrompt))
	for _, entry := range req.History {
		content := strings.TrimSpace(entry.Content)
		if content == "" {
			continue
		}
		switch entry.Role {
		case contractx.RoleAssistant:
			out = append(out, openaisdk.AssistantMessage(content))
		case contractx.RoleSystem:
			out = append(out, openaisdk.SystemMessage(content))
		default:
			out = append(out, openaisdk.UserMessage(content))
		}
	}
	results := strings.TrimSpace(req.QueryResults)
	if results == "" {
		results = "{}"
	}
	return append(out, openaisdk.SystemMessage(results))
}

type payloadJSON struct {
	Response string           `json:"response"`
	FollowUp string           `json:"follow_up"`
	Cards    []map[string]any `json:"cards"`
}

// ParsePayload reads the model's answer. A JSON object (bare or fenced)
// supplies response, follow_up and optional cards; any other non-empty text
// becomes the response as is.
func ParsePayload(content string) (contractx.ResponsePayload, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return contractx.ResponsePayload{}, fmt.Errorf("%w: empty response content", contractx.ErrSchemaViolation)
	}

	raw := text
	if m := fencedObject.FindStringSubmatch(text); m != nil {
		raw = m[1]
	}

	var parsed payloadJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		if strings.HasPrefix(raw, "{") {
			return contractx.ResponsePayload{}, fmt.Errorf("%w: decode response: %v", contractx.ErrSchemaViolation, err)
		}
		return contractx.ResponsePayload{Response: text, Cards: []contractx.Card{}}, nil
	}
	if strings.TrimSpace(parsed.Response) == "" {
		return contractx.ResponsePayload{}, fmt.Errorf("%w: response text is empty", contractx.ErrSchemaViolation)
	}

	cards := make([]contractx.Card, 0, len(parsed.Cards))
	for _, raw := range parsed.Cards {
		if c, ok := cardFromMap(raw); ok {
			cards = append(cards, c)
		}
	}
	return contractx.ResponsePayload{
		Response: strings.TrimSpace(parsed.Response),
		Cards:    cards,
		FollowUp: strings.TrimSpace(parsed.FollowUp),
	}, nil
}

// cardFromMap accepts a model-written card. Cards without an id or name are
// dropped; a price may be a number or a formatted string.
func cardFromMap(m map[string]any) (contractx.Card, bool) {
	str := func(key string) string {
		v, _ := m[key].(string)
		return strings.TrimSpace(v)
	}
	c := contractx.Card{
		ID:          str("id"),
		Name:        str("name"),
		Description: str("description"),
		URL:         str("url"),
		ImageURL:    str("image_url"),
		Source:      str("source"),
	}
	if c.ID == "" || c.Name == "" {
		return contractx.Card{}, false
	}
	switch p := m["price"].(type) {
	case float64:
		c.Price = &p
	case string:
		if match := pricePattern.FindString(p); match != "" {
			if v, err := strconv.ParseFloat(match, 64); err == nil {
				c.Price = &v
			}
		}
	}
	return c, true
}
