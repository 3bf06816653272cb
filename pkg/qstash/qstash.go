package qstash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

const maxErrorBodyBytes = 4 << 10

var _ contractx.RunPublisher = (*Client)(nil)

type Config struct {
	URL         string        `split_words:"true" required:"true"`
	Token       string        `split_words:"true" required:"true"`
	Destination string        `split_words:"true" required:"true"`
	Timeout     time.Duration `split_words:"true" default:"10s"`
}

type Client struct {
	baseURL     string
	token       string
	destination string
	httpClient  *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("qstash url is required")
	}

	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	destination := strings.TrimSpace(cfg.Destination)
	if destination == "" {
		return nil, errors.New("qstash destination is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       strings.TrimSpace(cfg.Token),
		destination: destination,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}

	return client, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// runMessage is the body delivered to the destination for every finished run.
type runMessage struct {
	RunID          string `json:"run_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Route          string `json:"route"`
	Goal           string `json:"goal"`
	GoalReached    bool   `json:"goal_reached"`
	IterationsUsed int    `json:"iterations_used"`
	StopReason     string `json:"stop_reason,omitempty"`
	TraceCount     int    `json:"trace_count"`
	CardCount      int    `json:"card_count"`
	Response       string `json:"response"`
}

// PublishRun enqueues a summary of result for delivery to the configured
// destination.
func (c *Client) PublishRun(ctx context.Context, result contractx.AgentResult) error {
	body, err := json.Marshal(runMessage{
		RunID:          result.RunID,
		ConversationID: result.ConversationID,
		Route:          string(result.Route.Route),
		Goal:           result.Goal,
		GoalReached:    result.GoalReached,
		IterationsUsed: result.IterationsUsed,
		StopReason:     result.StopReason,
		TraceCount:     len(result.Traces),
		CardCount:      len(result.Answer.Cards),
		Response:       result.Answer.Response,
	})
	if err != nil {
		return fmt.Errorf("marshal run message: %w", err)
	}

	endpoint := c.baseURL + "/v2/publish/" + c.destination
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build qstash request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	if result.RunID != "" {
		req.Header.Set("Upstash-Deduplication-Id", result.RunID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qstash publish: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("qstash publish status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
