package state

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

var (
	ErrInvalidConversation = errors.New("conversation id is empty")
	ErrInvalidEntry        = errors.New("conversation entry is invalid")
)

const (
	defaultStoreKeyPrefix = "chative:conversation:"
	defaultStoreTTL       = 24 * time.Hour
	defaultHistoryLimit   = 20
	maxResponseSizeBytes  = 2 << 20
)

var _ contractx.ConversationStore = (*UpstashRedisStore)(nil)

// StoreOption customizes UpstashRedisStore.
type StoreOption func(*UpstashRedisStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) {
		s.ttl = ttl
	}
}

// WithHistoryLimit caps how many entries a conversation keeps. Older entries
// are trimmed on append.
func WithHistoryLimit(n int) StoreOption {
	return func(s *UpstashRedisStore) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashRedisStore keeps conversation history in an Upstash Redis list via
// the REST API. Each list element is one JSON-encoded entry.
type UpstashRedisStore struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	keyPrefix    string
	ttl          time.Duration
	historyLimit int
}

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashRedisConfig struct {
	URL          string        `envconfig:"URL" split_words:"true" required:"true"`
	Token        string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout      time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	HistoryLimit int           `envconfig:"HISTORY_LIMIT" split_words:"true" default:"20"`
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	store := &UpstashRedisStore{
		baseURL:      baseURL,
		token:        token,
		httpClient:   &http.Client{Timeout: timeout},
		keyPrefix:    defaultStoreKeyPrefix,
		ttl:          defaultStoreTTL,
		historyLimit: limit,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	if store.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}

	return store, nil
}

// Load returns the stored entries oldest first. A missing conversation yields
// an empty slice.
func (s *UpstashRedisStore) Load(ctx context.Context, conversationID string) ([]contractx.ConversationEntry, error) {
	key, err := s.redisKey(conversationID)
	if err != nil {
		return nil, err
	}

	resp, err := s.exec(ctx, []any{"LRANGE", key, 0, -1})
	if err != nil {
		return nil, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return []contractx.ConversationEntry{}, nil
	}

	var encoded []string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, fmt.Errorf("decode conversation payload: %w", err)
	}

	entries := make([]contractx.ConversationEntry, 0, len(encoded))
	for i, raw := range encoded {
		var entry contractx.ConversationEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal conversation entry %d: %w", i, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Append pushes entries to the end of the conversation, trims it to the
// history limit and refreshes the TTL.
func (s *UpstashRedisStore) Append(ctx context.Context, conversationID string, entries ...contractx.ConversationEntry) error {
	if len(entries) == 0 {
		return nil
	}
	key, err := s.redisKey(conversationID)
	if err != nil {
		return err
	}

	push := make([]any, 0, len(entries)+2)
	push = append(push, "RPUSH", key)
	for _, entry := range entries {
		if strings.TrimSpace(entry.Role) == "" {
			return fmt.Errorf("%w: role is empty", ErrInvalidEntry)
		}
		payload, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal conversation entry: %w", err)
		}
		push = append(push, string(payload))
	}

	if _, err := s.exec(ctx, push); err != nil {
		return err
	}
	if _, err := s.exec(ctx, []any{"LTRIM", key, -s.historyLimit, -1}); err != nil {
		return err
	}
	if s.ttl > 0 {
		if _, err := s.exec(ctx, []any{"EXPIRE", key, ttlSeconds(s.ttl)}); err != nil {
			return err
		}
	}
	return nil
}

func (s *UpstashRedisStore) Delete(ctx context.Context, conversationID string) error {
	key, err := s.redisKey(conversationID)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, []any{"DEL", key})
	return err
}

func (s *UpstashRedisStore) redisKey(conversationID string) (string, error) {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return "", ErrInvalidConversation
	}
	prefix := strings.TrimSpace(s.keyPrefix)
	if prefix == "" {
		prefix = defaultStoreKeyPrefix
	}
	return prefix + id, nil
}

func (s *UpstashRedisStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if s == nil {
		return nil, errors.New("nil store")
	}
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis %v: %w", command[0], err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
