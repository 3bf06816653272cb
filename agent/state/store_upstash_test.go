package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

type recordingServer struct {
	mu       sync.Mutex
	commands [][]any
	reply    func(cmd []any) string
}

func (r *recordingServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		if got := req.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("Authorization = %q", got)
		}
		var cmd []any
		if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
			t.Errorf("decode command: %v", err)
			return
		}
		r.mu.Lock()
		r.commands = append(r.commands, cmd)
		r.mu.Unlock()
		if r.reply != nil {
			fmt.Fprint(w, r.reply(cmd))
			return
		}
		fmt.Fprint(w, `{"result":"OK"}`)
	}
}

func (r *recordingServer) all() [][]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]any(nil), r.commands...)
}

func newTestStore(t *testing.T, srv *recordingServer, opts ...StoreOption) *UpstashRedisStore {
	t.Helper()

	server := httptest.NewServer(srv.handler(t))
	t.Cleanup(server.Close)

	opts = append([]StoreOption{WithHTTPClient(server.Client())}, opts...)
	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, opts...)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	return store
}

func TestUpstashRedisStoreRedisKey(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	got, err := store.redisKey(" abc ")
	if err != nil {
		t.Fatalf("redisKey() error = %v", err)
	}
	if got != "chative:conversation:abc" {
		t.Fatalf("redisKey() = %q, want %q", got, "chative:conversation:abc")
	}
}

func TestUpstashRedisStoreRedisKeyEmptyConversation(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	_, err := store.redisKey("   ")
	if !errors.Is(err, ErrInvalidConversation) {
		t.Fatalf("redisKey() error = %v, want ErrInvalidConversation", err)
	}
}

func TestNewUpstashRedisStoreValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewUpstashRedisStore(UpstashRedisConfig{Token: "x"}); err == nil {
		t.Fatal("expected error for missing url")
	}
	if _, err := NewUpstashRedisStore(UpstashRedisConfig{URL: "https://example.upstash.io"}); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := NewUpstashRedisStore(UpstashRedisConfig{URL: "https://example.upstash.io", Token: "x"}, WithTTL(-1)); err == nil {
		t.Fatal("expected error for negative ttl")
	}
}

func TestUpstashRedisStoreAppendTrimsAndExpires(t *testing.T) {
	t.Parallel()

	srv := &recordingServer{}
	store := newTestStore(t, srv, WithHistoryLimit(4))

	err := store.Append(context.Background(), "conv-1",
		contractx.ConversationEntry{Role: contractx.RoleUser, Content: "black shoes"},
		contractx.ConversationEntry{Role: contractx.RoleAssistant, Content: "here you go"},
	)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if len(srv.all()) != 3 {
		t.Fatalf("got %d commands, want 3: %#v", len(srv.all()), srv.all())
	}
	push := srv.all()[0]
	if push[0] != "RPUSH" || push[1] != "chative:conversation:conv-1" || len(push) != 4 {
		t.Fatalf("unexpected push command: %#v", push)
	}
	var first contractx.ConversationEntry
	if err := json.Unmarshal([]byte(push[2].(string)), &first); err != nil {
		t.Fatalf("decode pushed entry: %v", err)
	}
	if first.Content != "black shoes" {
		t.Fatalf("first entry = %+v", first)
	}

	trim := srv.all()[1]
	if trim[0] != "LTRIM" || trim[2] != float64(-4) || trim[3] != float64(-1) {
		t.Fatalf("unexpected trim command: %#v", trim)
	}
	if srv.all()[2][0] != "EXPIRE" || srv.all()[2][2] != float64(86400) {
		t.Fatalf("unexpected expire command: %#v", srv.all()[2])
	}
}

func TestUpstashRedisStoreAppendWithoutTTL(t *testing.T) {
	t.Parallel()

	srv := &recordingServer{}
	store := newTestStore(t, srv, WithTTL(0))

	if err := store.Append(context.Background(), "conv-2", contractx.ConversationEntry{Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if len(srv.all()) != 2 {
		t.Fatalf("got %d commands, want RPUSH and LTRIM only", len(srv.all()))
	}
}

func TestUpstashRedisStoreAppendRejectsEntryWithoutRole(t *testing.T) {
	t.Parallel()

	srv := &recordingServer{}
	store := newTestStore(t, srv)

	err := store.Append(context.Background(), "conv-3", contractx.ConversationEntry{Content: "orphan"})
	if !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("Append() error = %v, want ErrInvalidEntry", err)
	}
	if len(srv.all()) != 0 {
		t.Fatalf("no command should be sent, got %#v", srv.all())
	}
}

func TestUpstashRedisStoreLoad(t *testing.T) {
	t.Parallel()

	srv := &recordingServer{
		reply: func(cmd []any) string {
			items := []string{
				`{"role":"user","content":"rain jacket"}`,
				`{"role":"assistant","content":"found three"}`,
			}
			encoded, _ := json.Marshal(items)
			return fmt.Sprintf(`{"result":%s}`, encoded)
		},
	}
	store := newTestStore(t, srv)

	entries, err := store.Load(context.Background(), "conv-4")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(entries) != 2 || entries[1].Role != contractx.RoleAssistant {
		t.Fatalf("Load() = %+v", entries)
	}

	cmd := srv.all()[0]
	if cmd[0] != "LRANGE" || cmd[1] != "chative:conversation:conv-4" {
		t.Fatalf("unexpected command: %#v", cmd)
	}
}

func TestUpstashRedisStoreLoadMissingConversation(t *testing.T) {
	t.Parallel()

	srv := &recordingServer{reply: func([]any) string { return `{"result":null}` }}
	store := newTestStore(t, srv)

	entries, err := store.Load(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty history, got %+v", entries)
	}
}

func TestUpstashRedisStoreSurfacesRedisError(t *testing.T) {
	t.Parallel()

	srv := &recordingServer{reply: func([]any) string { return `{"error":"WRONGTYPE"}` }}
	store := newTestStore(t, srv)

	if _, err := store.Load(context.Background(), "conv-5"); err == nil || err.Error() != "WRONGTYPE" {
		t.Fatalf("Load() error = %v, want WRONGTYPE", err)
	}
}

func TestUpstashRedisStoreDelete(t *testing.T) {
	t.Parallel()

	srv := &recordingServer{reply: func([]any) string { return `{"result":1}` }}
	store := newTestStore(t, srv)

	if err := store.Delete(context.Background(), "conv-6"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if srv.all()[0][0] != "DEL" || srv.all()[0][1] != "chative:conversation:conv-6" {
		t.Fatalf("unexpected command: %#v", srv.all()[0])
	}
}
