package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThatCatDev/runmymodel/internal/backend"
	"github.com/ThatCatDev/runmymodel/internal/storage"
	"github.com/ThatCatDev/runmymodel/pkg/api"
)

type fakeBackend struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []*api.ChatRequest
	block    chan struct{}
}

func (f *fakeBackend) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	return &api.ChatResponse{Content: f.reply, Usage: &api.Usage{TotalTokens: 7}}, nil
}

func (f *fakeBackend) last() *api.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// frozenClock always returns the same instant so tests exercise the
// monotonic stamping.
func frozenClock() time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestSendMessageCreatesChat(t *testing.T) {
	b := &fakeBackend{reply: "Hello!"}
	s := New(b, nil)

	require.NoError(t, s.SendMessage(context.Background(), "hi", "m1"))

	c, ok := s.CurrentChat()
	require.True(t, ok)
	assert.Equal(t, "hi", c.Title)
	assert.Equal(t, "m1", c.Model)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, api.RoleUser, c.Messages[0].Role)
	assert.Equal(t, "hi", c.Messages[0].Content)
	assert.Equal(t, api.RoleAssistant, c.Messages[1].Role)
	assert.Equal(t, "Hello!", c.Messages[1].Content)
	assert.NotEmpty(t, c.Messages[0].ID)
	assert.False(t, s.IsLoading())
	assert.Empty(t, s.Err())
	assert.Equal(t, 7, s.LastUsage().TotalTokens)
}

func TestSendMessageRequest(t *testing.T) {
	b := &fakeBackend{reply: "first"}
	s := New(b, nil)
	require.NoError(t, s.SendMessage(context.Background(), "one", "m1"))

	b.reply = "second"
	require.NoError(t, s.SendMessage(context.Background(), "two", "m1"))

	req := b.last()
	assert.Equal(t, "m1", req.Model)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.7, *req.Temperature)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 1000, *req.MaxTokens)

	// Prior turn plus the new user message, sent once, without the placeholder.
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "one", req.Messages[0].Content)
	assert.Equal(t, "first", req.Messages[1].Content)
	assert.Equal(t, "two", req.Messages[2].Content)
	assert.Equal(t, api.RoleUser, req.Messages[2].Role)

	c, _ := s.CurrentChat()
	assert.Len(t, c.Messages, 4)
}

func TestSendMessageGrowsByTwo(t *testing.T) {
	b := &fakeBackend{reply: "ok"}
	s := New(b, nil)
	id := s.AddChat(NewChat{Title: "t", Model: "m"})

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.SendMessage(context.Background(), "msg", "m"))
		c, _ := s.Chat(id)
		assert.Len(t, c.Messages, 2*i)
		assert.Equal(t, "ok", c.Messages[len(c.Messages)-1].Content)
	}
}

func TestSendMessageFailure(t *testing.T) {
	b := &fakeBackend{err: &backend.Error{Op: "chat", Status: 500, Message: "model not loaded"}}
	s := New(b, nil)

	err := s.SendMessage(context.Background(), "hi", "m1")
	require.Error(t, err)

	c, ok := s.CurrentChat()
	require.True(t, ok)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "Error: model not loaded", c.Messages[1].Content)
	assert.False(t, s.IsLoading())
	assert.Equal(t, "model not loaded", s.Err())

	// The next successful turn clears the error.
	b.err = nil
	b.reply = "fine"
	require.NoError(t, s.SendMessage(context.Background(), "again", "m1"))
	assert.Empty(t, s.Err())
}

func TestSendMessageTransportFailure(t *testing.T) {
	s := New(&fakeBackend{err: errors.New("connection refused")}, nil)
	require.Error(t, s.SendMessage(context.Background(), "hi", "m1"))

	c, _ := s.CurrentChat()
	assert.True(t, strings.HasPrefix(c.Messages[1].Content, "Error: "))
	assert.Equal(t, "Error: connection refused", c.Messages[1].Content)
}

func TestAddChatThenSendReusesSession(t *testing.T) {
	s := New(&fakeBackend{reply: "ok"}, nil)
	id := s.AddChat(NewChat{Title: "New Chat", Model: "m1"})

	require.NoError(t, s.SendMessage(context.Background(), "hi", "m1"))

	chats := s.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, id, chats[0].ID)
	assert.Equal(t, "New Chat", chats[0].Title)
	assert.Len(t, chats[0].Messages, 2)
}

func TestSendMessageEmptyModelUsesChatModel(t *testing.T) {
	b := &fakeBackend{reply: "ok"}
	s := New(b, nil)
	s.AddChat(NewChat{Title: "t", Model: "chat-model"})

	require.NoError(t, s.SendMessage(context.Background(), "hi", ""))
	assert.Equal(t, "chat-model", b.last().Model)
}

func TestSendMessageLoadingDuringTurn(t *testing.T) {
	b := &fakeBackend{reply: "done", block: make(chan struct{})}
	s := New(b, nil)

	done := make(chan error, 1)
	go func() { done <- s.SendMessage(context.Background(), "hi", "m1") }()

	require.Eventually(t, s.IsLoading, time.Second, 5*time.Millisecond)

	c, _ := s.CurrentChat()
	require.Len(t, c.Messages, 2)
	assert.Empty(t, c.Messages[1].Content, "placeholder is empty while the call is in flight")

	close(b.block)
	require.NoError(t, <-done)
	assert.False(t, s.IsLoading())

	c, _ = s.CurrentChat()
	assert.Equal(t, "done", c.Messages[1].Content)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "short", Title("short"))

	exact := strings.Repeat("a", 50)
	assert.Equal(t, exact, Title(exact))

	long := strings.Repeat("b", 51)
	got := Title(long)
	assert.Equal(t, strings.Repeat("b", 50)+"...", got)
	assert.LessOrEqual(t, len([]rune(got)), 53)

	// Truncation counts characters, not bytes.
	ja := strings.Repeat("日", 60)
	assert.Equal(t, strings.Repeat("日", 50)+"...", Title(ja))
}

func TestImplicitChatTitleTruncated(t *testing.T) {
	s := New(&fakeBackend{reply: "ok"}, nil)
	content := strings.Repeat("x", 80)
	require.NoError(t, s.SendMessage(context.Background(), content, "m"))

	c, _ := s.CurrentChat()
	assert.Equal(t, strings.Repeat("x", 50)+"...", c.Title)
}

func TestTimestampsStrictlyMonotonic(t *testing.T) {
	s := New(&fakeBackend{reply: "ok"}, nil, WithClock(frozenClock))
	id := s.AddChat(NewChat{Title: "t", Model: "m"})
	for range 5 {
		_, err := s.AddMessage(id, api.ChatMessage{Role: api.RoleUser, Content: "x"})
		require.NoError(t, err)
	}
	require.NoError(t, s.SendMessage(context.Background(), "y", "m"))

	c, _ := s.Chat(id)
	require.Len(t, c.Messages, 7)
	for i := 1; i < len(c.Messages); i++ {
		assert.Greater(t, c.Messages[i].Timestamp, c.Messages[i-1].Timestamp)
	}
	assert.Greater(t, c.Messages[0].Timestamp, c.CreatedAt)
	assert.GreaterOrEqual(t, c.UpdatedAt, c.Messages[6].Timestamp)
}

func TestAddMessageUpdatesChat(t *testing.T) {
	s := New(nil, nil)
	id := s.AddChat(NewChat{Title: "t"})
	before, _ := s.Chat(id)

	ref, err := s.AddMessage(id, api.ChatMessage{Role: api.RoleUser, Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, id, ref.ChatID)
	assert.NotEmpty(t, ref.MessageID)

	after, _ := s.Chat(id)
	assert.Greater(t, after.UpdatedAt, before.UpdatedAt)
	assert.Equal(t, ref.MessageID, after.Messages[0].ID)

	_, err = s.AddMessage("missing", api.ChatMessage{})
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestUpdateMessageAndResolve(t *testing.T) {
	s := New(nil, nil)
	id := s.AddChat(NewChat{Title: "t"})
	ref, err := s.AddMessage(id, api.ChatMessage{Role: api.RoleAssistant})
	require.NoError(t, err)

	content := "by index"
	require.NoError(t, s.UpdateMessage(id, 0, MessageUpdate{Content: &content}))
	c, _ := s.Chat(id)
	assert.Equal(t, "by index", c.Messages[0].Content)
	assert.Equal(t, api.RoleAssistant, c.Messages[0].Role, "unset fields are kept")

	content = "by ref"
	require.NoError(t, s.ResolveMessage(ref, MessageUpdate{Content: &content}))
	c, _ = s.Chat(id)
	assert.Equal(t, "by ref", c.Messages[0].Content)

	assert.ErrorIs(t, s.UpdateMessage(id, 5, MessageUpdate{}), ErrMessageNotFound)
	assert.ErrorIs(t, s.ResolveMessage(MessageRef{ChatID: id, MessageID: "nope"}, MessageUpdate{}), ErrMessageNotFound)
}

func TestUpdateChat(t *testing.T) {
	s := New(nil, nil)
	id := s.AddChat(NewChat{Title: "old", Model: "m1"})

	title := "new"
	require.NoError(t, s.UpdateChat(id, ChatUpdate{Title: &title}))
	c, _ := s.Chat(id)
	assert.Equal(t, "new", c.Title)
	assert.Equal(t, "m1", c.Model)

	assert.ErrorIs(t, s.UpdateChat("missing", ChatUpdate{}), ErrChatNotFound)
}

func TestDeleteChatClearsCurrent(t *testing.T) {
	s := New(nil, nil)
	first := s.AddChat(NewChat{Title: "a"})
	second := s.AddChat(NewChat{Title: "b"})
	assert.Equal(t, second, s.CurrentChatID(), "AddChat selects the new chat")

	require.NoError(t, s.DeleteChat(first))
	assert.Equal(t, second, s.CurrentChatID(), "deleting another chat keeps the pointer")

	require.NoError(t, s.DeleteChat(second))
	assert.Empty(t, s.CurrentChatID())
	_, ok := s.CurrentChat()
	assert.False(t, ok)

	assert.ErrorIs(t, s.DeleteChat(second), ErrChatNotFound)
}

func TestSetCurrentChat(t *testing.T) {
	s := New(nil, nil)
	a := s.AddChat(NewChat{Title: "a"})
	s.AddChat(NewChat{Title: "b"})

	require.NoError(t, s.SetCurrentChat(a))
	assert.Equal(t, a, s.CurrentChatID())
	require.NoError(t, s.SetCurrentChat(""))
	assert.Empty(t, s.CurrentChatID())
	assert.ErrorIs(t, s.SetCurrentChat("missing"), ErrChatNotFound)
}

func TestApplySystemPrompt(t *testing.T) {
	b := &fakeBackend{reply: "ok"}
	s := New(b, nil)
	id := s.AddChat(NewChat{Title: "t", Model: "m"})
	require.NoError(t, s.SendMessage(context.Background(), "hi", "m"))

	require.NoError(t, s.ApplySystemPrompt(id, "You are a coder."))
	c, _ := s.Chat(id)
	require.Len(t, c.Messages, 3)
	assert.Equal(t, api.RoleSystem, c.Messages[0].Role)
	assert.Equal(t, "You are a coder.", c.Messages[0].Content)

	// Applying again replaces instead of stacking.
	require.NoError(t, s.ApplySystemPrompt(id, "You are an analyst."))
	c, _ = s.Chat(id)
	require.Len(t, c.Messages, 3)
	assert.Equal(t, "You are an analyst.", c.Messages[0].Content)

	require.NoError(t, s.SendMessage(context.Background(), "next", "m"))
	assert.Equal(t, api.RoleSystem, b.last().Messages[0].Role)

	assert.ErrorIs(t, s.ApplySystemPrompt("missing", "x"), ErrChatNotFound)
}

func TestPersistRoundTrip(t *testing.T) {
	kv := storage.NewMemoryStore()
	b := &fakeBackend{reply: "pong"}
	s := New(b, kv)

	first := s.AddChat(NewChat{Title: "first", Model: "m1"})
	require.NoError(t, s.SendMessage(context.Background(), "ping", "m1"))
	s.AddChat(NewChat{Title: "second", Model: "m2"})
	require.NoError(t, s.SendMessage(context.Background(), "hello", "m2"))
	require.NoError(t, s.SetCurrentChat(first))

	reloaded := New(b, kv)
	assert.Equal(t, s.Chats(), reloaded.Chats())
	assert.Equal(t, first, reloaded.CurrentChatID())

	// Timestamps continue to increase after a reload.
	require.NoError(t, reloaded.SendMessage(context.Background(), "more", "m1"))
	c, _ := reloaded.Chat(first)
	n := len(c.Messages)
	assert.Greater(t, c.Messages[n-2].Timestamp, c.Messages[n-3].Timestamp)
}

type failingKV struct {
	storage.Store
	err error
}

func (f failingKV) Set(key string, value []byte) error { return f.err }

func TestSaveFailureIsReported(t *testing.T) {
	kv := failingKV{Store: storage.NewMemoryStore(), err: errors.New("disk quota exceeded")}
	s := New(&fakeBackend{reply: "pong"}, kv)

	id := s.AddChat(NewChat{Title: "t", Model: "m"})
	require.ErrorIs(t, s.SaveErr(), kv.err)
	assert.Equal(t, "Failed to save chats: disk quota exceeded", s.Err())

	title := "renamed"
	err := s.UpdateChat(id, ChatUpdate{Title: &title})
	require.ErrorIs(t, err, ErrSave)
	require.ErrorIs(t, err, kv.err)
	c, ok := s.Chat(id)
	require.True(t, ok)
	assert.Equal(t, "renamed", c.Title, "the change stays in memory")

	// The turn still runs; the reply lands in memory and the save error
	// is returned.
	err = s.SendMessage(context.Background(), "ping", "")
	require.ErrorIs(t, err, ErrSave)
	assert.False(t, s.IsLoading())
	c, _ = s.Chat(id)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "pong", c.Messages[1].Content)

	missing := s.UpdateChat("ghost", ChatUpdate{Title: &title})
	require.ErrorIs(t, missing, ErrChatNotFound)
	assert.NotErrorIs(t, missing, ErrSave)
}

func TestSaveRecovers(t *testing.T) {
	kv := storage.NewMemoryStore()
	s := New(nil, kv)
	s.AddChat(NewChat{Title: "t"})
	assert.NoError(t, s.SaveErr())
	assert.Empty(t, s.Err())
}

func TestCorruptSnapshotLoadsEmpty(t *testing.T) {
	kv := storage.NewMemoryStore()
	require.NoError(t, kv.Set(storage.KeyChats, []byte(`{"chats": [`)))

	s := New(nil, kv)
	assert.Empty(t, s.Chats())
	assert.Empty(t, s.CurrentChatID())
}

func TestDanglingCurrentChatIgnored(t *testing.T) {
	kv := storage.NewMemoryStore()
	require.NoError(t, kv.Set(storage.KeyChats, []byte(`{"chats":[],"currentChatId":"ghost"}`)))

	s := New(nil, kv)
	assert.Empty(t, s.CurrentChatID())
}

func TestOnChange(t *testing.T) {
	s := New(&fakeBackend{reply: "ok"}, nil)
	var calls int
	s.OnChange(func() { calls++ })

	require.NoError(t, s.SendMessage(context.Background(), "hi", "m"))
	assert.Equal(t, 2, calls, "one change when the turn starts, one when it resolves")
}

func TestWithOptions(t *testing.T) {
	b := &fakeBackend{reply: "ok"}
	s := New(b, nil, WithTemperature(0.2), WithMaxTokens(64))
	require.NoError(t, s.SendMessage(context.Background(), "hi", "m"))

	assert.Equal(t, 0.2, *b.last().Temperature)
	assert.Equal(t, 64, *b.last().MaxTokens)
}
