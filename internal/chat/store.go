// Package chat holds chat sessions and runs the send-message turn against
// the backend.
package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ThatCatDev/runmymodel/internal/backend"
	"github.com/ThatCatDev/runmymodel/internal/storage"
	"github.com/ThatCatDev/runmymodel/pkg/api"
)

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")

	// ErrSave wraps a failed snapshot write. The in-memory change it
	// accompanies has already been applied.
	ErrSave = errors.New("save chats")
)

const (
	// DefaultTemperature and DefaultMaxTokens are sent with every turn
	// unless overridden.
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000

	titleLimit = 50
)

// Chat is one conversation. Messages are in append order.
type Chat struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Messages  []api.ChatMessage `json:"messages"`
	Model     string            `json:"model"`
	CreatedAt int64             `json:"createdAt"` // unix milliseconds
	UpdatedAt int64             `json:"updatedAt"`
}

func (c Chat) clone() Chat {
	c.Messages = slices.Clone(c.Messages)
	return c
}

// NewChat is the caller-supplied part of a chat.
type NewChat struct {
	Title    string
	Messages []api.ChatMessage
	Model    string
}

// ChatUpdate changes the non-nil fields of a chat.
type ChatUpdate struct {
	Title    *string
	Model    *string
	Messages []api.ChatMessage
}

// MessageUpdate changes the non-nil fields of a message.
type MessageUpdate struct {
	Role    *api.Role
	Content *string
}

// MessageRef identifies a message independently of its position.
type MessageRef struct {
	ChatID    string
	MessageID string
}

// Backend is the part of backend.Client the store uses.
type Backend interface {
	Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error)
}

type snapshot struct {
	Chats         []Chat `json:"chats"`
	CurrentChatID string `json:"currentChatId"`
}

// Store holds every chat session and the current-session pointer.
//
// SendMessage does not serialize turns: a second call while one is in
// flight runs concurrently. Callers gate sends on IsLoading.
type Store struct {
	backend     Backend
	kv          storage.Store
	logger      zerolog.Logger
	now         func() time.Time
	temperature float64
	maxTokens   int

	mu        sync.Mutex
	chats     []Chat
	current   string
	loading   bool
	lastErr   string
	saveErr   error
	lastUsage *api.Usage
	lastStamp int64
	onChange  func()
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l.With().Str("component", "chat").Logger() }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithTemperature(t float64) Option {
	return func(s *Store) { s.temperature = t }
}

func WithMaxTokens(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// New creates a Store and restores persisted sessions from kv. kv may be
// nil. A corrupt snapshot is logged and ignored.
func New(b Backend, kv storage.Store, opts ...Option) *Store {
	s := &Store{
		backend:     b,
		kv:          kv,
		logger:      zerolog.Nop(),
		now:         time.Now,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s
}

func (s *Store) load() {
	if s.kv == nil {
		return
	}
	var snap snapshot
	if err := storage.LoadJSON(s.kv, storage.KeyChats, &snap); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("ignoring corrupt chat store")
		}
		return
	}

	s.chats = snap.Chats
	for _, c := range s.chats {
		s.lastStamp = max(s.lastStamp, c.CreatedAt, c.UpdatedAt)
		for _, m := range c.Messages {
			s.lastStamp = max(s.lastStamp, m.Timestamp)
		}
	}
	if s.indexLocked(snap.CurrentChatID) >= 0 {
		s.current = snap.CurrentChatID
	}
}

// persistLocked writes the snapshot and records the outcome in saveErr.
// Callers hold s.mu.
func (s *Store) persistLocked() error {
	if s.kv == nil {
		return nil
	}
	chats := s.chats
	if chats == nil {
		chats = []Chat{}
	}
	s.saveErr = storage.SaveJSON(s.kv, storage.KeyChats, snapshot{Chats: chats, CurrentChatID: s.current})
	if s.saveErr != nil {
		s.lastErr = "Failed to save chats: " + s.saveErr.Error()
		s.logger.Warn().Err(s.saveErr).Msg("failed to persist chat store")
		return fmt.Errorf("%w: %w", ErrSave, s.saveErr)
	}
	return nil
}

// OnChange registers fn to be called after every state change. fn runs
// without the store lock held.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// update runs fn under the lock. When fn succeeds the state is persisted
// and listeners are notified. fn's error is returned as is; otherwise the
// save error, if any. A failed save keeps the in-memory change.
func (s *Store) update(fn func() error) error {
	s.mu.Lock()
	err := fn()
	changed := err == nil
	if changed {
		err = s.persistLocked()
	}
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil && changed {
		notify()
	}
	return err
}

// stampLocked returns a unix-millisecond timestamp strictly greater than
// every one issued before.
func (s *Store) stampLocked() int64 {
	ms := s.now().UnixMilli()
	if ms <= s.lastStamp {
		ms = s.lastStamp + 1
	}
	s.lastStamp = ms
	return ms
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.chats, func(c Chat) bool { return c.ID == id })
}

func (s *Store) newMessageLocked(msg api.ChatMessage) api.ChatMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Timestamp = s.stampLocked()
	return msg
}

// AddChat creates a chat, makes it current and returns its ID.
func (s *Store) AddChat(nc NewChat) string {
	var id string
	s.update(func() error {
		id = s.addChatLocked(nc)
		return nil
	})
	s.logger.Debug().Str("chat", id).Msg("chat created")
	return id
}

func (s *Store) addChatLocked(nc NewChat) string {
	c := Chat{
		ID:       uuid.NewString(),
		Title:    nc.Title,
		Model:    nc.Model,
		Messages: make([]api.ChatMessage, 0, len(nc.Messages)),
	}
	c.CreatedAt = s.stampLocked()
	for _, m := range nc.Messages {
		c.Messages = append(c.Messages, s.newMessageLocked(m))
	}
	c.UpdatedAt = c.CreatedAt
	if n := len(c.Messages); n > 0 {
		c.UpdatedAt = c.Messages[n-1].Timestamp
	}
	s.chats = append(s.chats, c)
	s.current = c.ID
	return c.ID
}

// UpdateChat applies upd to chat id and bumps its UpdatedAt.
func (s *Store) UpdateChat(id string, upd ChatUpdate) error {
	return s.update(func() error {
		i := s.indexLocked(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrChatNotFound, id)
		}
		c := &s.chats[i]
		if upd.Title != nil {
			c.Title = *upd.Title
		}
		if upd.Model != nil {
			c.Model = *upd.Model
		}
		if upd.Messages != nil {
			c.Messages = slices.Clone(upd.Messages)
		}
		c.UpdatedAt = s.stampLocked()
		return nil
	})
}

// DeleteChat removes chat id, clearing the current pointer if it pointed
// there.
func (s *Store) DeleteChat(id string) error {
	return s.update(func() error {
		i := s.indexLocked(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrChatNotFound, id)
		}
		s.chats = slices.Delete(s.chats, i, i+1)
		if s.current == id {
			s.current = ""
		}
		return nil
	})
}

// SetCurrentChat selects chat id. An empty id clears the selection.
func (s *Store) SetCurrentChat(id string) error {
	return s.update(func() error {
		if id != "" && s.indexLocked(id) < 0 {
			return fmt.Errorf("%w: %s", ErrChatNotFound, id)
		}
		s.current = id
		return nil
	})
}

// AddMessage stamps msg with an ID (if missing) and a timestamp, appends
// it to chat chatID and returns a reference to it.
func (s *Store) AddMessage(chatID string, msg api.ChatMessage) (MessageRef, error) {
	var ref MessageRef
	err := s.update(func() error {
		var err error
		ref, err = s.addMessageLocked(chatID, msg)
		return err
	})
	return ref, err
}

func (s *Store) addMessageLocked(chatID string, msg api.ChatMessage) (MessageRef, error) {
	i := s.indexLocked(chatID)
	if i < 0 {
		return MessageRef{}, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	msg = s.newMessageLocked(msg)
	c := &s.chats[i]
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.Timestamp
	return MessageRef{ChatID: chatID, MessageID: msg.ID}, nil
}

// UpdateMessage merges upd into the message at index in chat chatID.
func (s *Store) UpdateMessage(chatID string, index int, upd MessageUpdate) error {
	return s.update(func() error {
		i := s.indexLocked(chatID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
		}
		c := &s.chats[i]
		if index < 0 || index >= len(c.Messages) {
			return fmt.Errorf("%w: index %d", ErrMessageNotFound, index)
		}
		applyMessageUpdate(&c.Messages[index], upd)
		c.UpdatedAt = s.stampLocked()
		return nil
	})
}

// ResolveMessage merges upd into the message ref points to.
func (s *Store) ResolveMessage(ref MessageRef, upd MessageUpdate) error {
	return s.update(func() error {
		return s.resolveLocked(ref, upd)
	})
}

func (s *Store) resolveLocked(ref MessageRef, upd MessageUpdate) error {
	i := s.indexLocked(ref.ChatID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrChatNotFound, ref.ChatID)
	}
	c := &s.chats[i]
	j := slices.IndexFunc(c.Messages, func(m api.ChatMessage) bool { return m.ID == ref.MessageID })
	if j < 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, ref.MessageID)
	}
	applyMessageUpdate(&c.Messages[j], upd)
	c.UpdatedAt = s.stampLocked()
	return nil
}

func applyMessageUpdate(m *api.ChatMessage, upd MessageUpdate) {
	if upd.Role != nil {
		m.Role = *upd.Role
	}
	if upd.Content != nil {
		m.Content = *upd.Content
	}
}

// SendMessage runs one turn in the current chat, creating a chat titled
// after content when there is none. The user message and an empty
// assistant placeholder are appended immediately; the placeholder is then
// filled with the reply, or with "Error: <message>" when the backend call
// fails, in which case the error is also returned.
//
// An empty model falls back to the chat's model.
func (s *Store) SendMessage(ctx context.Context, content, model string) error {
	var (
		chatID      string
		history     []api.ChatMessage
		placeholder MessageRef
	)

	err := s.update(func() error {
		if s.indexLocked(s.current) < 0 {
			s.addChatLocked(NewChat{Title: Title(content), Model: model})
		}
		chatID = s.current
		c := &s.chats[s.indexLocked(chatID)]
		if model == "" {
			model = c.Model
		}
		if c.Model == "" {
			c.Model = model
		}

		if _, err := s.addMessageLocked(chatID, api.ChatMessage{Role: api.RoleUser, Content: content}); err != nil {
			return err
		}
		history = slices.Clone(s.chats[s.indexLocked(chatID)].Messages)

		var err error
		placeholder, err = s.addMessageLocked(chatID, api.ChatMessage{Role: api.RoleAssistant})
		if err != nil {
			return err
		}
		s.loading = true
		s.lastErr = ""
		return nil
	})
	if err != nil && !errors.Is(err, ErrSave) {
		return err
	}

	temperature, maxTokens := s.temperature, s.maxTokens
	req := &api.ChatRequest{
		Model:       model,
		Messages:    history,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}
	resp, chatErr := s.backend.Chat(ctx, req)

	var reply string
	if chatErr != nil {
		reply = "Error: " + backend.Message(chatErr)
		s.logger.Error().Err(chatErr).Str("chat", chatID).Str("model", model).Msg("send message failed")
	} else {
		reply = resp.Content
	}

	s.mu.Lock()
	if err := s.resolveLocked(placeholder, MessageUpdate{Content: &reply}); err != nil {
		s.logger.Warn().Err(err).Str("chat", chatID).Msg("placeholder vanished before reply")
	}
	s.loading = false
	saveErr := s.persistLocked()
	if chatErr != nil {
		s.lastErr = backend.Message(chatErr)
	} else {
		s.lastUsage = resp.Usage
	}
	notify := s.onChange
	s.mu.Unlock()
	if notify != nil {
		notify()
	}

	if chatErr != nil {
		return chatErr
	}
	return saveErr
}

// ApplySystemPrompt makes content the chat's system prompt. A leading
// system message is replaced; otherwise one is inserted first.
func (s *Store) ApplySystemPrompt(chatID, content string) error {
	return s.update(func() error {
		i := s.indexLocked(chatID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
		}
		c := &s.chats[i]
		if len(c.Messages) > 0 && c.Messages[0].Role == api.RoleSystem {
			c.Messages[0].Content = content
			c.UpdatedAt = s.stampLocked()
			return nil
		}
		msg := s.newMessageLocked(api.ChatMessage{Role: api.RoleSystem, Content: content})
		c.Messages = slices.Insert(c.Messages, 0, msg)
		c.UpdatedAt = msg.Timestamp
		return nil
	})
}

// Title derives a chat title from the first message: at most 50
// characters, with "..." appended when truncated.
func Title(content string) string {
	if utf8.RuneCountInString(content) <= titleLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleLimit]) + "..."
}

// SetError records msg as the store error. An empty msg clears it.
func (s *Store) SetError(msg string) {
	s.update(func() error {
		s.lastErr = msg
		return nil
	})
}

// Chats returns copies of every chat in creation order.
func (s *Store) Chats() []Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chat, len(s.chats))
	for i, c := range s.chats {
		out[i] = c.clone()
	}
	return out
}

func (s *Store) Chat(id string) (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Chat{}, false
	}
	return s.chats[i].clone(), true
}

// CurrentChat returns the current chat, if any.
func (s *Store) CurrentChat() (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(s.current)
	if i < 0 {
		return Chat{}, false
	}
	return s.chats[i].clone(), true
}

func (s *Store) CurrentChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the message of the last failed turn or save, or "".
func (s *Store) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LastUsage returns the token usage of the last successful turn.
func (s *Store) LastUsage() *api.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsage
}

// SaveErr returns the error of the last snapshot write, or nil when it
// succeeded.
func (s *Store) SaveErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveErr
}
