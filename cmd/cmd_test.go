package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime/debug"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThatCatDev/runmymodel/internal/catalog"
	"github.com/ThatCatDev/runmymodel/internal/chat"
	"github.com/ThatCatDev/runmymodel/internal/config"
	"github.com/ThatCatDev/runmymodel/internal/prefs"
	"github.com/ThatCatDev/runmymodel/internal/storage"
	"github.com/ThatCatDev/runmymodel/pkg/api"
)

type fakeNative struct {
	mu        sync.Mutex
	models    string // JSON array served by /api/models; a default pair when empty
	chatModel string
	chatErr   string
}

func (f *fakeNative) lastModel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatModel
}

func (f *fakeNative) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/models", func(w http.ResponseWriter, r *http.Request) {
		models := f.models
		if models == "" {
			models = `[
				{"id":"Qwen/Qwen2.5-7B-Instruct","name":"Qwen 2.5 7B","size":"7B","task":"Text Generation","rating":12},
				{"id":"org/tiny","name":"Tiny","size":1048576,"task":"Text Generation","downloaded":true}
			]`
		}
		w.Write([]byte(`{"models":` + models + `}`))
	})
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.chatModel = req.Model
		chatErr := f.chatErr
		f.mu.Unlock()

		if chatErr != "" {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": chatErr})
			return
		}
		w.Write([]byte(`{"content":"Hi there"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// run executes the CLI against the fake backend with file storage under
// dataDir.
func run(t *testing.T, url, dataDir string, args ...string) error {
	t.Helper()
	t.Setenv("RUNMYMODEL_CONFIG_DIR", filepath.Join(dataDir, "config"))
	t.Setenv("RUNMYMODEL_DATA_DIR", dataDir)
	rootCmd.SetArgs(append([]string{"--backend", "native", "--backend-url", url + "/api", "--storage", "file"}, args...))
	return rootCmd.Execute()
}

func openState(t *testing.T, dataDir string) storage.Store {
	t.Helper()
	kv, err := storage.NewFileStore(filepath.Join(dataDir, "state"))
	require.NoError(t, err)
	return kv
}

func TestCommandsPersistState(t *testing.T) {
	backend := &fakeNative{}
	srv := backend.server(t)
	dir := t.TempDir()

	require.NoError(t, run(t, srv.URL, dir, "favorite", "Qwen/Qwen2.5-7B-Instruct"))
	require.NoError(t, run(t, srv.URL, dir, "use", "tiny"))
	require.NoError(t, run(t, srv.URL, dir, "chat", "send", "hello", "there"))
	require.NoError(t, run(t, srv.URL, dir, "settings", "--theme", "dark"))

	kv := openState(t, dir)

	var models struct {
		CurrentModel string   `json:"currentModel"`
		Favorites    []string `json:"favorites"`
	}
	require.NoError(t, storage.LoadJSON(kv, storage.KeyModels, &models))
	assert.Equal(t, "org/tiny", models.CurrentModel)
	assert.Equal(t, []string{"Qwen/Qwen2.5-7B-Instruct"}, models.Favorites)

	var chats struct {
		Chats         []chat.Chat `json:"chats"`
		CurrentChatID string      `json:"currentChatId"`
	}
	require.NoError(t, storage.LoadJSON(kv, storage.KeyChats, &chats))
	require.Len(t, chats.Chats, 1)
	c := chats.Chats[0]
	assert.Equal(t, c.ID, chats.CurrentChatID)
	assert.Equal(t, "hello there", c.Title)
	assert.Equal(t, "org/tiny", c.Model)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, api.RoleUser, c.Messages[0].Role)
	assert.Equal(t, "Hi there", c.Messages[1].Content)
	assert.Equal(t, "org/tiny", backend.lastModel())

	var settings prefs.Settings
	require.NoError(t, storage.LoadJSON(kv, storage.KeyApp, &settings))
	assert.Equal(t, prefs.ThemeDark, settings.Theme)

	var cache struct {
		Models []api.ModelInfo `json:"models"`
	}
	require.NoError(t, storage.LoadJSON(kv, storage.KeyCatalogCache, &cache))
	assert.Len(t, cache.Models, 2)
}

func TestChatSendReportsBackendError(t *testing.T) {
	backend := &fakeNative{chatErr: "model not loaded"}
	srv := backend.server(t)
	dir := t.TempDir()

	err := run(t, srv.URL, dir, "chat", "send", "--model", "org/tiny", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")

	var chats struct {
		Chats []chat.Chat `json:"chats"`
	}
	require.NoError(t, storage.LoadJSON(openState(t, dir), storage.KeyChats, &chats))
	require.Len(t, chats.Chats, 1)
	msgs := chats.Chats[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "Error: model not loaded", msgs[1].Content)
}

func TestUseUnknownModel(t *testing.T) {
	srv := (&fakeNative{}).server(t)
	err := run(t, srv.URL, t.TempDir(), "use", "does-not-exist")
	assert.Error(t, err)
}

func TestModelsListRejectsUnknownSort(t *testing.T) {
	srv := (&fakeNative{}).server(t)
	err := run(t, srv.URL, t.TempDir(), "models", "list", "--sort", "popularity")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sort")
	listSort = catalog.SortNone
}

// output captures what the commands write to stdout.
func output(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	t.Cleanup(func() { rootCmd.SetOut(nil) })
	return &buf
}

func TestModelsListFollowsBackendCatalog(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() { listInstalled = false })

	old := (&fakeNative{models: `[{"id":"org/old","task":"Text Generation"}]`}).server(t)
	require.NoError(t, run(t, old.URL, dir, "favorite", "org/old"))

	kv := openState(t, dir)
	require.NoError(t, kv.Delete(storage.KeyCatalogCache))
	require.NoError(t, kv.Close())

	// A different backend serves a different catalog; the saved model
	// state must not hide it.
	next := (&fakeNative{models: `[{"id":"org/new","task":"Text Generation","downloaded":true}]`}).server(t)

	out := output(t)
	require.NoError(t, run(t, next.URL, dir, "models", "list"))
	assert.Contains(t, out.String(), "org/new")
	assert.NotContains(t, out.String(), "org/old")

	out.Reset()
	require.NoError(t, run(t, next.URL, dir, "models", "list", "--installed"))
	assert.Contains(t, out.String(), "org/new")
	assert.NotContains(t, out.String(), "No models found.")

	kv = openState(t, dir)
	var models struct {
		Favorites []string `json:"favorites"`
	}
	require.NoError(t, storage.LoadJSON(kv, storage.KeyModels, &models))
	assert.Equal(t, []string{"org/old"}, models.Favorites)
}

func TestInstalledModelsFetchedAtStartup(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() { listInstalled = false })

	before := (&fakeNative{models: `[{"id":"org/tiny","task":"Text Generation"}]`}).server(t)
	out := output(t)
	require.NoError(t, run(t, before.URL, dir, "use", "tiny"))
	assert.Contains(t, out.String(), "not installed yet")

	// The cached catalog is still fresh and records org/tiny as missing;
	// the installed set is read from the backend on every start.
	after := (&fakeNative{models: `[{"id":"org/tiny","task":"Text Generation","downloaded":true}]`}).server(t)
	out.Reset()
	require.NoError(t, run(t, after.URL, dir, "use", "tiny"))
	assert.Contains(t, out.String(), "Using org/tiny.")
	assert.NotContains(t, out.String(), "not installed")

	out.Reset()
	require.NoError(t, run(t, after.URL, dir, "models", "list", "--installed"))
	assert.Contains(t, out.String(), "org/tiny")
}

func TestVersionCommand(t *testing.T) {
	srv := (&fakeNative{}).server(t)
	out := output(t)
	require.NoError(t, run(t, srv.URL, t.TempDir(), "version"))
	assert.Contains(t, out.String(), "runmymodel ")
	assert.Contains(t, out.String(), "backend: native "+srv.URL+"/api")
	assert.Contains(t, out.String(), "storage: file")
}

func TestPrintVersion(t *testing.T) {
	info := &debug.BuildInfo{
		GoVersion: "go1.25.0",
		Main:      debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	c := &config.Config{
		Backend: config.BackendConfig{Kind: "ollama", URL: "http://localhost:11434"},
		Storage: config.StorageConfig{Driver: "sqlite"},
	}

	var buf bytes.Buffer
	printVersion(&buf, info, c)
	assert.Equal(t, "runmymodel v0.3.1 (0123456789ab-dirty)\n"+
		"go:      go1.25.0\n"+
		"backend: ollama http://localhost:11434\n"+
		"storage: sqlite\n", buf.String())

	assert.Equal(t, "dev", buildVersion(nil))
	assert.Equal(t, "dev", buildVersion(&debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}))
	assert.Equal(t, "dev (abc)", buildVersion(&debug.BuildInfo{
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}},
	}))
}

type blockingChat struct {
	release chan struct{}
}

func (b blockingChat) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	<-b.release
	return &api.ChatResponse{Content: "ok"}, nil
}

func TestTurnGate(t *testing.T) {
	tu := &tuiApp{a: &app{chats: chat.New(nil, nil)}}

	require.True(t, tu.beginTurn())
	assert.False(t, tu.beginTurn(), "a second send is refused before the first turn reaches the store")
	tu.endTurn()
	assert.True(t, tu.beginTurn())
}

func TestTurnGateWaitsForStore(t *testing.T) {
	b := blockingChat{release: make(chan struct{})}
	chats := chat.New(b, nil)
	tu := &tuiApp{a: &app{chats: chats}}

	done := make(chan error, 1)
	go func() { done <- chats.SendMessage(context.Background(), "hi", "m") }()
	require.Eventually(t, chats.IsLoading, time.Second, 5*time.Millisecond)
	assert.False(t, tu.beginTurn(), "a turn started elsewhere also holds the gate")

	close(b.release)
	require.NoError(t, <-done)
	assert.True(t, tu.beginTurn())
}

func TestResolveChat(t *testing.T) {
	s := chat.New(nil, nil)
	a := s.AddChat(chat.NewChat{Title: "a"})
	b := s.AddChat(chat.NewChat{Title: "b"})

	got, err := resolveChat(s, a)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	prefix := b
	for i := 1; i <= len(b); i++ {
		if len(a) < i || a[:i] != b[:i] {
			prefix = b[:i]
			break
		}
	}
	got, err = resolveChat(s, prefix)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = resolveChat(s, "zzzz-not-a-chat")
	assert.ErrorIs(t, err, chat.ErrChatNotFound)

	_, err = resolveChat(s, "")
	assert.Error(t, err, "an empty prefix matches every chat")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024 / 2, "1.5 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}

func TestFormatSizeAndRating(t *testing.T) {
	assert.Equal(t, "1.0 MB", formatSize(api.ModelInfo{Size: 1 << 20, SizeClass: "1B"}))
	assert.Equal(t, "7B", formatSize(api.ModelInfo{SizeClass: "7B"}))
	assert.Equal(t, "-", formatSize(api.ModelInfo{}))

	r := 4.25
	assert.Equal(t, "4.2", formatRating(&r))
	assert.Equal(t, "-", formatRating(nil))
}

func TestFormatUsage(t *testing.T) {
	assert.Empty(t, formatUsage(nil))
	assert.Equal(t, "12 in / 1.5k out", formatUsage(&api.Usage{PromptTokens: 12, CompletionTokens: 1500}))
	assert.Equal(t, "~5 in / ~4 out", formatUsage(&api.Usage{PromptTokens: 5, CompletionTokens: 4, Estimated: true}))
}

func TestProgressLine(t *testing.T) {
	line := progressLine(catalog.DownloadProgress{
		Progress:   50,
		Downloaded: 512 * 1024 * 1024,
		Total:      1024 * 1024 * 1024,
		Speed:      2 * 1024 * 1024,
		ETA:        90 * time.Second,
	})
	assert.Contains(t, line, " 50%")
	assert.Contains(t, line, "512.0 MB / 1.0 GB")
	assert.Contains(t, line, "2.0 MB/s")
	assert.Contains(t, line, "eta 1m30s")

	assert.NotPanics(t, func() { progressLine(catalog.DownloadProgress{Progress: 250}) })
}

func TestRankModels(t *testing.T) {
	models := []api.ModelInfo{
		{ID: "Qwen/Qwen2.5-7B-Instruct"},
		{ID: "meta-llama/Llama-3.1-8B-Instruct"},
		{ID: "microsoft/CodeLlama-7b-Instruct-hf"},
	}

	ranked := rankModels("llama31", models)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "meta-llama/Llama-3.1-8B-Instruct", ranked[0].ID)

	assert.Empty(t, rankModels("zzzz", models))
	assert.Equal(t, models, rankModels("  ", models))
}

func TestStripANSIUnderline(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"\x1b[4mlink\x1b[24m", "link"},
		{"\x1b[1;4;38;5;33mx\x1b[0m", "\x1b[1;38;5;33mx\x1b[0m"},
		{"\x1b[38;2;4;4;4mx", "\x1b[38;2;4;4;4mx"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripANSIUnderline(tt.in))
	}
}

func TestStripTviewUnderline(t *testing.T) {
	assert.Equal(t, "[red::b]x[-:-:-]", stripTviewUnderline("[red::bu]x[-:-:-]"))
	assert.Equal(t, "[red::-]x", stripTviewUnderline("[red::u]x"))
}

func TestGlamourStyle(t *testing.T) {
	assert.Equal(t, "dark", glamourStyle(prefs.ThemeDark))
	assert.Equal(t, "light", glamourStyle(prefs.ThemeLight))
}
