package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThatCatDev/runmymodel/pkg/api"
)

func newOpenAIServer(t *testing.T, mux *http.ServeMux) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewOpenAI(srv.URL+"/v1", "test-key", srv.Client())
}

func TestOpenAIListModels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"object":"list","data":[
			{"id":"qwen2.5-coder:7b-instruct-q4_K_M","object":"model","owned_by":"llamacpp"},
			{"id":"gpt-4o-mini","object":"model","owned_by":"openai"}
		]}`))
	})
	o := newOpenAIServer(t, mux)

	models, err := o.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.True(t, models[0].Downloaded)
	assert.Equal(t, "7B", models[0].SizeClass)
	assert.Equal(t, "Q4_K_M", models[0].Quantization)
	assert.Equal(t, "Code Generation", models[0].Task)

	ids, err := o.InstalledModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"qwen2.5-coder:7b-instruct-q4_K_M", "gpt-4o-mini"}, ids)
}

func TestOpenAIChat(t *testing.T) {
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[
			{"index":0,"message":{"role":"assistant","content":"4"},"finish_reason":"stop"}
		],"usage":{"prompt_tokens":8,"completion_tokens":1,"total_tokens":9}}`))
	})
	o := newOpenAIServer(t, mux)

	maxTokens := 1000
	resp, err := o.Chat(context.Background(), &api.ChatRequest{
		Model: "m",
		Messages: []api.ChatMessage{
			{Role: api.RoleSystem, Content: "be terse"},
			{Role: api.RoleUser, Content: "2+2?"},
		},
		MaxTokens: &maxTokens,
	})
	require.NoError(t, err)
	assert.Equal(t, "4", resp.Content)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 9, resp.Usage.TotalTokens)

	assert.Equal(t, "m", got["model"])
	assert.Equal(t, float64(1000), got["max_tokens"])
	msgs, _ := got["messages"].([]any)
	assert.Len(t, msgs, 2)
}

func TestOpenAIChatError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"model 'm' not found","type":"invalid_request_error"}}`))
	})
	o := newOpenAIServer(t, mux)

	_, err := o.Chat(context.Background(), &api.ChatRequest{Model: "m"})
	require.Error(t, err)

	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusNotFound, be.Status)
	assert.Equal(t, "model 'm' not found", Message(err))
}

func TestOpenAIUnsupported(t *testing.T) {
	o := NewOpenAI("http://127.0.0.1:1/v1", "", nil)

	_, err := o.Install(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = o.Remove(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = o.DownloadProgress(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnsupported)
}
