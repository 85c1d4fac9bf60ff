package backend

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ThatCatDev/runmymodel/pkg/api"
)

// OpenAI talks to any OpenAI-compatible server (llama-server, vLLM, a
// hosted API). Every model the server lists is considered installed.
type OpenAI struct {
	client  *openai.Client
	baseURL string
}

// NewOpenAI creates an adapter for the server at baseURL, which must include
// the version prefix (for example http://localhost:8080/v1).
func NewOpenAI(baseURL, apiKey string, httpClient *http.Client) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	cfg.HTTPClient = httpClientOrDefault(httpClient)
	return &OpenAI{client: openai.NewClientWithConfig(cfg), baseURL: cfg.BaseURL}
}

func (o *OpenAI) Kind() Kind { return KindOpenAI }

func (o *OpenAI) ListModels(ctx context.Context) ([]api.ModelInfo, error) {
	list, err := o.client.ListModels(ctx)
	if err != nil {
		return nil, openAIError(err)
	}

	models := make([]api.ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		parsed := parseModelName(m.ID)
		models = append(models, api.ModelInfo{
			ID:           m.ID,
			Name:         m.ID,
			SizeClass:    parsed.SizeClass,
			Task:         taskFromName(parsed.Family, nil),
			Downloaded:   true,
			Family:       parsed.Family,
			Quantization: parsed.Quantization,
			Description:  m.OwnedBy,
		})
	}
	return models, nil
}

func (o *OpenAI) InstalledModels(ctx context.Context) ([]string, error) {
	models, err := o.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	return ids, nil
}

func (o *OpenAI) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	creq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: make([]openai.ChatCompletionMessage, len(req.Messages)),
	}
	for i, m := range req.Messages {
		creq.Messages[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	if req.Temperature != nil {
		creq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		creq.MaxTokens = *req.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, openAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Message: "server returned no choices"}
	}

	out := &api.ChatResponse{Content: resp.Choices[0].Message.Content}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &api.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

func (o *OpenAI) Install(ctx context.Context, name string) (string, error) {
	return "", ErrUnsupported
}

func (o *OpenAI) Remove(ctx context.Context, name string) (string, error) {
	return "", ErrUnsupported
}

func (o *OpenAI) DownloadProgress(ctx context.Context, name string) (*api.DownloadStatus, error) {
	return nil, ErrUnsupported
}

// SystemInfo reports the local host plus the server's model list. The
// server itself may be remote.
func (o *OpenAI) SystemInfo(ctx context.Context) (*api.SystemInfo, error) {
	installed, err := o.InstalledModels(ctx)
	if err != nil {
		return nil, err
	}
	info := hostInfo()
	info.Backend = api.BackendInfo{
		Kind:            string(KindOpenAI),
		Available:       true,
		CacheDir:        o.baseURL,
		ModelsInstalled: installed,
	}
	return info, nil
}

// openAIError lifts go-openai's error types into *Error.
func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Status: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := extractMessage(reqErr.Body, "")
		if msg == "" && reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &Error{Status: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}
	return err
}
