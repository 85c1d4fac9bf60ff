package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ThatCatDev/runmymodel/pkg/api"
)

const defaultLibraryURL = "https://ollama.com/library"

// Ollama talks to a local Ollama daemon. Its catalog is the daemon's
// installed tags merged with the public model library.
type Ollama struct {
	baseURL    string
	libraryURL string
	httpClient *http.Client
	logger     zerolog.Logger
}

// OllamaOption configures an Ollama adapter.
type OllamaOption func(*Ollama)

// WithLibraryURL sets the library page scraped for the catalog. An empty
// URL disables scraping; the curated popular list is used instead.
func WithLibraryURL(u string) OllamaOption {
	return func(o *Ollama) { o.libraryURL = strings.TrimRight(u, "/") }
}

// WithOllamaLogger sets the adapter's logger.
func WithOllamaLogger(l zerolog.Logger) OllamaOption {
	return func(o *Ollama) { o.logger = l.With().Str("component", "ollama").Logger() }
}

// NewOllama creates an adapter for the daemon at baseURL
// (for example http://localhost:11434).
func NewOllama(baseURL string, httpClient *http.Client, opts ...OllamaOption) *Ollama {
	o := &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		libraryURL: defaultLibraryURL,
		httpClient: httpClientOrDefault(httpClient),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Ollama) Kind() Kind { return KindOllama }

type ollamaTag struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
	Details    struct {
		Format            string `json:"format"`
		Family            string `json:"family"`
		ParameterSize     string `json:"parameter_size"`
		QuantizationLevel string `json:"quantization_level"`
	} `json:"details"`
}

type ollamaMessage struct {
	Role    api.Role `json:"role"`
	Content string   `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// ListModels fetches installed tags and the library concurrently. A library
// failure is logged and replaced by the curated list; a daemon failure is
// returned.
func (o *Ollama) ListModels(ctx context.Context) ([]api.ModelInfo, error) {
	var (
		tags    []ollamaTag
		library []api.ModelInfo
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tags, err = o.tags(gCtx)
		return err
	})
	g.Go(func() error {
		if o.libraryURL == "" {
			library = popularOllamaModels()
			return nil
		}
		var err error
		library, err = fetchOllamaLibrary(gCtx, o.httpClient, o.libraryURL)
		if err != nil || len(library) == 0 {
			o.logger.Warn().Err(err).Msg("library scrape failed, using curated list")
			library = popularOllamaModels()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeOllamaCatalog(library, tags), nil
}

// mergeOllamaCatalog overlays installed tags on the library entries. Tags
// the library doesn't list are appended.
func mergeOllamaCatalog(library []api.ModelInfo, tags []ollamaTag) []api.ModelInfo {
	models := make([]api.ModelInfo, 0, len(library)+len(tags))
	index := make(map[string]int, len(library))
	for _, m := range library {
		if _, dup := index[m.ID]; dup {
			continue
		}
		index[m.ID] = len(models)
		models = append(models, m)
	}

	for _, t := range tags {
		installed := tagInfo(t)
		if i, ok := index[installed.ID]; ok {
			m := models[i]
			m.Downloaded = true
			m.Size = installed.Size
			if installed.Quantization != "" {
				m.Quantization = installed.Quantization
			}
			if installed.Family != "" {
				m.Family = installed.Family
			}
			models[i] = m
			continue
		}
		index[installed.ID] = len(models)
		models = append(models, installed)
	}
	return models
}

func tagInfo(t ollamaTag) api.ModelInfo {
	id := t.Name
	if id == "" {
		id = t.Model
	}
	parsed := parseModelName(id)
	info := api.ModelInfo{
		ID:           id,
		Name:         id,
		Size:         t.Size,
		SizeClass:    parsed.SizeClass,
		Task:         taskFromName(parsed.Family, nil),
		Downloaded:   true,
		Family:       parsed.Family,
		Quantization: parsed.Quantization,
	}
	if t.Details.ParameterSize != "" {
		info.SizeClass = strings.ToUpper(t.Details.ParameterSize)
	}
	if t.Details.QuantizationLevel != "" {
		info.Quantization = t.Details.QuantizationLevel
	}
	if t.Details.Family != "" {
		info.Family = t.Details.Family
	}
	return info
}

func (o *Ollama) tags(ctx context.Context) ([]ollamaTag, error) {
	var result struct {
		Models []ollamaTag `json:"models"`
	}
	if err := o.call(ctx, http.MethodGet, "/api/tags", nil, &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

func (o *Ollama) InstalledModels(ctx context.Context) ([]string, error) {
	tags, err := o.tags(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(tags))
	for _, t := range tags {
		ids = append(ids, tagInfo(t).ID)
	}
	return ids, nil
}

func (o *Ollama) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	body := ollamaChatRequest{
		Model:    req.Model,
		Messages: make([]ollamaMessage, len(req.Messages)),
	}
	for i, m := range req.Messages {
		body.Messages[i] = ollamaMessage{Role: m.Role, Content: m.Content}
	}
	if req.Temperature != nil || req.MaxTokens != nil {
		body.Options = map[string]any{}
		if req.Temperature != nil {
			body.Options["temperature"] = *req.Temperature
		}
		if req.MaxTokens != nil {
			body.Options["num_predict"] = *req.MaxTokens
		}
	}

	var result ollamaChatResponse
	if err := o.call(ctx, http.MethodPost, "/api/chat", body, &result); err != nil {
		return nil, err
	}

	resp := &api.ChatResponse{Content: result.Message.Content}
	if result.PromptEvalCount > 0 || result.EvalCount > 0 {
		resp.Usage = &api.Usage{
			PromptTokens:     result.PromptEvalCount,
			CompletionTokens: result.EvalCount,
			TotalTokens:      result.PromptEvalCount + result.EvalCount,
		}
	}
	return resp, nil
}

// Install pulls the model and blocks until the daemon reports completion.
func (o *Ollama) Install(ctx context.Context, name string) (string, error) {
	var result struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	body := map[string]any{"model": name, "stream": false}
	if err := o.call(ctx, http.MethodPost, "/api/pull", body, &result); err != nil {
		return "", err
	}
	if result.Error != "" {
		return "", &Error{Message: result.Error}
	}
	return fmt.Sprintf("Model %s installed (%s)", name, result.Status), nil
}

func (o *Ollama) Remove(ctx context.Context, name string) (string, error) {
	if err := o.call(ctx, http.MethodDelete, "/api/delete", map[string]string{"model": name}, nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("Model %s removed", name), nil
}

// DownloadProgress is not available for blocking pulls.
func (o *Ollama) DownloadProgress(ctx context.Context, name string) (*api.DownloadStatus, error) {
	return nil, ErrUnsupported
}

func (o *Ollama) SystemInfo(ctx context.Context) (*api.SystemInfo, error) {
	var version struct {
		Version string `json:"version"`
	}
	info := hostInfo()
	info.Backend.Kind = string(KindOllama)

	if err := o.call(ctx, http.MethodGet, "/api/version", nil, &version); err != nil {
		return nil, err
	}
	info.Backend.Available = true
	info.Backend.Version = version.Version

	installed, err := o.InstalledModels(ctx)
	if err != nil {
		return nil, err
	}
	info.Backend.ModelsInstalled = installed
	return info, nil
}

func (o *Ollama) call(ctx context.Context, method, path string, payload, result any) error {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return statusError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
