package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ThatCatDev/runmymodel/pkg/api"
)

// Native talks to the bundled model-serving backend over its JSON API.
type Native struct {
	baseURL    string
	httpClient *http.Client
}

// NewNative creates an adapter for the backend API rooted at baseURL
// (for example http://localhost:8080/api).
func NewNative(baseURL string, httpClient *http.Client) *Native {
	return &Native{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClientOrDefault(httpClient),
	}
}

func (n *Native) Kind() Kind { return KindNative }

// nativeModel is the catalog entry as the backend serves it. Older backends
// identify models by name only and send size as a class string ("7B").
type nativeModel struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Size        json.RawMessage `json:"size"`
	SizeClass   string          `json:"size_class"`
	Task        string          `json:"task"`
	TaskType    string          `json:"task_type"`
	Rating      *float64        `json:"rating"`
	URL         string          `json:"url"`
	Downloaded  bool            `json:"downloaded"`
	LocalPath   string          `json:"local_path"`
	Description string          `json:"description"`
}

func (m nativeModel) info() api.ModelInfo {
	info := api.ModelInfo{
		ID:          m.ID,
		Name:        m.Name,
		SizeClass:   m.SizeClass,
		Task:        m.Task,
		Rating:      m.Rating,
		URL:         m.URL,
		Downloaded:  m.Downloaded,
		LocalPath:   m.LocalPath,
		Description: m.Description,
	}
	if info.ID == "" {
		info.ID = m.Name
		info.Name = ""
	}
	if info.Task == "" {
		info.Task = m.TaskType
	}

	raw := strings.TrimSpace(string(m.Size))
	switch {
	case raw == "" || raw == "null":
	case strings.HasPrefix(raw, `"`):
		var s string
		if json.Unmarshal(m.Size, &s) == nil && info.SizeClass == "" {
			info.SizeClass = s
		}
	default:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			info.Size = int64(n)
		}
	}
	return info
}

type nativeModelList struct {
	Models []nativeModel `json:"models"`
}

type nativeStatus struct {
	Message string `json:"message"`
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

// failure returns the error for an explicit success:false reply.
func (s nativeStatus) failure() error {
	if s.Success == nil || *s.Success {
		return nil
	}
	msg := s.Error
	if msg == "" {
		msg = s.Message
	}
	if msg == "" {
		msg = "backend reported failure"
	}
	return &Error{Message: msg}
}

type nativeModelRequest struct {
	ModelName string `json:"model_name"`
}

type nativeChatMessage struct {
	Role    api.Role `json:"role"`
	Content string   `json:"content"`
}

type nativeChatRequest struct {
	Model       string              `json:"model"`
	Messages    []nativeChatMessage `json:"messages"`
	Temperature *float64            `json:"temperature,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

// nativeSystemInfo accepts both the current "backend" descriptor and the
// older "huggingface" one.
type nativeSystemInfo struct {
	api.SystemInfo
	HuggingFace *struct {
		Available        bool     `json:"available"`
		CacheDir         string   `json:"cache_dir"`
		ModelsDownloaded []string `json:"models_downloaded"`
	} `json:"huggingface"`
}

func (n *Native) ListModels(ctx context.Context) ([]api.ModelInfo, error) {
	var result nativeModelList
	if err := n.getJSON(ctx, "/models", &result); err != nil {
		return nil, err
	}
	models := make([]api.ModelInfo, 0, len(result.Models))
	for _, m := range result.Models {
		info := m.info()
		if info.ID == "" {
			continue
		}
		models = append(models, info)
	}
	return models, nil
}

// InstalledModels derives the installed set from the catalog's downloaded
// flags; the backend has no dedicated endpoint for it.
func (n *Native) InstalledModels(ctx context.Context) ([]string, error) {
	models, err := n.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	installed := make([]string, 0)
	for _, m := range models {
		if m.Downloaded {
			installed = append(installed, m.ID)
		}
	}
	return installed, nil
}

func (n *Native) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	body := nativeChatRequest{
		Model:       req.Model,
		Messages:    make([]nativeChatMessage, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}
	for i, m := range req.Messages {
		body.Messages[i] = nativeChatMessage{Role: m.Role, Content: m.Content}
	}

	var result struct {
		api.ChatResponse
		nativeStatus
	}
	if err := n.postJSON(ctx, "/chat", body, &result); err != nil {
		return nil, err
	}
	if err := result.failure(); err != nil {
		return nil, err
	}
	return &result.ChatResponse, nil
}

func (n *Native) Install(ctx context.Context, name string) (string, error) {
	return n.modelCommand(ctx, "/download-model", name)
}

func (n *Native) Remove(ctx context.Context, name string) (string, error) {
	return n.modelCommand(ctx, "/remove-model", name)
}

func (n *Native) modelCommand(ctx context.Context, path, name string) (string, error) {
	var result nativeStatus
	if err := n.postJSON(ctx, path, nativeModelRequest{ModelName: name}, &result); err != nil {
		return "", err
	}
	if err := result.failure(); err != nil {
		return "", err
	}
	return result.Message, nil
}

func (n *Native) DownloadProgress(ctx context.Context, name string) (*api.DownloadStatus, error) {
	var result api.DownloadStatus
	if err := n.postJSON(ctx, "/download-progress", nativeModelRequest{ModelName: name}, &result); err != nil {
		return nil, err
	}
	if result.Model == "" {
		result.Model = name
	}
	return &result, nil
}

func (n *Native) SystemInfo(ctx context.Context) (*api.SystemInfo, error) {
	var result nativeSystemInfo
	if err := n.getJSON(ctx, "/system-info", &result); err != nil {
		return nil, err
	}
	info := result.SystemInfo
	if hf := result.HuggingFace; hf != nil && info.Backend.Kind == "" {
		info.Backend = api.BackendInfo{
			Kind:            "huggingface",
			Available:       hf.Available,
			CacheDir:        hf.CacheDir,
			ModelsInstalled: hf.ModelsDownloaded,
		}
	}
	if info.Backend.Kind == "" {
		info.Backend.Kind = string(KindNative)
	}
	return &info, nil
}

func (n *Native) postJSON(ctx context.Context, path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return n.do(httpReq, result)
}

func (n *Native) getJSON(ctx context.Context, path string, result any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return n.do(httpReq, result)
}

func (n *Native) do(httpReq *http.Request, result any) error {
	resp, err := n.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
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
