package api

import "time"

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ChatMessage is a single entry in a conversation.
type ChatMessage struct {
	ID        string `json:"id,omitempty"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// Time returns the message timestamp as a time.Time.
func (m ChatMessage) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// ChatRequest is the backend-neutral chat completion request.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// ChatResponse is the backend-neutral chat completion response.
type ChatResponse struct {
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Estimated        bool `json:"estimated,omitempty"` // filled in locally, not reported by the backend
}

// ModelInfo is a catalog entry. Values are replaced wholesale on refresh and
// never mutated in place.
type ModelInfo struct {
	ID           string   `json:"id"`             // globally unique, e.g. "Qwen/Qwen2.5-7B-Instruct" or "llama3.2:3b"
	Name         string   `json:"name"`           // human display name
	Size         int64    `json:"size,omitempty"` // bytes, 0 when unknown
	SizeClass    string   `json:"size_class,omitempty"`
	Task         string   `json:"task,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
	URL          string   `json:"url,omitempty"`
	Downloaded   bool     `json:"downloaded"`
	LocalPath    string   `json:"local_path,omitempty"`
	Family       string   `json:"family,omitempty"`
	Quantization string   `json:"quantization,omitempty"`
	Description  string   `json:"description,omitempty"`
}

// SystemInfo describes the host and backend. It is displayed, not interpreted.
type SystemInfo struct {
	Platform string      `json:"platform"`
	Arch     string      `json:"arch"`
	GPU      GPUInfo     `json:"gpu"`
	CPU      CPUInfo     `json:"cpu"`
	Backend  BackendInfo `json:"backend"`
}

// GPUInfo describes the GPU, if any.
type GPUInfo struct {
	Available bool   `json:"available"`
	Name      string `json:"name,omitempty"`
	Memory    int64  `json:"memory,omitempty"`
	Driver    string `json:"driver,omitempty"`
}

// CPUInfo describes the CPU.
type CPUInfo struct {
	Cores  int    `json:"cores"`
	Name   string `json:"name"`
	Memory int64  `json:"memory"`
}

// BackendInfo describes backend availability.
type BackendInfo struct {
	Kind            string   `json:"kind"`
	Available       bool     `json:"available"`
	Version         string   `json:"version,omitempty"`
	CacheDir        string   `json:"cache_dir,omitempty"`
	ModelsInstalled []string `json:"models_installed,omitempty"`
}

// DownloadStatus is the backend-reported state of a model download.
type DownloadStatus struct {
	Model      string  `json:"model_name"`
	Progress   float64 `json:"progress"`
	Status     string  `json:"status"`
	Downloaded int64   `json:"downloaded_bytes"`
	Total      int64   `json:"total_bytes,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}
