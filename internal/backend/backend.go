// Package backend is the single point of contact with the model-serving
// backend. Adapters translate each backend's wire format into the shapes in
// pkg/api, and Client layers the catalog cache on top.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ThatCatDev/runmymodel/internal/config"
	"github.com/ThatCatDev/runmymodel/pkg/api"
)

// Kind identifies a backend adapter.
type Kind string

const (
	KindNative Kind = config.KindNative
	KindOllama Kind = config.KindOllama
	KindOpenAI Kind = config.KindOpenAI
)

// Adapter is implemented once per backend kind. Implementations return
// normalized data and make exactly one attempt per call.
type Adapter interface {
	Kind() Kind

	// ListModels returns the full catalog the backend knows about.
	ListModels(ctx context.Context) ([]api.ModelInfo, error)

	// InstalledModels returns the IDs of models present locally.
	InstalledModels(ctx context.Context) ([]string, error)

	Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error)

	// Install and Remove return a human-readable status message.
	Install(ctx context.Context, name string) (string, error)
	Remove(ctx context.Context, name string) (string, error)

	// DownloadProgress reports the state of an install started with Install.
	// Adapters that cannot report progress return ErrUnsupported.
	DownloadProgress(ctx context.Context, name string) (*api.DownloadStatus, error)

	SystemInfo(ctx context.Context) (*api.SystemInfo, error)
}

// NewAdapter builds the adapter selected by cfg.Backend.Kind.
func NewAdapter(cfg *config.Config, logger zerolog.Logger) (Adapter, error) {
	httpClient := &http.Client{Timeout: cfg.Backend.Timeout}

	switch Kind(cfg.Backend.Kind) {
	case KindNative, "":
		return NewNative(cfg.Backend.URL, httpClient), nil
	case KindOllama:
		return NewOllama(cfg.Backend.URL, httpClient,
			WithLibraryURL(cfg.Catalog.LibraryURL),
			WithOllamaLogger(logger),
		), nil
	case KindOpenAI:
		return NewOpenAI(cfg.Backend.URL, cfg.Backend.APIKey, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

// defaultTimeout applies when a zero-value http.Client would never time out.
const defaultTimeout = 10 * time.Minute

func httpClientOrDefault(c *http.Client) *http.Client {
	if c == nil {
		return &http.Client{Timeout: defaultTimeout}
	}
	return c
}
