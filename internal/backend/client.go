package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ThatCatDev/runmymodel/internal/storage"
	"github.com/ThatCatDev/runmymodel/pkg/api"
)

// DefaultTTL is how long a fetched catalog stays fresh.
const DefaultTTL = 30 * time.Minute

// CatalogSnapshot is the persisted catalog cache.
type CatalogSnapshot struct {
	Kind      Kind            `json:"kind"`
	Models    []api.ModelInfo `json:"models"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Client owns the model catalog cache and forwards everything else to the
// adapter. It is safe for concurrent use.
type Client struct {
	adapter   Adapter
	store     storage.Store
	ttl       time.Duration
	now       func() time.Time
	logger    zerolog.Logger
	estimator *TokenEstimator

	mu        sync.RWMutex
	models    []api.ModelInfo
	fetchedAt time.Time // zero while serving fallback data
}

// Option configures a Client.
type Option func(*Client)

// WithTTL sets the catalog freshness window.
func WithTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l.With().Str("component", "backend").Logger() }
}

// WithEstimator sets the estimator used when the backend omits usage.
func WithEstimator(e *TokenEstimator) Option {
	return func(c *Client) { c.estimator = e }
}

// New creates a Client. store may be nil, in which case the catalog is not
// persisted.
func New(adapter Adapter, store storage.Store, opts ...Option) *Client {
	c := &Client{
		adapter:   adapter,
		store:     store,
		ttl:       DefaultTTL,
		now:       time.Now,
		logger:    zerolog.Nop(),
		estimator: NewTokenEstimator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kind returns the adapter kind.
func (c *Client) Kind() Kind { return c.adapter.Kind() }

// Initialize loads a catalog: the persisted one if still fresh, otherwise a
// fresh fetch, otherwise the stale persisted one, otherwise the built-in
// fallback. It never fails and always leaves a non-empty catalog.
func (c *Client) Initialize(ctx context.Context) {
	snap, ok := c.loadSnapshot()
	if ok && c.isFresh(snap.FetchedAt) {
		c.setCatalog(snap.Models, snap.FetchedAt)
		c.logger.Debug().Int("models", len(snap.Models)).Msg("using cached catalog")
		return
	}

	err := c.RefreshCatalog(ctx)
	if err == nil && len(c.AvailableModels()) > 0 {
		return
	}
	if err == nil {
		err = errors.New("backend returned an empty catalog")
	}

	if ok {
		c.logger.Warn().Err(err).Time("fetched_at", snap.FetchedAt).Msg("catalog fetch failed, using stale cache")
		c.setCatalog(snap.Models, snap.FetchedAt)
		return
	}

	c.logger.Warn().Err(err).Msg("catalog fetch failed, using fallback models")
	c.setCatalog(FallbackModels(c.adapter.Kind()), time.Time{})
}

// RefreshCatalog fetches the catalog unconditionally. On failure the
// in-memory catalog is left untouched.
func (c *Client) RefreshCatalog(ctx context.Context) error {
	models, err := c.adapter.ListModels(ctx)
	if err != nil {
		return wrap("list models", err)
	}

	normalized := make([]api.ModelInfo, 0, len(models))
	for _, m := range models {
		if m.ID == "" {
			continue
		}
		if m.Name == "" {
			m.Name = displayName(m.ID)
		}
		normalized = append(normalized, m)
	}

	fetchedAt := c.now()
	c.setCatalog(normalized, fetchedAt)
	c.saveSnapshot(CatalogSnapshot{Kind: c.adapter.Kind(), Models: normalized, FetchedAt: fetchedAt})
	c.logger.Debug().Int("models", len(normalized)).Msg("catalog refreshed")
	return nil
}

// Models returns the catalog, refreshing it first when it is stale. A failed
// refresh is logged and the stale catalog returned.
func (c *Client) Models(ctx context.Context) []api.ModelInfo {
	if c.Fresh() {
		return c.AvailableModels()
	}
	if err := c.RefreshCatalog(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("catalog refresh failed, serving stale catalog")
	}
	return c.AvailableModels()
}

// AvailableModels returns a copy of the in-memory catalog without I/O.
func (c *Client) AvailableModels() []api.ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]api.ModelInfo, len(c.models))
	copy(out, c.models)
	return out
}

// Fresh reports whether the in-memory catalog is within its TTL. Fallback
// data is never fresh.
func (c *Client) Fresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isFresh(c.fetchedAt)
}

// FetchedAt returns when the in-memory catalog was fetched; zero for
// fallback data.
func (c *Client) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

func (c *Client) isFresh(fetchedAt time.Time) bool {
	return !fetchedAt.IsZero() && c.now().Sub(fetchedAt) < c.ttl
}

// SearchModels returns catalog entries whose ID, name, task or size class
// contains query, ignoring case. The result is never nil.
func (c *Client) SearchModels(query string) []api.ModelInfo {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]api.ModelInfo, 0)
	for _, m := range c.AvailableModels() {
		if q == "" || matches(m, q) {
			out = append(out, m)
		}
	}
	return out
}

func matches(m api.ModelInfo, q string) bool {
	for _, field := range []string{m.ID, m.Name, m.Task, m.SizeClass} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Resolve finds a catalog entry by exact ID, then case-insensitive ID or
// name, then substring.
func (c *Client) Resolve(name string) (api.ModelInfo, error) {
	models := c.AvailableModels()
	for _, m := range models {
		if m.ID == name {
			return m, nil
		}
	}
	for _, m := range models {
		if strings.EqualFold(m.ID, name) || strings.EqualFold(m.Name, name) {
			return m, nil
		}
	}
	lower := strings.ToLower(name)
	for _, m := range models {
		if strings.Contains(strings.ToLower(m.ID), lower) {
			return m, nil
		}
	}
	return api.ModelInfo{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Chat sends req to the backend. Usage is estimated when the backend omits
// it.
func (c *Client) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	if req == nil {
		return nil, &Error{Op: "chat", Message: "empty request"}
	}
	if req.Model == "" {
		return nil, &Error{Op: "chat", Message: "no model selected"}
	}

	start := c.now()
	resp, err := c.adapter.Chat(ctx, req)
	if err != nil {
		c.logger.Error().Err(err).Str("model", req.Model).Msg("chat failed")
		return nil, wrap("chat", err)
	}
	if resp.Usage == nil {
		resp.Usage = c.estimator.EstimateUsage(req.Messages, resp.Content)
	}
	c.logger.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("total_tokens", resp.Usage.TotalTokens).
		Dur("took", c.now().Sub(start)).
		Msg("chat completed")
	return resp, nil
}

// InstallModel asks the backend to install name. The catalog is not
// refreshed; callers do that.
func (c *Client) InstallModel(ctx context.Context, name string) (string, error) {
	msg, err := c.adapter.Install(ctx, name)
	if err != nil {
		return "", wrap("install "+name, err)
	}
	c.logger.Info().Str("model", name).Msg("model installed")
	return msg, nil
}

// RemoveModel asks the backend to remove name.
func (c *Client) RemoveModel(ctx context.Context, name string) (string, error) {
	msg, err := c.adapter.Remove(ctx, name)
	if err != nil {
		return "", wrap("remove "+name, err)
	}
	c.logger.Info().Str("model", name).Msg("model removed")
	return msg, nil
}

// DownloadProgress returns the backend's view of an install in flight.
func (c *Client) DownloadProgress(ctx context.Context, name string) (*api.DownloadStatus, error) {
	status, err := c.adapter.DownloadProgress(ctx, name)
	if err != nil {
		return nil, wrap("download progress", err)
	}
	return status, nil
}

func (c *Client) InstalledModels(ctx context.Context) ([]string, error) {
	ids, err := c.adapter.InstalledModels(ctx)
	if err != nil {
		return nil, wrap("installed models", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (c *Client) SystemInfo(ctx context.Context) (*api.SystemInfo, error) {
	info, err := c.adapter.SystemInfo(ctx)
	if err != nil {
		return nil, wrap("system info", err)
	}
	return info, nil
}

func (c *Client) setCatalog(models []api.ModelInfo, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = models
	c.fetchedAt = fetchedAt
}

// loadSnapshot reads the persisted cache. Corrupt data and snapshots from a
// different backend kind are treated as absent.
func (c *Client) loadSnapshot() (CatalogSnapshot, bool) {
	var snap CatalogSnapshot
	if c.store == nil {
		return snap, false
	}
	err := storage.LoadJSON(c.store, storage.KeyCatalogCache, &snap)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return snap, false
	case err != nil:
		c.logger.Warn().Err(err).Msg("ignoring corrupt catalog cache")
		return snap, false
	case snap.Kind != c.adapter.Kind() || len(snap.Models) == 0:
		return snap, false
	}
	return snap, true
}

func (c *Client) saveSnapshot(snap CatalogSnapshot) {
	if c.store == nil {
		return
	}
	if err := storage.SaveJSON(c.store, storage.KeyCatalogCache, snap); err != nil {
		c.logger.Warn().Err(err).Msg("failed to persist catalog cache")
	}
}
