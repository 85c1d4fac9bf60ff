// Package catalog holds the model catalog state shown to the user: the
// available and installed models, the current selection, favorites and
// per-model download progress.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ThatCatDev/runmymodel/internal/backend"
	"github.com/ThatCatDev/runmymodel/internal/storage"
	"github.com/ThatCatDev/runmymodel/pkg/api"
)

// ErrDownloadInProgress is returned when an install is requested for a
// model whose previous install has not finished.
var ErrDownloadInProgress = errors.New("download already in progress")

// Status is the state of a download record.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// DownloadProgress tracks one install. Records move from downloading to
// completed or error exactly once and stay until removed.
type DownloadProgress struct {
	Model      string        `json:"model"`
	Status     Status        `json:"status"`
	Progress   float64       `json:"progress"` // 0-100
	Downloaded int64         `json:"downloaded"`
	Total      int64         `json:"total"`
	Speed      float64       `json:"speed,omitempty"` // bytes per second
	ETA        time.Duration `json:"eta,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt,omitzero"`
}

// Backend is the part of backend.Client the store uses.
type Backend interface {
	RefreshCatalog(ctx context.Context) error
	AvailableModels() []api.ModelInfo
	SearchModels(query string) []api.ModelInfo
	InstalledModels(ctx context.Context) ([]string, error)
	InstallModel(ctx context.Context, name string) (string, error)
	RemoveModel(ctx context.Context, name string) (string, error)
	DownloadProgress(ctx context.Context, name string) (*api.DownloadStatus, error)
}

// snapshot is what survives a restart.
// snapshot is the persisted part of the store: the user's selection. The
// catalog and installed set always come from the backend.
type snapshot struct {
	CurrentModel string   `json:"currentModel"`
	Favorites    []string `json:"favorites"`
}

// Store is the model catalog state. All methods are safe for concurrent use;
// backend calls are made without holding the lock.
type Store struct {
	backend      Backend
	kv           storage.Store
	logger       zerolog.Logger
	now          func() time.Time
	pollInterval time.Duration

	mu        sync.Mutex
	available []api.ModelInfo
	installed []string
	current   string
	favorites []string
	downloads map[string]DownloadProgress
	loading   bool
	lastErr   string
	saveErr   error
	onChange  func()
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l.With().Str("component", "catalog").Logger() }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPollInterval sets how often download progress is polled while an
// install runs. Zero disables polling.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) { s.pollInterval = d }
}

// New creates a Store seeded with the backend's catalog, restoring the
// current model and favorites from kv when a snapshot exists. kv may be nil.
// The installed set starts empty until RefreshInstalledModels runs.
func New(b Backend, kv storage.Store, opts ...Option) *Store {
	s := &Store{
		backend:      b,
		kv:           kv,
		logger:       zerolog.Nop(),
		now:          time.Now,
		pollInterval: time.Second,
		downloads:    make(map[string]DownloadProgress),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	s.available = b.AvailableModels()
	return s
}

func (s *Store) load() {
	if s.kv == nil {
		return
	}
	var snap snapshot
	err := storage.LoadJSON(s.kv, storage.KeyModels, &snap)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("ignoring corrupt model store")
		}
		return
	}
	s.current = snap.CurrentModel
	s.favorites = snap.Favorites
}

// persistLocked writes the snapshot. A failure is kept in saveErr and
// surfaced through Error. Callers hold s.mu.
func (s *Store) persistLocked() {
	if s.kv == nil {
		return
	}
	s.saveErr = storage.SaveJSON(s.kv, storage.KeyModels, snapshot{
		CurrentModel: s.current,
		Favorites:    s.favorites,
	})
	if s.saveErr != nil {
		s.lastErr = "Failed to save model state: " + s.saveErr.Error()
		s.logger.Warn().Err(s.saveErr).Msg("failed to persist model store")
	}
}

// OnChange registers fn to be called after every state change. fn runs
// without the store lock held.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// update applies fn under the lock, persists, then notifies.
func (s *Store) update(fn func()) {
	s.mu.Lock()
	fn()
	s.persistLocked()
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// RefreshModels refreshes the catalog through the backend. On failure the
// previous catalog is kept and the error recorded. The loading flag is
// always cleared.
func (s *Store) RefreshModels(ctx context.Context) error {
	s.update(func() {
		s.loading = true
		s.lastErr = ""
	})

	err := s.backend.RefreshCatalog(ctx)

	s.update(func() {
		s.loading = false
		if err != nil {
			s.lastErr = backend.Message(err)
			return
		}
		s.available = s.backend.AvailableModels()
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("refresh models failed")
	}
	return err
}

// RefreshInstalledModels replaces the installed set wholesale.
func (s *Store) RefreshInstalledModels(ctx context.Context) error {
	ids, err := s.backend.InstalledModels(ctx)

	s.update(func() {
		if err != nil {
			s.lastErr = "Failed to refresh installed models: " + backend.Message(err)
			return
		}
		s.installed = slices.Clone(ids)
		for _, id := range ids {
			if !slices.ContainsFunc(s.available, func(m api.ModelInfo) bool { return m.ID == id }) {
				s.logger.Debug().Str("model", id).Msg("installed model missing from catalog")
			}
		}
	})
	return err
}

// DownloadModel installs id. The download record is completed or error when
// this returns; on success the installed set and catalog are refreshed.
func (s *Store) DownloadModel(ctx context.Context, id string) error {
	var busy bool
	s.update(func() {
		if rec, ok := s.downloads[id]; ok && rec.Status == StatusDownloading {
			busy = true
			return
		}
		s.downloads[id] = DownloadProgress{
			Model:     id,
			Status:    StatusDownloading,
			StartedAt: s.now(),
		}
	})
	if busy {
		return fmt.Errorf("%s: %w", id, ErrDownloadInProgress)
	}
	s.logger.Info().Str("model", id).Msg("download started")

	pollCtx, stopPoll := context.WithCancel(ctx)
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		s.pollProgress(pollCtx, id)
	}()

	_, err := s.backend.InstallModel(ctx, id)
	stopPoll()
	<-polled

	if err != nil {
		msg := backend.Message(err)
		s.update(func() {
			rec := s.downloads[id]
			rec.Status = StatusError
			rec.Error = msg
			rec.Speed = 0
			rec.ETA = 0
			rec.FinishedAt = s.now()
			s.downloads[id] = rec
			s.lastErr = msg
		})
		s.logger.Error().Err(err).Str("model", id).Msg("download failed")
		return err
	}

	s.update(func() {
		rec := s.downloads[id]
		rec.Status = StatusCompleted
		rec.Progress = 100
		if rec.Total > 0 {
			rec.Downloaded = rec.Total
		}
		rec.Speed = 0
		rec.ETA = 0
		rec.FinishedAt = s.now()
		s.downloads[id] = rec
	})
	s.logger.Info().Str("model", id).Msg("download completed")

	// Both refreshes record their own errors; the install itself succeeded.
	_ = s.RefreshInstalledModels(ctx)
	_ = s.RefreshModels(ctx)
	return nil
}

// pollProgress copies backend-reported progress into the record until ctx
// is cancelled or the backend says it cannot report progress.
func (s *Store) pollProgress(ctx context.Context, id string) {
	if s.pollInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := s.backend.DownloadProgress(ctx, id)
		if errors.Is(err, backend.ErrUnsupported) {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug().Err(err).Str("model", id).Msg("progress poll failed")
			continue
		}
		s.applyStatus(id, status)
	}
}

func (s *Store) applyStatus(id string, status *api.DownloadStatus) {
	s.update(func() {
		rec, ok := s.downloads[id]
		if !ok || rec.Status != StatusDownloading {
			return
		}
		now := s.now()
		if elapsed := now.Sub(rec.StartedAt).Seconds(); elapsed > 0 && status.Downloaded > 0 {
			rec.Speed = float64(status.Downloaded) / elapsed
			if status.Total > status.Downloaded {
				rec.ETA = time.Duration(float64(status.Total-status.Downloaded) / rec.Speed * float64(time.Second))
			}
		}
		rec.Downloaded = status.Downloaded
		rec.Total = status.Total
		rec.Progress = clampProgress(status.Progress)
		s.downloads[id] = rec
	})
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// RemoveModel removes id from the backend, then refreshes the installed set
// and the catalog whether or not the removal succeeded. Removal has no
// progress record.
func (s *Store) RemoveModel(ctx context.Context, id string) error {
	_, err := s.backend.RemoveModel(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("model", id).Msg("remove failed")
	}

	_ = s.RefreshInstalledModels(ctx)
	_ = s.RefreshModels(ctx)

	if err != nil {
		s.update(func() { s.lastErr = backend.Message(err) })
	}
	return err
}

// SearchModels matches query against the backend's in-memory catalog.
func (s *Store) SearchModels(query string) []api.ModelInfo {
	return s.backend.SearchModels(query)
}

func (s *Store) SetAvailableModels(models []api.ModelInfo) {
	s.update(func() { s.available = slices.Clone(models) })
}

func (s *Store) SetInstalledModels(ids []string) {
	s.update(func() { s.installed = slices.Clone(ids) })
}

// SetCurrentModel selects id. An empty id clears the selection.
func (s *Store) SetCurrentModel(id string) {
	s.update(func() { s.current = id })
}

func (s *Store) SetDownloadProgress(id string, p DownloadProgress) {
	p.Model = id
	s.update(func() { s.downloads[id] = p })
}

func (s *Store) RemoveDownloadProgress(id string) {
	s.update(func() { delete(s.downloads, id) })
}

// SetError records msg as the store error. An empty msg clears it.
func (s *Store) SetError(msg string) {
	s.update(func() { s.lastErr = msg })
}

// ToggleFavorite adds or removes id from the favorites and reports whether
// it is now a favorite.
func (s *Store) ToggleFavorite(id string) bool {
	var fav bool
	s.update(func() {
		if i := slices.Index(s.favorites, id); i >= 0 {
			s.favorites = slices.Delete(s.favorites, i, i+1)
			return
		}
		s.favorites = append(s.favorites, id)
		fav = true
	})
	return fav
}

func (s *Store) AvailableModels() []api.ModelInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.available)
}

func (s *Store) InstalledModels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.installed)
}

func (s *Store) IsInstalled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.installed, id)
}

func (s *Store) CurrentModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Model returns the catalog entry for id.
func (s *Store) Model(id string) (api.ModelInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.available, func(m api.ModelInfo) bool { return m.ID == id })
	if i < 0 {
		return api.ModelInfo{}, false
	}
	return s.available[i], true
}

func (s *Store) Favorites() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.favorites)
}

func (s *Store) IsFavorite(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.favorites, id)
}

func (s *Store) DownloadProgress(id string) (DownloadProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.downloads[id]
	return p, ok
}

// Downloads returns all download records ordered by model ID.
func (s *Store) Downloads() []DownloadProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DownloadProgress, 0, len(s.downloads))
	for _, p := range s.downloads {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Error returns the last recorded error message, or "".
func (s *Store) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// SaveErr returns the error of the last snapshot write, or nil when it
// succeeded.
func (s *Store) SaveErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveErr
}
