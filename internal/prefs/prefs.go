// Package prefs stores application preferences.
package prefs

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ThatCatDev/runmymodel/internal/storage"
)

// Theme is the UI color scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ParseTheme accepts "light" or "dark" in any case.
func ParseTheme(s string) (Theme, error) {
	switch Theme(strings.ToLower(strings.TrimSpace(s))) {
	case ThemeLight:
		return ThemeLight, nil
	case ThemeDark:
		return ThemeDark, nil
	}
	return "", fmt.Errorf("unknown theme %q (want light or dark)", s)
}

// Settings is the persisted preference set.
type Settings struct {
	Theme            Theme `json:"theme"`
	SidebarCollapsed bool  `json:"sidebarCollapsed"`
}

// Defaults returns the preferences of a fresh install.
func Defaults() Settings {
	return Settings{Theme: ThemeLight}
}

// Store holds preferences and writes them through to kv.
type Store struct {
	kv     storage.Store
	logger zerolog.Logger

	mu       sync.Mutex
	settings Settings
}

// New loads preferences from kv (which may be nil). Missing or corrupt data
// yields the defaults.
func New(kv storage.Store, logger zerolog.Logger) *Store {
	s := &Store{
		kv:       kv,
		logger:   logger.With().Str("component", "prefs").Logger(),
		settings: Defaults(),
	}
	if kv == nil {
		return s
	}

	var loaded Settings
	err := storage.LoadJSON(kv, storage.KeyApp, &loaded)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		s.logger.Warn().Err(err).Msg("ignoring corrupt preferences")
	default:
		if _, terr := ParseTheme(string(loaded.Theme)); terr != nil {
			loaded.Theme = ThemeLight
		}
		s.settings = loaded
	}
	return s
}

func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Store) Theme() Theme {
	return s.Settings().Theme
}

func (s *Store) SetTheme(t Theme) error {
	if _, err := ParseTheme(string(t)); err != nil {
		return err
	}
	return s.save(func(st *Settings) { st.Theme = t })
}

func (s *Store) SetSidebarCollapsed(collapsed bool) error {
	return s.save(func(st *Settings) { st.SidebarCollapsed = collapsed })
}

func (s *Store) save(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.settings)
	if s.kv == nil {
		return nil
	}
	if err := storage.SaveJSON(s.kv, storage.KeyApp, s.settings); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
