package catalog

import (
	"cmp"
	"slices"
	"strings"

	"github.com/ThatCatDev/runmymodel/internal/backend"
	"github.com/ThatCatDev/runmymodel/pkg/api"
)

// Sort orders for Filter.
const (
	SortNone   = ""
	SortName   = "name"
	SortSize   = "size"
	SortRating = "rating"
)

// CategoryAll disables category filtering.
const CategoryAll = "all"

// FilterOptions selects and orders catalog entries.
type FilterOptions struct {
	Query         string // substring of ID, name, task or size class
	Category      string // task, case-insensitive; "" or "all" for every task
	FavoritesOnly bool
	InstalledOnly bool
	Sort          string // name, size (largest first), rating (highest first)
}

// Category is a task with the number of catalog entries that have it.
type Category struct {
	Name  string
	Count int
}

// Filter returns the catalog entries matching opts. The result is never nil.
func (s *Store) Filter(opts FilterOptions) []api.ModelInfo {
	s.mu.Lock()
	models := slices.Clone(s.available)
	favorites := slices.Clone(s.favorites)
	installed := slices.Clone(s.installed)
	s.mu.Unlock()

	query := strings.ToLower(strings.TrimSpace(opts.Query))
	out := make([]api.ModelInfo, 0, len(models))
	for _, m := range models {
		if query != "" && !matchesQuery(m, query) {
			continue
		}
		if opts.Category != "" && !strings.EqualFold(opts.Category, CategoryAll) && !strings.EqualFold(m.Task, opts.Category) {
			continue
		}
		if opts.FavoritesOnly && !slices.Contains(favorites, m.ID) {
			continue
		}
		if opts.InstalledOnly && !m.Downloaded && !slices.Contains(installed, m.ID) {
			continue
		}
		out = append(out, m)
	}

	switch opts.Sort {
	case SortName:
		slices.SortStableFunc(out, func(a, b api.ModelInfo) int {
			return cmp.Compare(strings.ToLower(a.ID), strings.ToLower(b.ID))
		})
	case SortSize:
		slices.SortStableFunc(out, func(a, b api.ModelInfo) int {
			return cmp.Compare(backend.ApproxSize(b), backend.ApproxSize(a))
		})
	case SortRating:
		slices.SortStableFunc(out, func(a, b api.ModelInfo) int {
			return cmp.Compare(rating(b), rating(a))
		})
	}
	return out
}

// Categories lists the tasks in the catalog, most common first.
func (s *Store) Categories() []Category {
	s.mu.Lock()
	counts := map[string]int{}
	for _, m := range s.available {
		task := m.Task
		if task == "" {
			task = "Text Generation"
		}
		counts[task]++
	}
	s.mu.Unlock()

	out := make([]Category, 0, len(counts))
	for name, n := range counts {
		out = append(out, Category{Name: name, Count: n})
	}
	slices.SortFunc(out, func(a, b Category) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

func matchesQuery(m api.ModelInfo, q string) bool {
	for _, field := range []string{m.ID, m.Name, m.Task, m.SizeClass} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

func rating(m api.ModelInfo) float64 {
	if m.Rating == nil {
		return 0
	}
	return *m.Rating
}
