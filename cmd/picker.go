package cmd

import (
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/ThatCatDev/runmymodel/pkg/api"
)

// modelSource exposes catalog entries to fuzzy matching.
type modelSource []api.ModelInfo

func (s modelSource) String(i int) string {
	return strings.ToLower(s[i].ID + " " + s[i].Name)
}

func (s modelSource) Len() int { return len(s) }

// rankModels returns the models matching query best first. An empty query
// returns the models unchanged.
func rankModels(query string, models []api.ModelInfo) []api.ModelInfo {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return models
	}
	matches := fuzzy.FindFrom(query, modelSource(models))
	out := make([]api.ModelInfo, len(matches))
	for i, m := range matches {
		out[i] = models[m.Index]
	}
	return out
}
