package backend

import "github.com/ThatCatDev/runmymodel/pkg/api"

// fallbackRating is the rating the built-in entries carry.
var fallbackRating = 12.0

// FallbackModels returns the built-in catalog for kind, used when neither
// the backend nor the persisted cache can supply one. The result is never
// empty.
func FallbackModels(kind Kind) []api.ModelInfo {
	if kind == KindOllama {
		return popularOllamaModels()
	}

	entry := func(id, size, task string) api.ModelInfo {
		rating := fallbackRating
		return api.ModelInfo{
			ID:        id,
			Name:      displayName(id),
			SizeClass: size,
			Task:      task,
			Rating:    &rating,
			URL:       "https://huggingface.co/" + id,
		}
	}
	return []api.ModelInfo{
		entry("Qwen/Qwen2.5-7B-Instruct", "7B", "Text Generation"),
		entry("meta-llama/Llama-3.1-8B-Instruct", "8B", "Text Generation"),
		entry("microsoft/CodeLlama-7b-Instruct-hf", "7B", "Code Generation"),
	}
}
