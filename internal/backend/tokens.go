package backend

import (
	"math"

	"github.com/ThatCatDev/runmymodel/pkg/api"
)

const (
	defaultCharsPerToken = 3.5
	roleOverheadTokens   = 4 // per-message overhead for role, separators, etc.
)

// TokenEstimator estimates token counts using a chars-per-token ratio. It
// fills in usage for backends that don't report it.
type TokenEstimator struct {
	charsPerToken float64
}

// NewTokenEstimator creates a TokenEstimator with the default ratio.
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{charsPerToken: defaultCharsPerToken}
}

// NewTokenEstimatorWithRatio creates a TokenEstimator for a known ratio.
// Non-positive ratios fall back to the default.
func NewTokenEstimatorWithRatio(charsPerToken float64) *TokenEstimator {
	if charsPerToken <= 0 {
		charsPerToken = defaultCharsPerToken
	}
	return &TokenEstimator{charsPerToken: charsPerToken}
}

// Estimate returns the estimated token count for the given text.
func (e *TokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / e.charsPerToken))
}

// EstimateMessages returns the estimated total tokens for a conversation,
// including per-message role overhead.
func (e *TokenEstimator) EstimateMessages(msgs []api.ChatMessage) int {
	total := 0
	for _, msg := range msgs {
		total += roleOverheadTokens
		total += e.Estimate(msg.Content)
	}
	return total
}

// EstimateUsage builds an estimated Usage for a completed exchange.
func (e *TokenEstimator) EstimateUsage(msgs []api.ChatMessage, completion string) *api.Usage {
	prompt := e.EstimateMessages(msgs)
	reply := e.Estimate(completion)
	return &api.Usage{
		PromptTokens:     prompt,
		CompletionTokens: reply,
		TotalTokens:      prompt + reply,
		Estimated:        true,
	}
}
