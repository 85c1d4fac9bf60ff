package backend

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ThatCatDev/runmymodel/pkg/api"
)

func TestErrorFormatting(t *testing.T) {
	err := &Error{Op: "chat", Status: 500, Message: "model not loaded"}
	assert.Equal(t, "chat: server returned 500: model not loaded", err.Error())

	err = &Error{Op: "install x", Message: "disk full"}
	assert.Equal(t, "install x: disk full", err.Error())
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "", Message(nil))
	assert.Equal(t, "plain", Message(errors.New("plain")))

	wrapped := fmt.Errorf("send: %w", &Error{Op: "chat", Message: "quota exceeded"})
	assert.Equal(t, "quota exceeded", Message(wrapped))
}

func TestWrapKeepsStatus(t *testing.T) {
	err := wrap("chat", statusError(429, []byte(`{"detail":"slow down"}`)))

	var be *Error
	assert.ErrorAs(t, err, &be)
	assert.Equal(t, "chat", be.Op)
	assert.Equal(t, 429, be.Status)
	assert.Equal(t, "slow down", be.Message)
	assert.Nil(t, wrap("chat", nil))
}

func TestExtractMessageJSONString(t *testing.T) {
	assert.Equal(t, "quoted", extractMessage([]byte(`"quoted"`), "x"))
}

func TestFallbackModels(t *testing.T) {
	native := FallbackModels(KindNative)
	assert.Len(t, native, 3)
	for _, m := range native {
		assert.NotEmpty(t, m.Name)
		assert.NotNil(t, m.Rating)
	}
	assert.Len(t, FallbackModels(KindOllama), 12)
}

func TestApproxSize(t *testing.T) {
	assert.Equal(t, int64(100), ApproxSize(api.ModelInfo{Size: 100, SizeClass: "7B"}))
	assert.Equal(t, int64(7<<30), ApproxSize(api.ModelInfo{SizeClass: "7B"}))
	assert.Equal(t, int64(125<<20), ApproxSize(api.ModelInfo{SizeClass: "125M"}))
	assert.Equal(t, int64(0), ApproxSize(api.ModelInfo{SizeClass: "huge"}))
}

func TestParseNvidiaSMI(t *testing.T) {
	gpu := parseNvidiaSMI("NVIDIA GeForce RTX 4090, 24564, 550.54.14\n")
	assert.True(t, gpu.Available)
	assert.Equal(t, "NVIDIA GeForce RTX 4090", gpu.Name)
	assert.Equal(t, int64(24564)<<20, gpu.Memory)
	assert.Equal(t, "550.54.14", gpu.Driver)

	assert.False(t, parseNvidiaSMI("").Available)
}
