package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltins(t *testing.T) {
	l := NewLibrary()
	list := l.List()
	require.Len(t, list, 5)

	var ids []string
	for _, p := range list {
		ids = append(ids, p.ID)
		assert.NotEmpty(t, p.Content)
	}
	assert.Equal(t, []string{"analyst", "coder", "creative", "general", "researcher"}, ids)

	p, ok := l.Get("coder")
	require.True(t, ok)
	assert.Equal(t, "Code Assistant", p.Name)
}

func TestLoadOverridesByID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
prompts:
  - id: coder
    name: Go Reviewer
    content: You review Go code.
  - id: pirate
    content: Answer like a pirate.
`), 0644))

	l, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, l.List(), 6)

	coder, _ := l.Get("coder")
	assert.Equal(t, "Go Reviewer", coder.Name)
	assert.Equal(t, "You review Go code.", coder.Content)

	pirate, ok := l.Get("pirate")
	require.True(t, ok)
	assert.Equal(t, "pirate", pirate.Name, "name defaults to id")
}

func TestLoadMissingFile(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Len(t, l.List(), 5)

	l, err = Load("")
	require.NoError(t, err)
	assert.Len(t, l.List(), 5)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":      "prompts: [",
		"empty id":      "prompts:\n  - content: x\n",
		"empty content": "prompts:\n  - id: x\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "prompts.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
