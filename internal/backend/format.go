package backend

import (
	"path"
	"strconv"
	"strings"

	"github.com/ThatCatDev/runmymodel/pkg/api"
)

// ApproxSize returns m.Size, or a rough byte count derived from the size
// class ("7B" is treated as 7 GiB) when the size is unknown.
func ApproxSize(m api.ModelInfo) int64 {
	if m.Size > 0 {
		return m.Size
	}
	class := strings.ToUpper(strings.TrimSpace(m.SizeClass))
	if class == "" {
		return 0
	}
	var unit float64
	switch class[len(class)-1] {
	case 'B':
		unit = 1 << 30
	case 'M':
		unit = 1 << 20
	default:
		return 0
	}
	n, err := strconv.ParseFloat(class[:len(class)-1], 64)
	if err != nil {
		return 0
	}
	return int64(n * unit)
}

// displayName is the last path segment of a model ID.
func displayName(id string) string {
	if id == "" {
		return ""
	}
	return path.Base(id)
}
