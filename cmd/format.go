package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/mattn/go-isatty"

	"github.com/ThatCatDev/runmymodel/internal/catalog"
	"github.com/ThatCatDev/runmymodel/pkg/api"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func formatBytes(b int64) string {
	const (
		MB = 1024 * 1024
		GB = 1024 * MB
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatSize prefers the exact byte size and falls back to the size class.
func formatSize(m api.ModelInfo) string {
	switch {
	case m.Size > 0:
		return formatBytes(m.Size)
	case m.SizeClass != "":
		return m.SizeClass
	default:
		return "-"
	}
}

func formatRating(r *float64) string {
	if r == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *r)
}

func formatTokenCount(n int) string {
	if n >= 1000 {
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	}
	return fmt.Sprintf("%d", n)
}

// formatUsage renders token usage; estimated counts get a "~" prefix.
func formatUsage(u *api.Usage) string {
	if u == nil {
		return ""
	}
	prefix := ""
	if u.Estimated {
		prefix = "~"
	}
	return fmt.Sprintf("%s%s in / %s%s out", prefix, formatTokenCount(u.PromptTokens), prefix, formatTokenCount(u.CompletionTokens))
}

// progressLine renders one download record as a single status line.
func progressLine(p catalog.DownloadProgress) string {
	const barWidth = 30
	filled := int(float64(barWidth) * p.Progress / 100)
	filled = max(0, min(barWidth, filled))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("[%s] %3.0f%%", bar, p.Progress)
	if p.Total > 0 {
		line += fmt.Sprintf("  %s / %s", formatBytes(p.Downloaded), formatBytes(p.Total))
	}
	if p.Speed > 0 {
		line += fmt.Sprintf("  %s/s", formatBytes(int64(p.Speed)))
	}
	if p.ETA > 0 {
		line += "  eta " + p.ETA.Round(time.Second).String()
	}
	return line
}

// formatTime renders a unix-millisecond timestamp.
func formatTime(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

// writeJSON pretty-prints v, highlighted when w is a terminal.
func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	out := string(data)
	if isTerminal(w) {
		out = highlight("json", out)
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

// highlight colors content with the chroma lexer for language, returning
// it unchanged when no lexer or formatter is available.
func highlight(language, content string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(content)
	}
	if lexer == nil {
		return content
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get("monokai")
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		return content
	}

	iterator, err := lexer.Tokenise(nil, content)
	if err != nil {
		return content
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return content
	}
	return buf.String()
}
