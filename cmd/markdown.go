package cmd

import (
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/rivo/tview"

	"github.com/ThatCatDev/runmymodel/internal/prefs"
)

// glamourStyle maps the app theme to a glamour standard style.
func glamourStyle(theme prefs.Theme) string {
	if theme == prefs.ThemeDark {
		return "dark"
	}
	return "light"
}

// renderANSI renders markdown to ANSI-colored text.
func renderANSI(content string, theme prefs.Theme, wrap int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(glamourStyle(theme)),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return "", err
	}
	out, err := r.Render(content)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// renderTerminal renders markdown for stdout, leaving it as is when stdout
// is not a terminal.
func renderTerminal(content string, theme prefs.Theme) string {
	if !isTerminal(os.Stdout) {
		return content
	}
	out, err := renderANSI(content, theme, 100)
	if err != nil {
		return content
	}
	return out
}

// renderTview renders markdown into tview color tags.
func renderTview(content string, theme prefs.Theme) string {
	out, err := renderANSI(content, theme, 0)
	if err != nil {
		return tview.Escape(content)
	}
	translated := tview.TranslateANSI(stripANSIUnderline(out))
	return stripTviewUnderline(translated)
}

var ansiSGR = regexp.MustCompile("\x1b\\[([0-9;:]*)m")
var tviewTag = regexp.MustCompile(`\[([^\[\]]*):([^\[\]]*):([^\[\]]*)\]`)

// stripTviewUnderline removes 'u' from the attributes field of tview color
// tags like [fg:bg:attrs].
func stripTviewUnderline(s string) string {
	return tviewTag.ReplaceAllStringFunc(s, func(tag string) string {
		inner := tag[1 : len(tag)-1]
		parts := strings.SplitN(inner, ":", 3)
		if len(parts) < 3 {
			return tag
		}
		attrs := parts[2]
		if !strings.ContainsRune(attrs, 'u') {
			return tag
		}
		newAttrs := strings.ReplaceAll(attrs, "u", "")
		if newAttrs == "" {
			newAttrs = "-"
		}
		return "[" + parts[0] + ":" + parts[1] + ":" + newAttrs + "]"
	})
}

// stripANSIUnderline removes underline (4, 4:N) and no-underline (24)
// parameters from SGR sequences, keeping colors intact.
func stripANSIUnderline(s string) string {
	return ansiSGR.ReplaceAllStringFunc(s, func(seq string) string {
		inner := seq[2 : len(seq)-1]
		if inner == "" {
			return seq
		}
		params := strings.Split(inner, ";")
		var out []string
		for i := 0; i < len(params); i++ {
			p := params[i]
			if p == "4" || p == "24" || strings.HasPrefix(p, "4:") {
				continue
			}
			// 38;5;N and 48;5;N
			if (p == "38" || p == "48") && i+2 < len(params) && params[i+1] == "5" {
				out = append(out, params[i:i+3]...)
				i += 2
				continue
			}
			// 38;2;R;G;B and 48;2;R;G;B
			if (p == "38" || p == "48") && i+4 < len(params) && params[i+1] == "2" {
				out = append(out, params[i:i+5]...)
				i += 4
				continue
			}
			out = append(out, p)
		}
		if len(out) == 0 {
			return ""
		}
		return "\x1b[" + strings.Join(out, ";") + "m"
	})
}
