package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"github.com/ThatCatDev/runmymodel/internal/backend"
	"github.com/ThatCatDev/runmymodel/internal/catalog"
	"github.com/ThatCatDev/runmymodel/internal/chat"
	"github.com/ThatCatDev/runmymodel/internal/prefs"
	"github.com/ThatCatDev/runmymodel/pkg/api"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the interactive chat interface",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()
		return newTuiApp(cmd.Context(), a).run()
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

type renderedMessage struct {
	content string
	theme   prefs.Theme
	out     string
}

// tuiApp owns the widgets. Widget state is only touched on the tview event
// goroutine; store callbacks queue a redraw.
type tuiApp struct {
	ctx context.Context
	a   *app

	app        *tview.Application
	rootFlex   *tview.Flex // vertical: mainArea + statusBar + hDiv + input + hDiv
	mainArea   *tview.Flex // horizontal: [sessions + vDiv +] chatView
	sessions   *tview.List
	chatView   *tview.TextView
	statusBar  *tview.TextView
	inputField *tview.InputField

	sessionIDs   []string
	notices      []string
	rendered     map[string]renderedMessage
	ctrlCPending bool
	sending      bool // a turn was started from the input and has not finished

	turnStart      time.Time
	progressTicker *time.Ticker
	progressStop   chan struct{}
}

func newTuiApp(ctx context.Context, a *app) *tuiApp {
	t := &tuiApp{
		ctx:      ctx,
		a:        a,
		rendered: make(map[string]renderedMessage),
	}

	t.app = tview.NewApplication()

	t.chatView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	t.chatView.SetBorder(false)

	t.sessions = tview.NewList().
		ShowSecondaryText(true).
		SetHighlightFullLine(true)
	t.sessions.SetBorder(false)
	t.sessions.SetSelectedFunc(func(i int, _, _ string, _ rune) {
		if i < len(t.sessionIDs) {
			if err := t.a.chats.SetCurrentChat(t.sessionIDs[i]); err != nil {
				t.notice("Error: %v", err)
			}
		}
		t.app.SetFocus(t.inputField)
	})

	t.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	t.statusBar.SetBorder(false)

	t.inputField = tview.NewInputField().
		SetLabel("[blue::b] > [-:-:-]").
		SetLabelWidth(4).
		SetFieldBackgroundColor(tcell.ColorDefault)
	t.inputField.SetBorder(false)

	t.mainArea = tview.NewFlex().SetDirection(tview.FlexColumn)
	t.layoutMainArea()

	t.rootFlex = tview.NewFlex().SetDirection(tview.FlexRow)
	t.rootFlex.AddItem(t.mainArea, 0, 1, false)
	t.rootFlex.AddItem(t.statusBar, 1, 0, false)
	t.rootFlex.AddItem(newHDivider(), 1, 0, false)
	t.rootFlex.AddItem(t.inputField, 1, 0, true)
	t.rootFlex.AddItem(newHDivider(), 1, 0, false)

	redraw := func() { go t.app.QueueUpdateDraw(t.refresh) }
	a.chats.OnChange(redraw)
	a.catalog.OnChange(redraw)

	t.setupInputCapture()
	t.refresh()
	return t
}

// newHDivider creates a 1-row box that draws a horizontal line.
func newHDivider() *tview.Box {
	box := tview.NewBox()
	box.SetDrawFunc(func(screen tcell.Screen, x, y, width, height int) (int, int, int, int) {
		style := tcell.StyleDefault.Foreground(tcell.ColorDarkGray)
		for cx := x; cx < x+width; cx++ {
			screen.SetContent(cx, y, tcell.RuneHLine, nil, style)
		}
		return x, y, width, height
	})
	return box
}

// newVDivider creates a 1-col box that draws a vertical line.
func newVDivider() *tview.Box {
	box := tview.NewBox()
	box.SetDrawFunc(func(screen tcell.Screen, x, y, width, height int) (int, int, int, int) {
		style := tcell.StyleDefault.Foreground(tcell.ColorDarkGray)
		for cy := y; cy < y+height; cy++ {
			screen.SetContent(x, cy, tcell.RuneVLine, nil, style)
		}
		return x, y, width, height
	})
	return box
}

func (t *tuiApp) run() error {
	defer t.stopProgressTicker()
	defer t.a.chats.OnChange(nil)
	defer t.a.catalog.OnChange(nil)
	return t.app.SetRoot(t.rootFlex, true).EnableMouse(true).Run()
}

func (t *tuiApp) layoutMainArea() {
	t.mainArea.Clear()
	if !t.a.prefs.Settings().SidebarCollapsed {
		t.mainArea.AddItem(t.sessions, 28, 0, false)
		t.mainArea.AddItem(newVDivider(), 1, 0, false)
	}
	t.mainArea.AddItem(t.chatView, 0, 1, false)
}

// ── Input Capture ──────────────────────────────────────────────────────

func (t *tuiApp) setupInputCapture() {
	t.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() != tcell.KeyCtrlC {
			t.ctrlCPending = false
		}
		inputFocused := t.app.GetFocus() == t.inputField

		switch event.Key() {
		case tcell.KeyCtrlC:
			if t.ctrlCPending {
				t.app.Stop()
				return nil
			}
			t.ctrlCPending = true
			t.notice("Press Ctrl+C again to quit.")
			t.refresh()
			return nil

		case tcell.KeyCtrlD:
			t.app.Stop()
			return nil

		case tcell.KeyTab:
			if t.a.prefs.Settings().SidebarCollapsed {
				return nil
			}
			if inputFocused {
				t.app.SetFocus(t.sessions)
			} else {
				t.app.SetFocus(t.inputField)
			}
			return nil

		case tcell.KeyEscape:
			t.app.SetFocus(t.inputField)
			return nil

		case tcell.KeyPgUp:
			t.scrollChat(-10)
			return nil
		case tcell.KeyPgDn:
			t.scrollChat(10)
			return nil
		}

		if !inputFocused {
			return event
		}

		switch event.Key() {
		case tcell.KeyUp:
			t.scrollChat(-1)
			return nil
		case tcell.KeyDown:
			t.scrollChat(1)
			return nil
		case tcell.KeyEnter:
			text := strings.TrimSpace(t.inputField.GetText())
			if text == "" {
				return nil
			}
			t.inputField.SetText("")
			t.handleEnter(text)
			return nil
		}
		return event
	})
}

func (t *tuiApp) scrollChat(delta int) {
	row, col := t.chatView.GetScrollOffset()
	t.chatView.ScrollTo(max(0, row+delta), col)
}

// ── Enter Handler ──────────────────────────────────────────────────────

func (t *tuiApp) handleEnter(text string) {
	if text == "/quit" || text == "/exit" {
		t.app.Stop()
		return
	}
	t.notices = nil

	if strings.HasPrefix(text, "/") {
		t.handleSlashCommand(text)
		t.refresh()
		return
	}

	if !t.beginTurn() {
		t.notice("Still waiting for the previous reply.")
		t.refresh()
		return
	}

	model := t.a.catalog.CurrentModel()
	t.turnStart = time.Now()
	t.startProgressTicker()
	go func() {
		// The reply, or the error text, lands in the chat as the assistant
		// message; the store's OnChange redraws it.
		_ = t.a.chats.SendMessage(t.ctx, text, model)
		t.app.QueueUpdateDraw(func() {
			t.endTurn()
			t.stopProgressTicker()
			t.refresh()
		})
	}()
}

// beginTurn claims the single send slot. It runs on the event loop, so the
// slot is taken before the turn's goroutine marks the store as loading.
func (t *tuiApp) beginTurn() bool {
	if t.sending || t.a.chats.IsLoading() {
		return false
	}
	t.sending = true
	return true
}

func (t *tuiApp) endTurn() { t.sending = false }

// ── Slash Commands ──────────────────────────────────────────────────────

func (t *tuiApp) handleSlashCommand(input string) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/help":
		t.notice("Commands:")
		t.notice("  /new [title]        Start a new chat")
		t.notice("  /delete             Delete the current chat")
		t.notice("  /model <query>      Pick the model (fuzzy match)")
		t.notice("  /prompt [id]        Apply a system prompt preset")
		t.notice("  /pull <model>       Install a model")
		t.notice("  /theme              Toggle light/dark")
		t.notice("  /sidebar            Show or hide the chat list")
		t.notice("  /quit, /exit        Exit")

	case "/new":
		title := arg
		if title == "" {
			title = "New Chat"
		}
		t.a.chats.AddChat(chat.NewChat{Title: title, Model: t.a.catalog.CurrentModel()})

	case "/delete":
		id := t.a.chats.CurrentChatID()
		if id == "" {
			t.notice("No chat selected.")
			return
		}
		if err := t.a.chats.DeleteChat(id); err != nil {
			t.notice("Error: %v", err)
		}

	case "/model":
		t.pickModel(arg)

	case "/prompt":
		t.applyPrompt(arg)

	case "/pull":
		if arg == "" {
			t.notice("Usage: /pull <model>")
			return
		}
		id := t.a.resolveModel(arg)
		t.notice("Pulling %s...", id)
		go func() {
			err := t.a.catalog.DownloadModel(t.ctx, id)
			t.app.QueueUpdateDraw(func() {
				if err != nil {
					t.notice("Pull %s failed: %s", id, backend.Message(err))
				} else {
					t.notice("Installed %s.", id)
				}
				t.refresh()
			})
		}()

	case "/theme":
		next := prefs.ThemeDark
		if t.a.prefs.Theme() == prefs.ThemeDark {
			next = prefs.ThemeLight
		}
		if err := t.a.prefs.SetTheme(next); err != nil {
			t.notice("Error: %v", err)
		}

	case "/sidebar":
		collapsed := !t.a.prefs.Settings().SidebarCollapsed
		if err := t.a.prefs.SetSidebarCollapsed(collapsed); err != nil {
			t.notice("Error: %v", err)
		}
		t.layoutMainArea()
		t.app.SetFocus(t.inputField)

	default:
		t.notice("Unknown command %s (try /help)", name)
	}
}

func (t *tuiApp) pickModel(query string) {
	ranked := rankModels(query, t.a.catalog.AvailableModels())
	if len(ranked) == 0 {
		t.notice("No model matches %q.", query)
		return
	}
	if query == "" {
		t.notice("Current model: %s", orDash(t.a.catalog.CurrentModel()))
		for _, m := range ranked[:min(len(ranked), 10)] {
			t.notice("  %s", m.ID)
		}
		return
	}

	best := ranked[0].ID
	t.a.catalog.SetCurrentModel(best)
	if id := t.a.chats.CurrentChatID(); id != "" {
		_ = t.a.chats.UpdateChat(id, chat.ChatUpdate{Model: &best})
	}
	t.notice("Using %s.", best)
	if len(ranked) > 1 {
		var others []string
		for _, m := range ranked[1:min(len(ranked), 5)] {
			others = append(others, m.ID)
		}
		t.notice("  also matched: %s", strings.Join(others, ", "))
	}
	if !t.a.catalog.IsInstalled(best) && !ranked[0].Downloaded {
		t.notice("  not installed; /pull %s", best)
	}
}

func (t *tuiApp) applyPrompt(id string) {
	if id == "" {
		t.notice("Prompts:")
		for _, p := range t.a.prompts.List() {
			t.notice("  %-12s %s", p.ID, p.Description)
		}
		return
	}
	p, ok := t.a.prompts.Get(id)
	if !ok {
		t.notice("Unknown prompt %q.", id)
		return
	}
	chatID := t.a.chats.CurrentChatID()
	if chatID == "" {
		chatID = t.a.chats.AddChat(chat.NewChat{Title: p.Name, Model: t.a.catalog.CurrentModel()})
	}
	if err := t.a.chats.ApplySystemPrompt(chatID, p.Content); err != nil {
		t.notice("Error: %v", err)
		return
	}
	t.notice("Applied %s.", p.Name)
}

// ── Content ─────────────────────────────────────────────────────────────

func (t *tuiApp) notice(format string, args ...any) {
	t.notices = append(t.notices, fmt.Sprintf(format, args...))
}

func (t *tuiApp) refresh() {
	t.refreshSessions()
	t.refreshChatView()
	t.updateStatusBar()
}

func (t *tuiApp) refreshSessions() {
	chats := t.a.chats.Chats()
	current := t.a.chats.CurrentChatID()

	t.sessions.Clear()
	t.sessionIDs = t.sessionIDs[:0]
	selected := -1
	for i := len(chats) - 1; i >= 0; i-- {
		c := chats[i]
		if c.ID == current {
			selected = len(t.sessionIDs)
		}
		t.sessionIDs = append(t.sessionIDs, c.ID)
		t.sessions.AddItem(tview.Escape(c.Title), "[gray::-]"+tview.Escape(orDash(c.Model))+"[-:-:-]", 0, nil)
	}
	if selected >= 0 {
		t.sessions.SetCurrentItem(selected)
	}
}

func (t *tuiApp) refreshChatView() {
	var lines []string
	if c, ok := t.a.chats.CurrentChat(); ok {
		lines = append(lines, fmt.Sprintf("[::b]%s[-:-:-]", tview.Escape(c.Title)), "")
		for _, m := range c.Messages {
			lines = append(lines, t.formatMessage(m), "")
		}
	} else {
		lines = append(lines, "[gray::-]  Type a message to start a chat, or /help.[-:-:-]", "")
	}
	for _, n := range t.notices {
		lines = append(lines, "[gray::-]  "+tview.Escape(n)+"[-:-:-]")
	}

	t.chatView.SetText(strings.Join(lines, "\n"))
	t.chatView.ScrollToEnd()
}

func (t *tuiApp) formatMessage(m api.ChatMessage) string {
	switch m.Role {
	case api.RoleUser:
		return fmt.Sprintf(" [blue::b]>>>[white] %s", tview.Escape(m.Content))
	case api.RoleSystem:
		return fmt.Sprintf("[gray::-]  system: %s[-:-:-]", tview.Escape(chat.Title(m.Content)))
	}

	switch {
	case m.Content == "":
		return " [purple::b] * [gray::-]thinking...[-:-:-]"
	case strings.HasPrefix(m.Content, "Error: "):
		return " [purple::b] * [red::-]" + tview.Escape(m.Content) + "[-:-:-]"
	}

	theme := t.a.prefs.Theme()
	if r, ok := t.rendered[m.ID]; ok && r.content == m.Content && r.theme == theme {
		return r.out
	}
	out := " [purple::b] * [-:-:-]" + renderTview(m.Content, theme)
	t.rendered[m.ID] = renderedMessage{content: m.Content, theme: theme, out: out}
	return out
}

func (t *tuiApp) updateStatusBar() {
	parts := []string{"model: " + orDash(t.a.catalog.CurrentModel())}

	if t.sending || t.a.chats.IsLoading() {
		status := "Thinking..."
		if !t.turnStart.IsZero() {
			status += fmt.Sprintf(" %ds", int(time.Since(t.turnStart).Seconds()))
		}
		parts = append(parts, status)
	} else if u := formatUsage(t.a.chats.LastUsage()); u != "" {
		parts = append(parts, u)
	}

	for _, d := range t.a.catalog.Downloads() {
		if d.Status == catalog.StatusDownloading {
			parts = append(parts, fmt.Sprintf("pull %s %.0f%%", d.Model, d.Progress))
		}
	}

	text := " [gray::-]" + tview.Escape(strings.Join(parts, " | ")) + "[-:-:-]"
	if msg := t.a.chats.Err(); msg != "" {
		text += " [red::-]" + tview.Escape(msg) + "[-:-:-]"
	} else if msg := t.a.catalog.Error(); msg != "" {
		text += " [red::-]" + tview.Escape(msg) + "[-:-:-]"
	}
	t.statusBar.SetText(text)
}

func (t *tuiApp) startProgressTicker() {
	t.stopProgressTicker()
	t.progressStop = make(chan struct{})
	t.progressTicker = time.NewTicker(500 * time.Millisecond)
	stop := t.progressStop
	ticker := t.progressTicker
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				t.app.QueueUpdateDraw(t.updateStatusBar)
			}
		}
	}()
}

func (t *tuiApp) stopProgressTicker() {
	if t.progressTicker != nil {
		t.progressTicker.Stop()
		t.progressTicker = nil
	}
	if t.progressStop != nil {
		close(t.progressStop)
		t.progressStop = nil
	}
	t.turnStart = time.Time{}
}
