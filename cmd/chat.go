package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ThatCatDev/runmymodel/internal/backend"
	"github.com/ThatCatDev/runmymodel/internal/chat"
	"github.com/ThatCatDev/runmymodel/pkg/api"
)

var (
	sendModel string
	sendChat  string
	newTitle  string
	newModel  string
	showJSON  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Manage chat sessions",
}

var chatSendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message in the current chat (a new chat is started if none is selected)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := strings.TrimSpace(strings.Join(args, " "))
		if content == "" {
			return errors.New("message is empty")
		}
		return withApp(cmd.Context(), func(a *app) error {
			if sendChat != "" {
				id, err := resolveChat(a.chats, sendChat)
				if err != nil {
					return err
				}
				if err := a.chats.SetCurrentChat(id); err != nil {
					return err
				}
			}

			model := a.catalog.CurrentModel()
			if sendModel != "" {
				model = a.resolveModel(sendModel)
			}

			err := a.chats.SendMessage(cmd.Context(), content, model)
			c, _ := a.chats.CurrentChat()
			if err != nil {
				return fmt.Errorf("chat %s: %s", shortID(c.ID), backend.Message(err))
			}

			reply := c.Messages[len(c.Messages)-1].Content
			fmt.Println(renderTerminal(reply, a.prefs.Theme()))
			if u := formatUsage(a.chats.LastUsage()); u != "" && verbose {
				fmt.Fprintf(os.Stderr, "[%s | %s]\n", c.Model, u)
			}
			return nil
		})
	},
}

var chatListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			chats := a.chats.Chats()
			if len(chats) == 0 {
				fmt.Println("No chats yet.")
				return nil
			}
			current := a.chats.CurrentChatID()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\tID\tTITLE\tMODEL\tMESSAGES\tUPDATED")
			for _, c := range chats {
				mark := ""
				if c.ID == current {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", mark, shortID(c.ID), c.Title, c.Model, len(c.Messages), formatTime(c.UpdatedAt))
			}
			return w.Flush()
		})
	},
}

var chatShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print a chat (the current one by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id := a.chats.CurrentChatID()
			if len(args) == 1 {
				var err error
				if id, err = resolveChat(a.chats, args[0]); err != nil {
					return err
				}
			}
			c, ok := a.chats.Chat(id)
			if !ok {
				return errors.New("no chat selected")
			}
			if showJSON {
				return writeJSON(os.Stdout, c)
			}

			fmt.Printf("%s  (%s, %s)\n\n", c.Title, c.Model, formatTime(c.CreatedAt))
			for _, m := range c.Messages {
				fmt.Printf("%s:\n%s\n\n", roleLabel(m.Role), renderTerminal(m.Content, a.prefs.Theme()))
			}
			return nil
		})
	},
}

var chatNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new chat and make it current",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			model := a.catalog.CurrentModel()
			if newModel != "" {
				model = a.resolveModel(newModel)
			}
			title := newTitle
			if title == "" {
				title = "New Chat"
			}
			id := a.chats.AddChat(chat.NewChat{Title: title, Model: model})
			fmt.Printf("Started chat %s.\n", shortID(id))
			return nil
		})
	},
}

var chatDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id, err := resolveChat(a.chats, args[0])
			if err != nil {
				return err
			}
			if err := a.chats.DeleteChat(id); err != nil {
				return err
			}
			fmt.Printf("Deleted chat %s.\n", shortID(id))
			return nil
		})
	},
}

var chatPromptCmd = &cobra.Command{
	Use:   "prompt <chat-id> <preset>",
	Short: "Apply a system prompt preset to a chat",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id, err := resolveChat(a.chats, args[0])
			if err != nil {
				return err
			}
			p, ok := a.prompts.Get(args[1])
			if !ok {
				return fmt.Errorf("unknown prompt %q (see: runmymodel prompts)", args[1])
			}
			if err := a.chats.ApplySystemPrompt(id, p.Content); err != nil {
				return err
			}
			fmt.Printf("Applied %q to chat %s.\n", p.Name, shortID(id))
			return nil
		})
	},
}

// resolveChat accepts a full chat ID or an unambiguous prefix of one.
func resolveChat(s *chat.Store, ref string) (string, error) {
	if _, ok := s.Chat(ref); ok {
		return ref, nil
	}
	var matches []string
	for _, c := range s.Chats() {
		if strings.HasPrefix(c.ID, ref) {
			matches = append(matches, c.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", chat.ErrChatNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("chat id %q is ambiguous (%d matches)", ref, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func roleLabel(r api.Role) string {
	switch r {
	case api.RoleUser:
		return "You"
	case api.RoleSystem:
		return "System"
	default:
		return "Assistant"
	}
}

func init() {
	chatSendCmd.Flags().StringVarP(&sendModel, "model", "m", "", "model to use (default: the current model)")
	chatSendCmd.Flags().StringVar(&sendChat, "chat", "", "chat to send to (default: the current chat)")
	chatShowCmd.Flags().BoolVar(&showJSON, "json", false, "print the chat as JSON")
	chatNewCmd.Flags().StringVar(&newTitle, "title", "", "chat title")
	chatNewCmd.Flags().StringVarP(&newModel, "model", "m", "", "model for the chat (default: the current model)")

	chatCmd.AddCommand(chatSendCmd, chatListCmd, chatShowCmd, chatNewCmd, chatDeleteCmd, chatPromptCmd)
	rootCmd.AddCommand(chatCmd)
}
