package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adalundhe/reverie/core/agent"
	"github.com/adalundhe/reverie/core/events"
)

var chatSessionID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Opens a REPL over one session. Assistant output streams as it is
generated; tool calls and memory updates are shown inline.

Commands inside the REPL:
  /history   print the session history
  /clear     clear the session history
  /quit      exit`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "default", "session identifier")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.Close()

	session := app.sessions.GetOrCreate(chatSessionID)

	sub := app.bus.Subscribe(events.TypeStream, events.TypeToolCall, events.TypeToolResult, events.TypeSystem)
	defer sub.Cancel()
	go func() {
		for event := range sub.C {
			switch event.Type {
			case events.TypeStream:
				if text, ok := event.Data["text"].(string); ok {
					fmt.Print(text)
				}
			case events.TypeToolCall:
				fmt.Printf("\n[tool] %v\n", event.Data["name"])
			case events.TypeSystem:
				fmt.Printf("\n[context] compressed=%v pruned=%v\n",
					event.Data["compressed"], event.Data["pruned"])
			}
		}
	}()

	fmt.Printf("reverie chat (session %q, model %s) - /quit to exit\n", chatSessionID, app.provider.Model())
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/clear":
			if err := session.ClearHistory(); err != nil {
				fmt.Fprintf(os.Stderr, "clear failed: %v\n", err)
			} else {
				fmt.Println("history cleared")
			}
			continue
		case "/history":
			for _, msg := range session.GetHistory() {
				fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
			}
			continue
		}

		final, err := session.ProcessMessage(context.Background(), line, agent.ProcessOptions{ChannelID: "cli"})
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
			continue
		}
		fmt.Printf("\n%s\n", final)
	}
	return scanner.Err()
}
