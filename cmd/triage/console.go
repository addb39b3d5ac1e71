package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mantelhq/triage/internal/conversation"
)

// consoleMessenger is a minimal chat transport for local use: replies and
// action prompts are printed to the terminal, actions are typed as slash
// commands.
type consoleMessenger struct {
	out io.Writer
}

func newConsoleMessenger(out io.Writer) *consoleMessenger {
	return &consoleMessenger{out: out}
}

func (m *consoleMessenger) Reply(ctx context.Context, channelID, threadID, text string) error {
	_, err := fmt.Fprintf(m.out, "\n%s\n", text)
	return err
}

func (m *consoleMessenger) PromptActions(ctx context.Context, channelID, threadID, text string, actions []conversation.ActionButton) error {
	if _, err := fmt.Fprintf(m.out, "\n%s\n", text); err != nil {
		return err
	}
	for _, a := range actions {
		if _, err := fmt.Fprintf(m.out, "  /%s — %s\n", a.ID, a.Label); err != nil {
			return err
		}
	}
	return nil
}

// runConsole reads lines from in until EOF or cancellation. Lines starting
// with "/" are action clicks; everything else is a message. The last plain
// message is carried as the action value so /find_issues analyzes it.
func runConsole(ctx context.Context, bot *conversation.Bot, in io.Reader) error {
	const (
		userID    = "console"
		channelID = "console"
		threadID  = "console"
	)

	scanner := bufio.NewScanner(in)
	var lastText string

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var err error
		if strings.HasPrefix(line, "/") {
			err = bot.HandleAction(ctx, conversation.ActionEvent{
				UserID:    userID,
				ChannelID: channelID,
				ThreadID:  threadID,
				ActionID:  strings.TrimPrefix(line, "/"),
				Value:     lastText,
			})
		} else {
			lastText = line
			err = bot.HandleMessage(ctx, conversation.Message{
				UserID:    userID,
				ChannelID: channelID,
				ThreadID:  threadID,
				Text:      line,
			})
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
	return scanner.Err()
}
