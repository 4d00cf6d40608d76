package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/core/chat"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

var askCmd = &cobra.Command{
	Use:   "ask [QUESTION]",
	Short: "Chat with a workspace; without a question an interactive session starts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		workspaceID, _ := cmd.Flags().GetString("workspace")
		rawMode, _ := cmd.Flags().GetString("mode")
		mode, err := models.ParseAssistantMode(rawMode)
		if err != nil {
			return err
		}

		thread := chat.NewThread(client, client, workspaceID, mode)
		if conversationID, _ := cmd.Flags().GetString("conversation"); conversationID != "" {
			history, err := client.ListMessages(cmd.Context(), conversationID)
			if err != nil {
				return err
			}
			thread.ConversationID = conversationID
			thread.Messages = history
			if chat.Unanswered(history) {
				fmt.Fprintln(os.Stderr, "The last question in this conversation never got an answer.")
			}
		}
		thread.OnDelta = func(delta, _ string) { fmt.Print(delta) }

		if len(args) > 0 {
			return askOnce(cmd, thread, strings.Join(args, " "))
		}

		in := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !in.Scan() {
				fmt.Println()
				return in.Err()
			}
			line := strings.TrimSpace(in.Text())
			if line == "" {
				continue
			}
			if line == "/quit" {
				return nil
			}
			if err := askOnce(cmd, thread, line); err != nil {
				fmt.Fprintln(os.Stderr, describe(err))
			}
		}
	},
}

func askOnce(cmd *cobra.Command, thread *chat.Thread, question string) error {
	msg, err := thread.Send(cmd.Context(), question)
	fmt.Println()
	if err != nil {
		return errors.New(describe(err))
	}
	for _, c := range msg.Citations {
		if c.Page != nil {
			fmt.Printf("  - %s, page %d\n", c.Title, *c.Page)
		} else {
			fmt.Printf("  - %s\n", c.Title)
		}
	}
	return nil
}

// describe turns the failure categories into something a person can act on.
func describe(err error) string {
	var te *core.TransientServiceError
	if errors.As(err, &te) {
		switch te.Category {
		case core.CategoryRateLimited:
			return "Rate limited, wait a moment and try again."
		case core.CategoryQuotaExceeded:
			return "Usage quota exhausted."
		case core.CategoryNetwork:
			return "Could not reach the server: " + te.Error()
		}
	}
	return err.Error()
}

func init() {
	askCmd.Flags().StringP("workspace", "w", "", "workspace to chat with")
	askCmd.Flags().StringP("mode", "m", "study", "assistant mode: study, exam, retrieval or institutional")
	askCmd.Flags().StringP("conversation", "c", "", "continue an existing conversation")
	_ = askCmd.MarkFlagRequired("workspace")

	rootCmd.AddCommand(askCmd)
}
