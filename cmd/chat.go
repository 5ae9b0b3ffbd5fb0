package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/classchat/classchat/internal/logging"
	"github.com/classchat/classchat/internal/session"
)

var exampleQuestions = []string{
	"How many students are there?",
	"Which class has the most students?",
	"Who scored highest in the last exam?",
	"What is the average attendance this month?",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation with the school database. Each chat
session has its own memory, so follow-up questions like "what are their
names?" are resolved against earlier answers.

Commands inside the chat:
  /clear  forget the conversation so far
  /quit   exit`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadRuntimeConfig()
	if err != nil {
		return err
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	sess, err := session.New(ctx, cfg, provider)
	if err != nil {
		return err
	}
	defer sess.Close()

	logging.GetLogger().WithField("session_id", sess.ID()).Info("chat session started")

	fmt.Println("Connected to the school database. Ask me anything, for example:")

	for _, q := range exampleQuestions {
		fmt.Printf("  - %s\n", q)
	}

	fmt.Println("\nType /clear to start over, /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("\n> ")

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			fmt.Println("Bye!")
			return nil
		case line == "/clear":
			sess.ClearMemory()
			fmt.Println("Conversation cleared.")

			continue
		}

		answer, err := askWithSpinner(cmd, sess, line)
		if err != nil {
			return err
		}

		fmt.Println(answer.Text)
		printDebug(answer)
	}

	return scanner.Err()
}

func askWithSpinner(cmd *cobra.Command, sess *session.Session, question string) (*session.Answer, error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " thinking..."
	s.Start()

	answer, err := sess.Submit(cmd.Context(), question)
	s.Stop()

	return answer, err
}
