package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/classchat/classchat/internal/errors"
	"github.com/classchat/classchat/internal/session"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question and print the answer",
	Long: `Ask a single question about the school database.

Examples:
  classchat ask "how many students are there?"
  classchat ask --debug "which class has the best average grade?"`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	question := strings.TrimSpace(args[0])
	if question == "" {
		return errors.New(errors.ErrTypeValidation, "question must not be empty")
	}

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

	answer, err := sess.Submit(ctx, question)
	if err != nil {
		return err
	}

	fmt.Println(answer.Text)
	printDebug(answer)

	return nil
}

func printDebug(answer *session.Answer) {
	if answer.Debug == nil || answer.Debug.SQL == "" {
		return
	}

	fmt.Printf("\n[debug] sql: %s\n", answer.Debug.SQL)
	fmt.Printf("[debug] rows: %d", answer.Debug.RowCount)

	if answer.Debug.Truncated {
		fmt.Print(" (truncated)")
	}

	fmt.Println()
}
