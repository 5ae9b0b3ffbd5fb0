// Package synthesize turns query results, execution failures, and validation
// refusals into natural-language answers. Every answer is grounded: the model
// is only ever shown the actual rows, and the error paths fall back to canned
// text when the provider itself is down.
package synthesize

import (
	"context"
	"fmt"
	"strings"

	"github.com/classchat/classchat/internal/errors"
	"github.com/classchat/classchat/internal/execute"
	"github.com/classchat/classchat/internal/llm"
	"github.com/classchat/classchat/internal/memory"
	"github.com/classchat/classchat/internal/validate"
)

// MaxPromptRows bounds how many result rows are rendered into the synthesis
// prompt. The executor already caps rows, but a second bound here keeps the
// prompt small even with a generous row cap.
const MaxPromptRows = 50

// Synthesizer produces user-facing answers from pipeline outcomes
type Synthesizer struct {
	provider    llm.Service
	memoryTurns int
	debug       bool
}

// NewSynthesizer creates a synthesizer. debug controls whether store-level
// error detail may appear in apologies.
func NewSynthesizer(provider llm.Service, memoryTurns int, debug bool) *Synthesizer {
	return &Synthesizer{
		provider:    provider,
		memoryTurns: memoryTurns,
		debug:       debug,
	}
}

// Synthesize answers the question from the executed result. The returned
// error is always ErrTypeSynthesis and means the provider was unavailable.
func (s *Synthesizer) Synthesize(
	ctx context.Context,
	question, sqlText string,
	result *execute.Result,
	mem *memory.Memory,
) (string, error) {
	prompt := BuildAnswerPrompt(question, sqlText, result, mem.Recent(s.memoryTurns))

	response, err := s.provider.Complete(ctx, prompt)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrTypeSynthesis, "model call failed during answer synthesis")
	}

	answer := strings.TrimSpace(response)
	if answer == "" {
		return "", errors.New(errors.ErrTypeSynthesis, "model returned an empty answer")
	}

	return answer, nil
}

// Apologize explains an execution failure without exposing store internals.
// It never fails: when the provider is also unavailable it returns canned
// text matched to the failure kind.
func (s *Synthesizer) Apologize(
	ctx context.Context,
	question string,
	execErr *execute.Error,
	mem *memory.Memory,
) string {
	prompt := buildApologyPrompt(question, execErr, mem.Recent(s.memoryTurns), s.debug)

	response, err := s.provider.Complete(ctx, prompt)
	if err == nil {
		if answer := strings.TrimSpace(response); answer != "" {
			return answer
		}
	}

	return cannedApology(execErr)
}

// ExplainRefusal turns a validation rejection into a short explanation of
// why the question cannot be answered. Like Apologize it degrades to canned
// text rather than failing.
func (s *Synthesizer) ExplainRefusal(
	ctx context.Context,
	question string,
	verdict validate.Verdict,
	mem *memory.Memory,
) string {
	prompt := buildRefusalPrompt(question, verdict, mem.Recent(s.memoryTurns), s.debug)

	response, err := s.provider.Complete(ctx, prompt)
	if err == nil {
		if answer := strings.TrimSpace(response); answer != "" {
			return answer
		}
	}

	return cannedRefusal(verdict)
}

// BuildAnswerPrompt assembles the grounded synthesis prompt. Same inputs
// always produce the same prompt text.
func BuildAnswerPrompt(question, sqlText string, result *execute.Result, turns []memory.Turn) string {
	var sb strings.Builder

	sb.WriteString("You are a helpful assistant answering questions about a school database.\n\n")

	if len(turns) > 0 {
		sb.WriteString("Recent conversation (oldest first):\n")

		for _, turn := range turns {
			sb.WriteString("Q: " + turn.Question + "\n")
			sb.WriteString("A: " + turn.Answer + "\n\n")
		}
	}

	sb.WriteString("Question: " + question + "\n")
	sb.WriteString("Query that was run:\n" + sqlText + "\n\n")
	sb.WriteString("Query result:\n")
	sb.WriteString(RenderResult(result))
	sb.WriteString("\nRules:\n")
	sb.WriteString("1. Answer ONLY from the rows above. Never invent values that are not present.\n")
	sb.WriteString("2. If the result is empty, say that no matching data was found.\n")
	sb.WriteString("3. Quote numbers and names exactly as they appear in the rows.\n")

	if result.Truncated {
		sb.WriteString("4. The result was cut off at the row limit; mention that more rows may exist.\n")
	}

	sb.WriteString("\nAnswer in one or two plain sentences. Do not mention SQL unless asked.\n")

	return sb.String()
}

// RenderResult formats a result as a tab-separated header plus rows, capped
// at MaxPromptRows. An empty result renders as an explicit marker so the
// model cannot mistake it for missing context.
func RenderResult(result *execute.Result) string {
	if result == nil || result.RowCount == 0 {
		return "(no rows returned)\n"
	}

	var sb strings.Builder

	sb.WriteString(strings.Join(result.Columns, "\t") + "\n")

	shown := len(result.Rows)
	if shown > MaxPromptRows {
		shown = MaxPromptRows
	}

	for _, row := range result.Rows[:shown] {
		cells := make([]string, len(row))

		for i, cell := range row {
			if cell == nil {
				cells[i] = "NULL"
				continue
			}

			cells[i] = fmt.Sprintf("%v", cell)
		}

		sb.WriteString(strings.Join(cells, "\t") + "\n")
	}

	if result.Truncated || shown < len(result.Rows) {
		sb.WriteString(fmt.Sprintf("(showing %d rows, more exist)\n", shown))
	} else {
		sb.WriteString(fmt.Sprintf("(%d rows)\n", result.RowCount))
	}

	return sb.String()
}

func buildApologyPrompt(question string, execErr *execute.Error, turns []memory.Turn, debug bool) string {
	var sb strings.Builder

	sb.WriteString("You are a helpful assistant for a school database. A query failed and you must apologize briefly.\n\n")

	if len(turns) > 0 {
		sb.WriteString("Recent conversation (oldest first):\n")

		for _, turn := range turns {
			sb.WriteString("Q: " + turn.Question + "\n")
			sb.WriteString("A: " + turn.Answer + "\n\n")
		}
	}

	sb.WriteString("Question: " + question + "\n")
	sb.WriteString("Failure category: " + string(execErr.Kind) + "\n")

	if debug && execErr.StoreMessage != "" {
		sb.WriteString("Database error detail: " + execErr.StoreMessage + "\n")
	}

	sb.WriteString("\nApologize in one or two sentences and suggest rephrasing or retrying. ")

	if debug {
		sb.WriteString("You may reference the error detail above.\n")
	} else {
		sb.WriteString("Do not mention database internals, error codes, or SQL.\n")
	}

	return sb.String()
}

func buildRefusalPrompt(question string, verdict validate.Verdict, turns []memory.Turn, debug bool) string {
	var sb strings.Builder

	sb.WriteString("You are a helpful assistant for a school database. A question could not be answered safely and you must explain why, briefly.\n\n")

	if len(turns) > 0 {
		sb.WriteString("Recent conversation (oldest first):\n")

		for _, turn := range turns {
			sb.WriteString("Q: " + turn.Question + "\n")
			sb.WriteString("A: " + turn.Answer + "\n\n")
		}
	}

	sb.WriteString("Question: " + question + "\n")
	sb.WriteString("Refusal reason: " + string(verdict.Reason) + "\n")

	if debug && verdict.Detail != "" {
		sb.WriteString("Detail: " + verdict.Detail + "\n")
	}

	sb.WriteString("\nExplain in one or two non-technical sentences what kind of question you can answer instead. Never apologize for refusing to modify data; state plainly that you only read data.\n")

	return sb.String()
}

func cannedApology(execErr *execute.Error) string {
	switch execErr.Kind {
	case execute.KindTimeout:
		return "Sorry, that question took too long to answer. Please try a narrower question."
	case execute.KindConnectionLost:
		return "Sorry, the connection to the database was lost. Please try again in a moment."
	default:
		return "Sorry, something went wrong while running that query. Please try rephrasing your question."
	}
}

func cannedRefusal(verdict validate.Verdict) string {
	switch verdict.Reason {
	case validate.ReasonWriteOperation:
		return "I can only read data from the school database, not change it. Try asking about students, courses, grades, or attendance instead."
	case validate.ReasonUnknownIdentifier:
		return "That question refers to data the school database does not have. Try asking about students, courses, grades, or attendance."
	default:
		return "I could not turn that question into a safe database query. Could you rephrase it?"
	}
}
