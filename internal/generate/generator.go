// Package generate turns a natural-language question, the schema rendering,
// and recent conversation turns into one candidate SQL statement.
package generate

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/classchat/classchat/internal/errors"
	"github.com/classchat/classchat/internal/llm"
	"github.com/classchat/classchat/internal/memory"
	"github.com/classchat/classchat/internal/schema"
)

// Generation failure variants, embedded in the error message so callers can
// tell a provider outage from unusable content.
const (
	VariantProviderFailure = "provider-failure"
	VariantAmbiguousOutput = "ambiguous-output"
	VariantUnparseableSQL  = "unparseable-sql"
)

// CandidateQuery is one model-proposed statement, pending validation
type CandidateQuery struct {
	SQL         string  `json:"sql"`
	Explanation string  `json:"explanation"`
	Confidence  float64 `json:"confidence"`
}

// Generator produces candidate queries via the model provider
type Generator struct {
	provider    llm.Service
	memoryTurns int
}

// NewGenerator creates a generator that includes up to memoryTurns prior
// turns in each prompt
func NewGenerator(provider llm.Service, memoryTurns int) *Generator {
	return &Generator{
		provider:    provider,
		memoryTurns: memoryTurns,
	}
}

// Generate asks the model for a single read-only statement answering the
// question. strict tightens the output-format instruction; the session layer
// sets it on retry.
func (g *Generator) Generate(
	ctx context.Context,
	question string,
	desc *schema.Descriptor,
	mem *memory.Memory,
	strict bool,
) (CandidateQuery, error) {
	prompt := BuildPrompt(question, desc.Render(), mem.Recent(g.memoryTurns), strict)

	response, err := g.provider.Complete(ctx, prompt)
	if err != nil {
		return CandidateQuery{}, errors.Wrapf(err, errors.ErrTypeGeneration,
			"%s: model call failed", VariantProviderFailure)
	}

	return ExtractSQL(response)
}

// BuildPrompt assembles the generation prompt from structured inputs. Same
// inputs always produce the same prompt text.
func BuildPrompt(question, schemaText string, turns []memory.Turn, strict bool) string {
	var sb strings.Builder

	sb.WriteString("You are an expert SQL generator for a school database running on PostgreSQL.\n\n")
	sb.WriteString("Database schema:\n")
	sb.WriteString(schemaText)

	if len(turns) > 0 {
		sb.WriteString("Recent conversation (oldest first):\n")

		for _, turn := range turns {
			sb.WriteString("Q: " + turn.Question + "\n")

			if turn.SQL != "" {
				sb.WriteString("SQL: " + turn.SQL + "\n")
			}

			sb.WriteString("A: " + turn.Answer + "\n\n")
		}
	}

	sb.WriteString("Rules:\n")
	sb.WriteString("1. Respond with exactly one read-only SELECT statement, nothing else.\n")
	sb.WriteString("2. Never produce INSERT, UPDATE, DELETE, or any DDL.\n")
	sb.WriteString("3. Only reference tables and columns that appear in the schema above.\n")
	sb.WriteString("4. Use JOINs to follow the foreign keys shown in the schema.\n")
	sb.WriteString("5. Add a LIMIT clause when the result could be large.\n")
	sb.WriteString("6. When the question refers back to the conversation, resolve it against the turns above.\n\n")
	sb.WriteString(`Respond in this exact JSON format: {"sql": "...", "explanation": "...", "confidence": 0.0}` + "\n")

	if strict {
		sb.WriteString("Your previous reply could not be used. Respond with ONLY the JSON object: no prose, no code fences, a single statement.\n")
	}

	sb.WriteString("\nQuestion: " + question + "\n")

	return sb.String()
}

var (
	fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	fencedAny  = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")
	sqlAnchor  = regexp.MustCompile(`(?is)\b(SELECT|WITH)\b`)
)

// ExtractSQL pulls one SQL statement out of a model response. The rule, in
// order: a JSON object with a non-empty "sql" field wins; otherwise the first
// fenced code block; otherwise the text from the first SELECT or WITH keyword
// to the first semicolon or end of text. The result must parse as exactly
// one statement.
func ExtractSQL(response string) (CandidateQuery, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return CandidateQuery{}, errors.Newf(errors.ErrTypeGeneration,
			"%s: model returned empty text", VariantAmbiguousOutput)
	}

	if candidate, ok := extractJSON(response); ok {
		return checkStatement(candidate)
	}

	if m := fencedAny.FindStringSubmatch(response); m != nil {
		return checkStatement(CandidateQuery{SQL: strings.TrimSpace(m[1])})
	}

	if loc := sqlAnchor.FindStringIndex(response); loc != nil {
		text := response[loc[0]:]
		if i := strings.Index(text, ";"); i >= 0 {
			text = text[:i]
		}

		return checkStatement(CandidateQuery{SQL: strings.TrimSpace(text)})
	}

	return CandidateQuery{}, errors.Newf(errors.ErrTypeGeneration,
		"%s: no SQL statement found in model response", VariantAmbiguousOutput)
}

// extractJSON tries the JSON response contract, with or without code fences
func extractJSON(response string) (CandidateQuery, bool) {
	body := response

	if m := fencedJSON.FindStringSubmatch(response); m != nil {
		body = m[1]
	} else if m := fencedAny.FindStringSubmatch(response); m != nil && strings.HasPrefix(strings.TrimSpace(m[1]), "{") {
		body = m[1]
	}

	body = strings.TrimSpace(body)

	// The object may be surrounded by prose; cut to the outermost braces.
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")

	if start < 0 || end <= start {
		return CandidateQuery{}, false
	}

	var candidate CandidateQuery
	if err := json.Unmarshal([]byte(body[start:end+1]), &candidate); err != nil {
		return CandidateQuery{}, false
	}

	if strings.TrimSpace(candidate.SQL) == "" {
		return CandidateQuery{}, false
	}

	candidate.SQL = strings.TrimSpace(candidate.SQL)

	return candidate, true
}

// checkStatement verifies the extracted text is exactly one parseable statement
func checkStatement(candidate CandidateQuery) (CandidateQuery, error) {
	candidate.SQL = strings.TrimSuffix(strings.TrimSpace(candidate.SQL), ";")

	tree, err := pg_query.Parse(candidate.SQL)
	if err != nil {
		return CandidateQuery{}, errors.Wrapf(err, errors.ErrTypeGeneration,
			"%s: extracted text is not valid SQL", VariantUnparseableSQL)
	}

	if len(tree.Stmts) != 1 {
		return CandidateQuery{}, errors.Newf(errors.ErrTypeGeneration,
			"%s: expected one statement, found %d", VariantAmbiguousOutput, len(tree.Stmts))
	}

	return candidate, nil
}

// IsProviderFailure reports whether a generation error was caused by the
// provider rather than by unusable content
func IsProviderFailure(err error) bool {
	return errors.IsType(err, errors.ErrTypeGeneration) &&
		strings.Contains(err.Error(), VariantProviderFailure)
}
