// Package session orchestrates one conversation: it wires the introspector,
// generator, validator, executor, and synthesizer into a single Submit call
// and owns the per-conversation memory and store handle.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classchat/classchat/internal/config"
	"github.com/classchat/classchat/internal/errors"
	"github.com/classchat/classchat/internal/execute"
	"github.com/classchat/classchat/internal/generate"
	"github.com/classchat/classchat/internal/llm"
	"github.com/classchat/classchat/internal/logging"
	"github.com/classchat/classchat/internal/memory"
	"github.com/classchat/classchat/internal/schema"
	"github.com/classchat/classchat/internal/store"
	"github.com/classchat/classchat/internal/synthesize"
	"github.com/classchat/classchat/internal/validate"
)

// retryBackoff is the pause before the single connection retry. A variable so
// tests can shorten it.
var retryBackoff = 500 * time.Millisecond

// DebugInfo carries pipeline internals for one answered turn
type DebugInfo struct {
	SQL       string
	RowCount  int
	Truncated bool
}

// Answer is the outcome of one Submit call. Debug is nil unless debug mode
// is enabled and the turn reached execution.
type Answer struct {
	Text  string
	Debug *DebugInfo
}

// Session runs questions through the full pipeline, strictly one at a time.
// Sessions are independent: each owns its memory and its store handle.
type Session struct {
	id    string
	cfg   *config.Config
	debug bool
	log   *logging.Logger

	mu        sync.Mutex
	db        *sql.DB
	closed    bool
	reconnect bool

	introspector *schema.Introspector
	generator    *generate.Generator
	validator    *validate.Validator
	executor     *execute.Executor
	synthesizer  *synthesize.Synthesizer
	mem          *memory.Memory

	desc     *schema.Descriptor
	descTime time.Time
	cacheTTL time.Duration
}

// New opens a store handle and builds a fully wired session
func New(ctx context.Context, cfg *config.Config, provider llm.Service) (*Session, error) {
	db, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := build(cfg, db, provider)
	s.cfg = cfg

	return s, nil
}

// build wires a session around an existing store handle
func build(cfg *config.Config, db *sql.DB, provider llm.Service) *Session {
	id := uuid.NewString()

	return &Session{
		id:           id,
		debug:        cfg.Debug,
		log:          logging.GetLogger().WithField("session_id", id),
		db:           db,
		introspector: schema.NewIntrospector(db),
		generator:    generate.NewGenerator(provider, cfg.Chat.MemoryTurns),
		validator:    validate.NewValidator(cfg.Chat.LargeTableThreshold, cfg.Chat.RowCap),
		executor:     execute.NewExecutor(db, cfg.QueryTimeout(), cfg.Chat.RowCap),
		synthesizer:  synthesize.NewSynthesizer(provider, cfg.Chat.MemoryTurns, cfg.Debug),
		mem:          memory.New(cfg.Chat.MemoryTurns),
		cacheTTL:     cfg.SchemaCacheTTL(),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// ClearMemory drops all remembered turns
func (s *Session) ClearMemory() {
	s.mem.Clear()
}

// Close releases the store handle. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.db.Close()
}

// Submit runs one question through the pipeline and returns the answer.
// Handled failures (refusals, execution errors, transient connection loss)
// come back as answer text; an error return means the turn could not be
// processed at all.
func (s *Session) Submit(ctx context.Context, question string) (*Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New(errors.ErrTypeInternal, "session is closed")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.reconnect {
		if err := s.reopen(ctx); err != nil {
			s.log.WithError(err).Warn("reconnect failed")
			return s.answer("Sorry, the connection to the database was lost. Please try again in a moment."), nil
		}
	}

	desc, err := s.describe(ctx)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeConnection) {
			s.log.WithError(err).Warn("schema introspection unreachable after retry")
			return s.answer("Sorry, I could not reach the database. Please try again in a moment."), nil
		}

		return nil, err
	}

	candidate, err := s.generate(ctx, question, desc)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		s.log.WithError(err).Warn("generation failed after retry")

		return s.answer("Sorry, I could not turn that question into a database query. Could you rephrase it?"), nil
	}

	verdict := s.validator.Validate(candidate.SQL, desc)
	if !verdict.Accepted {
		s.log.WithFields(map[string]interface{}{
			"reason": string(verdict.Reason),
			"sql":    candidate.SQL,
		}).Info("candidate rejected")

		text := s.synthesizer.ExplainRefusal(ctx, question, verdict, s.mem)
		s.mem.Append(memory.Turn{Question: question, Answer: text})

		return s.answer(text), nil
	}

	result, err := s.executor.Execute(ctx, verdict.SQL)
	if err != nil {
		// A cancelled parent context is not a store failure to apologize for.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		execErr, ok := err.(*execute.Error)
		if !ok {
			return nil, errors.Wrap(err, errors.ErrTypeInternal, "unclassified execution failure")
		}

		if execErr.Kind == execute.KindConnectionLost {
			s.reconnect = true
		}

		s.log.WithError(execErr).WithField("kind", string(execErr.Kind)).Warn("execution failed")

		return s.answer(s.synthesizer.Apologize(ctx, question, execErr, s.mem)), nil
	}

	text, err := s.synthesizer.Synthesize(ctx, question, verdict.SQL, result, s.mem)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		s.log.WithError(err).Warn("synthesis unavailable, using fallback answer")
		text = fallbackAnswer(result)
	}

	s.mem.Append(memory.Turn{
		Question:      question,
		SQL:           verdict.SQL,
		ResultSummary: summarize(result),
		Answer:        text,
	})

	ans := s.answer(text)
	if ans.Debug != nil {
		ans.Debug.SQL = verdict.SQL
		ans.Debug.RowCount = result.RowCount
		ans.Debug.Truncated = result.Truncated
	}

	return ans, nil
}

// describe returns the cached schema descriptor, refreshing it when the TTL
// has passed. A transient connection failure is retried once with backoff.
func (s *Session) describe(ctx context.Context) (*schema.Descriptor, error) {
	if s.desc != nil && time.Since(s.descTime) < s.cacheTTL {
		return s.desc, nil
	}

	desc, err := s.introspector.Describe(ctx)
	if err != nil && errors.IsType(err, errors.ErrTypeConnection) && ctx.Err() == nil {
		time.Sleep(retryBackoff)
		desc, err = s.introspector.Describe(ctx)
	}

	if err != nil {
		return nil, err
	}

	s.desc = desc
	s.descTime = time.Now()

	return desc, nil
}

// generate asks for a candidate query, retrying once with a stricter
// instruction when the first attempt fails for any generation reason.
func (s *Session) generate(ctx context.Context, question string, desc *schema.Descriptor) (generate.CandidateQuery, error) {
	candidate, err := s.generator.Generate(ctx, question, desc, s.mem, false)
	if err == nil {
		return candidate, nil
	}

	if ctx.Err() != nil {
		return generate.CandidateQuery{}, err
	}

	s.log.WithError(err).Debug("first generation attempt failed, retrying strict")

	return s.generator.Generate(ctx, question, desc, s.mem, true)
}

// reopen replaces the store handle after a connection-lost turn
func (s *Session) reopen(ctx context.Context) error {
	if s.cfg == nil {
		// Sessions built around an injected handle cannot reopen; probe the
		// existing one instead.
		if err := store.Ping(ctx, s.db); err != nil {
			return err
		}

		s.reconnect = false
		return nil
	}

	db, err := store.Open(ctx, s.cfg)
	if err != nil {
		return err
	}

	_ = s.db.Close()
	s.db = db
	s.introspector = schema.NewIntrospector(db)
	s.executor = execute.NewExecutor(db, s.cfg.QueryTimeout(), s.cfg.Chat.RowCap)
	s.desc = nil
	s.reconnect = false

	s.log.Info("store handle reopened")

	return nil
}

func (s *Session) answer(text string) *Answer {
	ans := &Answer{Text: text}

	if s.debug {
		ans.Debug = &DebugInfo{}
	}

	return ans
}

func summarize(result *execute.Result) string {
	if result.RowCount == 0 {
		return "0 rows"
	}

	if result.Truncated {
		return fmt.Sprintf("%d rows (truncated)", result.RowCount)
	}

	return fmt.Sprintf("%d rows", result.RowCount)
}

func fallbackAnswer(result *execute.Result) string {
	if result.RowCount == 0 {
		return "The query ran successfully but returned no matching data."
	}

	return fmt.Sprintf("The query ran successfully and returned %d rows, but I could not phrase an answer. Rows:\n%s",
		result.RowCount, synthesize.RenderResult(result))
}
