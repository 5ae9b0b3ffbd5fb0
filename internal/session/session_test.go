package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classchat/classchat/internal/config"
	"github.com/classchat/classchat/internal/llm"
	"github.com/classchat/classchat/internal/memory"
)

// scriptedProvider returns queued responses in order and records every prompt
type scriptedProvider struct {
	responses []string
	err       error
	prompts   []string
}

func (p *scriptedProvider) Complete(_ context.Context, prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)

	if p.err != nil {
		return "", p.err
	}

	if len(p.responses) == 0 {
		return "", fmt.Errorf("scripted provider exhausted after %d calls", len(p.prompts))
	}

	response := p.responses[0]
	p.responses = p.responses[1:]

	return response, nil
}

func (p *scriptedProvider) Configure(llm.Config) error { return nil }

func candidateJSON(sql string) string {
	return fmt.Sprintf(`{"sql": %q, "explanation": "generated for test", "confidence": 0.9}`, sql)
}

func testConfig(debug bool) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Debug = debug
	cfg.Chat.MemoryTurns = 10
	cfg.Chat.RowCap = 200
	cfg.Chat.LargeTableThreshold = 10000
	cfg.Store.QueryTimeout = "1s"

	return cfg
}

// expectSchema mocks the introspection queries for a two-table school schema
func expectSchema(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("information_schema.tables").WillReturnRows(
		sqlmock.NewRows([]string{"table_name", "row_estimate"}).
			AddRow("classes", 12).
			AddRow("students", 1200))

	mock.ExpectQuery("information_schema.columns").WithArgs("classes").WillReturnRows(
		sqlmock.NewRows([]string{"column_name", "data_type", "nullable"}).
			AddRow("class_id", "integer", false).
			AddRow("class_name", "text", false))
	mock.ExpectQuery("pg_index").WithArgs("classes").WillReturnRows(
		sqlmock.NewRows([]string{"attname"}).AddRow("class_id"))
	mock.ExpectQuery("FOREIGN KEY").WithArgs("classes").WillReturnRows(
		sqlmock.NewRows([]string{"column_name", "referenced_table", "referenced_column"}))

	mock.ExpectQuery("information_schema.columns").WithArgs("students").WillReturnRows(
		sqlmock.NewRows([]string{"column_name", "data_type", "nullable"}).
			AddRow("roll_no", "integer", false).
			AddRow("first_name", "text", false).
			AddRow("class_id", "integer", true))
	mock.ExpectQuery("pg_index").WithArgs("students").WillReturnRows(
		sqlmock.NewRows([]string{"attname"}).AddRow("roll_no"))
	mock.ExpectQuery("FOREIGN KEY").WithArgs("students").WillReturnRows(
		sqlmock.NewRows([]string{"column_name", "referenced_table", "referenced_column"}).
			AddRow("class_id", "classes", "class_id"))
}

func TestSubmitCountScenario(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	expectSchema(mock)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))
	mock.ExpectCommit()

	provider := &scriptedProvider{responses: []string{
		candidateJSON("SELECT COUNT(*) FROM students"),
		"There are 42 students.",
	}}

	sess := build(testConfig(true), db, provider)
	defer sess.Close()

	ans, err := sess.Submit(context.Background(), "how many students are there?")
	require.NoError(t, err)

	assert.Contains(t, ans.Text, "42")
	require.NotNil(t, ans.Debug)
	assert.Equal(t, "SELECT COUNT(*) FROM students", ans.Debug.SQL)
	assert.Equal(t, 1, ans.Debug.RowCount)

	// the synthesis prompt carried the actual row
	require.Len(t, provider.prompts, 2)
	assert.Contains(t, provider.prompts[1], "42")

	assert.Equal(t, 1, sess.mem.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitUnknownIdentifierRefusedNotExecuted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	// introspection only; no Begin/Query expectations, so any execution
	// attempt fails the mock
	expectSchema(mock)

	provider := &scriptedProvider{responses: []string{
		candidateJSON("SELECT salary FROM teachers"),
		"The school database has no teacher salary data; try asking about students or classes.",
	}}

	sess := build(testConfig(false), db, provider)
	defer sess.Close()

	ans, err := sess.Submit(context.Background(), "what is the average teacher salary?")
	require.NoError(t, err)

	assert.Contains(t, ans.Text, "no teacher salary data")
	assert.Nil(t, ans.Debug)

	// refusals are remembered, with no SQL recorded
	turns := sess.mem.Recent(1)
	require.Len(t, turns, 1)
	assert.Empty(t, turns[0].SQL)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitFollowUpSeesPriorTurn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	expectSchema(mock)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT first_name").WillReturnRows(
		sqlmock.NewRows([]string{"first_name"}).AddRow("Asha").AddRow("Ben"))
	mock.ExpectCommit()

	provider := &scriptedProvider{responses: []string{
		candidateJSON("SELECT COUNT(*) FROM students"),
		"There are 42 students.",
		candidateJSON("SELECT first_name FROM students LIMIT 200"),
		"Their names include Asha and Ben.",
	}}

	sess := build(testConfig(false), db, provider)
	defer sess.Close()

	_, err = sess.Submit(context.Background(), "how many students are there?")
	require.NoError(t, err)

	_, err = sess.Submit(context.Background(), "what are their names?")
	require.NoError(t, err)

	// the second generation prompt carries the first turn
	require.Len(t, provider.prompts, 4)
	assert.Contains(t, provider.prompts[2], "how many students are there?")
	assert.Contains(t, provider.prompts[2], "SELECT COUNT(*) FROM students")

	assert.Equal(t, 2, sess.mem.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitTimeoutNotRemembered(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	expectSchema(mock)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WillDelayFor(300 * time.Millisecond).WillReturnRows(
		sqlmock.NewRows([]string{"roll_no"}))
	mock.ExpectRollback()

	provider := &scriptedProvider{responses: []string{
		candidateJSON("SELECT roll_no FROM students"),
		"Sorry, that took too long. Try a narrower question.",
	}}

	cfg := testConfig(false)
	cfg.Store.QueryTimeout = "30ms"

	sess := build(cfg, db, provider)
	defer sess.Close()

	ans, err := sess.Submit(context.Background(), "list every student")
	require.NoError(t, err)

	assert.Contains(t, ans.Text, "too long")
	assert.Equal(t, 0, sess.mem.Len())
}

func TestSubmitCancelledMidExecutionPropagates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	expectSchema(mock)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WillDelayFor(300 * time.Millisecond).WillReturnRows(
		sqlmock.NewRows([]string{"roll_no"}))
	mock.ExpectRollback()

	// If the apology path ran it would need a second scripted response;
	// cancellation must surface as an error instead.
	provider := &scriptedProvider{responses: []string{
		candidateJSON("SELECT roll_no FROM students"),
	}}

	sess := build(testConfig(false), db, provider)
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = sess.Submit(ctx, "list every student")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sess.mem.Len())
}

func TestSubmitGenerationRetriesStrictThenGivesUp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	expectSchema(mock)

	provider := &scriptedProvider{responses: []string{
		"I cannot write SQL for that, sorry!",
		"Still no SQL here.",
	}}

	sess := build(testConfig(false), db, provider)
	defer sess.Close()

	ans, err := sess.Submit(context.Background(), "what is the meaning of life?")
	require.NoError(t, err)

	assert.Contains(t, ans.Text, "rephrase")

	// second attempt used the stricter instruction
	require.Len(t, provider.prompts, 2)
	assert.Contains(t, provider.prompts[1], "ONLY the JSON object")

	// failed turns are not remembered
	assert.Equal(t, 0, sess.mem.Len())
}

func TestSubmitSchemaCacheReused(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	// introspection expected exactly once for two submits
	expectSchema(mock)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(int64(12)))
	mock.ExpectCommit()

	provider := &scriptedProvider{responses: []string{
		candidateJSON("SELECT COUNT(*) FROM students"),
		"There are 42 students.",
		candidateJSON("SELECT COUNT(*) FROM classes"),
		"There are 12 classes.",
	}}

	sess := build(testConfig(false), db, provider)
	defer sess.Close()

	_, err = sess.Submit(context.Background(), "how many students?")
	require.NoError(t, err)

	_, err = sess.Submit(context.Background(), "and how many classes?")
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitOnClosedSession(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)

	sess := build(testConfig(false), db, &scriptedProvider{})
	_ = sess.Close()
	assert.NoError(t, sess.Close())

	_, err = sess.Submit(context.Background(), "anything")
	require.Error(t, err)
}

func TestSessionsAreIsolated(t *testing.T) {
	dbA, _, err := sqlmock.New()
	require.NoError(t, err)
	dbB, _, err := sqlmock.New()
	require.NoError(t, err)

	a := build(testConfig(false), dbA, &scriptedProvider{})
	b := build(testConfig(false), dbB, &scriptedProvider{})
	defer a.Close()
	defer b.Close()

	assert.NotEqual(t, a.ID(), b.ID())

	a.mem.Append(memory.Turn{Question: "only in a", Answer: "yes"})
	assert.Equal(t, 0, b.mem.Len())
}
