// Package execute runs validated queries against the store inside a
// read-only transaction with a bounded timeout and row cap.
package execute

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorKind classifies execution failures
type ErrorKind string

const (
	KindTimeout        ErrorKind = "timeout"
	KindConnectionLost ErrorKind = "connection-lost"
	KindStoreRejected  ErrorKind = "store-rejected"
)

// Error is a classified execution failure. StoreMessage carries the store's
// own error text for store-rejected failures; it is context for the response
// synthesizer, not something to show users directly.
type Error struct {
	Kind         ErrorKind
	StoreMessage string
	Cause        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("query execution failed (%s): %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Result holds the outcome of one executed query
type Result struct {
	Columns   []string
	Rows      [][]any
	RowCount  int
	Truncated bool
}

// Executor runs read-only statements with resource bounds
type Executor struct {
	db      *sql.DB
	timeout time.Duration
	rowCap  int
}

// NewExecutor creates an executor with the given per-query timeout and row cap
func NewExecutor(db *sql.DB, timeout time.Duration, rowCap int) *Executor {
	return &Executor{
		db:      db,
		timeout: timeout,
		rowCap:  rowCap,
	}
}

// Execute runs one validated statement and collects up to the row cap.
// Reading one row past the cap distinguishes an exactly-full result from a
// truncated one.
func (e *Executor) Execute(ctx context.Context, sqlText string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, classify(ctx, err)
	}

	result := &Result{Columns: columns}

	for rows.Next() {
		if len(result.Rows) >= e.rowCap {
			result.Truncated = true
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))

		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(ctx, err)
		}

		result.Rows = append(result.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(ctx, err)
	}

	result.RowCount = len(result.Rows)

	if err := tx.Commit(); err != nil && !result.Truncated {
		return nil, classify(ctx, err)
	}

	return result, nil
}

// classify maps a raw store error to an execution error kind
func classify(ctx context.Context, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Cause: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindTimeout, Cause: err}
	case isConnectionError(err):
		return &Error{Kind: KindConnectionLost, Cause: err}
	default:
		return &Error{Kind: KindStoreRejected, StoreMessage: err.Error(), Cause: err}
	}
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr)
}
