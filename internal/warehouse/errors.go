package warehouse

import (
	"errors"
	"fmt"
)

// ErrWrite marks a failed warehouse statement. Nothing from the failing
// batch is committed.
var ErrWrite = errors.New("warehouse write failed")

// WriteError carries the operation and table of a failed write.
type WriteError struct {
	Op    string // "ensure schema" | "append" | "record load" | ...
	Table string
	Err   error
}

func (e *WriteError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrWrite, e.Err}
}

func writeErr(op, table string, err error) error {
	if err == nil {
		return nil
	}
	return &WriteError{Op: op, Table: table, Err: err}
}
