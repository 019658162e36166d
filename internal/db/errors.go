package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for message log operations. Check with errors.Is.
var (
	// ErrTransactionConflict indicates concurrent writes touched the same
	// records. Callers should retry the operation.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrInvalidMessage indicates the row was rejected by the schema,
	// typically an unknown role value.
	ErrInvalidMessage = errors.New("invalid message")
)

// wrapQueryError maps a SurrealDB query error onto the matching sentinel.
// Unrecognized errors pass through unchanged.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
		if strings.Contains(msg, "Found") && strings.Contains(msg, "field") {
			return fmt.Errorf("%w: %s", ErrInvalidMessage, msg)
		}
	}

	return err
}
