package query

import (
	"errors"
	"fmt"
)

// ConnectionError reports that the record store could not be reached or
// refused service.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: record store unavailable: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError reports that the store rejected or failed a query.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: query failed: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsConnection reports whether err is, or wraps, a ConnectionError.
func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsQuery reports whether err is, or wraps, a QueryError.
func IsQuery(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}
