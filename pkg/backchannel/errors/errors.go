// Package errors defines the failure taxonomy backchannel commands surface to
// the test harness. Handlers return these sentinels (wrapped with context) and
// the HTTP layer translates them into status codes the harness can assert on.
package errors

import "errors"

var (
	// ErrNotFound indicates the command referenced a record or connection id
	// unknown to the agent.
	ErrNotFound = errors.New("record not found")

	// ErrNotImplemented indicates the harness requested an operation the
	// underlying agent cannot perform.
	ErrNotImplemented = errors.New("operation not implemented")
)
