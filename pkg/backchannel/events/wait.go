package events

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultAwaitTimeout bounds every wait-for-state operation unless the caller
// provides its own.
const DefaultAwaitTimeout = 20 * time.Second

// ErrTimeout reports that the awaited state was not reached within the
// deadline. Callers must treat this as "protocol did not reach the expected
// state in time", not as a crash.
var ErrTimeout = errors.New("timed out waiting for state")

// Match is a predicate over normalized state-change events.
type Match func(StateChangeEvent) bool

// ByConnection matches events for one connection reaching the target state.
func ByConnection(connectionID string, state string) Match {
	return func(ev StateChangeEvent) bool {
		return ev.ConnectionID == connectionID && ev.State == state
	}
}

// ByThread matches events for one protocol thread reaching the target state.
func ByThread(threadID string, state string) Match {
	return func(ev StateChangeEvent) bool {
		return ev.ThreadID == threadID && ev.State == state
	}
}

// WaitFor consumes the subject from the start of its buffer and returns the
// first event satisfying match. Because the cursor replays the whole buffer,
// an event published before WaitFor was called is still found; there is no
// race between issuing a command and waiting for its completion as long as
// the subject's engine subscription was opened at bridge startup.
//
// Concurrent waiters on the same subject each hold an independent cursor and
// complete independently.
func WaitFor(ctx context.Context, subject *ReplaySubject, timeout time.Duration, match Match) (StateChangeEvent, error) {
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cursor := subject.Cursor()
	for {
		ev, err := cursor.Next(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return StateChangeEvent{}, fmt.Errorf("%w after %s", ErrTimeout, timeout)
			}
			return StateChangeEvent{}, err
		}
		if match(ev) {
			return ev, nil
		}
	}
}
