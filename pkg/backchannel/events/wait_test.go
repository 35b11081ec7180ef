package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForFindsReplayedEvent(t *testing.T) {
	s := NewReplaySubject()
	s.Publish(StateChangeEvent{ConnectionID: "c1", State: "invited"})
	s.Publish(StateChangeEvent{ConnectionID: "c1", State: "requested"})
	s.Publish(StateChangeEvent{ConnectionID: "c1", State: "complete"})

	// The target state was published before the wait began; replay finds it.
	ev, err := WaitFor(context.Background(), s, time.Second, ByConnection("c1", "complete"))
	require.NoError(t, err)
	assert.Equal(t, "complete", ev.State)
}

func TestWaitForMatchesLiveEvent(t *testing.T) {
	s := NewReplaySubject()
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Publish(StateChangeEvent{ThreadID: "t1", State: "done"})
	}()

	ev, err := WaitFor(context.Background(), s, time.Second, ByThread("t1", "done"))
	require.NoError(t, err)
	assert.Equal(t, "done", ev.State)
}

func TestWaitForTimesOut(t *testing.T) {
	s := NewReplaySubject()
	s.Publish(StateChangeEvent{ConnectionID: "c1", State: "invited"})

	start := time.Now()
	_, err := WaitFor(context.Background(), s, 50*time.Millisecond, ByConnection("c1", "complete"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConcurrentWaitersCompleteIndependently(t *testing.T) {
	s := NewReplaySubject()

	var wg sync.WaitGroup
	results := make([]error, 2)
	states := []string{"requested", "complete"}
	for i, target := range states {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			_, results[i] = WaitFor(context.Background(), s, time.Second, ByConnection("c1", target))
		}(i, target)
	}

	time.Sleep(10 * time.Millisecond)
	s.Publish(StateChangeEvent{ConnectionID: "c1", State: "requested"})
	s.Publish(StateChangeEvent{ConnectionID: "c1", State: "complete"})

	wg.Wait()
	for i, err := range results {
		assert.NoError(t, err, "waiter for %s", states[i])
	}
}
