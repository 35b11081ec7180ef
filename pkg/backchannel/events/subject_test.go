package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaySubjectReplaysBufferedEvents(t *testing.T) {
	s := NewReplaySubject()
	s.Publish(StateChangeEvent{RecordID: "r1", State: "invited"})
	s.Publish(StateChangeEvent{RecordID: "r1", State: "requested"})

	cursor := s.Cursor()
	ctx := context.Background()

	ev, err := cursor.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "invited", ev.State)

	ev, err = cursor.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "requested", ev.State)
}

func TestCursorsAreIndependent(t *testing.T) {
	s := NewReplaySubject()
	s.Publish(StateChangeEvent{State: "one"})
	s.Publish(StateChangeEvent{State: "two"})

	ctx := context.Background()
	c1 := s.Cursor()
	c2 := s.Cursor()

	ev, err := c1.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", ev.State)
	ev, err = c1.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", ev.State)

	// Draining c1 must not advance c2.
	ev, err = c2.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", ev.State)
}

func TestCursorNextBlocksUntilPublish(t *testing.T) {
	s := NewReplaySubject()
	cursor := s.Cursor()

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Publish(StateChangeEvent{State: "late"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := cursor.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "late", ev.State)
}

func TestCursorNextHonorsContextCancel(t *testing.T) {
	s := NewReplaySubject()
	cursor := s.Cursor()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := cursor.Next(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubjectsByTopic(t *testing.T) {
	s := NewSubjects()
	assert.Same(t, s.Connection, s.ByTopic(TopicConnection))
	assert.Same(t, s.Credential, s.ByTopic(TopicCredential))
	assert.Same(t, s.Proof, s.ByTopic(TopicProof))
	assert.Same(t, s.Mediation, s.ByTopic(TopicMediation))
	assert.Same(t, s.OutOfBand, s.ByTopic(TopicOutOfBand))
	assert.Nil(t, s.ByTopic(Topic("bogus")))
}
