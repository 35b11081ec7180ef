package events

import (
	"context"
	"sync"
)

// Topic identifies one protocol family's state-change stream.
type Topic string

const (
	TopicConnection Topic = "connection"
	TopicCredential Topic = "issue-credential"
	TopicProof      Topic = "proof"
	TopicMediation  Topic = "mediation"
	TopicOutOfBand  Topic = "out-of-band"
)

// StateChangeEvent is the normalized form of one engine state transition.
// Record holds the engine record snapshot taken at emission, when the engine
// event carried one.
type StateChangeEvent struct {
	Topic         Topic
	RecordID      string
	ConnectionID  string
	ThreadID      string
	Role          string
	State         string
	PreviousState string
	Record        interface{}
}

// ReplaySubject buffers every published event so a cursor opened after an
// event occurred still observes it. There is a single producer (the engine
// tap) and any number of independent readers. The buffer is unbounded; at
// test-harness scale the event volume per scenario is tiny.
type ReplaySubject struct {
	mu      sync.Mutex
	log     []StateChangeEvent
	arrived chan struct{}
}

// NewReplaySubject creates an empty subject.
func NewReplaySubject() *ReplaySubject {
	return &ReplaySubject{arrived: make(chan struct{})}
}

// Publish appends an event and wakes every blocked cursor.
func (s *ReplaySubject) Publish(ev StateChangeEvent) {
	s.mu.Lock()
	s.log = append(s.log, ev)
	close(s.arrived)
	s.arrived = make(chan struct{})
	s.mu.Unlock()
}

// Len reports how many events have been published so far.
func (s *ReplaySubject) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.log)
}

// Cursor returns an independent reader positioned at the start of the buffer.
// Consuming from one cursor does not affect any other.
func (s *ReplaySubject) Cursor() *Cursor {
	return &Cursor{subject: s}
}

// Cursor iterates a ReplaySubject in emission order, beginning with events
// published before the cursor was created.
type Cursor struct {
	subject *ReplaySubject
	next    int
}

// Next returns the next event, blocking until one is published or ctx is done.
func (c *Cursor) Next(ctx context.Context) (StateChangeEvent, error) {
	for {
		c.subject.mu.Lock()
		if c.next < len(c.subject.log) {
			ev := c.subject.log[c.next]
			c.next++
			c.subject.mu.Unlock()
			return ev, nil
		}
		arrived := c.subject.arrived
		c.subject.mu.Unlock()

		select {
		case <-arrived:
		case <-ctx.Done():
			return StateChangeEvent{}, ctx.Err()
		}
	}
}

// Subjects groups one ReplaySubject per protocol topic. All subjects are
// created together when the bridge comes online so no event can fire into a
// missing subscription.
type Subjects struct {
	Connection *ReplaySubject
	Credential *ReplaySubject
	Proof      *ReplaySubject
	Mediation  *ReplaySubject
	OutOfBand  *ReplaySubject
}

// NewSubjects creates the full set of per-topic subjects.
func NewSubjects() *Subjects {
	return &Subjects{
		Connection: NewReplaySubject(),
		Credential: NewReplaySubject(),
		Proof:      NewReplaySubject(),
		Mediation:  NewReplaySubject(),
		OutOfBand:  NewReplaySubject(),
	}
}

// ByTopic returns the subject for a topic, or nil for an unknown topic.
func (s *Subjects) ByTopic(t Topic) *ReplaySubject {
	switch t {
	case TopicConnection:
		return s.Connection
	case TopicCredential:
		return s.Credential
	case TopicProof:
		return s.Proof
	case TopicMediation:
		return s.Mediation
	case TopicOutOfBand:
		return s.OutOfBand
	default:
		return nil
	}
}
