package events

import (
	"sync"

	"github.com/sirupsen/logrus"

	coreevents "github.com/ajna-inc/essi/pkg/core/events"
	credrecs "github.com/ajna-inc/essi/pkg/didcomm/modules/credentials/records"
	"github.com/ajna-inc/essi/pkg/didcomm/modules/oob"
	proofrecs "github.com/ajna-inc/essi/pkg/didcomm/modules/proofs/records"
	routerecs "github.com/ajna-inc/essi/pkg/didcomm/modules/routing/records"
)

// Engine event names the tap listens on. Connection, credential and
// out-of-band names come from the essi events package; proof and mediation
// state changes are observed through the repository save/update events.
const (
	engineProofSaved        = "ProofRecord.saved"
	engineProofUpdated      = "ProofRecord.updated"
	engineMediationSaved    = "MediationRecord.saved"
	engineMediationUpdated  = "MediationRecord.updated"
	engineCredentialSaved   = "CredentialRecord.saved"
	engineCredentialUpdated = "CredentialRecord.updated"
)

// Reaction runs for every event published to a topic, independent of any
// pending HTTP request. Reactions are registered once at startup and live for
// the lifetime of the tap.
type Reaction func(StateChangeEvent)

// Tap subscribes to the engine's event bus and republishes every protocol
// state change into the per-topic replay subjects, normalizing the engine's
// payload shapes. It tracks the previously observed state per record so every
// published event carries its transition.
type Tap struct {
	subjects *Subjects
	log      *logrus.Entry

	mu        sync.Mutex
	previous  map[string]string
	reactions map[Topic][]Reaction
	unsubs    []func()
}

// NewTap creates a tap feeding the given subjects.
func NewTap(subjects *Subjects) *Tap {
	return &Tap{
		subjects:  subjects,
		log:       logrus.WithField("component", "event-tap"),
		previous:  make(map[string]string),
		reactions: make(map[Topic][]Reaction),
	}
}

// React registers a permanent reaction on one topic.
func (t *Tap) React(topic Topic, fn Reaction) {
	t.mu.Lock()
	t.reactions[topic] = append(t.reactions[topic], fn)
	t.mu.Unlock()
}

// Attach opens the bus subscriptions. This must run before any harness
// command that could race a fast transition: the grant for an auto-accepted
// mediation request can arrive before the harness's next command is issued.
func (t *Tap) Attach(bus coreevents.Bus) {
	t.unsubs = append(t.unsubs,
		bus.Subscribe(coreevents.EventConnectionStateChanged, t.onConnectionChanged),
		bus.Subscribe(coreevents.CredentialsStateChanged, t.onCredentialChanged),
		bus.Subscribe(engineCredentialSaved, t.onCredentialRecord),
		bus.Subscribe(engineCredentialUpdated, t.onCredentialRecord),
		bus.Subscribe(engineProofSaved, t.onProofChanged),
		bus.Subscribe(engineProofUpdated, t.onProofChanged),
		bus.Subscribe(engineMediationSaved, t.onMediationChanged),
		bus.Subscribe(engineMediationUpdated, t.onMediationChanged),
		bus.Subscribe(oob.OutOfBandEventStateChanged, t.onOobChanged),
	)
}

// Detach closes all bus subscriptions. Events already buffered in the
// subjects remain observable.
func (t *Tap) Detach() {
	for _, unsubscribe := range t.unsubs {
		unsubscribe()
	}
	t.unsubs = nil
}

func (t *Tap) emit(ev StateChangeEvent) {
	subject := t.subjects.ByTopic(ev.Topic)
	if subject == nil || ev.State == "" {
		return
	}

	key := string(ev.Topic) + "/" + ev.RecordID
	t.mu.Lock()
	if ev.PreviousState == "" {
		ev.PreviousState = t.previous[key]
	}
	t.previous[key] = ev.State
	reactions := append([]Reaction(nil), t.reactions[ev.Topic]...)
	t.mu.Unlock()

	t.log.WithFields(logrus.Fields{
		"topic":    ev.Topic,
		"recordId": ev.RecordID,
		"state":    ev.State,
	}).Debug("state change observed")

	subject.Publish(ev)
	for _, fn := range reactions {
		fn(ev)
	}
}

func (t *Tap) onConnectionChanged(e coreevents.Event) {
	connectionID := payloadString(e.Data, "connectionId")
	if connectionID == "" {
		return
	}
	t.emit(StateChangeEvent{
		Topic:        TopicConnection,
		RecordID:     connectionID,
		ConnectionID: connectionID,
		State:        payloadString(e.Data, "state"),
		Record:       e.Data,
	})
}

func (t *Tap) onCredentialChanged(e coreevents.Event) {
	recordID := payloadString(e.Data, "recordId")
	if recordID == "" {
		return
	}
	t.emit(StateChangeEvent{
		Topic:        TopicCredential,
		RecordID:     recordID,
		ConnectionID: payloadString(e.Data, "connectionId"),
		ThreadID:     payloadString(e.Data, "threadId"),
		State:        payloadString(e.Data, "state"),
		Record:       e.Data,
	})
}

// onCredentialRecord handles the repository emission shape, which carries the
// full record snapshot including thread id and role.
func (t *Tap) onCredentialRecord(e coreevents.Event) {
	rec, ok := unwrap(e.Data).(*credrecs.CredentialRecord)
	if !ok || rec == nil {
		return
	}
	t.emit(StateChangeEvent{
		Topic:        TopicCredential,
		RecordID:     rec.ID,
		ConnectionID: rec.ConnectionId,
		ThreadID:     rec.ThreadId,
		Role:         rec.Role,
		State:        string(rec.State),
		Record:       rec,
	})
}

func (t *Tap) onProofChanged(e coreevents.Event) {
	rec, ok := unwrap(e.Data).(*proofrecs.ProofRecord)
	if !ok || rec == nil {
		return
	}
	t.emit(StateChangeEvent{
		Topic:        TopicProof,
		RecordID:     rec.ID,
		ConnectionID: rec.ConnectionId,
		ThreadID:     rec.ThreadId,
		Role:         rec.Role,
		State:        rec.State,
		Record:       rec,
	})
}

func (t *Tap) onMediationChanged(e coreevents.Event) {
	rec, ok := unwrap(e.Data).(*routerecs.MediationRecord)
	if !ok || rec == nil {
		return
	}
	t.emit(StateChangeEvent{
		Topic:        TopicMediation,
		RecordID:     rec.ID,
		ConnectionID: rec.ConnectionId,
		ThreadID:     rec.ThreadId,
		Role:         string(rec.Role),
		State:        string(rec.State),
		Record:       rec,
	})
}

func (t *Tap) onOobChanged(e coreevents.Event) {
	ev := StateChangeEvent{
		Topic:         TopicOutOfBand,
		State:         payloadString(e.Data, "state"),
		PreviousState: payloadString(e.Data, "previousState"),
	}
	if payload, ok := e.Data.(map[string]interface{}); ok {
		if rec, ok := payload["outOfBandRecord"].(*oob.OutOfBandRecord); ok && rec != nil {
			ev.RecordID = rec.ID
			ev.Role = string(rec.Role)
			ev.Record = rec
		}
	}
	if ev.RecordID == "" {
		ev.RecordID = payloadString(e.Data, "outOfBandId")
	}
	if ev.RecordID == "" {
		return
	}
	t.emit(ev)
}

// unwrap peels the repository emission shape, which nests the record inside a
// core events.Event value.
func unwrap(data interface{}) interface{} {
	if inner, ok := data.(coreevents.Event); ok {
		return inner.Data
	}
	return data
}

// payloadString reads a string field from the two payload shapes the engine
// publishes: map[string]interface{} and map[string]string.
func payloadString(data interface{}, key string) string {
	switch m := data.(type) {
	case map[string]interface{}:
		if v, ok := m[key].(string); ok {
			return v
		}
	case map[string]string:
		return m[key]
	}
	return ""
}
