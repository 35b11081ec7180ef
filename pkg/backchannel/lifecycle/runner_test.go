package lifecycle

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mpv1 "github.com/ajna-inc/essi/pkg/didcomm/modules/messagepickup/v1"

	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/config"
	bcerrors "github.com/ajna-inc/essi-backchannel/pkg/backchannel/errors"
	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/events"
)

// fakeRunner replaces the lifecycle steps with recording stubs so sequencing
// can be observed without a real agent.
func fakeRunner(record func(step string)) *Runner {
	r := NewRunner(config.Default())
	r.stopFn = func() error {
		record("stop")
		return nil
	}
	r.startFn = func(TransportConfig) error {
		record("start")
		return nil
	}
	r.setupFn = func() error {
		record("setup")
		return nil
	}
	return r
}

func TestRestartRunsStepsInOrder(t *testing.T) {
	var steps []string
	r := fakeRunner(func(s string) { steps = append(steps, s) })

	require.NoError(t, r.Restart(TransportConfig{}))
	assert.Equal(t, []string{"stop", "start", "setup"}, steps)
}

func TestConcurrentRestartsNeverInterleave(t *testing.T) {
	var mu sync.Mutex
	var steps []string
	r := fakeRunner(func(s string) {
		mu.Lock()
		steps = append(steps, s)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Restart(TransportConfig{}))
		}()
	}
	wg.Wait()

	require.Len(t, steps, 24)
	for i := 0; i < len(steps); i += 3 {
		assert.Equal(t, []string{"stop", "start", "setup"}, steps[i:i+3], "cycle starting at %d", i)
	}
}

func TestRestartRejectsWebSocketTransportBeforeStopping(t *testing.T) {
	var steps []string
	r := fakeRunner(func(s string) { steps = append(steps, s) })

	err := r.Restart(TransportConfig{Inbound: []string{"ws"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, bcerrors.ErrNotImplemented)
	// A rejected transport must not have torn down the running agent.
	assert.Empty(t, steps)
}

func TestRestartRejectsUnknownTransport(t *testing.T) {
	r := fakeRunner(func(string) {})
	err := r.Restart(TransportConfig{Outbound: []string{"carrier-pigeon"}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, bcerrors.ErrNotImplemented)
}

func TestTransportConfigDefaults(t *testing.T) {
	tc := TransportConfig{}.withDefaults()
	assert.Equal(t, []string{"http"}, tc.Inbound)
	assert.Equal(t, []string{"http"}, tc.Outbound)

	tc = TransportConfig{Inbound: []string{"http"}, Outbound: []string{"http", "http"}}.withDefaults()
	assert.Equal(t, []string{"http"}, tc.Inbound)
	assert.Equal(t, []string{"http", "http"}, tc.Outbound)
}

func TestAccessorsBeforeFirstStart(t *testing.T) {
	r := NewRunner(config.Default())

	assert.False(t, r.Active())
	assert.Nil(t, r.Subjects())

	_, err := r.Agent()
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = r.OobApi()
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = r.MediationRepository()
	assert.ErrorIs(t, err, ErrNotStarted)
}

func grantEvent(connectionID string) events.StateChangeEvent {
	return events.StateChangeEvent{
		Topic:        events.TopicMediation,
		RecordID:     "med-" + connectionID,
		ConnectionID: connectionID,
		Role:         "recipient",
		State:        "granted",
	}
}

func TestMediationGrantTriggersExactlyOnePickup(t *testing.T) {
	r := NewRunner(config.Default())
	var sent []string
	r.sendFn = func(msg interface{}, connectionID string) error {
		_, ok := msg.(*mpv1.V1BatchPickup)
		require.True(t, ok, "pickup reaction must send a batch-pickup message")
		sent = append(sent, connectionID)
		return nil
	}

	requested := grantEvent("conn-1")
	requested.State = "requested"
	r.onMediationChange(requested)
	r.onMediationChange(grantEvent("conn-1"))
	// A repeated grant for the same connection must not pick up again.
	r.onMediationChange(grantEvent("conn-1"))

	assert.Equal(t, []string{"conn-1"}, sent)
	assert.Equal(t, int64(1), r.PickupInitiations())
}

func TestMediationPickupIgnoresNonRecipientGrants(t *testing.T) {
	r := NewRunner(config.Default())
	var sends int
	r.sendFn = func(interface{}, string) error {
		sends++
		return nil
	}

	asMediator := grantEvent("conn-1")
	asMediator.Role = "mediator"
	r.onMediationChange(asMediator)
	r.onMediationChange(grantEvent(""))

	assert.Zero(t, sends)
	assert.Zero(t, r.PickupInitiations())
}

func TestMediationPickupRetriesAfterFailedSend(t *testing.T) {
	r := NewRunner(config.Default())
	fail := true
	var sends int
	r.sendFn = func(interface{}, string) error {
		sends++
		if fail {
			return errors.New("transport unavailable")
		}
		return nil
	}

	r.onMediationChange(grantEvent("conn-1"))
	assert.Equal(t, 1, sends)
	assert.Zero(t, r.PickupInitiations())

	// The failed send must not consume the connection's pickup slot.
	fail = false
	r.onMediationChange(grantEvent("conn-1"))
	assert.Equal(t, 2, sends)
	assert.Equal(t, int64(1), r.PickupInitiations())
}

func TestStopWithoutAgentIsANoop(t *testing.T) {
	r := NewRunner(config.Default())
	assert.NoError(t, r.Stop())
}

func TestStripPrerelease(t *testing.T) {
	tests := map[string]string{
		"v0.5.5":           "0.5.5",
		"0.5.5":            "0.5.5",
		"v0.5.5-rc.1":      "0.5.5",
		"0.5.5-rc.1+build": "0.5.5",
		"v1.2.3+meta":      "1.2.3",
		"(devel)":          "(devel)",
	}
	for in, want := range tests {
		assert.Equal(t, want, stripPrerelease(in), in)
	}
}

func TestVersionNeverEmpty(t *testing.T) {
	assert.NotEmpty(t, Version())
}
