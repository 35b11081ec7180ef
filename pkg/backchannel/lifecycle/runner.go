// Package lifecycle owns the embedded agent's start/stop cycle. Every restart
// is serialized: the harness can fire agent-start commands back to back and
// each one observes a fully stopped, then fully started agent.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ajna-inc/essi/pkg/anoncreds"
	"github.com/ajna-inc/essi/pkg/anoncreds/registry"
	"github.com/ajna-inc/essi/pkg/anoncreds/registry/inmemory"
	"github.com/ajna-inc/essi/pkg/askar"
	"github.com/ajna-inc/essi/pkg/core/agent"
	corectx "github.com/ajna-inc/essi/pkg/core/context"
	"github.com/ajna-inc/essi/pkg/core/di"
	coreevents "github.com/ajna-inc/essi/pkg/core/events"
	"github.com/ajna-inc/essi/pkg/core/storage"
	"github.com/ajna-inc/essi/pkg/didcomm"
	"github.com/ajna-inc/essi/pkg/didcomm/messages"
	dcmodule "github.com/ajna-inc/essi/pkg/didcomm/module"
	"github.com/ajna-inc/essi/pkg/didcomm/modules/credentials/formats"
	formatanoncreds "github.com/ajna-inc/essi/pkg/didcomm/modules/credentials/formats/anoncreds"
	"github.com/ajna-inc/essi/pkg/didcomm/modules/credentials/protocols"
	protocolv2 "github.com/ajna-inc/essi/pkg/didcomm/modules/credentials/protocols/v2"
	credservices "github.com/ajna-inc/essi/pkg/didcomm/modules/credentials/services"
	mpv1 "github.com/ajna-inc/essi/pkg/didcomm/modules/messagepickup/v1"
	"github.com/ajna-inc/essi/pkg/didcomm/modules/oob"
	"github.com/ajna-inc/essi/pkg/didcomm/modules/proofs"
	mediationrepo "github.com/ajna-inc/essi/pkg/didcomm/modules/routing/repository"
	didsapi "github.com/ajna-inc/essi/pkg/dids/api"
	didsmodule "github.com/ajna-inc/essi/pkg/dids/module"

	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/config"
	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/events"
)

// ErrNotStarted is returned by every accessor that needs a running agent
// before the first successful agent-start command.
var ErrNotStarted = errors.New("agent not started")

// pickupBatchSize is how many queued messages one batch-pickup requests from
// the mediator after a grant.
const pickupBatchSize = 10

// Runner drives the embedded agent through stop/start cycles and hands out
// its module APIs. A zero Runner is not usable; construct with NewRunner.
type Runner struct {
	cfg *config.Config
	log *logrus.Entry

	// seq serializes whole restart sequences, never individual steps.
	seq sync.Mutex

	stateMu    sync.RWMutex
	agent      *agent.Agent
	subjects   *events.Subjects
	tap        *events.Tap
	transports TransportConfig
	generation string

	pickupMu   sync.Mutex
	pickupSent map[string]bool
	pickups    atomic.Int64

	// Step functions are fields so sequencing is testable without an agent.
	stopFn  func() error
	startFn func(TransportConfig) error
	setupFn func() error
	sendFn  func(msg interface{}, connectionID string) error
}

// NewRunner creates a runner. The agent is not started until Restart is
// called.
func NewRunner(cfg *config.Config) *Runner {
	r := &Runner{
		cfg:        cfg,
		log:        logrus.WithField("component", "lifecycle"),
		pickupSent: make(map[string]bool),
	}
	r.stopFn = r.stop
	r.startFn = r.start
	r.setupFn = r.postStartSetup
	r.sendFn = r.sendToConnection
	return r
}

// Restart stops any running agent, starts a fresh one with the requested
// transports, and performs post-start setup. Concurrent calls queue; the
// three steps of one call never interleave with another's.
func (r *Runner) Restart(tc TransportConfig) error {
	tc = tc.withDefaults()
	if err := tc.validate(); err != nil {
		return err
	}

	r.seq.Lock()
	defer r.seq.Unlock()

	if err := r.stopFn(); err != nil {
		return fmt.Errorf("failed to stop agent: %w", err)
	}
	if err := r.startFn(tc); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}
	if err := r.setupFn(); err != nil {
		return fmt.Errorf("failed post-start setup: %w", err)
	}
	return nil
}

// Stop shuts the agent down if one is running.
func (r *Runner) Stop() error {
	r.seq.Lock()
	defer r.seq.Unlock()
	return r.stopFn()
}

// Active reports whether a started, initialized agent is available.
func (r *Runner) Active() bool {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.agent != nil && r.agent.IsInitialized()
}

// Agent returns the running agent or ErrNotStarted.
func (r *Runner) Agent() (*agent.Agent, error) {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	if r.agent == nil {
		return nil, ErrNotStarted
	}
	return r.agent, nil
}

// Subjects returns the replay subjects of the current agent generation. Nil
// before the first start.
func (r *Runner) Subjects() *events.Subjects {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.subjects
}

// Transports reports the transport configuration of the current generation.
func (r *Runner) Transports() TransportConfig {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.transports
}

// Generation identifies the current agent instance; it changes on every
// successful start.
func (r *Runner) Generation() string {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.generation
}

// PickupInitiations counts batch-pickups sent in reaction to mediation
// grants, across all generations.
func (r *Runner) PickupInitiations() int64 {
	return r.pickups.Load()
}

func (r *Runner) stop() error {
	r.stateMu.Lock()
	a := r.agent
	tap := r.tap
	r.agent = nil
	r.tap = nil
	r.stateMu.Unlock()

	if tap != nil {
		tap.Detach()
	}
	if a == nil {
		return nil
	}
	r.log.Info("shutting down agent")
	return a.Shutdown()
}

func (r *Runner) start(tc TransportConfig) error {
	ac := r.cfg.Agent
	agentConfig := &corectx.AgentConfig{
		Label:       ac.Label,
		InboundHost: ac.InboundHost,
		InboundPort: ac.InboundPort,
		WalletConfig: &corectx.WalletConfig{
			ID:  ac.WalletID,
			Key: ac.WalletKey,
		},
		MediatorInvitationUrl: ac.MediatorInvitationURL,
		AutoAcceptConnections: true,
		AutoAcceptCredentials: "always",
	}

	a, err := agent.NewAgent(&agent.AgentOptions{
		Config:  agentConfig,
		Modules: r.modules(),
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	if err := a.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}

	generation := uuid.NewString()
	r.stateMu.Lock()
	r.agent = a
	r.transports = tc
	r.generation = generation
	r.stateMu.Unlock()

	r.log.WithFields(logrus.Fields{
		"generation":  generation,
		"label":       ac.Label,
		"inboundPort": ac.InboundPort,
		"inbound":     tc.Inbound,
		"outbound":    tc.Outbound,
	}).Info("agent started")
	return nil
}

func (r *Runner) modules() []di.Module {
	ac := r.cfg.Agent
	askarModule := askar.NewAskarModuleBuilder().
		WithSQLiteDatabase(ac.WalletPath).
		WithStoreID(ac.WalletID).
		WithStoreKey(ac.WalletKey).
		Build()

	formatService := formatanoncreds.NewAnonCredsCredentialFormatService()
	v2Protocol := protocolv2.NewV2CredentialProtocol([]formats.CredentialFormatService{formatService})

	return []di.Module{
		askarModule,
		didsmodule.NewDidsModule(&didsmodule.DidsModuleConfig{
			EnableDidKey:  true,
			EnableDidPeer: true,
		}),
		anoncreds.NewAnonCredsModule(&anoncreds.AnonCredsModuleConfig{
			Registries: []registry.Registry{inmemory.NewMemoryRegistry(nil)},
		}),
		didcomm.NewDidCommModule(nil),
		dcmodule.NewCredentialsModule(&dcmodule.CredentialsModuleConfig{
			AutoAcceptCredentials: "always",
			CredentialProtocols:   []protocols.CredentialProtocol{v2Protocol},
		}),
		dcmodule.NewProofsModule(&dcmodule.ProofsModuleConfig{
			AutoAcceptProofs: "always",
		}),
	}
}

// postStartSetup wires the event tap to the fresh agent's bus and registers
// the permanent reactions. It runs before Restart returns so no transition
// caused by the next harness command can be missed. Waiters created against a
// previous generation's subjects are left to time out.
func (r *Runner) postStartSetup() error {
	a, err := r.Agent()
	if err != nil {
		return err
	}

	subjects := events.NewSubjects()
	tap := events.NewTap(subjects)
	tap.React(events.TopicMediation, r.onMediationChange)

	bus, err := di.ResolveAs[coreevents.Bus](a.GetDependencyManager(), di.TokenEventBus)
	if err != nil {
		return fmt.Errorf("failed to resolve event bus: %w", err)
	}
	tap.Attach(bus)

	r.stateMu.Lock()
	r.subjects = subjects
	r.tap = tap
	r.stateMu.Unlock()

	r.pickupMu.Lock()
	r.pickupSent = make(map[string]bool)
	r.pickupMu.Unlock()

	a.ProvisionMediatorIfConfigured()
	return nil
}

// onMediationChange initiates a batch-pickup on the mediator connection as
// soon as a grant is observed, once per connection per generation. The
// mediator queues forwarded messages until the recipient asks for them, so
// without this first pickup nothing routed through the mediator would arrive.
func (r *Runner) onMediationChange(ev events.StateChangeEvent) {
	if ev.Role != "recipient" || ev.State != "granted" || ev.ConnectionID == "" {
		return
	}

	r.pickupMu.Lock()
	if r.pickupSent[ev.ConnectionID] {
		r.pickupMu.Unlock()
		return
	}
	r.pickupSent[ev.ConnectionID] = true
	r.pickupMu.Unlock()

	pickup := mpv1.NewV1BatchPickup(pickupBatchSize)
	pickup.SetReturnRoute(messages.ReturnRouteAll)
	if err := r.sendFn(pickup, ev.ConnectionID); err != nil {
		// A failed send must not consume the connection's pickup slot; the
		// next grant event retries.
		r.pickupMu.Lock()
		delete(r.pickupSent, ev.ConnectionID)
		r.pickupMu.Unlock()
		r.log.WithError(err).WithField("connectionId", ev.ConnectionID).
			Warn("failed to initiate message pickup after mediation grant")
		return
	}
	r.pickups.Add(1)
	r.log.WithField("connectionId", ev.ConnectionID).Info("initiated message pickup after mediation grant")
}

func (r *Runner) sendToConnection(msg interface{}, connectionID string) error {
	a, err := r.Agent()
	if err != nil {
		return err
	}
	return a.SendMessage(msg, connectionID)
}

// resolve pulls a typed service out of the running agent's DI container.
func resolve[T any](r *Runner, token di.Token) (T, error) {
	var zero T
	a, err := r.Agent()
	if err != nil {
		return zero, err
	}
	return di.ResolveAs[T](a.GetDependencyManager(), token)
}

// OobApi returns the out-of-band module API.
func (r *Runner) OobApi() (*oob.OutOfBandApi, error) {
	return resolve[*oob.OutOfBandApi](r, di.TokenOobApi)
}

// ProofsApi returns the present-proof module API.
func (r *Runner) ProofsApi() (*proofs.ProofsApi, error) {
	return resolve[*proofs.ProofsApi](r, di.TokenProofsApi)
}

// CredentialsApi returns the issue-credential module API.
func (r *Runner) CredentialsApi() (*dcmodule.CredentialsApi, error) {
	return resolve[*dcmodule.CredentialsApi](r, di.TokenCredentialsApi)
}

// DidsApi returns the DID management API.
func (r *Runner) DidsApi() (*didsapi.DidsApi, error) {
	return resolve[*didsapi.DidsApi](r, di.TokenDidsApi)
}

// CredentialService returns the credential record service, used to look
// records up by thread id.
func (r *Runner) CredentialService() (*credservices.CredentialService, error) {
	return resolve[*credservices.CredentialService](r, di.TokenCredentialsService)
}

// MediationRepository returns a repository view over the agent's stored
// mediation records.
func (r *Runner) MediationRepository() (*mediationrepo.MediationRepository, error) {
	store, err := resolve[storage.StorageService](r, di.TokenStorageService)
	if err != nil {
		return nil, err
	}
	bus, err := resolve[coreevents.Bus](r, di.TokenEventBus)
	if err != nil {
		return nil, err
	}
	return mediationrepo.NewMediationRepository(store, bus), nil
}
