// Package server exposes the test-protocol HTTP surface. Every command
// handler follows the same shape: translate the request into one engine call,
// then either respond from the returned record (synchronous operations) or
// wait on the replayed event stream for the target state (fire-then-await).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/config"
	bcerrors "github.com/ajna-inc/essi-backchannel/pkg/backchannel/errors"
	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/events"
	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/lifecycle"
)

// Backchannel is the HTTP control surface over one lifecycle runner.
type Backchannel struct {
	cfg    *config.Config
	runner *lifecycle.Runner
	log    *logrus.Entry
}

// New creates the backchannel handler set.
func New(cfg *config.Config, runner *lifecycle.Runner) *Backchannel {
	return &Backchannel{
		cfg:    cfg,
		runner: runner,
		log:    logrus.WithField("component", "server"),
	}
}

// Router builds the chi router with every test-protocol route mounted.
func (b *Backchannel) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/agent/command", func(r chi.Router) {
		r.Get("/status", b.handleStatus)
		r.Get("/version", b.handleVersion)
		r.Post("/agent/start", b.handleAgentStart)

		r.Route("/connection", func(r chi.Router) {
			r.Post("/create-invitation", b.handleConnectionCreateInvitation)
			r.Post("/receive-invitation", b.handleConnectionReceiveInvitation)
			r.Post("/accept-invitation", b.handleConnectionPassThrough)
			r.Post("/accept-request", b.handleConnectionPassThrough)
			r.Post("/send-ping", b.handleConnectionSendPing)
			r.Get("/{id}", b.handleConnectionGet)
		})

		r.Route("/out-of-band", func(r chi.Router) {
			r.Post("/send-invitation-message", b.handleOobSendInvitation)
			r.Post("/receive-invitation", b.handleOobReceiveInvitation)
			r.Get("/{id}", b.handleOobGet)
		})

		r.Route("/issue-credential", func(r chi.Router) {
			r.Post("/send-offer", b.handleCredentialSendOffer)
			r.Post("/send-request", b.handleCredentialAwait("request-sent"))
			r.Post("/issue", b.handleCredentialAwait("credential-issued"))
			r.Post("/store", b.handleCredentialAwait("done"))
			r.Get("/{id}", b.handleCredentialGet)
		})

		r.Route("/proof", func(r chi.Router) {
			r.Post("/send-proposal", b.handleProofSendProposal)
			r.Post("/send-request", b.handleProofSendRequest)
			r.Post("/send-presentation", b.handleProofAwait("presentation-sent"))
			r.Post("/verify-presentation", b.handleProofAwait("done"))
			r.Get("/{id}", b.handleProofGet)
		})

		r.Route("/mediation", func(r chi.Router) {
			r.Post("/send-request", b.handleMediationSendRequest)
			r.Post("/send-grant", b.handleMediationSendGrant)
			r.Post("/send-deny", b.handleMediationSendDeny)
			r.Get("/{id}", b.handleMediationGet)
		})

		r.Route("/revocation", func(r chi.Router) {
			r.Post("/revoke", b.handleRevocationRevoke)
		})

		r.Route("/did", func(r chi.Router) {
			r.Get("/", b.handleDidGetPublic)
			r.Post("/resolve", b.handleDidResolve)
		})
	})

	return r
}

// commandRequest is the envelope every POST command carries.
type commandRequest struct {
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// decode reads the command envelope. An empty body is a valid empty command.
func decode(r *http.Request) (commandRequest, error) {
	var req commandRequest
	if r.Body == nil {
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, err
	}
	return req, nil
}

// dataMap unmarshals the data payload into a generic map. Nil data yields an
// empty map.
func (c commandRequest) dataMap() map[string]interface{} {
	m := map[string]interface{}{}
	if len(c.Data) > 0 {
		_ = json.Unmarshal(c.Data, &m)
	}
	return m
}

// dataString reads one string field out of the data payload.
func (c commandRequest) dataString(key string) string {
	if v, ok := c.dataMap()[key].(string); ok {
		return v
	}
	return ""
}

func (b *Backchannel) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			b.log.WithError(err).Warn("failed to encode response")
		}
	}
}

// writeError maps the error taxonomy onto HTTP statuses. A command failure is
// never fatal to the process.
func (b *Backchannel) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, bcerrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, bcerrors.ErrNotImplemented):
		status = http.StatusNotImplemented
	case errors.Is(err, events.ErrTimeout):
		status = http.StatusRequestTimeout
	}
	b.log.WithError(err).WithField("status", status).Warn("command failed")
	b.respond(w, status, map[string]string{"error": err.Error()})
}

// await waits on the given topic's replay subject for the first event
// matching the predicate, bounded by the configured timeout.
func (b *Backchannel) await(ctx context.Context, topic events.Topic, match events.Match) (events.StateChangeEvent, error) {
	subjects := b.runner.Subjects()
	if subjects == nil {
		return events.StateChangeEvent{}, lifecycle.ErrNotStarted
	}
	timeout := b.cfg.AwaitTimeout
	if timeout <= 0 {
		timeout = events.DefaultAwaitTimeout
	}
	return events.WaitFor(ctx, subjects.ByTopic(topic), timeout, match)
}
