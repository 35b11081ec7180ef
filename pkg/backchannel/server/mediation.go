package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	routerecs "github.com/ajna-inc/essi/pkg/didcomm/modules/routing/records"

	bcerrors "github.com/ajna-inc/essi-backchannel/pkg/backchannel/errors"
	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/events"
	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/mapping"
)

func mediationBody(connectionID, role, state string) (map[string]interface{}, error) {
	ws, err := mapping.WireState(mapping.FamilyMediation, role, state)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"connection_id": connectionID,
		"state":         ws,
	}, nil
}

func (b *Backchannel) handleMediationSendRequest(w http.ResponseWriter, r *http.Request) {
	req, err := decode(r)
	if err != nil {
		b.writeError(w, err)
		return
	}
	id := connectionID(req)
	if id == "" {
		b.writeError(w, fmt.Errorf("connection id is required"))
		return
	}

	a, err := b.runner.Agent()
	if err != nil {
		b.writeError(w, err)
		return
	}
	if err := a.RequestMediation(id); err != nil {
		b.writeError(w, err)
		return
	}
	body, err := mediationBody(id, "recipient", "requested")
	if err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, body)
}

// handleMediationSendGrant awaits the grant on the given connection. The
// engine's mediator side grants automatically on request receipt; issuing an
// explicit grant decision is not supported.
func (b *Backchannel) handleMediationSendGrant(w http.ResponseWriter, r *http.Request) {
	req, err := decode(r)
	if err != nil {
		b.writeError(w, err)
		return
	}
	id := connectionID(req)
	if id == "" {
		b.writeError(w, fmt.Errorf("connection id is required"))
		return
	}

	ev, err := b.await(r.Context(), events.TopicMediation, events.ByConnection(id, "granted"))
	if err != nil {
		b.writeError(w, err)
		return
	}
	body, err := mediationBody(id, ev.Role, ev.State)
	if err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, body)
}

func (b *Backchannel) handleMediationSendDeny(w http.ResponseWriter, r *http.Request) {
	b.writeError(w, fmt.Errorf("%w: mediation deny", bcerrors.ErrNotImplemented))
}

func (b *Backchannel) handleMediationGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	repo, err := b.runner.MediationRepository()
	if err != nil {
		b.writeError(w, err)
		return
	}
	a, err := b.runner.Agent()
	if err != nil {
		b.writeError(w, err)
		return
	}

	var rec *routerecs.MediationRecord
	if found, err := repo.FindByConnectionId(a.GetContext(), id); err == nil {
		rec = found
	} else if byID, err := repo.GetById(a.GetContext(), id); err == nil {
		rec = byID
	}
	if rec == nil {
		b.writeError(w, fmt.Errorf("%w: mediation record for %s", bcerrors.ErrNotFound, id))
		return
	}
	body, err := mediationBody(rec.ConnectionId, string(rec.Role), string(rec.State))
	if err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, body)
}
