package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ajna-inc/essi/pkg/didcomm/modules/oob"
	oobmsgs "github.com/ajna-inc/essi/pkg/didcomm/modules/oob/messages"

	bcerrors "github.com/ajna-inc/essi-backchannel/pkg/backchannel/errors"
	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/mapping"
)

func oobBody(rec *oob.OutOfBandRecord) (map[string]interface{}, error) {
	ws, err := mapping.WireState(mapping.FamilyOutOfBand, string(rec.Role), rec.State)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"id":         rec.ID,
		"state":      ws,
		"invitation": rec.OutOfBandInvitation,
	}, nil
}

func (b *Backchannel) handleOobSendInvitation(w http.ResponseWriter, r *http.Request) {
	req, err := decode(r)
	if err != nil {
		b.writeError(w, err)
		return
	}
	api, err := b.runner.OobApi()
	if err != nil {
		b.writeError(w, err)
		return
	}

	data := req.dataMap()
	cfg := oob.CreateOutOfBandInvitationConfig{
		Label: b.cfg.Agent.Label,
	}
	if goal, ok := data["goal"].(string); ok {
		cfg.Goal = goal
	}
	if goalCode, ok := data["goal_code"].(string); ok {
		cfg.GoalCode = goalCode
	}

	rec, err := api.CreateInvitation(cfg)
	if err != nil {
		b.writeError(w, err)
		return
	}
	body, err := oobBody(rec)
	if err != nil {
		b.writeError(w, err)
		return
	}
	if inv, ok := rec.OutOfBandInvitation.(*oobmsgs.OutOfBandInvitationMessage); ok {
		if invURL, err := api.InvitationToUrl(inv); err == nil {
			body["invitation_url"] = invURL
		}
	}
	b.respond(w, http.StatusOK, body)
}

func (b *Backchannel) handleOobReceiveInvitation(w http.ResponseWriter, r *http.Request) {
	req, err := decode(r)
	if err != nil {
		b.writeError(w, err)
		return
	}
	invitationURL, err := invitationURLFromData(req)
	if err != nil {
		b.writeError(w, err)
		return
	}
	api, err := b.runner.OobApi()
	if err != nil {
		b.writeError(w, err)
		return
	}

	autoAccept := true
	rec, err := api.ReceiveInvitationFromUrl(invitationURL, oob.ReceiveOutOfBandInvitationConfig{
		Label:                b.cfg.Agent.Label,
		AutoAcceptInvitation: &autoAccept,
		AutoAcceptConnection: &autoAccept,
	})
	if err != nil {
		b.writeError(w, err)
		return
	}
	body, err := oobBody(rec)
	if err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, body)
}

func (b *Backchannel) handleOobGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	api, err := b.runner.OobApi()
	if err != nil {
		b.writeError(w, err)
		return
	}
	rec, err := api.FindById(id)
	if err != nil || rec == nil {
		b.writeError(w, fmt.Errorf("%w: out-of-band record %s", bcerrors.ErrNotFound, id))
		return
	}
	body, err := oobBody(rec)
	if err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, body)
}
