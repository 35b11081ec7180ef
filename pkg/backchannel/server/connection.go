package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	conmsg "github.com/ajna-inc/essi/pkg/didcomm/modules/connections/messages"
	conservices "github.com/ajna-inc/essi/pkg/didcomm/modules/connections/services"
	"github.com/ajna-inc/essi/pkg/didcomm/modules/oob"
	oobmsgs "github.com/ajna-inc/essi/pkg/didcomm/modules/oob/messages"

	bcerrors "github.com/ajna-inc/essi-backchannel/pkg/backchannel/errors"
	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/events"
	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/mapping"
)

// connectionFamily picks the wire vocabulary for a connection record. The
// engine marks DID Exchange connections with the didexchange protocol URI and
// the RFC 0023 requester/responder roles; connections 1.0 records keep the
// RFC 0160 states, which are already the wire vocabulary.
func connectionFamily(rec *conservices.ConnectionRecord) mapping.Family {
	if strings.Contains(rec.Protocol, "didexchange") ||
		rec.Role == "requester" || rec.Role == "responder" {
		return mapping.FamilyDidExchange
	}
	return mapping.FamilyConnection
}

// connectionBody renders the standard connection response.
func connectionBody(rec *conservices.ConnectionRecord) (map[string]interface{}, error) {
	ws, err := mapping.WireState(connectionFamily(rec), rec.Role, string(rec.State))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"connection_id": rec.ID,
		"state":         ws,
	}, nil
}

// handleConnectionCreateInvitation creates a connections 1.0 invitation via
// the out-of-band module. The returned id is the invitation record id; the
// connection record appears once the peer responds and is resolvable through
// the same id.
func (b *Backchannel) handleConnectionCreateInvitation(w http.ResponseWriter, r *http.Request) {
	api, err := b.runner.OobApi()
	if err != nil {
		b.writeError(w, err)
		return
	}
	rec, err := api.CreateLegacyInvitation(oob.CreateLegacyInvitationConfig{
		Label: b.cfg.Agent.Label,
	})
	if err != nil {
		b.writeError(w, err)
		return
	}

	ws, err := mapping.WireState(mapping.FamilyConnection, "", "invited")
	if err != nil {
		b.writeError(w, err)
		return
	}
	body := map[string]interface{}{
		"connection_id": rec.ID,
		"state":         ws,
		"invitation":    rec.OutOfBandInvitation,
	}
	if inv, ok := rec.OutOfBandInvitation.(*oobmsgs.OutOfBandInvitationMessage); ok {
		if invURL, err := api.InvitationToUrl(inv); err == nil {
			body["invitation_url"] = invURL
		}
	}
	b.respond(w, http.StatusOK, body)
}

func (b *Backchannel) handleConnectionReceiveInvitation(w http.ResponseWriter, r *http.Request) {
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

	a, err := b.runner.Agent()
	if err != nil {
		b.writeError(w, err)
		return
	}
	conn, err := a.ProcessOOBInvitation(invitationURL)
	if err != nil {
		b.writeError(w, err)
		return
	}
	body, err := connectionBody(conn)
	if err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, body)
}

// handleConnectionPassThrough serves accept-invitation and accept-request.
// The engine auto-accepts both sides, so the command reduces to reporting the
// connection's current state.
func (b *Backchannel) handleConnectionPassThrough(w http.ResponseWriter, r *http.Request) {
	req, err := decode(r)
	if err != nil {
		b.writeError(w, err)
		return
	}
	rec, err := b.findConnection(connectionID(req))
	if err != nil {
		b.writeError(w, err)
		return
	}
	body, err := connectionBody(rec)
	if err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, body)
}

func (b *Backchannel) handleConnectionSendPing(w http.ResponseWriter, r *http.Request) {
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
	ping := conmsg.NewTrustPingMessage(req.dataString("comment"), true)
	if err := a.SendMessage(ping, id); err != nil {
		b.writeError(w, err)
		return
	}

	if _, err := b.await(r.Context(), events.TopicConnection, events.ByConnection(id, "complete")); err != nil {
		b.writeError(w, err)
		return
	}
	// Map through the stored record so did-exchange connections report the
	// RFC 0023 vocabulary.
	rec, err := b.findConnection(id)
	if err != nil {
		b.writeError(w, err)
		return
	}
	body, err := connectionBody(rec)
	if err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, body)
}

func (b *Backchannel) handleConnectionGet(w http.ResponseWriter, r *http.Request) {
	rec, err := b.findConnection(chi.URLParam(r, "id"))
	if err != nil {
		b.writeError(w, err)
		return
	}
	body, err := connectionBody(rec)
	if err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, body)
}

// findConnection resolves either a connection id or the id of the out-of-band
// invitation the connection was created from.
func (b *Backchannel) findConnection(id string) (*conservices.ConnectionRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("connection id is required")
	}
	a, err := b.runner.Agent()
	if err != nil {
		return nil, err
	}
	if rec, err := a.GetConnection(id); err == nil && rec != nil {
		return rec, nil
	}
	conns, err := a.GetConnections()
	if err != nil {
		return nil, err
	}
	for _, rec := range conns {
		if rec.OutOfBandId == id {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%w: connection %s", bcerrors.ErrNotFound, id)
}

// connectionID pulls the target connection from the envelope, preferring the
// top-level id over the data payload.
func connectionID(req commandRequest) string {
	if req.ID != "" {
		return req.ID
	}
	if v := req.dataString("connection_id"); v != "" {
		return v
	}
	return req.dataString("id")
}

// invitationURLFromData accepts either an invitation URL or a raw invitation
// object and always yields a URL the engine can process. Legacy connections
// 1.0 invitations ride the c_i query parameter, out-of-band ones ride oob.
func invitationURLFromData(req commandRequest) (string, error) {
	if u := req.dataString("invitation_url"); u != "" {
		return u, nil
	}

	raw := req.Data
	if inner, ok := req.dataMap()["invitation"]; ok {
		b, err := json.Marshal(inner)
		if err != nil {
			return "", err
		}
		raw = b
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("invitation payload is required")
	}

	param := "oob"
	var probe struct {
		Type string `json:"@type"`
	}
	_ = json.Unmarshal(raw, &probe)
	if strings.Contains(probe.Type, "connections/1.0/invitation") {
		param = "c_i"
	}
	enc := base64.RawURLEncoding.EncodeToString(raw)
	return fmt.Sprintf("didcomm://invite?%s=%s", param, enc), nil
}
