package server

import (
	"fmt"
	"net/http"
)

// handleRevocationRevoke sends an RFC 0183 revocation notification for a
// previously issued credential. Registry-side revocation itself happens out
// of band; the command's observable effect is the notification message.
func (b *Backchannel) handleRevocationRevoke(w http.ResponseWriter, r *http.Request) {
	req, err := decode(r)
	if err != nil {
		b.writeError(w, err)
		return
	}
	connID := connectionID(req)
	registryID := req.dataString("rev_registry_id")
	credRevID := req.dataString("cred_rev_id")
	if connID == "" || registryID == "" || credRevID == "" {
		b.writeError(w, fmt.Errorf("connection_id, rev_registry_id and cred_rev_id are required"))
		return
	}

	api, err := b.runner.CredentialsApi()
	if err != nil {
		b.writeError(w, err)
		return
	}
	if err := api.SendRevocationNotificationV2(connID, registryID, credRevID, req.dataString("comment")); err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, map[string]string{"state": "revoked"})
}
