package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	bcerrors "github.com/ajna-inc/essi-backchannel/pkg/backchannel/errors"
	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/events"
	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/mapping"
)

// credentialOffer is the send-offer payload.
type credentialOffer struct {
	ConnectionID      string `json:"connection_id"`
	CredDefID         string `json:"cred_def_id"`
	CredentialPreview struct {
		Attributes []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"attributes"`
	} `json:"credential_preview"`
}

// handleCredentialSendOffer sends an offer and resolves the exchange's thread
// id from the offer-sent event, since the engine's offer call does not return
// the record.
func (b *Backchannel) handleCredentialSendOffer(w http.ResponseWriter, r *http.Request) {
	req, err := decode(r)
	if err != nil {
		b.writeError(w, err)
		return
	}
	var offer credentialOffer
	if err := json.Unmarshal(req.Data, &offer); err != nil {
		b.writeError(w, err)
		return
	}
	if offer.ConnectionID == "" || offer.CredDefID == "" {
		b.writeError(w, fmt.Errorf("connection_id and cred_def_id are required"))
		return
	}
	attributes := make(map[string]string, len(offer.CredentialPreview.Attributes))
	for _, attr := range offer.CredentialPreview.Attributes {
		attributes[attr.Name] = attr.Value
	}

	api, err := b.runner.CredentialsApi()
	if err != nil {
		b.writeError(w, err)
		return
	}
	if err := api.OfferCredentialV2(offer.ConnectionID, offer.CredDefID, attributes); err != nil {
		b.writeError(w, err)
		return
	}

	ev, err := b.await(r.Context(), events.TopicCredential, func(ev events.StateChangeEvent) bool {
		return ev.ConnectionID == offer.ConnectionID && ev.State == "offer-sent"
	})
	if err != nil {
		b.writeError(w, err)
		return
	}
	b.respondCredentialEvent(w, ev)
}

// handleCredentialAwait serves the holder/issuer progression commands. The
// engine auto-accepts each step, so the command is satisfied by the exchange
// reaching the target state, replayed or live.
func (b *Backchannel) handleCredentialAwait(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			b.writeError(w, err)
			return
		}
		threadID := req.ID
		if threadID == "" {
			threadID = req.dataString("thread_id")
		}
		if threadID == "" {
			b.writeError(w, fmt.Errorf("thread id is required"))
			return
		}

		ev, err := b.await(r.Context(), events.TopicCredential, events.ByThread(threadID, target))
		if err != nil {
			b.writeError(w, err)
			return
		}
		b.respondCredentialEvent(w, ev)
	}
}

func (b *Backchannel) respondCredentialEvent(w http.ResponseWriter, ev events.StateChangeEvent) {
	ws, err := mapping.WireState(mapping.FamilyCredential, ev.Role, ev.State)
	if err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, map[string]interface{}{
		"thread_id":     ev.ThreadID,
		"connection_id": ev.ConnectionID,
		"state":         ws,
	})
}

func (b *Backchannel) handleCredentialGet(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	svc, err := b.runner.CredentialService()
	if err != nil {
		b.writeError(w, err)
		return
	}
	rec, err := svc.FindRecordByThreadId(threadID)
	if err != nil || rec == nil {
		b.writeError(w, fmt.Errorf("%w: credential exchange %s", bcerrors.ErrNotFound, threadID))
		return
	}
	ws, err := mapping.WireState(mapping.FamilyCredential, rec.Role, string(rec.State))
	if err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, map[string]interface{}{
		"thread_id":     rec.ThreadId,
		"connection_id": rec.ConnectionId,
		"state":         ws,
	})
}
