package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ajna-inc/essi/pkg/didcomm/modules/proofs"
	proofrecs "github.com/ajna-inc/essi/pkg/didcomm/modules/proofs/records"

	bcerrors "github.com/ajna-inc/essi-backchannel/pkg/backchannel/errors"
	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/events"
	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/mapping"
)

func proofBody(rec *proofrecs.ProofRecord) (map[string]interface{}, error) {
	ws, err := mapping.WireState(mapping.FamilyProof, rec.Role, rec.State)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"thread_id":     rec.ThreadId,
		"connection_id": rec.ConnectionId,
		"state":         ws,
		"verified":      rec.IsVerified,
	}, nil
}

// proofFormats pulls the presentation request or proposal body out of the
// command data. The harness sends the anoncreds request under
// presentation_request / presentation_proposal.
func proofFormats(req commandRequest) map[string]interface{} {
	data := req.dataMap()
	for _, key := range []string{"presentation_request", "presentation_proposal", "proof_request"} {
		if v, ok := data[key].(map[string]interface{}); ok {
			return map[string]interface{}{"anoncreds": v}
		}
	}
	return nil
}

func (b *Backchannel) handleProofSendProposal(w http.ResponseWriter, r *http.Request) {
	req, err := decode(r)
	if err != nil {
		b.writeError(w, err)
		return
	}
	api, err := b.runner.ProofsApi()
	if err != nil {
		b.writeError(w, err)
		return
	}
	rec, err := api.ProposeProof(proofs.ProposeProofOptions{
		ConnectionId: connectionID(req),
		ProofFormats: proofFormats(req),
		Comment:      req.dataString("comment"),
	})
	if err != nil {
		b.writeError(w, err)
		return
	}
	body, err := proofBody(rec)
	if err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, body)
}

func (b *Backchannel) handleProofSendRequest(w http.ResponseWriter, r *http.Request) {
	req, err := decode(r)
	if err != nil {
		b.writeError(w, err)
		return
	}
	api, err := b.runner.ProofsApi()
	if err != nil {
		b.writeError(w, err)
		return
	}
	rec, err := api.RequestProof(proofs.RequestProofOptions{
		ConnectionId: connectionID(req),
		ProofFormats: proofFormats(req),
		Comment:      req.dataString("comment"),
		WillConfirm:  true,
	})
	if err != nil {
		b.writeError(w, err)
		return
	}
	body, err := proofBody(rec)
	if err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, body)
}

// handleProofAwait serves send-presentation and verify-presentation. Both
// sides run auto-accept, so the command resolves when the exchange reaches
// the target state.
func (b *Backchannel) handleProofAwait(target string) http.HandlerFunc {
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

		ev, err := b.await(r.Context(), events.TopicProof, events.ByThread(threadID, target))
		if err != nil {
			b.writeError(w, err)
			return
		}
		if rec, ok := ev.Record.(*proofrecs.ProofRecord); ok {
			body, err := proofBody(rec)
			if err != nil {
				b.writeError(w, err)
				return
			}
			b.respond(w, http.StatusOK, body)
			return
		}
		ws, err := mapping.WireState(mapping.FamilyProof, ev.Role, ev.State)
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
}

func (b *Backchannel) handleProofGet(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	api, err := b.runner.ProofsApi()
	if err != nil {
		b.writeError(w, err)
		return
	}
	rec, err := api.GetByThreadId(threadID)
	if err != nil || rec == nil {
		b.writeError(w, fmt.Errorf("%w: proof exchange %s", bcerrors.ErrNotFound, threadID))
		return
	}
	body, err := proofBody(rec)
	if err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, body)
}
