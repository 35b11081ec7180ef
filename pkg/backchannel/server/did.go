package server

import (
	"fmt"
	"net/http"

	"github.com/ajna-inc/essi/pkg/dids"

	bcerrors "github.com/ajna-inc/essi-backchannel/pkg/backchannel/errors"
)

// handleDidGetPublic returns the agent's public DID, creating a did:key on
// first use.
func (b *Backchannel) handleDidGetPublic(w http.ResponseWriter, r *http.Request) {
	api, err := b.runner.DidsApi()
	if err != nil {
		b.writeError(w, err)
		return
	}

	if created, err := api.GetCreatedDids("key"); err == nil && len(created) > 0 {
		b.respond(w, http.StatusOK, map[string]string{"did": created[0].Did})
		return
	}

	result, err := api.Create(&dids.DidCreateOptions{Method: "key"})
	if err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, map[string]string{"did": result.Did})
}

func (b *Backchannel) handleDidResolve(w http.ResponseWriter, r *http.Request) {
	req, err := decode(r)
	if err != nil {
		b.writeError(w, err)
		return
	}
	did := req.dataString("did")
	if did == "" {
		b.writeError(w, fmt.Errorf("did is required"))
		return
	}

	api, err := b.runner.DidsApi()
	if err != nil {
		b.writeError(w, err)
		return
	}
	result, err := api.Resolve(did)
	if err != nil {
		b.writeError(w, fmt.Errorf("%w: did %s", bcerrors.ErrNotFound, did))
		return
	}
	b.respond(w, http.StatusOK, result)
}
