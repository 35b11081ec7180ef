package server

import (
	"encoding/json"
	"net/http"

	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/lifecycle"
)

func (b *Backchannel) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := "inactive"
	if b.runner.Active() {
		status = "active"
	}
	b.respond(w, http.StatusOK, map[string]string{"status": status})
}

func (b *Backchannel) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(lifecycle.Version()))
}

// startParameters is the transport block the harness sends with agent-start.
type startParameters struct {
	InboundTransports  []string `json:"inbound_transports"`
	OutboundTransports []string `json:"outbound_transports"`
	MimeType           string   `json:"mime-type"`
}

// handleAgentStart restarts the agent with the requested transports. Restarts
// queue behind each other; the response reflects this request's own cycle.
func (b *Backchannel) handleAgentStart(w http.ResponseWriter, r *http.Request) {
	req, err := decode(r)
	if err != nil {
		b.writeError(w, err)
		return
	}

	var payload struct {
		Parameters startParameters `json:"parameters"`
	}
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &payload); err != nil {
			b.writeError(w, err)
			return
		}
	}

	tc := lifecycle.TransportConfig{
		Inbound:  payload.Parameters.InboundTransports,
		Outbound: payload.Parameters.OutboundTransports,
		MimeType: payload.Parameters.MimeType,
	}
	if err := b.runner.Restart(tc); err != nil {
		b.writeError(w, err)
		return
	}
	b.respond(w, http.StatusOK, map[string]string{"status": "active"})
}
