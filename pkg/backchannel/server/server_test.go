package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajna-inc/essi/pkg/core/storage"
	conservices "github.com/ajna-inc/essi/pkg/didcomm/modules/connections/services"

	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/config"
	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/lifecycle"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	b := New(cfg, lifecycle.NewRunner(cfg))
	srv := httptest.NewServer(b.Router())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestStatusInactiveBeforeStart(t *testing.T) {
	srv := testServer(t)

	resp := get(t, srv, "/agent/command/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "inactive", body["status"])
}

func TestVersionIsNonEmpty(t *testing.T) {
	srv := testServer(t)

	resp := get(t, srv, "/agent/command/version")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	assert.NotZero(t, n)
}

func TestMediationSendDenyIsNotImplemented(t *testing.T) {
	srv := testServer(t)

	resp := post(t, srv, "/agent/command/mediation/send-deny", `{"id":"conn-1"}`)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestAgentStartRejectsWebSocketTransport(t *testing.T) {
	srv := testServer(t)

	resp := post(t, srv, "/agent/command/agent/start",
		`{"data":{"parameters":{"inbound_transports":["ws"]}}}`)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestAgentStartRejectsUnknownTransport(t *testing.T) {
	srv := testServer(t)

	resp := post(t, srv, "/agent/command/agent/start",
		`{"data":{"parameters":{"outbound_transports":["smtp"]}}}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCommandsFailCleanlyWithoutAgent(t *testing.T) {
	srv := testServer(t)

	// No agent is running; every engine-backed command must fail with a JSON
	// error, never a hang or a panic.
	paths := []string{
		"/agent/command/connection/create-invitation",
		"/agent/command/connection/send-ping",
		"/agent/command/mediation/send-request",
		"/agent/command/revocation/revoke",
	}
	for _, path := range paths {
		resp := post(t, srv, path, `{"id":"x","data":{"connection_id":"x","rev_registry_id":"r","cred_rev_id":"1"}}`)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body), path)
		assert.NotEmpty(t, body["error"], path)
	}
}

func TestConnectionGetWithoutAgent(t *testing.T) {
	srv := testServer(t)

	resp := get(t, srv, "/agent/command/connection/nope")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCredentialAwaitRequiresThreadID(t *testing.T) {
	srv := testServer(t)

	resp := post(t, srv, "/agent/command/issue-credential/store", `{}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCommandEnvelopeDecoding(t *testing.T) {
	req := commandRequest{
		ID:   "top",
		Data: json.RawMessage(`{"connection_id":"from-data","comment":"hi"}`),
	}
	assert.Equal(t, "top", connectionID(req))
	assert.Equal(t, "hi", req.dataString("comment"))

	req.ID = ""
	assert.Equal(t, "from-data", connectionID(req))
}

func TestConnectionBodySelectsWireVocabularyByProtocol(t *testing.T) {
	didExchange := &conservices.ConnectionRecord{
		BaseRecord: &storage.BaseRecord{ID: "conn-1", Type: "ConnectionRecord"},
		State:      conservices.ConnectionStateRequested,
		Role:       "requester",
		Protocol:   "https://didcomm.org/didexchange/1.1",
	}
	body, err := connectionBody(didExchange)
	require.NoError(t, err)
	assert.Equal(t, "request-sent", body["state"])

	didExchange.Role = "responder"
	didExchange.State = conservices.ConnectionStateResponded
	body, err = connectionBody(didExchange)
	require.NoError(t, err)
	assert.Equal(t, "response-sent", body["state"])

	// Connections 1.0 states are already the wire vocabulary.
	legacy := &conservices.ConnectionRecord{
		BaseRecord: &storage.BaseRecord{ID: "conn-2", Type: "ConnectionRecord"},
		State:      conservices.ConnectionStateRequested,
		Role:       "invitee",
		Protocol:   "https://didcomm.org/connections/1.0",
	}
	body, err = connectionBody(legacy)
	require.NoError(t, err)
	assert.Equal(t, "requested", body["state"])
}

func TestInvitationURLFromData(t *testing.T) {
	passthrough := commandRequest{Data: json.RawMessage(`{"invitation_url":"http://host?oob=abc"}`)}
	u, err := invitationURLFromData(passthrough)
	require.NoError(t, err)
	assert.Equal(t, "http://host?oob=abc", u)

	legacy := commandRequest{Data: json.RawMessage(
		`{"@type":"https://didcomm.org/connections/1.0/invitation","label":"x"}`)}
	u, err = invitationURLFromData(legacy)
	require.NoError(t, err)
	assert.Contains(t, u, "?c_i=")

	oobInv := commandRequest{Data: json.RawMessage(
		`{"invitation":{"@type":"https://didcomm.org/out-of-band/1.1/invitation"}}`)}
	u, err = invitationURLFromData(oobInv)
	require.NoError(t, err)
	assert.Contains(t, u, "?oob=")

	_, err = invitationURLFromData(commandRequest{})
	require.Error(t, err)
}
