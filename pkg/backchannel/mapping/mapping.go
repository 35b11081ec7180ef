// Package mapping translates engine (role, state) pairs into the wire
// vocabulary the test harness asserts against. The tables are fixed and must
// be total over every reachable pair; an unmapped pair is a configuration
// defect, caught by tests, never papered over with a runtime fallback.
package mapping

import "fmt"

// Family names one protocol family's mapping table.
type Family string

const (
	FamilyConnection  Family = "connection"
	FamilyDidExchange Family = "did-exchange"
	FamilyCredential  Family = "issue-credential"
	FamilyProof       Family = "proof"
	FamilyMediation   Family = "mediation"
	FamilyOutOfBand   Family = "out-of-band"
)

type key struct {
	family Family
	role   string
	state  string
}

// Role-specific rows take precedence; rows with an empty role apply to every
// role (used where the engine's internal state already encodes direction).
var wireStates = map[key]string{
	// RFC 0160 connections. The engine's connection states already use the
	// RFC vocabulary, so the rows are identity except for the null state.
	{FamilyConnection, "", "null"}:      "null",
	{FamilyConnection, "", "invited"}:   "invited",
	{FamilyConnection, "", "requested"}: "requested",
	{FamilyConnection, "", "responded"}: "responded",
	{FamilyConnection, "", "complete"}:  "complete",
	{FamilyConnection, "", "abandoned"}: "abandoned",

	// RFC 0023 DID exchange, split by role. The engine stores both the
	// requester/responder and the inviter/invitee naming depending on how the
	// exchange began.
	{FamilyDidExchange, "requester", "null"}:      "start",
	{FamilyDidExchange, "requester", "invited"}:   "invitation-received",
	{FamilyDidExchange, "requester", "requested"}: "request-sent",
	{FamilyDidExchange, "requester", "responded"}: "response-received",
	{FamilyDidExchange, "requester", "complete"}:  "completed",
	{FamilyDidExchange, "requester", "abandoned"}: "abandoned",
	{FamilyDidExchange, "responder", "null"}:      "start",
	{FamilyDidExchange, "responder", "invited"}:   "invitation-sent",
	{FamilyDidExchange, "responder", "requested"}: "request-received",
	{FamilyDidExchange, "responder", "responded"}: "response-sent",
	{FamilyDidExchange, "responder", "complete"}:  "completed",
	{FamilyDidExchange, "responder", "abandoned"}: "abandoned",

	// RFC 0453 issue-credential. Engine states are already dashed RFC names;
	// declined surfaces as abandoned on the wire.
	{FamilyCredential, "", "proposal-sent"}:       "proposal-sent",
	{FamilyCredential, "", "proposal-received"}:   "proposal-received",
	{FamilyCredential, "", "offer-sent"}:          "offer-sent",
	{FamilyCredential, "", "offer-received"}:      "offer-received",
	{FamilyCredential, "", "request-sent"}:        "request-sent",
	{FamilyCredential, "", "request-received"}:    "request-received",
	{FamilyCredential, "", "credential-issued"}:   "credential-issued",
	{FamilyCredential, "", "credential-received"}: "credential-received",
	{FamilyCredential, "", "done"}:                "done",
	{FamilyCredential, "", "declined"}:            "abandoned",
	{FamilyCredential, "", "abandoned"}:           "abandoned",

	// RFC 0454 present-proof.
	{FamilyProof, "", "proposal-sent"}:         "proposal-sent",
	{FamilyProof, "", "proposal-received"}:     "proposal-received",
	{FamilyProof, "", "request-sent"}:          "request-sent",
	{FamilyProof, "", "request-received"}:      "request-received",
	{FamilyProof, "", "presentation-sent"}:     "presentation-sent",
	{FamilyProof, "", "presentation-received"}: "presentation-received",
	{FamilyProof, "", "done"}:                  "done",
	{FamilyProof, "", "declined"}:              "abandoned",
	{FamilyProof, "", "abandoned"}:             "abandoned",

	// RFC 0211 coordinate-mediation. Direction depends on the role.
	{FamilyMediation, "recipient", "requested"}: "request-sent",
	{FamilyMediation, "recipient", "granted"}:   "grant-received",
	{FamilyMediation, "recipient", "denied"}:    "deny-received",
	{FamilyMediation, "mediator", "requested"}:  "request-received",
	{FamilyMediation, "mediator", "granted"}:    "grant-sent",
	{FamilyMediation, "mediator", "denied"}:     "deny-sent",

	// RFC 0434 out-of-band.
	{FamilyOutOfBand, "sender", "initial"}:            "invitation-sent",
	{FamilyOutOfBand, "sender", "await-response"}:     "invitation-sent",
	{FamilyOutOfBand, "sender", "done"}:               "done",
	{FamilyOutOfBand, "receiver", "initial"}:          "invitation-received",
	{FamilyOutOfBand, "receiver", "prepare-response"}: "invitation-received",
	{FamilyOutOfBand, "receiver", "done"}:             "done",
}

// normalizeRole folds the engine's invitation-oriented role naming into the
// RFC 0023 pair used by the did-exchange table.
func normalizeRole(role string) string {
	switch role {
	case "invitee":
		return "requester"
	case "inviter":
		return "responder"
	default:
		return role
	}
}

// WireState translates an engine (role, state) pair into the harness
// vocabulary for one protocol family.
func WireState(family Family, role string, state string) (string, error) {
	role = normalizeRole(role)
	if ws, ok := wireStates[key{family, role, state}]; ok {
		return ws, nil
	}
	if ws, ok := wireStates[key{family, "", state}]; ok {
		return ws, nil
	}
	return "", fmt.Errorf("no wire state for family %q role %q state %q", family, role, state)
}
