package lifecycle

import (
	"fmt"

	bcerrors "github.com/ajna-inc/essi-backchannel/pkg/backchannel/errors"
)

// Transport names accepted by the test protocol.
const (
	TransportHTTP = "http"
	TransportWS   = "ws"
)

// TransportConfig carries the harness's requested transport setup for a
// start-agent command. Omitted lists default to ["http"].
type TransportConfig struct {
	Inbound  []string
	Outbound []string
	MimeType string
}

func (tc TransportConfig) withDefaults() TransportConfig {
	if len(tc.Inbound) == 0 {
		tc.Inbound = []string{TransportHTTP}
	}
	if len(tc.Outbound) == 0 {
		tc.Outbound = []string{TransportHTTP}
	}
	return tc
}

// validate rejects transports outside the enumerated set. WebSocket is part
// of the test protocol's vocabulary but the engine only runs an HTTP inbound
// receiver, so requesting it is surfaced as not-implemented rather than
// silently ignored.
func (tc TransportConfig) validate() error {
	for _, transports := range [][]string{tc.Inbound, tc.Outbound} {
		for _, transport := range transports {
			switch transport {
			case TransportHTTP:
			case TransportWS:
				return fmt.Errorf("%w: %s transport", bcerrors.ErrNotImplemented, transport)
			default:
				return fmt.Errorf("unknown transport %q", transport)
			}
		}
	}
	return nil
}
