package resp

import "fmt"

// ProtocolError reports malformed RESP3 framing: a reply that cannot be
// parsed at all, as opposed to a well-formed server error reply. The
// connection that produced it must be poisoned — see conn.Connection.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("resp: protocol error: %s", e.Reason)
}

func newProtocolError(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}
