package routing

import (
	"strconv"
	"strings"

	"github.com/l00pss/redcore/resp"
)

// classifyServerError turns a server error reply into one of the typed
// cluster/Sentinel errors from spec.md §7, or returns the original
// *resp.Error unchanged for anything else (surfaced by the root package
// as CommandError).
func classifyServerError(e *resp.Error) error {
	fields := strings.Fields(e.Message)
	switch e.Kind {
	case "MOVED":
		if len(fields) >= 3 {
			if slot, err := strconv.Atoi(fields[1]); err == nil {
				return &MovedError{Slot: slot, Addr: fields[2]}
			}
		}
	case "ASK":
		if len(fields) >= 3 {
			if slot, err := strconv.Atoi(fields[1]); err == nil {
				return &AskError{Slot: slot, Addr: fields[2]}
			}
		}
	case "TRYAGAIN":
		return &TryAgainError{Msg: e.Message}
	case "CLUSTERDOWN":
		return &ClusterDownError{Msg: e.Message}
	case "CROSSSLOT":
		return &CrossSlotError{Msg: e.Message}
	case "READONLY":
		return &ReadOnlyError{Msg: e.Message}
	}
	return e
}

// isReadOnlyReply reports whether a server error indicates the endpoint
// was demoted to a replica — spec.md §4.5.2 "Failover handling at
// command level": message begins with READONLY or contains "read only
// replica".
func isReadOnlyReply(e *resp.Error) bool {
	if e.Kind == "READONLY" {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "read only replica")
}
