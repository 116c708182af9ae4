package routing

import (
	"encoding/json"

	"github.com/jabolina/go-nrpc/pkg/nrpc/nlog"
)

// handleForwardCall implements the server-only ForwardingRouter primitive
// (spec.md §4.7): client A addresses client B by id, tunneling through the
// server's own reverse channel to B, with B's response relayed back to A.
func (r *ServerRouting) handleForwardCall(callerID uint64, payload []byte) (string, []byte) {
	var req struct {
		ClientID     uint64          `json:"client_id"`
		MethodName   string          `json:"method_name"`
		MethodParams json.RawMessage `json:"method_params"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		r.log.Warnf("routing: malformed ForwardCall from client %d: %v", callerID, err)
		return "fwd_response:", []byte("null")
	}
	replyStatus := "fwd_response:" + req.MethodName

	target, found := r.server.ClientInfo(req.ClientID)
	if !found || target.IsLost() {
		return replyStatus, []byte("null")
	}

	// TODO: a single server-wide reverse request lock serializes every
	// forward, so two forwards to different targets still queue behind
	// each other; a per-client reverse lock would avoid that head-of-line
	// blocking (left as spec.md's own open production-hardening note).
	r.server.LockReverse()
	defer r.server.UnlockReverse()

	if err := r.server.SendReverseRequest(req.ClientID, req.MethodName, req.MethodParams); err != nil {
		return replyStatus, []byte("null")
	}
	_, respPayload, ok := r.server.RecvReverse(req.ClientID, defaultCallTimeout)
	if !ok {
		return replyStatus, []byte("null")
	}

	nlog.Forwarded(r.log, callerID, req.ClientID, req.MethodName)
	return replyStatus, respPayload
}
