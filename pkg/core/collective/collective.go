// Package collective defines the messages exchanged between worker ranks and
// the coordinator (rank 0) to negotiate collective operations on named
// tensors.
//
// Each negotiation cycle, every rank builds a RequestList with one Request
// per tensor it wants to reduce, gather or broadcast, and sends it to the
// coordinator. The coordinator merges all the lists into a single
// ResponseList -- the agreed, ordered execution plan -- and broadcasts it
// back, so that every rank issues the exact same collective calls in the
// exact same order. The merging itself lives in package negotiation; this
// package only defines the message values and their wire codec.
//
// All four message types (Request, RequestList, Response, ResponseList) are
// plain values constructed fresh each cycle. They support an exact
// encode/decode round trip (see wire.go) and are discarded once the cycle's
// collective calls complete.
//
// ## Glossary
//
//   - Rank: the identity of one worker process in the distributed job, index
//     0 conventionally being the coordinator.
//   - Cycle: one round of request submission, negotiation, response
//     broadcast and execution.
//   - Fusion: merging multiple single-tensor operations into one batched
//     collective call to amortize per-call overhead. A fused Response
//     carries more than one tensor name.
package collective

import "strconv"

// RequestType is the collective operation a rank asks for in a Request.
//
// The numeric values are part of the wire protocol and must never be
// renumbered.
type RequestType uint8

const (
	// RequestAllreduce asks for an element-wise reduction across all ranks,
	// with the result distributed back to every rank.
	RequestAllreduce RequestType = 0

	// RequestAllgather asks for the concatenation of every rank's tensor
	// along dimension 0, distributed back to every rank.
	RequestAllgather RequestType = 1

	// RequestBroadcast asks for the root rank's tensor value to be
	// distributed to every rank.
	RequestBroadcast RequestType = 2
)

// requestTypeNames is the canonical name lookup for RequestType. Used for
// diagnostics only, never for control flow.
var requestTypeNames = map[RequestType]string{
	RequestAllreduce: "ALLREDUCE",
	RequestAllgather: "ALLGATHER",
	RequestBroadcast: "BROADCAST",
}

// String implements fmt.Stringer with the canonical display name.
func (t RequestType) String() string {
	if name, found := requestTypeNames[t]; found {
		return name
	}
	return "RequestType(" + strconv.Itoa(int(t)) + ")"
}

// IsValid returns whether t is one of the known request types.
func (t RequestType) IsValid() bool {
	_, found := requestTypeNames[t]
	return found
}

// ResponseType is the coordinator's decision kind in a Response. It extends
// the request types with an error kind, for tensors whose requests could not
// be reconciled across ranks.
//
// The numeric values are part of the wire protocol and must never be
// renumbered.
type ResponseType uint8

const (
	// ResponseAllreduce instructs every rank to allreduce the named tensors.
	ResponseAllreduce ResponseType = 0

	// ResponseAllgather instructs every rank to allgather the named tensors.
	ResponseAllgather ResponseType = 1

	// ResponseBroadcast instructs every rank to broadcast the named tensors
	// from the agreed root rank.
	ResponseBroadcast ResponseType = 2

	// ResponseError reports that the named tensor's requests disagreed
	// across ranks; Response.ErrorMessage describes the first disagreement.
	ResponseError ResponseType = 3
)

// responseTypeNames is the canonical name lookup for ResponseType. Used for
// diagnostics only, never for control flow.
var responseTypeNames = map[ResponseType]string{
	ResponseAllreduce: "ALLREDUCE",
	ResponseAllgather: "ALLGATHER",
	ResponseBroadcast: "BROADCAST",
	ResponseError:     "ERROR",
}

// String implements fmt.Stringer with the canonical display name.
func (t ResponseType) String() string {
	if name, found := responseTypeNames[t]; found {
		return name
	}
	return "ResponseType(" + strconv.Itoa(int(t)) + ")"
}

// IsValid returns whether t is one of the known response types.
func (t ResponseType) IsValid() bool {
	_, found := responseTypeNames[t]
	return found
}

// ResponseTypeFor returns the ResponseType that executes the given
// RequestType.
func ResponseTypeFor(t RequestType) ResponseType {
	return ResponseType(t)
}
