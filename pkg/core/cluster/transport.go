// Package cluster plugs the negotiation protocol into a byte transport: the
// worker side of a cycle (submit a RequestList, block for the broadcast
// ResponseList) and the coordinator service that drives cycles end to end.
//
// The transport that actually carries the bytes between processes is a
// collaborator, not part of this module: anything providing reliable,
// ordered point-to-point delivery to rank 0 plus a broadcast back -- an MPI
// layer, typically -- can implement Transport. The in-process implementation
// here serves tests and single-host multi-device runs.
package cluster

import "context"

// Transport is the reliable, ordered channel the protocol runs over.
//
// Payloads are opaque encoded messages: RequestList bytes flow
// worker-to-coordinator through Submit/Gather, and ResponseList bytes flow
// coordinator-to-everyone through Broadcast/Await. All calls block; cancel
// through the context.
type Transport interface {
	// Submit delivers one rank's encoded RequestList to the coordinator.
	Submit(ctx context.Context, rank int32, payload []byte) error

	// Gather blocks until some rank's submission arrives at the
	// coordinator, returning the origin rank and the payload. Called by
	// the coordinator role only.
	Gather(ctx context.Context) (rank int32, payload []byte, err error)

	// Broadcast delivers the encoded ResponseList to every rank. Called by
	// the coordinator role only.
	Broadcast(ctx context.Context, payload []byte) error

	// Await blocks until the cycle's broadcast reaches the given rank.
	Await(ctx context.Context, rank int32) ([]byte, error)

	// Close releases the transport; blocked calls return an error.
	Close() error
}
