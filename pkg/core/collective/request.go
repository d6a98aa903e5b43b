package collective

import (
	"github.com/gomlx/collectives/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// Request is a message sent from a rank to the coordinator (rank zero),
// informing the coordinator of an operation that the rank wants to do this
// cycle and the tensor that it wants to apply the operation to.
type Request struct {
	// Rank that originated the request. It is necessary to create a
	// consistent ordering of results, for example in the allgather where
	// the order of outputs must be sorted by rank.
	Rank int32 `cbor:"rank"`

	// Type of the collective operation wanted.
	Type RequestType `cbor:"type"`

	// DType is the element type of the tensor.
	DType dtypes.DType `cbor:"dtype"`

	// TensorName uniquely identifies the tensor across ranks. Within one
	// RequestList tensor names are unique.
	TensorName string `cbor:"name"`

	// RootRank is only meaningful for broadcast: the rank whose value is
	// distributed to all others.
	RootRank int32 `cbor:"root,omitempty"`

	// Device is an opaque locality hint -- e.g., which accelerator holds
	// the data on the originating rank.
	Device int32 `cbor:"device,omitempty"`

	// Shape of the tensor on the originating rank. For allgather only
	// dimension 0 may differ across ranks.
	Shape Shape `cbor:"shape,omitempty"`
}

// Validate returns an error if the request doesn't respect the protocol
// invariants. The negotiation engine rejects invalid requests before they
// reach the per-tensor consistency checks.
func (r *Request) Validate() error {
	if r.Rank < 0 {
		return errors.Errorf("request for tensor %q has negative rank %d", r.TensorName, r.Rank)
	}
	if !r.Type.IsValid() {
		return errors.Errorf("request for tensor %q has unknown operation %s", r.TensorName, r.Type)
	}
	if !r.DType.IsValid() {
		return errors.Errorf("request for tensor %q has unknown element type %s", r.TensorName, r.DType)
	}
	if r.TensorName == "" {
		return errors.Errorf("request from rank %d has an empty tensor name", r.Rank)
	}
	return nil
}

// RequestList is the full set of Requests one rank submits for one cycle,
// plus a shutdown flag.
//
// A shutdown cycle carries no real work: when Shutdown is true, Requests is
// conventionally empty.
type RequestList struct {
	Requests []*Request `cbor:"requests,omitempty"`

	// Shutdown requests orderly termination of the whole job. A single
	// rank setting it is authoritative for the cycle.
	Shutdown bool `cbor:"shutdown,omitempty"`
}

// Add appends a request to the list, enforcing the unique-tensor-name
// invariant.
func (l *RequestList) Add(r *Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	for _, other := range l.Requests {
		if other.TensorName == r.TensorName {
			return errors.Errorf("duplicate request for tensor %q in the same cycle", r.TensorName)
		}
	}
	l.Requests = append(l.Requests, r)
	return nil
}
