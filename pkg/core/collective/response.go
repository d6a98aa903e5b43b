package collective

import "strings"

// Response is a message sent from the coordinator (rank zero) to every rank,
// informing the rank of an operation it should perform now. If the operation
// requested would result in an error -- for example, due to an element type
// or shape mismatch across ranks -- then the Response carries
// ResponseError and an error message instead.
//
// A Response may cover more than one tensor name when the negotiation engine
// fused compatible single-tensor operations into one batched call.
type Response struct {
	// Type of the decision. ResponseError reports a validation failure.
	Type ResponseType `cbor:"type"`

	// TensorNames covered by this response, in execution order. Length > 1
	// only for fused responses. Never empty for a non-error response.
	TensorNames []string `cbor:"names,omitempty"`

	// ErrorMessage is non-empty iff Type == ResponseError.
	ErrorMessage string `cbor:"error,omitempty"`

	// Devices are the per-contributing-rank device hints, aligned by
	// ascending rank order.
	Devices []int32 `cbor:"devices,omitempty"`

	// TensorSizes are the dimension-0 sizes of the input tensors, ordered
	// by ascending rank. Populated only for allgather -- it is what lets
	// every rank size its receive buffer before the collective executes.
	// For a fused allgather response, each fused tensor contributes its own
	// per-rank sizes, appended positionally.
	TensorSizes []int64 `cbor:"sizes,omitempty"`
}

// NewErrorResponse returns the ERROR response for one tensor name, with the
// message describing the disagreement found.
func NewErrorResponse(tensorName, message string) *Response {
	return &Response{
		Type:         ResponseError,
		TensorNames:  []string{tensorName},
		ErrorMessage: message,
	}
}

// IsError returns whether the response reports a validation failure.
func (r *Response) IsError() bool { return r.Type == ResponseError }

// TensorNamesString pretty-prints the covered tensor names for diagnostics,
// e.g. `[grad0, grad1]`.
func (r *Response) TensorNamesString() string {
	return "[" + strings.Join(r.TensorNames, ", ") + "]"
}

// ResponseList is the coordinator's full decision for one cycle: the ordered
// sequence of Responses -- the order is the execution order every rank must
// honor -- plus the shutdown flag mirrored from/for the cluster.
type ResponseList struct {
	Responses []*Response `cbor:"responses,omitempty"`

	// Shutdown tells every rank to terminate orderly. When set, Responses
	// is empty.
	Shutdown bool `cbor:"shutdown,omitempty"`
}
