package negotiation

import (
	"fmt"
	"strings"

	"github.com/gomlx/collectives/pkg/core/collective"
	"github.com/gomlx/collectives/pkg/core/dtypes"
)

// tensorGroup accumulates the requests bearing the same tensor name,
// collected across ranks during one cycle. Requests are kept sorted by rank
// so that validation and its error messages are independent of the order
// ranks reported in.
type tensorGroup struct {
	name     string
	requests []*collective.Request
}

// add inserts a request keeping the slice sorted by ascending rank.
func (g *tensorGroup) add(r *collective.Request) {
	pos := len(g.requests)
	for pos > 0 && g.requests[pos-1].Rank > r.Rank {
		pos--
	}
	g.requests = append(g.requests, nil)
	copy(g.requests[pos+1:], g.requests[pos:])
	g.requests[pos] = r
}

// ranks returns the ranks that requested this tensor, ascending.
func (g *tensorGroup) ranks() []int32 {
	ranks := make([]int32, len(g.requests))
	for i, r := range g.requests {
		ranks[i] = r.Rank
	}
	return ranks
}

// agreement is the validated descriptor of one tensor-name group (or, after
// fusion, of several of them): the operation, element type and layout every
// rank agreed on, ready to be turned into a Response.
type agreement struct {
	// names of the tensors covered, in execution order. Length 1 until
	// fusion merges agreements together.
	names []string

	opType collective.ResponseType
	dtype  dtypes.DType

	// shape agreed across ranks. Only meaningful for allreduce and
	// broadcast; allgather shapes differ per rank in dimension 0.
	shape collective.Shape

	// rootRank agreed for broadcast.
	rootRank int32

	// devices are the per-rank device hints, by ascending rank.
	devices []int32

	// sizes are the dimension-0 sizes per ascending rank, allgather only.
	sizes []int64

	// bytes is the payload size this agreement contributes to a fused
	// batch: per-rank tensor bytes for allreduce/broadcast, total gathered
	// bytes for allgather.
	bytes int64
}

// response converts the agreement into the Response every rank will execute.
func (a *agreement) response() *collective.Response {
	return &collective.Response{
		Type:        a.opType,
		TensorNames: a.names,
		Devices:     a.devices,
		TensorSizes: a.sizes,
	}
}

// validate checks the consistency rules for the group, assuming collection
// is complete. It returns either the validated agreement or the ERROR
// response describing the first disagreement found.
//
// The rules are checked in a fixed precedence order -- operation, element
// type, shape, broadcast root -- and each rule compares every request
// against the lowest-rank one, so the first failure (and therefore the error
// message) is deterministic no matter the arrival order.
func (g *tensorGroup) validate() (*agreement, *collective.Response) {
	base := g.requests[0]

	for _, r := range g.requests[1:] {
		if r.Type != base.Type {
			return nil, collective.NewErrorResponse(g.name, fmt.Sprintf(
				"tensor %q has mismatched operations: rank %d requested %s, but rank %d requested %s",
				g.name, base.Rank, base.Type, r.Rank, r.Type))
		}
	}

	for _, r := range g.requests[1:] {
		if r.DType != base.DType {
			return nil, collective.NewErrorResponse(g.name, fmt.Sprintf(
				"tensor %q has mismatched element types: rank %d has %s, but rank %d has %s",
				g.name, base.Rank, base.DType, r.Rank, r.DType))
		}
	}

	opName := strings.ToLower(base.Type.String())
	if base.Type == collective.RequestAllgather {
		// Gathering concatenates along dimension 0, so scalars cannot be
		// gathered.
		if base.Shape.IsScalar() {
			return nil, collective.NewErrorResponse(g.name, fmt.Sprintf(
				"allgather tensor %q must have rank at least 1, but rank %d sent a scalar",
				g.name, base.Rank))
		}
		for _, r := range g.requests[1:] {
			if !r.Shape.EqualIgnoringLeading(base.Shape) {
				return nil, collective.NewErrorResponse(g.name, fmt.Sprintf(
					"%s tensor %q has incompatible shapes: rank %d has shape %s, but rank %d has shape %s (all dimensions but the first must match)",
					opName, g.name, base.Rank, base.Shape, r.Rank, r.Shape))
			}
		}
	} else {
		for _, r := range g.requests[1:] {
			if !r.Shape.Equal(base.Shape) {
				return nil, collective.NewErrorResponse(g.name, fmt.Sprintf(
					"%s tensor %q has mismatched shapes: rank %d has shape %s, but rank %d has shape %s",
					opName, g.name, base.Rank, base.Shape, r.Rank, r.Shape))
			}
		}
	}

	if base.Type == collective.RequestBroadcast {
		for _, r := range g.requests[1:] {
			if r.RootRank != base.RootRank {
				return nil, collective.NewErrorResponse(g.name, fmt.Sprintf(
					"broadcast tensor %q has mismatched root ranks: rank %d wants root %d, but rank %d wants root %d",
					g.name, base.Rank, base.RootRank, r.Rank, r.RootRank))
			}
		}
	}

	a := &agreement{
		names:    []string{g.name},
		opType:   collective.ResponseTypeFor(base.Type),
		dtype:    base.DType,
		rootRank: base.RootRank,
		devices:  make([]int32, 0, len(g.requests)),
	}
	for _, r := range g.requests {
		a.devices = append(a.devices, r.Device)
	}

	if base.Type == collective.RequestAllgather {
		// Record, don't compare, the per-rank leading dimension: it is what
		// lets every rank size its receive buffer.
		a.sizes = make([]int64, 0, len(g.requests))
		rowBytes := base.DType.SizeForDimensions(base.Shape.Dimensions[1:]...)
		for _, r := range g.requests {
			dim0 := r.Shape.Dimensions[0]
			a.sizes = append(a.sizes, dim0)
			a.bytes += dim0 * rowBytes
		}
	} else {
		a.shape = base.Shape.Clone()
		a.bytes = base.Shape.Memory(base.DType)
	}
	return a, nil
}
