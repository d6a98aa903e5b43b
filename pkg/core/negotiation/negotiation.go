// Package negotiation implements the coordinator side of the collectives
// protocol: it collects one RequestList per rank per cycle, checks that the
// ranks agree on what to do with each named tensor, fuses compatible
// operations into batched responses, and emits the ResponseList every rank
// will execute, in a deterministic order.
//
// Determinism is the load-bearing correctness property here: ranks execute
// collective calls in list order, and a divergent order across ranks
// deadlocks the collective transport. The engine therefore never depends on
// the order ranks reported in -- it collects into a per-tensor-name table
// and orders the final responses lexicographically by tensor name.
//
// A Coordinator covers exactly one cycle. Create a fresh one per cycle;
// state that persists across cycles (the known rank set, the fusion budget)
// is configuration, not engine state.
package negotiation

import (
	"slices"
	"strconv"

	"github.com/gomlx/collectives/pkg/core/collective"
	"github.com/gomlx/collectives/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// State of the negotiation engine for one cycle.
//
// The engine advances strictly Collecting -> Validating -> Fusing ->
// Ordering -> Done. Shutdown is an absorbing terminal state reachable from
// Collecting when any rank sets RequestList.Shutdown. Failed is reached from
// any state on protocol misuse (wrong rank, duplicate report, invalid
// request).
type State int

const (
	StateCollecting State = iota
	StateValidating
	StateFusing
	StateOrdering
	StateDone
	StateShutdown
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateCollecting:
		return "COLLECTING"
	case StateValidating:
		return "VALIDATING"
	case StateFusing:
		return "FUSING"
	case StateOrdering:
		return "ORDERING"
	case StateDone:
		return "DONE"
	case StateShutdown:
		return "SHUTDOWN"
	case StateFailed:
		return "FAILED"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Coordinator negotiates one cycle of collective operations for a fixed set
// of ranks (0 to numRanks-1, established at process-group formation).
//
// It is not safe for concurrent use: feed it from a single goroutine, or
// from a single serializing queue. Correctness depends on processing the
// complete set of requests for a tensor name before deciding, so there is no
// internal parallelism to be had anyway.
type Coordinator struct {
	numRanks int
	fusion   FusionConfig

	state    State
	reported sets.Set[int32]
	groups   map[string]*tensorGroup
	shutdown bool
}

// New returns a Coordinator for one negotiation cycle over numRanks ranks.
func New(numRanks int, fusion FusionConfig) (*Coordinator, error) {
	if numRanks < 1 {
		return nil, errors.Errorf("negotiation requires at least 1 rank, got %d", numRanks)
	}
	return &Coordinator{
		numRanks: numRanks,
		fusion:   fusion,
		state:    StateCollecting,
		reported: sets.Make[int32](numRanks),
		groups:   make(map[string]*tensorGroup),
	}, nil
}

// State returns the current engine state.
func (c *Coordinator) State() State { return c.state }

// NumReported returns how many ranks have reported their RequestList so far.
func (c *Coordinator) NumReported() int { return len(c.reported) }

// fail records a protocol misuse and poisons the cycle.
func (c *Coordinator) fail(err error) error {
	c.state = StateFailed
	return err
}

// Report accumulates the RequestList submitted by one rank.
//
// A shutdown list short-circuits the cycle: any requests it also carries are
// tolerated but ignored. Reporting twice for the same rank, or for a rank
// outside the known set, poisons the cycle (StateFailed) -- those are bugs
// in the transport glue, not data errors, so they are returned as errors
// rather than folded into ERROR responses.
func (c *Coordinator) Report(rank int32, list *collective.RequestList) error {
	if c.state != StateCollecting && c.state != StateShutdown {
		return c.fail(errors.Errorf("cannot report in state %s", c.state))
	}
	if rank < 0 || int(rank) >= c.numRanks {
		return c.fail(errors.Errorf("rank %d out of range, process group has %d ranks", rank, c.numRanks))
	}
	if c.reported.Has(rank) {
		return c.fail(errors.Errorf("rank %d reported twice in the same cycle", rank))
	}
	c.reported.Insert(rank)

	if list.Shutdown {
		klog.V(1).Infof("rank %d requested shutdown, cycle short-circuits", rank)
		c.shutdown = true
		c.state = StateShutdown
		return nil
	}
	if c.state == StateShutdown {
		// Cycle already terminating, remaining ranks' work is dropped.
		return nil
	}

	seen := sets.Make[string](len(list.Requests))
	for _, r := range list.Requests {
		if err := r.Validate(); err != nil {
			return c.fail(errors.WithMessagef(err, "invalid request from rank %d", rank))
		}
		if r.Rank != rank {
			return c.fail(errors.Errorf("request for tensor %q claims rank %d but was reported by rank %d",
				r.TensorName, r.Rank, rank))
		}
		if seen.Has(r.TensorName) {
			return c.fail(errors.Errorf("rank %d submitted two requests for tensor %q in the same cycle",
				rank, r.TensorName))
		}
		seen.Insert(r.TensorName)

		group := c.groups[r.TensorName]
		if group == nil {
			group = &tensorGroup{name: r.TensorName}
			c.groups[r.TensorName] = group
		}
		group.add(r)
		metricRequests.WithLabelValues(r.Type.String()).Inc()
	}
	klog.V(2).Infof("rank %d reported %d requests (%d of %d ranks in)",
		rank, len(list.Requests), len(c.reported), c.numRanks)
	return nil
}

// Complete returns whether the cycle may be negotiated: either every rank
// reported, or some rank requested shutdown.
func (c *Coordinator) Complete() bool {
	if c.state == StateShutdown {
		return true
	}
	return c.state == StateCollecting && len(c.reported) == c.numRanks
}

// Negotiate runs the remaining states of the cycle and emits the
// ResponseList every rank must execute in order.
//
// Validation failures are data, not faults: each tensor-name group that
// fails validation (or that some ranks did not request) becomes an ERROR
// response, and the other groups proceed independently. Negotiate only
// returns an error for protocol misuse -- calling it before collection
// completed, or after the cycle was poisoned.
func (c *Coordinator) Negotiate() (*collective.ResponseList, error) {
	if c.state == StateShutdown {
		metricCycles.Inc()
		metricShutdowns.Inc()
		klog.V(1).Info("negotiation cycle resolved to shutdown")
		return &collective.ResponseList{Shutdown: true}, nil
	}
	if c.state != StateCollecting {
		return nil, errors.Errorf("cannot negotiate in state %s", c.state)
	}
	if !c.Complete() {
		return nil, errors.Errorf("cannot negotiate: only %d of %d ranks reported", len(c.reported), c.numRanks)
	}

	c.state = StateValidating
	names := mapKeys(c.groups)
	slices.Sort(names)
	var agreements []*agreement
	var errorResponses []*collective.Response
	for _, name := range names {
		group := c.groups[name]
		if len(group.requests) < c.numRanks {
			// Divergent request sets across ranks: executing the collective
			// on a subset of ranks is unsafe, so the whole group errors.
			missing := c.reported.Sub(sets.MakeWith(group.ranks()...))
			resp := collective.NewErrorResponse(name, divergentMessage(name, group.ranks(), sets.Sorted(missing)))
			errorResponses = append(errorResponses, resp)
			klog.V(2).Infof("tensor %q: %s", name, resp.ErrorMessage)
			continue
		}
		a, errResp := group.validate()
		if errResp != nil {
			errorResponses = append(errorResponses, errResp)
			klog.V(2).Infof("tensor %q: %s", name, errResp.ErrorMessage)
			continue
		}
		agreements = append(agreements, a)
	}

	// Fusion folds runs of consecutive compatible agreements, in the
	// lexicographic order established above. The fold is associative, so
	// batching happens one agreement at a time without changing the result.
	c.state = StateFusing
	var batches []*agreement
	for _, a := range agreements {
		n := len(batches)
		if n > 0 && c.fusion.canFuse(batches[n-1], a) {
			batches[n-1] = fuse(batches[n-1], a)
			continue
		}
		batches = append(batches, a)
	}

	// Responses already come out keyed by their (first) tensor name in
	// lexicographic order; merging the two sorted streams keeps the total
	// order deterministic and independent of arrival order.
	c.state = StateOrdering
	list := &collective.ResponseList{}
	var fusedCount int
	i, j := 0, 0
	for i < len(batches) || j < len(errorResponses) {
		if j >= len(errorResponses) || (i < len(batches) && batches[i].names[0] < errorResponses[j].TensorNames[0]) {
			resp := batches[i].response()
			if len(resp.TensorNames) > 1 {
				fusedCount++
			}
			list.Responses = append(list.Responses, resp)
			i++
		} else {
			list.Responses = append(list.Responses, errorResponses[j])
			j++
		}
	}

	c.state = StateDone
	metricCycles.Inc()
	metricErrorResponses.Add(float64(len(errorResponses)))
	metricFusedResponses.Add(float64(fusedCount))
	klog.V(1).Infof("negotiation cycle done: %d tensors -> %d responses (%d fused, %d errors)",
		len(c.groups), len(list.Responses), fusedCount, len(errorResponses))
	return list, nil
}

func divergentMessage(name string, requested, missing []int32) string {
	return "tensor " + strconv.Quote(name) + " was requested by ranks " + formatRanks(requested) +
		", but not by ranks " + formatRanks(missing) +
		"; all ranks must request the same tensors in a cycle"
}

func formatRanks(ranks []int32) string {
	s := "["
	for i, r := range ranks {
		if i > 0 {
			s += ", "
		}
		s += strconv.Itoa(int(r))
	}
	return s + "]"
}

func mapKeys[K comparable, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
