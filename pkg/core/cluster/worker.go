package cluster

import (
	"context"

	"github.com/gomlx/collectives/pkg/core/collective"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Worker is the rank-side half of the protocol: it submits the rank's
// RequestList for one cycle and blocks until the coordinator's broadcast
// arrives.
//
// Cycles are strictly sequential per rank: call Negotiate again only after
// the previous cycle's responses were fully consumed by the execution layer.
// Never pipeline cycles -- fusion and ordering decisions depend on the
// coordinator seeing every rank's full request set for the cycle.
type Worker struct {
	rank      int32
	transport Transport
}

// NewWorker returns the worker role for the given rank over the transport.
func NewWorker(rank int32, transport Transport) (*Worker, error) {
	if rank < 0 {
		return nil, errors.Errorf("worker rank must be non-negative, got %d", rank)
	}
	return &Worker{rank: rank, transport: transport}, nil
}

// Rank returns the rank this worker speaks for.
func (w *Worker) Rank() int32 { return w.rank }

// Negotiate runs one cycle for this rank: encode and submit the list, block
// for the broadcast, decode the agreed plan.
//
// The returned ResponseList is identical on every rank; execute its
// responses in order. ERROR responses are data, not failures of this call:
// skip the failed tensor's collective and surface Response.ErrorMessage to
// the layer above.
func (w *Worker) Negotiate(ctx context.Context, list *collective.RequestList) (*collective.ResponseList, error) {
	payload, err := list.Encode()
	if err != nil {
		return nil, errors.WithMessagef(err, "rank %d", w.rank)
	}
	if err = w.transport.Submit(ctx, w.rank, payload); err != nil {
		return nil, err
	}
	klog.V(2).Infof("rank %d submitted %d requests, awaiting plan", w.rank, len(list.Requests))

	payload, err = w.transport.Await(ctx, w.rank)
	if err != nil {
		return nil, err
	}
	responses, err := collective.DecodeResponseList(payload)
	if err != nil {
		return nil, errors.WithMessagef(err, "rank %d", w.rank)
	}
	klog.V(2).Infof("rank %d received plan with %d responses (shutdown=%v)",
		w.rank, len(responses.Responses), responses.Shutdown)
	return responses, nil
}

// RequestShutdown submits a shutdown cycle for this rank and waits for the
// cluster-wide confirmation. One rank requesting shutdown is authoritative:
// the confirmation always carries Shutdown=true and no work.
func (w *Worker) RequestShutdown(ctx context.Context) (*collective.ResponseList, error) {
	return w.Negotiate(ctx, &collective.RequestList{Shutdown: true})
}
