package cluster

import (
	"context"

	"github.com/gomlx/collectives/pkg/core/collective"
	"github.com/gomlx/collectives/pkg/core/negotiation"
	"github.com/gomlx/collectives/pkg/support/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Service is the coordinator role (conventionally rank 0): it drives
// negotiation cycles over a Transport until the cluster shuts down.
//
// A rank that never reports stalls the cycle indefinitely: liveness is the
// job of an external health-check collaborator, which should cancel the
// context or inject a synthetic shutdown submission.
type Service struct {
	numRanks  int
	fusion    negotiation.FusionConfig
	transport Transport
}

// NewService returns a coordinator service for a process group of numRanks
// ranks over the given transport.
func NewService(numRanks int, fusion negotiation.FusionConfig, transport Transport) (*Service, error) {
	if numRanks < 1 {
		return nil, errors.Errorf("coordinator service requires at least 1 rank, got %d", numRanks)
	}
	return &Service{numRanks: numRanks, fusion: fusion, transport: transport}, nil
}

// RunCycle drives one full negotiation cycle: gather every rank's
// submission, negotiate, broadcast the plan. It returns whether the cycle
// resolved to shutdown.
//
// A malformed submission fails the cycle at the decode boundary, before it
// reaches the negotiation table: the error is returned to the caller and no
// partial plan is broadcast. Each cycle uses a fresh engine, so a failed
// cycle leaves no state behind.
func (s *Service) RunCycle(ctx context.Context) (shutdown bool, err error) {
	engine, err := negotiation.New(s.numRanks, s.fusion)
	if err != nil {
		return false, err
	}
	for !engine.Complete() {
		rank, payload, err := s.transport.Gather(ctx)
		if err != nil {
			return false, err
		}
		list, err := collective.DecodeRequestList(payload)
		if err != nil {
			return false, errors.WithMessagef(err, "submission from rank %d", rank)
		}
		if err = engine.Report(rank, list); err != nil {
			return false, err
		}
	}
	responses, err := engine.Negotiate()
	if err != nil {
		return false, err
	}
	payload, err := responses.Encode()
	if err != nil {
		return false, err
	}
	if err = s.transport.Broadcast(ctx, payload); err != nil {
		return false, err
	}
	return responses.Shutdown, nil
}

// Start runs the negotiation loop on its own goroutine and returns a latch
// that triggers with Run's result once the loop stops. Callers that need the
// coordinator in the background (the usual deployment, with workers sharing
// the process) wait on the latch instead of managing the goroutine.
func (s *Service) Start(ctx context.Context) *xsync.LatchWithValue[error] {
	done := xsync.NewLatchWithValue[error]()
	go func() {
		done.Trigger(s.Run(ctx))
	}()
	return done
}

// Run loops negotiation cycles until a rank requests shutdown, the context
// is canceled, or a cycle fails.
func (s *Service) Run(ctx context.Context) error {
	klog.V(1).Infof("coordinator up for %d ranks, %s", s.numRanks, s.fusion)
	for cycle := 0; ; cycle++ {
		shutdown, err := s.RunCycle(ctx)
		if err != nil {
			return errors.WithMessagef(err, "negotiation cycle %d", cycle)
		}
		if shutdown {
			klog.V(1).Infof("coordinator stopping after %d cycles: shutdown requested", cycle+1)
			return nil
		}
	}
}
