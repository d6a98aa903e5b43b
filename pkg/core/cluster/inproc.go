package cluster

import (
	"context"
	"sync"

	"github.com/gomlx/collectives/pkg/support/xsync"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// InProcess is a Transport for ranks living in the same process: each rank
// is a goroutine, submissions flow through one channel into the coordinator,
// and broadcasts fan out through one buffered channel per rank.
//
// Because workers submit cycle N+1 only after consuming cycle N's broadcast,
// a buffer of one response per rank is enough -- no cycle tagging is needed.
type InProcess struct {
	session  string
	numRanks int

	submissions chan submission
	replies     []chan []byte

	closed    *xsync.Latch
	closeOnce sync.Once
}

type submission struct {
	rank    int32
	payload []byte
}

var _ Transport = (*InProcess)(nil)

// NewInProcess returns an in-process transport for numRanks ranks.
func NewInProcess(numRanks int) (*InProcess, error) {
	if numRanks < 1 {
		return nil, errors.Errorf("in-process transport requires at least 1 rank, got %d", numRanks)
	}
	t := &InProcess{
		session:     uuid.NewString(),
		numRanks:    numRanks,
		submissions: make(chan submission, numRanks),
		replies:     make([]chan []byte, numRanks),
		closed:      xsync.NewLatch(),
	}
	for i := range t.replies {
		t.replies[i] = make(chan []byte, 1)
	}
	klog.V(1).Infof("in-process transport %s up with %d ranks", t.session, numRanks)
	return t, nil
}

// Session returns the unique identity of this transport instance, useful to
// correlate log lines when several process groups coexist in one process.
func (t *InProcess) Session() string { return t.session }

// NumRanks returns the size of the process group.
func (t *InProcess) NumRanks() int { return t.numRanks }

func (t *InProcess) checkRank(rank int32) error {
	if rank < 0 || int(rank) >= t.numRanks {
		return errors.Errorf("rank %d out of range, transport %s has %d ranks", rank, t.session, t.numRanks)
	}
	return nil
}

// Submit implements Transport.
func (t *InProcess) Submit(ctx context.Context, rank int32, payload []byte) error {
	if err := t.checkRank(rank); err != nil {
		return err
	}
	select {
	case t.submissions <- submission{rank: rank, payload: payload}:
		return nil
	case <-t.closed.WaitChan():
		return errors.Errorf("transport %s closed", t.session)
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "submitting for rank %d", rank)
	}
}

// Gather implements Transport.
func (t *InProcess) Gather(ctx context.Context) (int32, []byte, error) {
	select {
	case s := <-t.submissions:
		return s.rank, s.payload, nil
	case <-t.closed.WaitChan():
		return 0, nil, errors.Errorf("transport %s closed", t.session)
	case <-ctx.Done():
		return 0, nil, errors.Wrap(ctx.Err(), "gathering submissions")
	}
}

// Broadcast implements Transport.
func (t *InProcess) Broadcast(ctx context.Context, payload []byte) error {
	for rank, ch := range t.replies {
		select {
		case ch <- payload:
		case <-t.closed.WaitChan():
			return errors.Errorf("transport %s closed", t.session)
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "broadcasting to rank %d", rank)
		}
	}
	return nil
}

// Await implements Transport.
func (t *InProcess) Await(ctx context.Context, rank int32) ([]byte, error) {
	if err := t.checkRank(rank); err != nil {
		return nil, err
	}
	select {
	case payload := <-t.replies[rank]:
		return payload, nil
	case <-t.closed.WaitChan():
		return nil, errors.Errorf("transport %s closed", t.session)
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "awaiting broadcast for rank %d", rank)
	}
}

// Close implements Transport. It is idempotent.
func (t *InProcess) Close() error {
	t.closeOnce.Do(func() {
		klog.V(1).Infof("in-process transport %s closing", t.session)
		t.closed.Trigger()
	})
	return nil
}
