package negotiation_test

import (
	"math/rand"
	"testing"

	"github.com/gomlx/collectives/pkg/core/collective"
	"github.com/gomlx/collectives/pkg/core/dtypes"
	"github.com/gomlx/collectives/pkg/core/negotiation"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCoordinator(t *testing.T, numRanks int) *negotiation.Coordinator {
	t.Helper()
	c, err := negotiation.New(numRanks, negotiation.DefaultFusionConfig())
	require.NoError(t, err)
	return c
}

func listOf(t *testing.T, requests ...*collective.Request) *collective.RequestList {
	t.Helper()
	list := &collective.RequestList{}
	for _, r := range requests {
		require.NoError(t, list.Add(r))
	}
	return list
}

func allreduce(rank int32, name string, dims ...int64) *collective.Request {
	return &collective.Request{
		Rank: rank, Type: collective.RequestAllreduce, DType: dtypes.Float32,
		TensorName: name, Shape: collective.MakeShape(dims...),
	}
}

func TestNegotiate_SingleTensor(t *testing.T) {
	c := newCoordinator(t, 3)
	for rank := int32(0); rank < 3; rank++ {
		require.NoError(t, c.Report(rank, listOf(t, allreduce(rank, "w", 4, 4))))
	}
	require.True(t, c.Complete())

	list := must.M1(c.Negotiate())
	assert.Equal(t, negotiation.StateDone, c.State())
	assert.False(t, list.Shutdown)
	require.Len(t, list.Responses, 1)
	resp := list.Responses[0]
	assert.Equal(t, collective.ResponseAllreduce, resp.Type)
	assert.Equal(t, []string{"w"}, resp.TensorNames)
	assert.Equal(t, []int32{0, 0, 0}, resp.Devices)
	assert.Empty(t, resp.TensorSizes)
}

func TestNegotiate_Determinism(t *testing.T) {
	// Whatever order the ranks report in, the encoded plan is
	// byte-identical.
	const numRanks = 5
	build := func(rank int32) *collective.RequestList {
		return listOf(t,
			allreduce(rank, "grad0", 1000),
			allreduce(rank, "grad1", 1000),
			&collective.Request{
				Rank: rank, Type: collective.RequestAllgather, DType: dtypes.Int64,
				TensorName: "indices", Shape: collective.MakeShape(int64(rank)+1, 8),
			},
		)
	}

	var want []byte
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 10; trial++ {
		order := rng.Perm(numRanks)
		c := newCoordinator(t, numRanks)
		for _, rank := range order {
			require.NoError(t, c.Report(int32(rank), build(int32(rank))))
		}
		encoded := must.M1(must.M1(c.Negotiate()).Encode())
		if trial == 0 {
			want = encoded
			continue
		}
		assert.Equalf(t, want, encoded, "report order %v produced a different plan", order)
	}
}

func TestNegotiate_PartialFailureIsolation(t *testing.T) {
	// A shape mismatch on "x" must not prevent a valid response for "y".
	c := newCoordinator(t, 2)
	require.NoError(t, c.Report(0, listOf(t, allreduce(0, "x", 4, 4), allreduce(0, "y", 2))))
	require.NoError(t, c.Report(1, listOf(t, allreduce(1, "x", 4, 5), allreduce(1, "y", 2))))

	list := must.M1(c.Negotiate())
	require.Len(t, list.Responses, 2)

	xResp, yResp := list.Responses[0], list.Responses[1]
	assert.Equal(t, []string{"x"}, xResp.TensorNames)
	assert.True(t, xResp.IsError())
	assert.Contains(t, xResp.ErrorMessage, "rank 0 has shape [4, 4]")
	assert.Contains(t, xResp.ErrorMessage, "rank 1 has shape [4, 5]")

	assert.Equal(t, []string{"y"}, yResp.TensorNames)
	assert.Equal(t, collective.ResponseAllreduce, yResp.Type)
}

func TestNegotiate_AllgatherSizesByRank(t *testing.T) {
	// 4 ranks gather "emb" with leading dimensions 10, 12, 8 and 9: the
	// response must report them in ascending rank order however the ranks
	// reported.
	dim0s := []int64{10, 12, 8, 9}
	c := newCoordinator(t, 4)
	for _, rank := range []int32{3, 1, 0, 2} {
		require.NoError(t, c.Report(rank, listOf(t, &collective.Request{
			Rank: rank, Type: collective.RequestAllgather, DType: dtypes.Float32,
			TensorName: "emb", Shape: collective.MakeShape(dim0s[rank], 64),
		})))
	}
	list := must.M1(c.Negotiate())
	require.Len(t, list.Responses, 1)
	resp := list.Responses[0]
	assert.Equal(t, collective.ResponseAllgather, resp.Type)
	assert.Equal(t, []int64{10, 12, 8, 9}, resp.TensorSizes)
}

func TestNegotiate_Fusion(t *testing.T) {
	t.Run("CompatibleTensorsFuse", func(t *testing.T) {
		c := newCoordinator(t, 2)
		for rank := int32(0); rank < 2; rank++ {
			require.NoError(t, c.Report(rank, listOf(t,
				allreduce(rank, "grad1", 10),
				allreduce(rank, "grad0", 10),
				allreduce(rank, "grad2", 10),
			)))
		}
		list := must.M1(c.Negotiate())
		require.Len(t, list.Responses, 1)
		assert.Equal(t, []string{"grad0", "grad1", "grad2"}, list.Responses[0].TensorNames)
	})

	t.Run("BudgetSplitsBatches", func(t *testing.T) {
		// Each tensor is 40 bytes; a 64-byte budget fits only one per batch.
		c, err := negotiation.New(2, negotiation.FusionConfig{MaxFusedBytes: 64})
		require.NoError(t, err)
		for rank := int32(0); rank < 2; rank++ {
			require.NoError(t, c.Report(rank, listOf(t,
				allreduce(rank, "grad0", 10),
				allreduce(rank, "grad1", 10),
			)))
		}
		list := must.M1(c.Negotiate())
		require.Len(t, list.Responses, 2)
		assert.Equal(t, []string{"grad0"}, list.Responses[0].TensorNames)
		assert.Equal(t, []string{"grad1"}, list.Responses[1].TensorNames)
	})

	t.Run("MixedDTypesDontFuse", func(t *testing.T) {
		c := newCoordinator(t, 1)
		double := allreduce(0, "b", 10)
		double.DType = dtypes.Float64
		require.NoError(t, c.Report(0, listOf(t, allreduce(0, "a", 10), double, allreduce(0, "c", 10))))
		list := must.M1(c.Negotiate())
		// "b" sits between "a" and "c" in the deterministic order, so it
		// breaks the run and nothing fuses.
		require.Len(t, list.Responses, 3)
		assert.Equal(t, []string{"a"}, list.Responses[0].TensorNames)
		assert.Equal(t, []string{"b"}, list.Responses[1].TensorNames)
		assert.Equal(t, []string{"c"}, list.Responses[2].TensorNames)
	})
}

func TestNegotiate_DivergentRequestSets(t *testing.T) {
	c := newCoordinator(t, 3)
	require.NoError(t, c.Report(0, listOf(t, allreduce(0, "w", 4))))
	require.NoError(t, c.Report(1, &collective.RequestList{}))
	require.NoError(t, c.Report(2, listOf(t, allreduce(2, "w", 4))))

	list := must.M1(c.Negotiate())
	require.Len(t, list.Responses, 1)
	resp := list.Responses[0]
	assert.True(t, resp.IsError())
	assert.Equal(t, []string{"w"}, resp.TensorNames)
	assert.Contains(t, resp.ErrorMessage, "requested by ranks [0, 2]")
	assert.Contains(t, resp.ErrorMessage, "not by ranks [1]")
}

func TestNegotiate_ShutdownPrecedence(t *testing.T) {
	c := newCoordinator(t, 3)
	require.NoError(t, c.Report(0, listOf(t, allreduce(0, "w", 4))))

	// A single shutdown is authoritative, even bundled with requests.
	shutdownList := listOf(t, allreduce(1, "w", 4))
	shutdownList.Shutdown = true
	require.NoError(t, c.Report(1, shutdownList))
	assert.Equal(t, negotiation.StateShutdown, c.State())
	assert.True(t, c.Complete())

	// Late reports are tolerated and dropped.
	require.NoError(t, c.Report(2, listOf(t, allreduce(2, "w", 4))))

	list := must.M1(c.Negotiate())
	assert.True(t, list.Shutdown)
	assert.Empty(t, list.Responses)
	assert.Equal(t, negotiation.StateShutdown, c.State())
}

func TestNegotiate_EmptyCycle(t *testing.T) {
	c := newCoordinator(t, 2)
	require.NoError(t, c.Report(0, &collective.RequestList{}))
	require.NoError(t, c.Report(1, &collective.RequestList{}))
	list := must.M1(c.Negotiate())
	assert.Empty(t, list.Responses)
	assert.False(t, list.Shutdown)
}

func TestCoordinator_ProtocolMisuse(t *testing.T) {
	t.Run("TooFewRanks", func(t *testing.T) {
		_, err := negotiation.New(0, negotiation.DefaultFusionConfig())
		assert.Error(t, err)
	})

	t.Run("RankOutOfRange", func(t *testing.T) {
		c := newCoordinator(t, 2)
		assert.Error(t, c.Report(2, &collective.RequestList{}))
		assert.Equal(t, negotiation.StateFailed, c.State())
	})

	t.Run("DuplicateReport", func(t *testing.T) {
		c := newCoordinator(t, 2)
		require.NoError(t, c.Report(0, &collective.RequestList{}))
		assert.Error(t, c.Report(0, &collective.RequestList{}))
		assert.Equal(t, negotiation.StateFailed, c.State())
	})

	t.Run("MisattributedRequest", func(t *testing.T) {
		c := newCoordinator(t, 2)
		err := c.Report(0, listOf(t, allreduce(1, "w", 4)))
		assert.ErrorContains(t, err, "claims rank 1")
	})

	t.Run("NegotiateBeforeComplete", func(t *testing.T) {
		c := newCoordinator(t, 2)
		require.NoError(t, c.Report(0, &collective.RequestList{}))
		_, err := c.Negotiate()
		assert.ErrorContains(t, err, "1 of 2 ranks")
	})

	t.Run("NegotiateTwice", func(t *testing.T) {
		c := newCoordinator(t, 1)
		require.NoError(t, c.Report(0, &collective.RequestList{}))
		_, err := c.Negotiate()
		require.NoError(t, err)
		_, err = c.Negotiate()
		assert.ErrorContains(t, err, "state DONE")
	})
}
