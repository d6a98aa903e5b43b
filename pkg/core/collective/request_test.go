package collective

import (
	"testing"

	"github.com/gomlx/collectives/pkg/core/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_Validate(t *testing.T) {
	valid := &Request{Rank: 1, Type: RequestAllreduce, DType: dtypes.Float32, TensorName: "w"}
	require.NoError(t, valid.Validate())

	negRank := *valid
	negRank.Rank = -1
	assert.Error(t, negRank.Validate())

	badOp := *valid
	badOp.Type = RequestType(42)
	assert.Error(t, badOp.Validate())

	badDType := *valid
	badDType.DType = dtypes.DType(-1)
	assert.Error(t, badDType.Validate())

	noName := *valid
	noName.TensorName = ""
	assert.Error(t, noName.Validate())
}

func TestRequestList_Add(t *testing.T) {
	list := &RequestList{}
	require.NoError(t, list.Add(&Request{Type: RequestAllreduce, TensorName: "w"}))
	require.NoError(t, list.Add(&Request{Type: RequestAllgather, TensorName: "emb", Shape: MakeShape(3)}))

	// Tensor names are unique within one cycle's list.
	err := list.Add(&Request{Type: RequestBroadcast, TensorName: "w"})
	assert.ErrorContains(t, err, "duplicate")
	assert.Len(t, list.Requests, 2)
}

func TestTypeNames(t *testing.T) {
	assert.Equal(t, "ALLREDUCE", RequestAllreduce.String())
	assert.Equal(t, "ALLGATHER", RequestAllgather.String())
	assert.Equal(t, "BROADCAST", RequestBroadcast.String())
	assert.Equal(t, "ERROR", ResponseError.String())
	assert.False(t, RequestType(7).IsValid())
	assert.False(t, ResponseType(7).IsValid())

	// ResponseTypeFor maps each operation onto the response that executes it.
	assert.Equal(t, ResponseAllgather, ResponseTypeFor(RequestAllgather))
}
