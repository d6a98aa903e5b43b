package negotiation

import (
	"testing"

	"github.com/gomlx/collectives/pkg/core/collective"
	"github.com/gomlx/collectives/pkg/core/dtypes"
	"github.com/stretchr/testify/assert"
)

func allreduceAgreement(name string, bytes int64) *agreement {
	return &agreement{
		names:   []string{name},
		opType:  collective.ResponseAllreduce,
		dtype:   dtypes.Float32,
		shape:   collective.MakeShape(bytes / 4),
		devices: []int32{0, 0},
		bytes:   bytes,
	}
}

func TestFusionConfig_CanFuse(t *testing.T) {
	cfg := FusionConfig{MaxFusedBytes: 1024}
	a := allreduceAgreement("a", 512)
	b := allreduceAgreement("b", 512)
	assert.True(t, cfg.canFuse(a, b))

	t.Run("BudgetExceeded", func(t *testing.T) {
		big := allreduceAgreement("big", 600)
		assert.False(t, cfg.canFuse(a, big))
		// No limit when the budget is unset.
		assert.True(t, FusionConfig{}.canFuse(a, big))
	})

	t.Run("DifferentOperation", func(t *testing.T) {
		gather := allreduceAgreement("g", 512)
		gather.opType = collective.ResponseAllgather
		assert.False(t, cfg.canFuse(a, gather))
	})

	t.Run("DifferentDType", func(t *testing.T) {
		f64 := allreduceAgreement("f", 512)
		f64.dtype = dtypes.Float64
		assert.False(t, cfg.canFuse(a, f64))
	})

	t.Run("DifferentDevices", func(t *testing.T) {
		other := allreduceAgreement("o", 512)
		other.devices = []int32{0, 1}
		assert.False(t, cfg.canFuse(a, other))
	})

	t.Run("ErrorsNeverFuse", func(t *testing.T) {
		bad := allreduceAgreement("x", 1)
		bad.opType = collective.ResponseError
		assert.False(t, cfg.canFuse(bad, bad))
	})

	t.Run("BroadcastRootMustMatch", func(t *testing.T) {
		b0 := allreduceAgreement("b0", 4)
		b0.opType = collective.ResponseBroadcast
		b1 := allreduceAgreement("b1", 4)
		b1.opType = collective.ResponseBroadcast
		assert.True(t, cfg.canFuse(b0, b1))
		b1.rootRank = 1
		assert.False(t, cfg.canFuse(b0, b1))
	})
}

func TestFuse_Associativity(t *testing.T) {
	cfg := DefaultFusionConfig()
	a := allreduceAgreement("a", 100)
	b := allreduceAgreement("b", 200)
	c := allreduceAgreement("c", 300)

	left := fuse(fuse(a, b), c)
	right := fuse(a, fuse(b, c))
	assert.Equal(t, left.names, right.names)
	assert.Equal(t, left.bytes, right.bytes)
	assert.Equal(t, left.response(), right.response())

	// And folding must match fusing the whole run at once.
	assert.Equal(t, []string{"a", "b", "c"}, left.names)
	assert.Equal(t, int64(600), left.bytes)
	assert.True(t, cfg.canFuse(fuse(a, b), c))
}

func TestFuse_AllgatherConcatenatesSizes(t *testing.T) {
	a := &agreement{
		names:   []string{"emb0"},
		opType:  collective.ResponseAllgather,
		dtype:   dtypes.Float32,
		devices: []int32{0, 1},
		sizes:   []int64{10, 12},
		bytes:   88,
	}
	b := &agreement{
		names:   []string{"emb1"},
		opType:  collective.ResponseAllgather,
		dtype:   dtypes.Float32,
		devices: []int32{0, 1},
		sizes:   []int64{4, 4},
		bytes:   32,
	}
	merged := fuse(a, b)
	// Each fused tensor keeps its own per-rank sizes, appended positionally.
	assert.Equal(t, []int64{10, 12, 4, 4}, merged.sizes)
	assert.Equal(t, []string{"emb0", "emb1"}, merged.names)

	// fuse is pure: the inputs are untouched.
	assert.Equal(t, []int64{10, 12}, a.sizes)
	assert.Equal(t, []string{"emb1"}, b.names)
}

func TestFusionConfig_String(t *testing.T) {
	assert.Contains(t, DefaultFusionConfig().String(), "64 MiB")
	assert.Contains(t, FusionConfig{}.String(), "unlimited")
}
