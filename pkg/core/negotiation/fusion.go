package negotiation

import (
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/collectives/pkg/core/collective"
)

// DefaultMaxFusedBytes is the default upper bound on the payload of one
// fused batch. 64MiB is the usual fusion-buffer size deployed with the
// execution layer; tune FusionConfig.MaxFusedBytes to match yours.
const DefaultMaxFusedBytes = 64 * 1024 * 1024

// FusionConfig tunes how the negotiation engine batches compatible
// single-tensor operations into one collective call.
type FusionConfig struct {
	// MaxFusedBytes is the maximum payload of one fused batch, in bytes.
	// Zero or negative means no limit.
	MaxFusedBytes int64
}

// DefaultFusionConfig returns the fusion policy used when none is given.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{MaxFusedBytes: DefaultMaxFusedBytes}
}

// String implements fmt.Stringer.
func (c FusionConfig) String() string {
	if c.MaxFusedBytes <= 0 {
		return "FusionConfig(unlimited batch)"
	}
	return fmt.Sprintf("FusionConfig(batches up to %s)", humanize.IBytes(uint64(c.MaxFusedBytes)))
}

// canFuse reports whether b may be appended to the batch a.
//
// Two agreements are fusible iff they carry the same operation, the same
// element type and the same per-rank devices; broadcasts must additionally
// share the root rank, since a fused Response carries a single implicit
// root. The combined payload must stay within the configured budget.
func (c FusionConfig) canFuse(a, b *agreement) bool {
	if a.opType != b.opType || a.opType == collective.ResponseError {
		return false
	}
	if a.dtype != b.dtype {
		return false
	}
	if !slices.Equal(a.devices, b.devices) {
		return false
	}
	if a.opType == collective.ResponseBroadcast && a.rootRank != b.rootRank {
		return false
	}
	if c.MaxFusedBytes > 0 && a.bytes+b.bytes > c.MaxFusedBytes {
		return false
	}
	return true
}

// fuse merges b into the batch a, in order. It is a pure, order-preserving
// concatenation, so folding [A, B, C] one at a time equals fusing the triple
// at once: tensor names append, and for allgather each agreement keeps its
// own per-rank sizes, appended positionally -- never merged numerically.
func fuse(a, b *agreement) *agreement {
	merged := &agreement{
		names:    append(slices.Clone(a.names), b.names...),
		opType:   a.opType,
		dtype:    a.dtype,
		shape:    a.shape,
		rootRank: a.rootRank,
		devices:  a.devices,
		sizes:    append(slices.Clone(a.sizes), b.sizes...),
		bytes:    a.bytes + b.bytes,
	}
	return merged
}
