package assembly

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/idpdb/pkg/core"
)

func TestCoverageAccumulator(t *testing.T) {
	var flushed []core.ProteinCoverage
	acc := NewCoverageAccumulator(func(pc core.ProteinCoverage) error {
		flushed = append(flushed, pc)
		return nil
	})

	require.NoError(t, acc.Add(1, 10, 0, 4))
	require.NoError(t, acc.Add(1, 10, 2, 4))
	require.NoError(t, acc.Add(2, 4, 2, 5)) // runs past the end of the protein
	require.NoError(t, acc.Close())

	require.Len(t, flushed, 2)
	assert.Equal(t, int64(1), flushed[0].ID)
	assert.Equal(t, []uint16{1, 1, 2, 2, 1, 1, 0, 0, 0, 0}, flushed[0].CoverageMask)
	assert.InDelta(t, 60.0, flushed[0].Coverage, 1e-9)

	assert.Equal(t, int64(2), flushed[1].ID)
	assert.Equal(t, []uint16{0, 0, 1, 1}, flushed[1].CoverageMask)
	assert.InDelta(t, 50.0, flushed[1].Coverage, 1e-9)
}

func TestCoverageAccumulatorRejectsUnorderedRows(t *testing.T) {
	acc := NewCoverageAccumulator(func(core.ProteinCoverage) error { return nil })
	require.NoError(t, acc.Add(5, 10, 0, 1))
	assert.Error(t, acc.Add(4, 10, 0, 1))
}

func TestCoverageAccumulatorSaturates(t *testing.T) {
	var got core.ProteinCoverage
	acc := NewCoverageAccumulator(func(pc core.ProteinCoverage) error {
		got = pc
		return nil
	})
	for i := 0; i < math.MaxUint16+10; i++ {
		require.NoError(t, acc.Add(1, 2, 0, 1))
	}
	require.NoError(t, acc.Close())
	assert.Equal(t, []uint16{math.MaxUint16, 0}, got.CoverageMask)
}

func TestCoverageAccumulatorEmpty(t *testing.T) {
	calls := 0
	acc := NewCoverageAccumulator(func(core.ProteinCoverage) error {
		calls++
		return nil
	})
	require.NoError(t, acc.Close())
	assert.Zero(t, calls)
}
