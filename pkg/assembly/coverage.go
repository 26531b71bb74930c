package assembly

import (
	"fmt"
	"math"

	"github.com/ChrisMcGann/idpdb/pkg/core"
)

// CoverageAccumulator builds per-protein coverage masks from peptide
// instances streamed in ascending protein order, handing each finished
// protein to the flush function exactly once.
type CoverageAccumulator struct {
	flush   func(core.ProteinCoverage) error
	current int64
	mask    []uint16
	started bool
}

// NewCoverageAccumulator returns an accumulator that passes finished proteins to flush.
func NewCoverageAccumulator(flush func(core.ProteinCoverage) error) *CoverageAccumulator {
	return &CoverageAccumulator{flush: flush}
}

// Add records one peptide instance [offset, offset+length) of a protein of
// proteinLength residues. Residues outside the protein are ignored.
func (a *CoverageAccumulator) Add(protein int64, proteinLength, offset, length int) error {
	if a.started && protein < a.current {
		return fmt.Errorf("coverage rows out of order: protein %d after %d", protein, a.current)
	}
	if !a.started || protein != a.current {
		if err := a.emit(); err != nil {
			return err
		}
		a.started = true
		a.current = protein
		a.mask = make([]uint16, max(proteinLength, 0))
	}

	end := min(offset+length, len(a.mask))
	for i := max(offset, 0); i < end; i++ {
		if a.mask[i] < math.MaxUint16 {
			a.mask[i]++
		}
	}
	return nil
}

// Close flushes the last protein.
func (a *CoverageAccumulator) Close() error {
	return a.emit()
}

func (a *CoverageAccumulator) emit() error {
	if !a.started {
		return nil
	}
	pc := core.ProteinCoverage{
		ID:           a.current,
		Coverage:     core.CoveragePercent(a.mask),
		CoverageMask: a.mask,
	}
	a.started = false
	a.mask = nil
	return a.flush(pc)
}
