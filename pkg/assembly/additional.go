package assembly

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
)

// Match is one (protein, spectrum, peptide) association reachable through a
// peptide instance and a peptide-spectrum match.
type Match struct {
	Protein  int64
	Spectrum int64
	Peptide  int64
}

// AdditionalPeptides counts how many results each protein adds beyond those
// already explained by proteins chosen before it.
//
// A result is the set of peptides matched to one spectrum, so a spectrum
// whose peptides are shared between proteins is a single ambiguous result.
// A protein's shared-result count is the sum, over its spectra, of the number
// of proteins each spectrum matches; it breaks ties in favour of proteins
// with less ambiguous evidence.
func AdditionalPeptides(matches []Match) map[int64]int {
	spectrumPeptides := make(map[int64][]int64)
	spectrumProteins := make(map[int64]map[int64]struct{})
	proteinSpectra := make(map[int64]map[int64]struct{})
	for _, m := range matches {
		spectrumPeptides[m.Spectrum] = append(spectrumPeptides[m.Spectrum], m.Peptide)
		if spectrumProteins[m.Spectrum] == nil {
			spectrumProteins[m.Spectrum] = make(map[int64]struct{})
		}
		spectrumProteins[m.Spectrum][m.Protein] = struct{}{}
		if proteinSpectra[m.Protein] == nil {
			proteinSpectra[m.Protein] = make(map[int64]struct{})
		}
		proteinSpectra[m.Protein][m.Spectrum] = struct{}{}
	}

	// dense result ids per distinct peptide set
	resultIDs := make(map[string]uint32)
	resultBySpectrum := make(map[int64]uint32, len(spectrumPeptides))
	spectra := make([]int64, 0, len(spectrumPeptides))
	for s := range spectrumPeptides {
		spectra = append(spectra, s)
	}
	slices.Sort(spectra)
	for _, s := range spectra {
		key := setKey(spectrumPeptides[s])
		id, ok := resultIDs[key]
		if !ok {
			id = uint32(len(resultIDs))
			resultIDs[key] = id
		}
		resultBySpectrum[s] = id
	}

	proteins := make([]int64, 0, len(proteinSpectra))
	for p := range proteinSpectra {
		proteins = append(proteins, p)
	}
	slices.Sort(proteins)

	sets := make([]*roaring.Bitmap, len(proteins))
	shared := make([]int64, len(proteins))
	for i, p := range proteins {
		sets[i] = roaring.New()
		for s := range proteinSpectra[p] {
			sets[i].Add(resultBySpectrum[s])
			shared[i] += int64(len(spectrumProteins[s]))
		}
	}

	counts := GreedyCover(sets, shared)
	additional := make(map[int64]int, len(proteins))
	for i, p := range proteins {
		additional[p] = counts[i]
	}
	return additional
}

// GreedyCover runs the greedy maximum-coverage selection over dense indexes.
// Each round takes every remaining set of the largest size whose shared count
// is the minimum among those sets, credits each of them with the size of their
// union, and removes that union from all sets still remaining. Sets left when
// the largest remaining size is zero are credited 0. The sets are consumed.
func GreedyCover(sets []*roaring.Bitmap, shared []int64) []int {
	counts := make([]int, len(sets))
	remaining := make([]int, len(sets))
	for i := range sets {
		remaining[i] = i
	}

	for len(remaining) > 0 {
		var winners []int
		var maxSize uint64
		var minShared int64
		for _, i := range remaining {
			size := sets[i].GetCardinality()
			switch {
			case size > maxSize:
				winners = append(winners[:0], i)
				maxSize, minShared = size, shared[i]
			case size == maxSize && size > 0:
				if shared[i] < minShared {
					winners = append(winners[:0], i)
					minShared = shared[i]
				} else if shared[i] == minShared {
					winners = append(winners, i)
				}
			}
		}
		if maxSize == 0 {
			break
		}

		explained := roaring.New()
		for _, i := range winners {
			explained.Or(sets[i])
		}
		credit := int(explained.GetCardinality())

		next := remaining[:0]
		for _, i := range remaining {
			if slices.Contains(winners, i) {
				counts[i] = credit
				continue
			}
			sets[i].AndNot(explained)
			next = append(next, i)
		}
		remaining = next
	}
	return counts
}
