package assembly

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
)

// Edge links a protein to a spectrum it has evidence from.
type Edge struct {
	Protein  int64
	Spectrum int64
}

// Clusters assigns each protein the id of its connected component, where two
// proteins are connected when they share a spectrum. Proteins are visited in
// ascending id order and components are numbered from 1 in discovery order.
func Clusters(edges []Edge) map[int64]int64 {
	proteinIndex := make(map[int64]int)
	var proteins []int64
	for _, e := range edges {
		if _, ok := proteinIndex[e.Protein]; !ok {
			proteinIndex[e.Protein] = 0
			proteins = append(proteins, e.Protein)
		}
	}
	slices.Sort(proteins)
	for i, p := range proteins {
		proteinIndex[p] = i
	}

	spectrumIndex := make(map[int64]uint32)
	spectraOf := make([][]uint32, len(proteins))
	var proteinsOf [][]int
	for _, e := range edges {
		s, ok := spectrumIndex[e.Spectrum]
		if !ok {
			s = uint32(len(proteinsOf))
			spectrumIndex[e.Spectrum] = s
			proteinsOf = append(proteinsOf, nil)
		}
		p := proteinIndex[e.Protein]
		spectraOf[p] = append(spectraOf[p], s)
		proteinsOf[s] = append(proteinsOf[s], p)
	}

	cluster := make([]int64, len(proteins))
	expanded := roaring.New()
	var next int64
	var stack []int

	for start := range proteins {
		if cluster[start] != 0 {
			continue
		}
		next++
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if cluster[p] != 0 {
				continue
			}
			cluster[p] = next

			for _, s := range spectraOf[p] {
				if !expanded.CheckedAdd(s) {
					continue
				}
				for _, cousin := range proteinsOf[s] {
					if cluster[cousin] == 0 {
						stack = append(stack, cousin)
					}
				}
			}
		}
	}

	out := make(map[int64]int64, len(proteins))
	for i, p := range proteins {
		out[p] = cluster[i]
	}
	return out
}
