// Package assembly holds the set algorithms a filter pass runs over the
// surviving proteins, peptides and spectra: equivalence groups, the greedy
// additional-peptides cover, connected-component clusters and coverage masks.
//
// Inputs are plain rows loaded by the caller; nothing here touches the database.
package assembly

import (
	"slices"
	"strconv"
	"strings"
)

// Pair relates a member (protein or peptide) to one element of its set.
type Pair struct {
	Member int64
	Item   int64
}

// GroupBySets assigns members with identical item sets the same group id.
// Group ids are dense from 1, in the order their first member appears in pairs.
func GroupBySets(pairs []Pair) map[int64]int64 {
	var order []int64
	items := make(map[int64][]int64)
	for _, p := range pairs {
		if _, seen := items[p.Member]; !seen {
			order = append(order, p.Member)
		}
		items[p.Member] = append(items[p.Member], p.Item)
	}

	groups := make(map[int64]int64, len(order))
	ids := make(map[string]int64)
	for _, member := range order {
		key := setKey(items[member])
		id, ok := ids[key]
		if !ok {
			id = int64(len(ids) + 1)
			ids[key] = id
		}
		groups[member] = id
	}
	return groups
}

// setKey returns a canonical string of the sorted, deduplicated ids
func setKey(ids []int64) string {
	s := slices.Clone(ids)
	slices.Sort(s)
	s = slices.Compact(s)

	var b strings.Builder
	for i, id := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}
	return b.String()
}
