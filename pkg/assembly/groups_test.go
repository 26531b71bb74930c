package assembly

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGroupBySets(t *testing.T) {
	tests := []struct {
		name  string
		pairs []Pair
		want  map[int64]int64
	}{
		{
			name:  "empty",
			pairs: nil,
			want:  map[int64]int64{},
		},
		{
			name: "identical sets share a group",
			pairs: []Pair{
				{Member: 10, Item: 1}, {Member: 10, Item: 2},
				{Member: 20, Item: 2}, {Member: 20, Item: 1},
				{Member: 30, Item: 1},
			},
			want: map[int64]int64{10: 1, 20: 1, 30: 2},
		},
		{
			name: "ids follow first appearance",
			pairs: []Pair{
				{Member: 5, Item: 9},
				{Member: 3, Item: 7},
				{Member: 4, Item: 9},
			},
			want: map[int64]int64{5: 1, 3: 2, 4: 1},
		},
		{
			name: "duplicate items collapse",
			pairs: []Pair{
				{Member: 1, Item: 4}, {Member: 1, Item: 4},
				{Member: 2, Item: 4},
			},
			want: map[int64]int64{1: 1, 2: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GroupBySets(tt.pairs)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("GroupBySets() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
