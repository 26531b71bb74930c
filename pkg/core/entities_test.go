package core

import (
	"errors"
	"reflect"
	"testing"
)

func TestModifiedSite(t *testing.T) {
	const protein = "MKPEPTIDER"

	tests := []struct {
		name           string
		instanceOffset int
		modOffset      int
		want           rune
	}{
		{"N terminus", 2, NTerminusOffset, '('},
		{"C terminus", 2, CTerminusOffset, ')'},
		{"first residue", 2, 0, 'P'},
		{"inner residue", 2, 3, 'T'},
		{"past end", 8, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ModifiedSite(protein, tt.instanceOffset, tt.modOffset); got != tt.want {
				t.Errorf("ModifiedSite() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := PeptideSite("PEPTIDE", 1); got != 'E' {
		t.Errorf("PeptideSite() = %q", got)
	}
}

func TestParentGroups(t *testing.T) {
	tests := []struct {
		name string
		want []string
	}{
		{"/", []string{"/"}},
		{"", []string{"/"}},
		{"/a", []string{"/a", "/"}},
		{"/a/b/c", []string{"/a/b/c", "/a/b", "/a", "/"}},
		{"a/b/", []string{"/a/b", "/a", "/"}},
	}
	for _, tt := range tests {
		if got := ParentGroups(tt.name); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParentGroups(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	pi := &PeptideInstance{Offset: 5, Length: 10}
	if err := pi.Validate(20); err != nil {
		t.Errorf("valid instance: %v", err)
	}
	err := pi.Validate(12)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Entity != "PeptideInstance" {
		t.Errorf("expected PeptideInstance validation error, got %v", err)
	}

	psm := &PeptideSpectrumMatch{Spectrum: 1, Peptide: 1, Analysis: 1, Rank: 1}
	if err := psm.Validate(); err != nil {
		t.Errorf("valid match: %v", err)
	}
	psm.Rank = 0
	if err := psm.Validate(); err == nil {
		t.Error("expected error for rank 0")
	}
}
