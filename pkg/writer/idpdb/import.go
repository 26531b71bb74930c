package idpdb

import (
	"fmt"
	"strings"

	"github.com/ChrisMcGann/idpdb/pkg/core"
	"github.com/ChrisMcGann/idpdb/pkg/reader/fasta"
	"github.com/ChrisMcGann/idpdb/pkg/reader/idtsv"
)

// DefaultAnalysis names the analysis of records without an analysis column.
const DefaultAnalysis = "unknown"

// ImportStats counts what an import wrote.
type ImportStats struct {
	Records           int
	Matches           int
	Unmapped          int // records whose peptide occurs in no protein; not written
	UnknownAccessions int // records listing an accession absent from the protein database
}

// ImportProteins writes every protein of a FASTA stream.
func (w *Writer) ImportProteins(r *fasta.Reader) (int, error) {
	n := 0
	for r.Next() {
		if _, err := w.AddProtein(r.Protein()); err != nil {
			return n, err
		}
		n++
	}
	if err := r.Err(); err != nil {
		return n, fmt.Errorf("failed to read proteins: %w", err)
	}
	return n, nil
}

// ImportMatches writes the identifications of a TSV stream. Peptides are mapped
// onto the proteins written so far; progress, when set, is called after every record.
func (w *Writer) ImportMatches(r *idtsv.Reader, progress func(records int)) (ImportStats, error) {
	var stats ImportStats
	analyses := make(map[string]int64)
	spectra := make(map[string]int64)
	spectrumIndex := make(map[int64]int)

	for r.Next() {
		rec := r.Record()
		stats.Records++
		if progress != nil {
			progress(stats.Records)
		}

		for _, a := range rec.Accessions {
			if _, ok := w.ProteinID(a); !ok {
				stats.UnknownAccessions++
				break
			}
		}

		peptide, known := w.peptides[rec.Sequence]
		if !known {
			if !w.occurs(rec.Sequence) {
				stats.Unmapped++
				continue
			}
			var err error
			if peptide, err = w.AddPeptide(&core.Peptide{Sequence: rec.Sequence}); err != nil {
				return stats, fmt.Errorf("line %d: %w", rec.Line, err)
			}
			if _, err := w.MapPeptide(peptide, rec.Sequence); err != nil {
				return stats, fmt.Errorf("line %d: %w", rec.Line, err)
			}
		}

		source, err := w.AddSource(rec.Source, "", rec.Group)
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", rec.Line, err)
		}

		spectrumKey := rec.Source + "\x00" + rec.NativeID
		spectrum, ok := spectra[spectrumKey]
		if !ok {
			spectrum, err = w.AddSpectrum(&core.Spectrum{
				Source:      source,
				Index:       spectrumIndex[source],
				NativeID:    rec.NativeID,
				PrecursorMZ: rec.PrecursorMZ,
			})
			if err != nil {
				return stats, fmt.Errorf("line %d: %w", rec.Line, err)
			}
			spectra[spectrumKey] = spectrum
			spectrumIndex[source]++
		}

		name := rec.Analysis
		if name == "" {
			name = DefaultAnalysis
		}
		analysis, ok := analyses[name]
		if !ok {
			if analysis, err = w.AddAnalysis(&core.Analysis{Name: name, SoftwareName: name}); err != nil {
				return stats, fmt.Errorf("line %d: %w", rec.Line, err)
			}
			analyses[name] = analysis
		}

		psm := &core.PeptideSpectrumMatch{
			Spectrum: spectrum,
			Analysis: analysis,
			Peptide:  peptide,
			QValue:   rec.QValue,
			Rank:     rec.Rank,
			Charge:   rec.Charge,
			Scores:   rec.Scores,
		}
		if rec.PrecursorMZ > 0 && rec.Charge > 0 {
			psm.ObservedNeutralMass = (rec.PrecursorMZ - core.ProtonMass) * float64(rec.Charge)
			psm.MonoisotopicMassError = psm.ObservedNeutralMass - core.NeutralMass(rec.Sequence, rec.Mods)
			psm.MolecularWeightError = psm.ObservedNeutralMass - core.MolecularWeight(rec.Sequence, rec.Mods)
		}
		if _, err := w.AddPSM(psm); err != nil {
			return stats, fmt.Errorf("line %d: %w", rec.Line, err)
		}

		for _, m := range rec.Mods {
			mod := &core.Modification{MonoMassDelta: m.Mass, AvgMassDelta: m.AvgMass, Formula: m.Formula, Name: m.Name}
			if _, err := w.AddModification(mod); err != nil {
				return stats, fmt.Errorf("line %d: %w", rec.Line, err)
			}
			_, err := w.AddPeptideModification(&core.PeptideModification{
				PeptideSpectrumMatch: psm.ID,
				Modification:         mod.ID,
				Offset:               m.Position,
				Site:                 core.PeptideSite(rec.Sequence, m.Position),
			})
			if err != nil {
				return stats, fmt.Errorf("line %d: %w", rec.Line, err)
			}
		}
		stats.Matches++
	}
	if err := r.Err(); err != nil {
		return stats, fmt.Errorf("failed to read matches: %w", err)
	}
	return stats, nil
}

// occurs reports whether sequence occurs in any protein written so far
func (w *Writer) occurs(sequence string) bool {
	for _, e := range w.proteins {
		if strings.Contains(e.sequence, sequence) {
			return true
		}
	}
	return false
}
