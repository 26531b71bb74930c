// Package idpdb provides writing of identification results into idpDB files
package idpdb

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/ChrisMcGann/idpdb/pkg/core"
	"github.com/ChrisMcGann/idpdb/pkg/store"
)

// Date format for Analysis.StartTime (matches SQLite's DATETIME text form)
const startTimeFormat = "2006-01-02 15:04:05"

type proteinEntry struct {
	id       int64
	sequence string
}

type modKey struct {
	formula string
	mass    float64
}

// Writer handles writing entities to an idpDB inside a single transaction
type Writer struct {
	store     *store.Store
	ownsStore bool
	tx        *sql.Tx

	proteinStmt, proteinDataStmt, proteinMetaStmt *sql.Stmt
	peptideStmt, peptideSeqStmt, instanceStmt     *sql.Stmt
	groupStmt, sourceStmt, linkStmt, spectrumStmt *sql.Stmt
	analysisStmt, paramStmt, qonverterStmt        *sql.Stmt
	modStmt, psmStmt, scoreNameStmt, scoreStmt    *sql.Stmt
	peptideModStmt                                *sql.Stmt

	hasSequences bool

	// next ids per table
	next map[string]int64

	proteins   map[string]proteinEntry
	accessions []string // write order of proteins
	peptides   map[string]int64
	groups     map[string]int64
	sources    map[string]int64
	links      map[[2]int64]bool
	mods       map[modKey]int64
	scoreNames map[string]int64
}

// NewWriter creates (or opens) an idpDB file for writing
func NewWriter(outputPath string, opts ...store.Option) (*Writer, error) {
	s, err := store.Open(outputPath, opts...)
	if err != nil {
		return nil, err
	}

	w, err := NewStoreWriter(s)
	if err != nil {
		s.Close()
		return nil, err
	}
	w.ownsStore = true
	return w, nil
}

// NewStoreWriter writes into an already open store; Finalize leaves it open.
// The store's single connection is held by the writer until Finalize or Abort.
func NewStoreWriter(s *store.Store) (*Writer, error) {
	ctx := context.Background()

	w := &Writer{
		store:      s,
		next:       make(map[string]int64),
		proteins:   make(map[string]proteinEntry),
		peptides:   make(map[string]int64),
		groups:     make(map[string]int64),
		sources:    make(map[string]int64),
		links:      make(map[[2]int64]bool),
		mods:       make(map[modKey]int64),
		scoreNames: make(map[string]int64),
	}

	hasSequences, err := store.TableExists(ctx, s, "main", "PeptideSequences")
	if err != nil {
		return nil, err
	}
	w.hasSequences = hasSequences

	for _, table := range []string{
		"Protein", "Peptide", "PeptideInstance", "SpectrumSourceGroup", "SpectrumSource",
		"SpectrumSourceGroupLink", "Spectrum", "Analysis", "AnalysisParameter", "Modification",
		"PeptideSpectrumMatch", "PeptideSpectrumMatchScoreName", "PeptideModification",
	} {
		max, err := store.MaxID(ctx, s, "main", table)
		if err != nil {
			return nil, err
		}
		w.next[table] = max + 1
	}

	if err := w.loadLookups(ctx); err != nil {
		return nil, err
	}

	w.tx, err = s.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := w.prepareStatements(); err != nil {
		w.tx.Rollback()
		return nil, err
	}

	return w, nil
}

// loadLookups caches natural keys already present so appends stay deduplicated
func (w *Writer) loadLookups(ctx context.Context) error {
	rows, err := w.store.QueryContext(ctx, `SELECT pro.Id, pro.Accession, IFNULL(pd.Sequence, '')
	                                        FROM Protein pro LEFT JOIN ProteinData pd ON pro.Id = pd.Id
	                                        ORDER BY pro.Id`)
	if err != nil {
		return fmt.Errorf("failed to load proteins: %w", err)
	}
	for rows.Next() {
		var e proteinEntry
		var accession string
		if err := rows.Scan(&e.id, &accession, &e.sequence); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan protein: %w", err)
		}
		w.proteins[accession] = e
		w.accessions = append(w.accessions, accession)
	}
	rows.Close()

	lookups := []struct {
		query string
		into  map[string]int64
	}{
		{"SELECT Id, Name FROM SpectrumSourceGroup", w.groups},
		{"SELECT Id, Name FROM SpectrumSource", w.sources},
		{"SELECT Id, Name FROM PeptideSpectrumMatchScoreName", w.scoreNames},
	}
	if w.hasSequences {
		lookups = append(lookups, struct {
			query string
			into  map[string]int64
		}{"SELECT Id, Sequence FROM PeptideSequences", w.peptides})
	}
	for _, l := range lookups {
		rows, err := w.store.QueryContext(ctx, l.query)
		if err != nil {
			return fmt.Errorf("failed to load lookup: %w", err)
		}
		for rows.Next() {
			var id int64
			var name string
			if err := rows.Scan(&id, &name); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan lookup: %w", err)
			}
			l.into[name] = id
		}
		rows.Close()
	}
	return nil
}

// prepareStatements prepares SQL statements for batch insertion
func (w *Writer) prepareStatements() error {
	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&w.proteinStmt, "INSERT INTO Protein (Id, Accession, IsDecoy, Cluster, ProteinGroup, Length) VALUES (?, ?, ?, 0, 0, ?)"},
		{&w.proteinDataStmt, "INSERT INTO ProteinData (Id, Sequence) VALUES (?, ?)"},
		{&w.proteinMetaStmt, "INSERT INTO ProteinMetadata (Id, Description) VALUES (?, ?)"},
		{&w.peptideStmt, "INSERT INTO Peptide (Id, MonoisotopicMass, MolecularWeight, PeptideGroup, DecoySequence) VALUES (?, ?, ?, 0, ?)"},
		{&w.instanceStmt, `INSERT INTO PeptideInstance (Id, Protein, Peptide, Offset, Length, NTerminusIsSpecific, CTerminusIsSpecific, MissedCleavages)
		                   VALUES (?, ?, ?, ?, ?, ?, ?, ?)`},
		{&w.groupStmt, "INSERT INTO SpectrumSourceGroup (Id, Name) VALUES (?, ?)"},
		{&w.sourceStmt, "INSERT INTO SpectrumSource (Id, Name, URL, Group_) VALUES (?, ?, ?, ?)"},
		{&w.linkStmt, "INSERT INTO SpectrumSourceGroupLink (Id, Source, Group_) VALUES (?, ?, ?)"},
		{&w.spectrumStmt, "INSERT INTO Spectrum (Id, Source, Index_, NativeID, PrecursorMZ) VALUES (?, ?, ?, ?, ?)"},
		{&w.analysisStmt, "INSERT INTO Analysis (Id, Name, SoftwareName, SoftwareVersion, Type, StartTime) VALUES (?, ?, ?, ?, ?, ?)"},
		{&w.paramStmt, "INSERT INTO AnalysisParameter (Id, Analysis, Name, Value) VALUES (?, ?, ?, ?)"},
		{&w.qonverterStmt, `INSERT INTO QonverterSettings (Id, QonverterMethod, DecoyPrefix, RerankMatches, Kernel, MassErrorHandling,
		                                                   MissedCleavagesHandling, TerminalSpecificityHandling, ChargeStateHandling, ScoreInfoByName)
		                    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`},
		{&w.modStmt, "INSERT INTO Modification (Id, MonoMassDelta, AvgMassDelta, Formula, Name) VALUES (?, ?, ?, ?, ?)"},
		{&w.psmStmt, `INSERT INTO PeptideSpectrumMatch (Id, Spectrum, Analysis, Peptide, QValue, ObservedNeutralMass,
		                                                MonoisotopicMassError, MolecularWeightError, Rank, Charge)
		              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`},
		{&w.scoreNameStmt, "INSERT INTO PeptideSpectrumMatchScoreName (Id, Name) VALUES (?, ?)"},
		{&w.scoreStmt, "INSERT INTO PeptideSpectrumMatchScore (PsmId, Value, ScoreNameId) VALUES (?, ?, ?)"},
		{&w.peptideModStmt, "INSERT INTO PeptideModification (Id, PeptideSpectrumMatch, Modification, Offset, Site) VALUES (?, ?, ?, ?, ?)"},
	}
	if w.hasSequences {
		stmts = append(stmts, struct {
			dst   **sql.Stmt
			query string
		}{&w.peptideSeqStmt, "INSERT INTO PeptideSequences (Id, Sequence) VALUES (?, ?)"})
	}

	for _, s := range stmts {
		stmt, err := w.tx.Prepare(s.query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %q: %w", strings.Fields(s.query)[2], err)
		}
		*s.dst = stmt
	}
	return nil
}

// allocate returns id when it is set, otherwise the next free id of table
func (w *Writer) allocate(table string, id int64) int64 {
	if id <= 0 {
		id = w.next[table]
	}
	if id >= w.next[table] {
		w.next[table] = id + 1
	}
	return id
}

// AddProtein writes a protein with its sequence and description
func (w *Writer) AddProtein(p *core.Protein) (int64, error) {
	if _, dup := w.proteins[p.Accession]; dup {
		return 0, fmt.Errorf("duplicate protein accession %q", p.Accession)
	}
	p.ID = w.allocate("Protein", p.ID)
	if p.Length == 0 {
		p.Length = len(p.Sequence)
	}

	if _, err := w.proteinStmt.Exec(p.ID, p.Accession, p.IsDecoy, p.Length); err != nil {
		return 0, fmt.Errorf("failed to insert protein %s: %w", p.Accession, err)
	}
	if _, err := w.proteinDataStmt.Exec(p.ID, p.Sequence); err != nil {
		return 0, fmt.Errorf("failed to insert protein data %s: %w", p.Accession, err)
	}
	if _, err := w.proteinMetaStmt.Exec(p.ID, p.Description); err != nil {
		return 0, fmt.Errorf("failed to insert protein metadata %s: %w", p.Accession, err)
	}

	w.proteins[p.Accession] = proteinEntry{id: p.ID, sequence: p.Sequence}
	w.accessions = append(w.accessions, p.Accession)
	return p.ID, nil
}

// ProteinID returns the id written for an accession
func (w *Writer) ProteinID(accession string) (int64, bool) {
	e, ok := w.proteins[accession]
	return e.id, ok
}

// AddPeptide writes a peptide; masses are computed from the sequence when unset.
// Writing the same sequence twice returns the first id.
func (w *Writer) AddPeptide(p *core.Peptide) (int64, error) {
	if id, ok := w.peptides[p.Sequence]; ok && p.Sequence != "" {
		p.ID = id
		return id, nil
	}
	p.ID = w.allocate("Peptide", p.ID)
	if p.MonoisotopicMass == 0 {
		p.MonoisotopicMass = core.NeutralMass(p.Sequence, nil)
	}
	if p.MolecularWeight == 0 {
		p.MolecularWeight = core.MolecularWeight(p.Sequence, nil)
	}

	var decoy any
	if p.DecoySequence != "" {
		decoy = p.DecoySequence
	}
	if _, err := w.peptideStmt.Exec(p.ID, p.MonoisotopicMass, p.MolecularWeight, decoy); err != nil {
		return 0, fmt.Errorf("failed to insert peptide %s: %w", p.Sequence, err)
	}
	if w.hasSequences && p.Sequence != "" {
		if _, err := w.peptideSeqStmt.Exec(p.ID, p.Sequence); err != nil {
			return 0, fmt.Errorf("failed to insert peptide sequence %s: %w", p.Sequence, err)
		}
	}

	if p.Sequence != "" {
		w.peptides[p.Sequence] = p.ID
	}
	return p.ID, nil
}

// AddPeptideInstance writes one occurrence of a peptide in a protein
func (w *Writer) AddPeptideInstance(pi *core.PeptideInstance) (int64, error) {
	pi.ID = w.allocate("PeptideInstance", pi.ID)
	_, err := w.instanceStmt.Exec(pi.ID, pi.Protein, pi.Peptide, pi.Offset, pi.Length,
		pi.NTerminusIsSpecific, pi.CTerminusIsSpecific, pi.MissedCleavages)
	if err != nil {
		return 0, fmt.Errorf("failed to insert peptide instance: %w", err)
	}
	return pi.ID, nil
}

// MapPeptide adds an instance for every occurrence of the peptide's sequence in
// the written proteins and returns how many were added.
func (w *Writer) MapPeptide(peptideID int64, sequence string) (int, error) {
	added := 0
	for _, accession := range w.accessions {
		e := w.proteins[accession]
		from := 0
		for {
			i := strings.Index(e.sequence[from:], sequence)
			if i < 0 {
				break
			}
			offset := from + i
			pi := &core.PeptideInstance{
				Protein:             e.id,
				Peptide:             peptideID,
				Offset:              offset,
				Length:              len(sequence),
				NTerminusIsSpecific: offset == 0 || isCleavageSite(e.sequence[offset-1]),
				CTerminusIsSpecific: offset+len(sequence) == len(e.sequence) || isCleavageSite(sequence[len(sequence)-1]),
				MissedCleavages:     missedCleavages(sequence),
			}
			if err := pi.Validate(len(e.sequence)); err != nil {
				return added, err
			}
			if _, err := w.AddPeptideInstance(pi); err != nil {
				return added, err
			}
			added++
			from = offset + 1
		}
	}
	return added, nil
}

// trypsin cleaves after K or R
func isCleavageSite(aa byte) bool { return aa == 'K' || aa == 'R' }

func missedCleavages(sequence string) int {
	n := 0
	for i := 0; i < len(sequence)-1; i++ {
		if isCleavageSite(sequence[i]) {
			n++
		}
	}
	return n
}

// AddSourceGroup writes a group (and its ancestors) by name and returns its id
func (w *Writer) AddSourceGroup(name string) (int64, error) {
	groups := core.ParentGroups(name)
	var id int64
	for i := len(groups) - 1; i >= 0; i-- {
		g := groups[i]
		if existing, ok := w.groups[g]; ok {
			id = existing
			continue
		}
		id = w.allocate("SpectrumSourceGroup", 0)
		if _, err := w.groupStmt.Exec(id, g); err != nil {
			return 0, fmt.Errorf("failed to insert source group %s: %w", g, err)
		}
		w.groups[g] = id
	}
	return id, nil
}

// AddSource writes a spectrum source. A non-empty group links the source to that
// group and every ancestor; an empty group leaves it ungrouped.
func (w *Writer) AddSource(name, url, group string) (int64, error) {
	if id, ok := w.sources[name]; ok {
		return id, nil
	}

	var groupID any
	var ancestors []int64
	if group != "" {
		gid, err := w.AddSourceGroup(group)
		if err != nil {
			return 0, err
		}
		groupID = gid
		for _, g := range core.ParentGroups(group) {
			ancestors = append(ancestors, w.groups[g])
		}
	}

	id := w.allocate("SpectrumSource", 0)
	if _, err := w.sourceStmt.Exec(id, name, url, groupID); err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", name, err)
	}
	w.sources[name] = id

	for _, gid := range ancestors {
		if err := w.link(id, gid); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (w *Writer) link(source, group int64) error {
	key := [2]int64{source, group}
	if w.links[key] {
		return nil
	}
	if _, err := w.linkStmt.Exec(w.allocate("SpectrumSourceGroupLink", 0), source, group); err != nil {
		return fmt.Errorf("failed to insert source group link: %w", err)
	}
	w.links[key] = true
	return nil
}

// AddSpectrum writes a spectrum
func (w *Writer) AddSpectrum(s *core.Spectrum) (int64, error) {
	s.ID = w.allocate("Spectrum", s.ID)
	if _, err := w.spectrumStmt.Exec(s.ID, s.Source, s.Index, s.NativeID, s.PrecursorMZ); err != nil {
		return 0, fmt.Errorf("failed to insert spectrum %s: %w", s.NativeID, err)
	}
	return s.ID, nil
}

// AddAnalysis writes an analysis with its parameters
func (w *Writer) AddAnalysis(a *core.Analysis) (int64, error) {
	a.ID = w.allocate("Analysis", a.ID)
	start := a.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	if _, err := w.analysisStmt.Exec(a.ID, a.Name, a.SoftwareName, a.SoftwareVersion, a.Type, start.UTC().Format(startTimeFormat)); err != nil {
		return 0, fmt.Errorf("failed to insert analysis %s: %w", a.Name, err)
	}
	for _, p := range a.Parameters {
		if _, err := w.paramStmt.Exec(w.allocate("AnalysisParameter", 0), a.ID, p.Name, p.Value); err != nil {
			return 0, fmt.Errorf("failed to insert analysis parameter %s: %w", p.Name, err)
		}
	}
	return a.ID, nil
}

// AddQonverterSettings writes the qonverter settings of an analysis (qs.ID is the analysis id)
func (w *Writer) AddQonverterSettings(qs *core.QonverterSettings) error {
	_, err := w.qonverterStmt.Exec(qs.ID, qs.QonverterMethod, qs.DecoyPrefix, qs.RerankMatches, qs.Kernel,
		qs.MassErrorHandling, qs.MissedCleavagesHandling, qs.TerminalSpecificityHandling,
		qs.ChargeStateHandling, qs.ScoreInfoByName)
	if err != nil {
		return fmt.Errorf("failed to insert qonverter settings: %w", err)
	}
	return nil
}

// AddModification writes a modification, reusing an existing row with the same formula and mass
func (w *Writer) AddModification(m *core.Modification) (int64, error) {
	key := modKey{formula: m.Formula, mass: math.Round(m.MonoMassDelta*1e6) / 1e6}
	if id, ok := w.mods[key]; ok {
		m.ID = id
		return id, nil
	}
	m.ID = w.allocate("Modification", m.ID)

	var formula any
	if m.Formula != "" {
		formula = m.Formula
	}
	if _, err := w.modStmt.Exec(m.ID, m.MonoMassDelta, m.AvgMassDelta, formula, m.Name); err != nil {
		return 0, fmt.Errorf("failed to insert modification %s: %w", m.Name, err)
	}
	w.mods[key] = m.ID
	return m.ID, nil
}

// AddPSM writes a match with its scores
func (w *Writer) AddPSM(psm *core.PeptideSpectrumMatch) (int64, error) {
	if err := psm.Validate(); err != nil {
		return 0, err
	}
	psm.ID = w.allocate("PeptideSpectrumMatch", psm.ID)

	_, err := w.psmStmt.Exec(psm.ID, psm.Spectrum, psm.Analysis, psm.Peptide, psm.QValue,
		psm.ObservedNeutralMass, psm.MonoisotopicMassError, psm.MolecularWeightError, psm.Rank, psm.Charge)
	if err != nil {
		return 0, fmt.Errorf("failed to insert peptide spectrum match: %w", err)
	}

	names := make([]string, 0, len(psm.Scores))
	for name := range psm.Scores {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		value := psm.Scores[name]
		nameID, ok := w.scoreNames[name]
		if !ok {
			nameID = w.allocate("PeptideSpectrumMatchScoreName", 0)
			if _, err := w.scoreNameStmt.Exec(nameID, name); err != nil {
				return 0, fmt.Errorf("failed to insert score name %s: %w", name, err)
			}
			w.scoreNames[name] = nameID
		}
		if _, err := w.scoreStmt.Exec(psm.ID, value, nameID); err != nil {
			return 0, fmt.Errorf("failed to insert score %s: %w", name, err)
		}
	}
	return psm.ID, nil
}

// AddPeptideModification attaches a modification to a match
func (w *Writer) AddPeptideModification(pm *core.PeptideModification) (int64, error) {
	pm.ID = w.allocate("PeptideModification", pm.ID)
	var site any
	if pm.Site != 0 {
		site = string(pm.Site)
	}
	if _, err := w.peptideModStmt.Exec(pm.ID, pm.PeptideSpectrumMatch, pm.Modification, pm.Offset, site); err != nil {
		return 0, fmt.Errorf("failed to insert peptide modification: %w", err)
	}
	return pm.ID, nil
}

// Finalize commits all writes and closes the database if the writer opened it
func (w *Writer) Finalize() error {
	for _, stmt := range []*sql.Stmt{
		w.proteinStmt, w.proteinDataStmt, w.proteinMetaStmt, w.peptideStmt, w.peptideSeqStmt,
		w.instanceStmt, w.groupStmt, w.sourceStmt, w.linkStmt, w.spectrumStmt, w.analysisStmt,
		w.paramStmt, w.qonverterStmt, w.modStmt, w.psmStmt, w.scoreNameStmt, w.scoreStmt, w.peptideModStmt,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}

	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	if w.ownsStore {
		if err := w.store.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}

	return nil
}

// Close finalizes the writer (alias for Finalize)
func (w *Writer) Close() error {
	return w.Finalize()
}

// Abort discards all writes
func (w *Writer) Abort() error {
	err := w.tx.Rollback()
	if w.ownsStore {
		w.store.Close()
	}
	return err
}
