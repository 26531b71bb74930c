package merge

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChrisMcGann/idpdb/pkg/logging"
	"github.com/ChrisMcGann/idpdb/pkg/store"
)

// statement is one merge SQL statement. {t} and {s} name the target and
// source schemas; each ? is bound to the id base of the matching table in max.
// Rows affected by a statement with a table are counted as rows added to it.
type statement struct {
	query string
	max   []string
	table string
}

// mapStatements build the *MergeMap tables (BeforeMergeId -> AfterMergeId).
// A source row matching a target row by natural key maps to that row's id;
// any other row maps to its own id plus the id base, which is above every
// id already in use.
func mapStatements(bothHaveSequences bool) []statement {
	peptideMatch := "(SELECT MIN(MatchedPeptide) FROM PeptideInstanceMergeMap WHERE BeforeMergePeptide = newPep.Id)"
	if bothHaveSequences {
		peptideMatch = `(SELECT MIN(oldSeq.Id)
		                 FROM {s}.PeptideSequences newSeq
		                 JOIN {t}.PeptideSequences oldSeq ON newSeq.Sequence = oldSeq.Sequence
		                 WHERE newSeq.Id = newPep.Id), ` + peptideMatch
	}

	return []statement{
		{query: "CREATE TEMP TABLE ProteinMergeMap (BeforeMergeId INTEGER PRIMARY KEY, AfterMergeId INT)"},
		{query: `INSERT INTO ProteinMergeMap
		         SELECT newPro.Id, IFNULL(MIN(oldPro.Id), newPro.Id + ?)
		         FROM {s}.Protein newPro
		         LEFT JOIN {t}.Protein oldPro ON newPro.Accession = oldPro.Accession
		         GROUP BY newPro.Id`, max: []string{"Protein"}},

		{query: `CREATE TEMP TABLE PeptideInstanceMergeMap (BeforeMergeId INTEGER PRIMARY KEY, AfterMergeId INT, AfterMergeProtein INT,
		                                                   BeforeMergePeptide INT, MatchedPeptide INT)`},
		{query: `INSERT INTO PeptideInstanceMergeMap
		         SELECT newInstance.Id, IFNULL(MIN(oldInstance.Id), newInstance.Id + ?), proMerge.AfterMergeId,
		                newInstance.Peptide, MIN(oldInstance.Peptide)
		         FROM ProteinMergeMap proMerge
		         JOIN {s}.PeptideInstance newInstance ON proMerge.BeforeMergeId = newInstance.Protein
		         LEFT JOIN {t}.PeptideInstance oldInstance ON proMerge.AfterMergeId = oldInstance.Protein
		                                                  AND newInstance.Offset = oldInstance.Offset
		                                                  AND newInstance.Length = oldInstance.Length
		         GROUP BY newInstance.Id`, max: []string{"PeptideInstance"}},
		{query: "CREATE INDEX temp.PeptideInstanceMergeMap_BeforeMergePeptide ON PeptideInstanceMergeMap (BeforeMergePeptide)"},

		{query: "CREATE TEMP TABLE PeptideMergeMap (BeforeMergeId INTEGER PRIMARY KEY, AfterMergeId INT)"},
		{query: `INSERT INTO PeptideMergeMap
		         SELECT newPep.Id, COALESCE(` + peptideMatch + `, newPep.Id + ?)
		         FROM {s}.Peptide newPep`, max: []string{"Peptide"}},

		{query: "CREATE TEMP TABLE SpectrumSourceGroupMergeMap (BeforeMergeId INTEGER PRIMARY KEY, AfterMergeId INT)"},
		{query: `INSERT INTO SpectrumSourceGroupMergeMap
		         SELECT newGroup.Id, IFNULL(MIN(oldGroup.Id), newGroup.Id + ?)
		         FROM {s}.SpectrumSourceGroup newGroup
		         LEFT JOIN {t}.SpectrumSourceGroup oldGroup ON newGroup.Name = oldGroup.Name
		         GROUP BY newGroup.Id`, max: []string{"SpectrumSourceGroup"}},

		{query: "CREATE TEMP TABLE SpectrumSourceMergeMap (BeforeMergeId INTEGER PRIMARY KEY, AfterMergeId INT)"},
		{query: `INSERT INTO SpectrumSourceMergeMap
		         SELECT newSource.Id, IFNULL(MIN(oldSource.Id), newSource.Id + ?)
		         FROM {s}.SpectrumSource newSource
		         LEFT JOIN {t}.SpectrumSource oldSource ON newSource.Name = oldSource.Name
		         GROUP BY newSource.Id`, max: []string{"SpectrumSource"}},

		{query: "CREATE TEMP TABLE SpectrumSourceGroupLinkMergeMap (BeforeMergeId INTEGER PRIMARY KEY, AfterMergeId INT)"},
		{query: `INSERT INTO SpectrumSourceGroupLinkMergeMap
		         SELECT newLink.Id, IFNULL(MIN(oldLink.Id), newLink.Id + ?)
		         FROM {s}.SpectrumSourceGroupLink newLink
		         JOIN SpectrumSourceMergeMap ssMerge ON newLink.Source = ssMerge.BeforeMergeId
		         JOIN SpectrumSourceGroupMergeMap ssgMerge ON newLink.Group_ = ssgMerge.BeforeMergeId
		         LEFT JOIN {t}.SpectrumSourceGroupLink oldLink ON ssMerge.AfterMergeId = oldLink.Source
		                                                      AND ssgMerge.AfterMergeId = oldLink.Group_
		         GROUP BY newLink.Id`, max: []string{"SpectrumSourceGroupLink"}},

		{query: "CREATE TEMP TABLE SpectrumMergeMap (BeforeMergeId INTEGER PRIMARY KEY, AfterMergeId INT)"},
		{query: `INSERT INTO SpectrumMergeMap
		         SELECT newSpectrum.Id, IFNULL(MIN(oldSpectrum.Id), newSpectrum.Id + ?)
		         FROM {s}.Spectrum newSpectrum
		         JOIN SpectrumSourceMergeMap ssMerge ON newSpectrum.Source = ssMerge.BeforeMergeId
		         LEFT JOIN {t}.Spectrum oldSpectrum ON ssMerge.AfterMergeId = oldSpectrum.Source
		                                           AND newSpectrum.NativeID = oldSpectrum.NativeID
		         GROUP BY newSpectrum.Id`, max: []string{"Spectrum"}},

		{query: "CREATE TEMP TABLE ModificationMergeMap (BeforeMergeId INTEGER PRIMARY KEY, AfterMergeId INT)"},
		{query: `INSERT INTO ModificationMergeMap
		         SELECT newMod.Id, IFNULL(MIN(oldMod.Id), newMod.Id + ?)
		         FROM {s}.Modification newMod
		         LEFT JOIN {t}.Modification oldMod ON IFNULL(newMod.Formula, 1) = IFNULL(oldMod.Formula, 1)
		                                          AND newMod.MonoMassDelta = oldMod.MonoMassDelta
		         GROUP BY newMod.Id`, max: []string{"Modification"}},

		{query: "CREATE TEMP TABLE PeptideSpectrumMatchScoreNameMergeMap (BeforeMergeId INTEGER PRIMARY KEY, AfterMergeId INT)"},
		{query: `INSERT INTO PeptideSpectrumMatchScoreNameMergeMap
		         SELECT newName.Id, IFNULL(MIN(oldName.Id), newName.Id + ?)
		         FROM {s}.PeptideSpectrumMatchScoreName newName
		         LEFT JOIN {t}.PeptideSpectrumMatchScoreName oldName ON newName.Name = oldName.Name
		         GROUP BY newName.Id`, max: []string{"PeptideSpectrumMatchScoreName"}},

		{query: "CREATE TEMP TABLE AnalysisMergeMap (BeforeMergeId INTEGER PRIMARY KEY, AfterMergeId INT)"},
		{query: `INSERT INTO AnalysisMergeMap
		         SELECT newAnalysis.Id, IFNULL(MIN(oldAnalysis.Id), newAnalysis.Id + ?)
		         FROM (` + analysisKeys("{s}") + `) newAnalysis
		         LEFT JOIN (` + analysisKeys("{t}") + `) oldAnalysis ON newAnalysis.DistinctKey = oldAnalysis.DistinctKey
		         GROUP BY newAnalysis.Id`, max: []string{"Analysis"}},
	}
}

// analysisKeys identifies an analysis by software, version and parameters
func analysisKeys(schema string) string {
	return `SELECT a.Id, IFNULL(a.SoftwareName, '') || ' ' || IFNULL(a.SoftwareVersion, '') || ' ' ||
	               IFNULL(GROUP_CONCAT(ap.Name || ' ' || ap.Value, ';' ORDER BY ap.Name, ap.Value), '') AS DistinctKey
	        FROM ` + schema + `.Analysis a
	        LEFT JOIN ` + schema + `.AnalysisParameter ap ON a.Id = ap.Analysis
	        GROUP BY a.Id`
}

// addStatements copy the source rows whose mapped id is above the id base.
// Matches, scores and peptide modifications have no natural key and are all added.
var addStatements = []statement{
	{query: `INSERT INTO {t}.Protein (Id, Accession, IsDecoy, Cluster, ProteinGroup, Length)
	         SELECT proMerge.AfterMergeId, newPro.Accession, newPro.IsDecoy, 0, 0, newPro.Length
	         FROM ProteinMergeMap proMerge
	         JOIN {s}.Protein newPro ON proMerge.BeforeMergeId = newPro.Id
	         WHERE proMerge.AfterMergeId > ?`, max: []string{"Protein"}, table: "Protein"},
	{query: `INSERT INTO {t}.ProteinMetadata (Id, Description)
	         SELECT proMerge.AfterMergeId, newMeta.Description
	         FROM ProteinMergeMap proMerge
	         JOIN {s}.ProteinMetadata newMeta ON proMerge.BeforeMergeId = newMeta.Id
	         WHERE proMerge.AfterMergeId > ?`, max: []string{"Protein"}},
	{query: `INSERT INTO {t}.ProteinData (Id, Sequence)
	         SELECT proMerge.AfterMergeId, newData.Sequence
	         FROM ProteinMergeMap proMerge
	         JOIN {s}.ProteinData newData ON proMerge.BeforeMergeId = newData.Id
	         WHERE proMerge.AfterMergeId > ?`, max: []string{"Protein"}},

	{query: `INSERT INTO {t}.PeptideInstance (Id, Protein, Peptide, Offset, Length, NTerminusIsSpecific, CTerminusIsSpecific, MissedCleavages)
	         SELECT piMerge.AfterMergeId, piMerge.AfterMergeProtein, pepMerge.AfterMergeId, newInstance.Offset, newInstance.Length,
	                newInstance.NTerminusIsSpecific, newInstance.CTerminusIsSpecific, newInstance.MissedCleavages
	         FROM PeptideInstanceMergeMap piMerge
	         JOIN {s}.PeptideInstance newInstance ON piMerge.BeforeMergeId = newInstance.Id
	         JOIN PeptideMergeMap pepMerge ON newInstance.Peptide = pepMerge.BeforeMergeId
	         WHERE piMerge.AfterMergeId > ?`, max: []string{"PeptideInstance"}, table: "PeptideInstance"},
	{query: `INSERT INTO {t}.Peptide (Id, MonoisotopicMass, MolecularWeight, PeptideGroup, DecoySequence)
	         SELECT pepMerge.AfterMergeId, newPep.MonoisotopicMass, newPep.MolecularWeight, 0, newPep.DecoySequence
	         FROM PeptideMergeMap pepMerge
	         JOIN {s}.Peptide newPep ON pepMerge.BeforeMergeId = newPep.Id
	         WHERE pepMerge.AfterMergeId > ?`, max: []string{"Peptide"}, table: "Peptide"},

	{query: `INSERT INTO {t}.Modification (Id, MonoMassDelta, AvgMassDelta, Formula, Name)
	         SELECT modMerge.AfterMergeId, newMod.MonoMassDelta, newMod.AvgMassDelta, newMod.Formula, newMod.Name
	         FROM ModificationMergeMap modMerge
	         JOIN {s}.Modification newMod ON modMerge.BeforeMergeId = newMod.Id
	         WHERE modMerge.AfterMergeId > ?`, max: []string{"Modification"}, table: "Modification"},
	{query: `INSERT INTO {t}.SpectrumSourceGroup (Id, Name)
	         SELECT ssgMerge.AfterMergeId, newGroup.Name
	         FROM SpectrumSourceGroupMergeMap ssgMerge
	         JOIN {s}.SpectrumSourceGroup newGroup ON ssgMerge.BeforeMergeId = newGroup.Id
	         WHERE ssgMerge.AfterMergeId > ?`, max: []string{"SpectrumSourceGroup"}, table: "SpectrumSourceGroup"},
	{query: `INSERT INTO {t}.SpectrumSource (Id, Name, URL, Group_, MsDataBytes)
	         SELECT ssMerge.AfterMergeId, newSource.Name, newSource.URL, ssgMerge.AfterMergeId, newSource.MsDataBytes
	         FROM SpectrumSourceMergeMap ssMerge
	         JOIN {s}.SpectrumSource newSource ON ssMerge.BeforeMergeId = newSource.Id
	         LEFT JOIN SpectrumSourceGroupMergeMap ssgMerge ON newSource.Group_ = ssgMerge.BeforeMergeId
	         WHERE ssMerge.AfterMergeId > ?`, max: []string{"SpectrumSource"}, table: "SpectrumSource"},
	{query: `INSERT INTO {t}.SpectrumSourceGroupLink (Id, Source, Group_)
	         SELECT linkMerge.AfterMergeId, ssMerge.AfterMergeId, ssgMerge.AfterMergeId
	         FROM SpectrumSourceGroupLinkMergeMap linkMerge
	         JOIN {s}.SpectrumSourceGroupLink newLink ON linkMerge.BeforeMergeId = newLink.Id
	         JOIN SpectrumSourceMergeMap ssMerge ON newLink.Source = ssMerge.BeforeMergeId
	         JOIN SpectrumSourceGroupMergeMap ssgMerge ON newLink.Group_ = ssgMerge.BeforeMergeId
	         WHERE linkMerge.AfterMergeId > ?`, max: []string{"SpectrumSourceGroupLink"}, table: "SpectrumSourceGroupLink"},
	{query: `INSERT INTO {t}.Spectrum (Id, Source, Index_, NativeID, PrecursorMZ)
	         SELECT sMerge.AfterMergeId, ssMerge.AfterMergeId, newSpectrum.Index_, newSpectrum.NativeID, newSpectrum.PrecursorMZ
	         FROM SpectrumMergeMap sMerge
	         JOIN {s}.Spectrum newSpectrum ON sMerge.BeforeMergeId = newSpectrum.Id
	         JOIN SpectrumSourceMergeMap ssMerge ON newSpectrum.Source = ssMerge.BeforeMergeId
	         WHERE sMerge.AfterMergeId > ?`, max: []string{"Spectrum"}, table: "Spectrum"},

	{query: `INSERT INTO {t}.PeptideSpectrumMatch (Id, Spectrum, Analysis, Peptide, QValue, ObservedNeutralMass,
	                                               MonoisotopicMassError, MolecularWeightError, Rank, Charge)
	         SELECT newPSM.Id + ?, sMerge.AfterMergeId, aMerge.AfterMergeId, pepMerge.AfterMergeId, newPSM.QValue,
	                newPSM.ObservedNeutralMass, newPSM.MonoisotopicMassError, newPSM.MolecularWeightError, newPSM.Rank, newPSM.Charge
	         FROM {s}.PeptideSpectrumMatch newPSM
	         JOIN PeptideMergeMap pepMerge ON newPSM.Peptide = pepMerge.BeforeMergeId
	         JOIN AnalysisMergeMap aMerge ON newPSM.Analysis = aMerge.BeforeMergeId
	         JOIN SpectrumMergeMap sMerge ON newPSM.Spectrum = sMerge.BeforeMergeId
	         ORDER BY newPSM.Id`, max: []string{"PeptideSpectrumMatch"}, table: "PeptideSpectrumMatch"},
	{query: `INSERT INTO {t}.PeptideSpectrumMatchScoreName (Id, Name)
	         SELECT nameMerge.AfterMergeId, newName.Name
	         FROM PeptideSpectrumMatchScoreNameMergeMap nameMerge
	         JOIN {s}.PeptideSpectrumMatchScoreName newName ON nameMerge.BeforeMergeId = newName.Id
	         WHERE nameMerge.AfterMergeId > ?`, max: []string{"PeptideSpectrumMatchScoreName"}, table: "PeptideSpectrumMatchScoreName"},
	{query: `INSERT INTO {t}.PeptideSpectrumMatchScore (PsmId, Value, ScoreNameId)
	         SELECT newScore.PsmId + ?, newScore.Value, nameMerge.AfterMergeId
	         FROM {s}.PeptideSpectrumMatchScore newScore
	         JOIN PeptideSpectrumMatchScoreNameMergeMap nameMerge ON newScore.ScoreNameId = nameMerge.BeforeMergeId`,
		max: []string{"PeptideSpectrumMatch"}, table: "PeptideSpectrumMatchScore"},
	{query: `INSERT INTO {t}.PeptideModification (Id, PeptideSpectrumMatch, Modification, Offset, Site)
	         SELECT newPM.Id + ?, newPM.PeptideSpectrumMatch + ?, modMerge.AfterMergeId, newPM.Offset, newPM.Site
	         FROM {s}.PeptideModification newPM
	         JOIN ModificationMergeMap modMerge ON newPM.Modification = modMerge.BeforeMergeId`,
		max: []string{"PeptideModification", "PeptideSpectrumMatch"}, table: "PeptideModification"},

	{query: `INSERT INTO {t}.Analysis (Id, Name, SoftwareName, SoftwareVersion, Type, StartTime)
	         SELECT aMerge.AfterMergeId, newAnalysis.Name, newAnalysis.SoftwareName, newAnalysis.SoftwareVersion,
	                newAnalysis.Type, newAnalysis.StartTime
	         FROM AnalysisMergeMap aMerge
	         JOIN {s}.Analysis newAnalysis ON aMerge.BeforeMergeId = newAnalysis.Id
	         WHERE aMerge.AfterMergeId > ?`, max: []string{"Analysis"}, table: "Analysis"},
	{query: `INSERT INTO {t}.AnalysisParameter (Id, Analysis, Name, Value)
	         SELECT newAP.Id + ?, aMerge.AfterMergeId, newAP.Name, newAP.Value
	         FROM {s}.AnalysisParameter newAP
	         JOIN AnalysisMergeMap aMerge ON newAP.Analysis = aMerge.BeforeMergeId
	         WHERE aMerge.AfterMergeId > ?`, max: []string{"AnalysisParameter", "Analysis"}, table: "AnalysisParameter"},
	{query: `INSERT INTO {t}.QonverterSettings (Id, QonverterMethod, DecoyPrefix, RerankMatches, Kernel, MassErrorHandling,
	                                            MissedCleavagesHandling, TerminalSpecificityHandling, ChargeStateHandling, ScoreInfoByName)
	         SELECT aMerge.AfterMergeId, newQS.QonverterMethod, newQS.DecoyPrefix, newQS.RerankMatches, newQS.Kernel,
	                newQS.MassErrorHandling, newQS.MissedCleavagesHandling, newQS.TerminalSpecificityHandling,
	                newQS.ChargeStateHandling, newQS.ScoreInfoByName
	         FROM AnalysisMergeMap aMerge
	         JOIN {s}.QonverterSettings newQS ON aMerge.BeforeMergeId = newQS.Id
	         WHERE aMerge.AfterMergeId > ?`, max: []string{"Analysis"}},
}

const addPeptideSequences = `INSERT OR IGNORE INTO {t}.PeptideSequences (Id, Sequence)
                             SELECT pepMerge.AfterMergeId, newSeq.Sequence
                             FROM PeptideMergeMap pepMerge
                             JOIN {s}.PeptideSequences newSeq ON pepMerge.BeforeMergeId = newSeq.Id
                             WHERE pepMerge.AfterMergeId > ?`

var mapTables = []string{
	"ProteinMergeMap", "PeptideInstanceMergeMap", "PeptideMergeMap", "SpectrumSourceGroupMergeMap",
	"SpectrumSourceMergeMap", "SpectrumSourceGroupLinkMergeMap", "SpectrumMergeMap", "ModificationMergeMap",
	"PeptideSpectrumMatchScoreNameMergeMap", "AnalysisMergeMap",
}

// merger copies one source schema into a target schema over a single connection
type merger struct {
	q      store.Querier
	target string
	source string
	state  State
	logger *logging.Logger
}

func (m *merger) exec(ctx context.Context, st statement) (int64, error) {
	query := strings.NewReplacer("{t}", m.target, "{s}", m.source).Replace(st.query)
	args := make([]any, len(st.max))
	for i, table := range st.max {
		args[i] = m.state.Max(table)
	}
	res, err := m.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute %.60q: %w", strings.Join(strings.Fields(query), " "), err)
	}
	if st.table == "" {
		return 0, nil
	}
	return res.RowsAffected()
}

func (m *merger) dropMaps(ctx context.Context) error {
	for _, t := range mapTables {
		if _, err := m.q.ExecContext(ctx, "DROP TABLE IF EXISTS temp."+t); err != nil {
			return fmt.Errorf("failed to drop %s: %w", t, err)
		}
	}
	return nil
}

// run merges the source into the target and returns the rows added per table
func (m *merger) run(ctx context.Context) (map[string]int64, error) {
	sourceSeq, err := store.TableExists(ctx, m.q, m.source, "PeptideSequences")
	if err != nil {
		return nil, err
	}
	targetSeq, err := store.TableExists(ctx, m.q, m.target, "PeptideSequences")
	if err != nil {
		return nil, err
	}

	if err := m.dropMaps(ctx); err != nil {
		return nil, err
	}
	for _, st := range mapStatements(sourceSeq && targetSeq) {
		if _, err := m.exec(ctx, st); err != nil {
			return nil, err
		}
	}

	added := make(map[string]int64)
	for _, st := range addStatements {
		n, err := m.exec(ctx, st)
		if err != nil {
			return nil, err
		}
		if st.table != "" {
			added[st.table] += n
		}
	}

	if sourceSeq && targetSeq {
		if _, err := m.exec(ctx, statement{query: addPeptideSequences, max: []string{"Peptide"}}); err != nil {
			m.logger.Warn("peptide sequences not merged", "source", m.source, "error", err)
		}
	}

	if err := m.dropMaps(ctx); err != nil {
		return nil, err
	}
	return added, nil
}
