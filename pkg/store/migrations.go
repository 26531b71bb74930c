package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// CurrentSchemaVersion is the version new databases are created at
const CurrentSchemaVersion = "1.1.0"

// Migration is one forward step of the idpDB schema
type Migration struct {
	Version string
	Up      string
}

// AllMigrations contains all schema migrations in order
var AllMigrations = []Migration{
	{Version: "1.0.0", Up: migrationV1Up},
	{Version: "1.1.0", Up: migrationV11Up},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS SchemaVersion (
    Version TEXT PRIMARY KEY,
    AppliedAt TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS Protein (Id INTEGER PRIMARY KEY, Accession TEXT, IsDecoy INT, Cluster INT, ProteinGroup INT, Length INT);
CREATE UNIQUE INDEX IF NOT EXISTS Protein_Accession ON Protein (Accession);
CREATE TABLE IF NOT EXISTS ProteinData (Id INTEGER PRIMARY KEY, Sequence TEXT);
CREATE TABLE IF NOT EXISTS ProteinMetadata (Id INTEGER PRIMARY KEY, Description TEXT);
CREATE TABLE IF NOT EXISTS ProteinCoverage (Id INTEGER PRIMARY KEY, Coverage NUMERIC, CoverageMask BLOB);

CREATE TABLE IF NOT EXISTS Peptide (Id INTEGER PRIMARY KEY, MonoisotopicMass NUMERIC, MolecularWeight NUMERIC, PeptideGroup INT, DecoySequence TEXT);

CREATE TABLE IF NOT EXISTS PeptideInstance (Id INTEGER PRIMARY KEY, Protein INT, Peptide INT, Offset INT, Length INT, NTerminusIsSpecific INT, CTerminusIsSpecific INT, MissedCleavages INT);
CREATE INDEX IF NOT EXISTS PeptideInstance_Protein ON PeptideInstance (Protein);
CREATE INDEX IF NOT EXISTS PeptideInstance_Peptide ON PeptideInstance (Peptide);
CREATE INDEX IF NOT EXISTS PeptideInstance_ProteinOffsetLength ON PeptideInstance (Protein, Offset, Length);

CREATE TABLE IF NOT EXISTS PeptideSpectrumMatch (Id INTEGER PRIMARY KEY, Spectrum INT, Analysis INT, Peptide INT, QValue NUMERIC, ObservedNeutralMass NUMERIC, MonoisotopicMassError NUMERIC, MolecularWeightError NUMERIC, Rank INT, Charge INT);
CREATE INDEX IF NOT EXISTS PeptideSpectrumMatch_Peptide ON PeptideSpectrumMatch (Peptide);
CREATE INDEX IF NOT EXISTS PeptideSpectrumMatch_Spectrum ON PeptideSpectrumMatch (Spectrum);
CREATE TABLE IF NOT EXISTS PeptideSpectrumMatchScoreName (Id INTEGER PRIMARY KEY, Name TEXT UNIQUE);
CREATE TABLE IF NOT EXISTS PeptideSpectrumMatchScore (PsmId INTEGER NOT NULL, Value NUMERIC, ScoreNameId INTEGER NOT NULL, PRIMARY KEY (PsmId, ScoreNameId));

CREATE TABLE IF NOT EXISTS Modification (Id INTEGER PRIMARY KEY, MonoMassDelta NUMERIC, AvgMassDelta NUMERIC, Formula TEXT, Name TEXT);
CREATE TABLE IF NOT EXISTS PeptideModification (Id INTEGER PRIMARY KEY, PeptideSpectrumMatch INT, Modification INT, Offset INT, Site TEXT);
CREATE INDEX IF NOT EXISTS PeptideModification_PeptideSpectrumMatch ON PeptideModification (PeptideSpectrumMatch);

CREATE TABLE IF NOT EXISTS Spectrum (Id INTEGER PRIMARY KEY, Source INT, Index_ INT, NativeID TEXT, PrecursorMZ NUMERIC);
CREATE INDEX IF NOT EXISTS Spectrum_SourceNativeID ON Spectrum (Source, NativeID);
CREATE TABLE IF NOT EXISTS SpectrumSource (Id INTEGER PRIMARY KEY, Name TEXT, URL TEXT, Group_ INT, MsDataBytes BLOB);
CREATE TABLE IF NOT EXISTS SpectrumSourceGroup (Id INTEGER PRIMARY KEY, Name TEXT);
CREATE TABLE IF NOT EXISTS SpectrumSourceGroupLink (Id INTEGER PRIMARY KEY, Source INT, Group_ INT);
CREATE INDEX IF NOT EXISTS SpectrumSourceGroupLink_SourceGroup ON SpectrumSourceGroupLink (Source, Group_);

CREATE TABLE IF NOT EXISTS Analysis (Id INTEGER PRIMARY KEY, Name TEXT, SoftwareName TEXT, SoftwareVersion TEXT, Type INT, StartTime DATETIME);
CREATE TABLE IF NOT EXISTS AnalysisParameter (Id INTEGER PRIMARY KEY, Analysis INT, Name TEXT, Value TEXT);
CREATE TABLE IF NOT EXISTS QonverterSettings (Id INTEGER PRIMARY KEY, QonverterMethod INT, DecoyPrefix TEXT, RerankMatches INT, Kernel INT, MassErrorHandling INT, MissedCleavagesHandling INT, TerminalSpecificityHandling INT, ChargeStateHandling INT, ScoreInfoByName TEXT);
`

const migrationV11Up = `
CREATE TABLE IF NOT EXISTS PeptideSequences (Id INTEGER PRIMARY KEY, Sequence TEXT UNIQUE);
CREATE TABLE IF NOT EXISTS DistinctMatch (PsmId INTEGER PRIMARY KEY, DistinctMatchKey TEXT);
CREATE TABLE IF NOT EXISTS MergedFiles (Filepath TEXT PRIMARY KEY);
CREATE TABLE IF NOT EXISTS FilterSnapshot (Id INTEGER PRIMARY KEY CHECK (Id = 1), Generation INT NOT NULL, Filtered INT NOT NULL);
INSERT OR IGNORE INTO FilterSnapshot (Id, Generation, Filtered) VALUES (1, 0, 0);
`

// SchemaVersion returns the highest applied migration, or 0.0.0 for an empty database.
func SchemaVersion(ctx context.Context, q Querier) (*semver.Version, error) {
	exists, err := TableExists(ctx, q, "main", "SchemaVersion")
	if err != nil {
		return nil, err
	}
	current := semver.MustParse("0.0.0")
	if !exists {
		return current, nil
	}

	rows, err := q.QueryContext(ctx, "SELECT Version FROM SchemaVersion")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan schema version: %w", err)
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", s, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

// ApplyMigrations brings the schema up to target (CurrentSchemaVersion when empty).
func ApplyMigrations(ctx context.Context, db *sql.DB, target string) ([]string, error) {
	if target == "" {
		target = CurrentSchemaVersion
	}
	targetVersion, err := semver.NewVersion(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target schema version %s: %w", target, err)
	}

	currentVersion, err := SchemaVersion(ctx, db)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return applied, fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}
		if !currentVersion.LessThan(migrationVersion) || migrationVersion.GreaterThan(targetVersion) {
			continue
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return applied, fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO SchemaVersion (Version) VALUES (?)", migration.Version); err != nil {
			return applied, fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
		applied = append(applied, migration.Version)
	}

	return applied, nil
}
