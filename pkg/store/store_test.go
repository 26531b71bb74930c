package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, name string, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), name), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertProteins(t *testing.T, q Querier, accessions ...string) {
	t.Helper()
	for i, acc := range accessions {
		_, err := q.ExecContext(context.Background(),
			"INSERT INTO Protein (Id, Accession, IsDecoy, Cluster, ProteinGroup, Length) VALUES (?, ?, 0, 0, 0, 10)", i+1, acc)
		require.NoError(t, err)
	}
}

func TestOpenCreatesCurrentSchema(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t, "new.idpDB")

	v, err := SchemaVersion(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())

	for _, table := range []string{"Protein", "PeptideSequences", "MergedFiles", "FilterSnapshot"} {
		ok, err := TableExists(ctx, s, "main", table)
		require.NoError(t, err)
		assert.True(t, ok, table)
	}
	assert.True(t, IsValidFile(s.Path()))
}

func TestOpenLegacySchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.idpDB")

	s, err := Open(path, WithSchemaVersion("1.0.0"))
	require.NoError(t, err)
	ok, err := TableExists(ctx, s, "main", "PeptideSequences")
	require.NoError(t, err)
	assert.False(t, ok)

	snap, err := CurrentSnapshot(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, snap)
	require.NoError(t, s.Close())

	s, err = Open(path, WithoutMigrations())
	require.NoError(t, err)
	v, err := SchemaVersion(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.String())
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	ok, err = TableExists(ctx, s, "main", "PeptideSequences")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsValidFile(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, IsValidFile(filepath.Join(dir, "missing.idpDB")))

	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("not a database, just some text that is long enough"), 0o644))
	assert.False(t, IsValidFile(text))
}

func TestRunInTx(t *testing.T) {
	ctx := context.Background()
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, RunInTx(ctx, s, func(q Querier) error {
		insertProteins(t, q, "P1")
		return nil
	}))

	boom := errors.New("boom")
	err = RunInTx(ctx, s, func(q Querier) error {
		_, err := q.ExecContext(ctx, "DELETE FROM Protein")
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := Count(ctx, s, "Protein")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "failed transaction must roll back")

	// an open transaction is reused and left for the caller to finish
	tx, err := s.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, RunInTx(ctx, tx, func(q Querier) error {
		_, err := q.ExecContext(ctx, "DELETE FROM Protein")
		return err
	}))
	require.NoError(t, tx.Rollback())

	n, err = Count(ctx, s, "Protein")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSnapshotPromoteAndDrop(t *testing.T) {
	ctx := context.Background()
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	insertProteins(t, s, "P1", "P2", "P3")

	// dropping filters on a never-filtered database changes nothing
	require.NoError(t, DropFilters(ctx, s))
	snap, err := CurrentSnapshot(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Generation: 0, Filtered: false}, snap)

	for _, table := range FilteredTables {
		_, err := s.ExecContext(ctx, "CREATE TABLE "+FilteredSet+table+" AS SELECT * FROM "+table)
		require.NoError(t, err)
	}
	_, err = s.ExecContext(ctx, "DELETE FROM FilteredProtein WHERE Accession != 'P2'")
	require.NoError(t, err)

	require.NoError(t, RunInTx(ctx, s, func(q Querier) error { return PromoteFiltered(ctx, q) }))

	n, err := Count(ctx, s, "Protein")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = Count(ctx, s, "UnfilteredProtein")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	snap, err = CurrentSnapshot(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Generation: 1, Filtered: true}, snap)

	require.NoError(t, DropFilters(ctx, s))
	n, err = Count(ctx, s, "Protein")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	ok, err := TableExists(ctx, s, "main", "UnfilteredProtein")
	require.NoError(t, err)
	assert.False(t, ok)

	snap, err = CurrentSnapshot(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Generation: 2, Filtered: false}, snap)

	require.NoError(t, DropFilters(ctx, s))
	snap, err = CurrentSnapshot(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Generation)
}

func TestAttachAndMaxIDs(t *testing.T) {
	ctx := context.Background()
	other := openTemp(t, "other.idpDB")
	insertProteins(t, other, "A", "B", "C", "D")

	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, Attach(ctx, s, other.Path(), "other"))
	ids, err := MaxIDs(ctx, s, "other")
	require.NoError(t, err)
	assert.Equal(t, int64(4), ids["Protein"])
	assert.Equal(t, int64(0), ids["Spectrum"])
	assert.Len(t, ids, len(IDTables))

	ok, err := TableExists(ctx, s, "other", "Protein")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, Detach(ctx, s, "other"))

	_, err = TableExists(ctx, s, "bad name", "Protein")
	assert.Error(t, err)
	assert.Error(t, Attach(ctx, s, other.Path(), "x; DROP TABLE Protein"))
}
