// Package store provides access to idpDB files: SQLite databases holding
// proteins, peptides, spectra and the matches between them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/ChrisMcGann/idpdb/pkg/logging"
)

var (
	// ErrNotFound is returned when a requested row doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrNotIDPDB is returned when a file exists but is not an idpDB
	ErrNotIDPDB = errors.New("not an idpDB file")
)

// Querier is satisfied by *sql.DB, *sql.Conn, *sql.Tx and *Store.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

type beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Options controls how a database is opened.
type Options struct {
	JournalMode   string
	Synchronous   string
	BusyTimeout   time.Duration
	CacheSize     int
	SchemaVersion string // highest migration to apply; empty means current
	SkipMigrate   bool
	Logger        *logging.Logger
}

// Option configures Options.
type Option func(*Options)

// WithJournalMode sets PRAGMA journal_mode (default WAL).
func WithJournalMode(mode string) Option { return func(o *Options) { o.JournalMode = mode } }

// WithSynchronous sets PRAGMA synchronous.
func WithSynchronous(mode string) Option { return func(o *Options) { o.Synchronous = mode } }

// WithBusyTimeout sets PRAGMA busy_timeout.
func WithBusyTimeout(d time.Duration) Option { return func(o *Options) { o.BusyTimeout = d } }

// WithCacheSize sets PRAGMA cache_size (pages when positive, KiB when negative).
func WithCacheSize(n int) Option { return func(o *Options) { o.CacheSize = n } }

// WithSchemaVersion stops migrations at the given version.
func WithSchemaVersion(v string) Option { return func(o *Options) { o.SchemaVersion = v } }

// WithoutMigrations opens the file as-is.
func WithoutMigrations() Option { return func(o *Options) { o.SkipMigrate = true } }

// WithLogger sets the logger used for migration messages.
func WithLogger(l *logging.Logger) Option { return func(o *Options) { o.Logger = l } }

// Store is an open idpDB.
type Store struct {
	db     *sql.DB
	path   string
	logger *logging.Logger
}

// Open opens (creating if absent) an idpDB at path and migrates its schema.
func Open(path string, opts ...Option) (*Store, error) {
	o := Options{JournalMode: "WAL", BusyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrNop(o.Logger)

	db, err := openDatabase(path, o)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if !o.SkipMigrate {
		applied, err := ApplyMigrations(context.Background(), db, o.SchemaVersion)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Debug("applied schema migrations", "file", path, "versions", applied)
		}
	}

	return &Store{db: db, path: path, logger: logger}, nil
}

// OpenMemory opens an empty in-memory idpDB.
func OpenMemory(opts ...Option) (*Store, error) {
	s, err := Open(":memory:", append([]Option{WithJournalMode("MEMORY")}, opts...)...)
	if err != nil {
		return nil, err
	}
	s.path = ""
	return s, nil
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(path string, o Options) (*sql.DB, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, err
	}

	// one connection keeps ATTACHed schemas and TEMP tables visible to every statement
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{}
	if o.JournalMode != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode="+o.JournalMode)
	}
	if o.Synchronous != "" {
		pragmas = append(pragmas, "PRAGMA synchronous="+o.Synchronous)
	}
	if o.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout=%d", o.BusyTimeout.Milliseconds()))
	}
	if o.CacheSize != 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size=%d", o.CacheSize))
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", p, err)
		}
	}

	return db, nil
}

// IsValidFile reports whether path exists and holds an idpDB schema.
func IsValidFile(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return false
	}
	defer db.Close()

	ok, err := TableExists(context.Background(), db, "main", "Protein")
	return err == nil && ok
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the file path, or "" for an in-memory store.
func (s *Store) Path() string { return s.path }

// Conn pins a single connection, needed for ATTACH.
func (s *Store) Conn(ctx context.Context) (*sql.Conn, error) { return s.db.Conn(ctx) }

func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *Store) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return s.db.PrepareContext(ctx, query)
}

// BeginTx starts a new transaction
func (s *Store) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, opts)
}

// RunInTx runs fn inside a transaction. When q already is a transaction it is
// reused and left open for the caller; otherwise a new one is begun, committed
// when fn succeeds and rolled back when it fails.
func RunInTx(ctx context.Context, q Querier, fn func(Querier) error) error {
	if tx, ok := q.(*sql.Tx); ok {
		return fn(tx)
	}
	b, ok := q.(beginner)
	if !ok {
		return fn(q)
	}

	tx, err := b.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("failed to roll back: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid SQL identifier %q", name)
	}
	return nil
}

// Attach attaches the database at path under schema. It must not be called inside a transaction.
func Attach(ctx context.Context, q Querier, path, schema string) error {
	if err := checkIdent(schema); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, "ATTACH DATABASE ? AS "+schema, path); err != nil {
		return fmt.Errorf("failed to attach %s as %s: %w", path, schema, err)
	}
	return nil
}

// Detach detaches schema.
func Detach(ctx context.Context, q Querier, schema string) error {
	if err := checkIdent(schema); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, "DETACH DATABASE "+schema); err != nil {
		return fmt.Errorf("failed to detach %s: %w", schema, err)
	}
	return nil
}

// TableExists reports whether schema has a table named table.
func TableExists(ctx context.Context, q Querier, schema, table string) (bool, error) {
	if err := checkIdent(schema); err != nil {
		return false, err
	}
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+schema+".sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up table %s.%s: %w", schema, table, err)
	}
	return n > 0, nil
}

// MaxID returns the largest Id in schema.table, or 0 when it is empty.
func MaxID(ctx context.Context, q Querier, schema, table string) (int64, error) {
	if err := checkIdent(schema); err != nil {
		return 0, err
	}
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	var id int64
	if err := q.QueryRowContext(ctx, "SELECT IFNULL(MAX(Id),0) FROM "+schema+"."+table).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read max id of %s.%s: %w", schema, table, err)
	}
	return id, nil
}

// Count returns the number of rows in table.
func Count(ctx context.Context, q Querier, table string) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	var n int64
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// IDTables are the tables whose integer Id a merge has to remap, in merge order.
var IDTables = []string{
	"Protein", "PeptideInstance", "Peptide", "SpectrumSourceGroup", "SpectrumSource",
	"SpectrumSourceGroupLink", "Spectrum", "Modification", "PeptideSpectrumMatchScoreName",
	"Analysis", "PeptideSpectrumMatch", "PeptideModification", "AnalysisParameter",
}

// MaxIDs returns MaxID for every table of IDTables in schema.
func MaxIDs(ctx context.Context, q Querier, schema string) (map[string]int64, error) {
	ids := make(map[string]int64, len(IDTables))
	for _, t := range IDTables {
		id, err := MaxID(ctx, q, schema, t)
		if err != nil {
			return nil, err
		}
		ids[t] = id
	}
	return ids, nil
}
