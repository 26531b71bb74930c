// Package merge combines idpDB files into one target database, remapping the
// ids of every source row and deduplicating rows by their natural keys.
package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ChrisMcGann/idpdb/pkg/core"
	"github.com/ChrisMcGann/idpdb/pkg/filter"
	"github.com/ChrisMcGann/idpdb/pkg/logging"
	"github.com/ChrisMcGann/idpdb/pkg/store"
)

// ErrSameFile is returned when a source is the target database itself.
var ErrSameFile = errors.New("source and target are the same file")

// Reasons a source was skipped.
const (
	SkipMissing = "file does not exist"
	SkipTarget  = "source is the target"
	SkipMerged  = "already merged"
)

type options struct {
	progress        core.ProgressFunc
	logger          *logging.Logger
	continueOnError bool
	sourceKey       string
	cacheSize       int
}

// Option configures a merge.
type Option func(*options)

// WithProgress sets the callback invoked before every source; returning true stops the merge.
func WithProgress(fn core.ProgressFunc) Option { return func(o *options) { o.progress = fn } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(o *options) { o.logger = l } }

// WithContinueOnError keeps merging the remaining sources after one fails.
func WithContinueOnError() Option { return func(o *options) { o.continueOnError = true } }

// WithSourceKey records an in-memory source in MergedFiles under key.
func WithSourceKey(key string) Option { return func(o *options) { o.sourceKey = key } }

// WithCacheSize sets PRAGMA cache_size on attached sources.
func WithCacheSize(n int) Option { return func(o *options) { o.cacheSize = n } }

// FileResult is the outcome of merging one source.
type FileResult struct {
	Path     string
	Skipped  string // reason; empty when the source was merged or failed
	Err      error
	Added    map[string]int64
	Duration time.Duration
}

// Result describes a finished (or cancelled) merge.
type Result struct {
	RunID     string
	Files     []FileResult
	Cancelled bool
	State     State
}

// Merged returns the paths that were merged successfully.
func (r *Result) Merged() []string {
	var paths []string
	for _, f := range r.Files {
		if f.Skipped == "" && f.Err == nil {
			paths = append(paths, f.Path)
		}
	}
	return paths
}

// Failed returns the sources that failed.
func (r *Result) Failed() []FileResult {
	var failed []FileResult
	for _, f := range r.Files {
		if f.Err != nil {
			failed = append(failed, f)
		}
	}
	return failed
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.OrNop(o.logger)
	return o
}

// MergeFiles merges every source file into the idpDB at targetPath, creating it
// when needed. Each source is merged in its own transaction; a cancelled merge
// keeps the sources merged before the cancellation.
func MergeFiles(ctx context.Context, targetPath string, sources []string, opts ...Option) (*Result, error) {
	o := newOptions(opts)
	res := &Result{RunID: uuid.NewString()}
	logger := o.logger.WithRun(res.RunID).WithFile(targetPath)
	start := time.Now()

	target, err := openTarget(ctx, targetPath, logger)
	if err != nil {
		return res, err
	}
	defer target.Close()

	state, err := ReadState(ctx, target, "main")
	if err != nil {
		return res, err
	}
	targetAbs := absPath(targetPath)

	logger.Info("merge started", "sources", len(sources))
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			res.State = state
			return res, err
		}
		if o.progress.Report(core.Progress{Stage: "Merging " + src, Completed: i, Total: len(sources)}) {
			res.Cancelled = true
			break
		}

		fr := FileResult{Path: src}
		srcAbs := absPath(src)
		switch {
		case !exists(src):
			fr.Skipped = SkipMissing
		case srcAbs == targetAbs:
			fr.Skipped = SkipTarget
		default:
			merged, err := alreadyMerged(ctx, target, "main", srcAbs)
			if err != nil {
				return res, err
			}
			if merged {
				fr.Skipped = SkipMerged
			}
		}
		if fr.Skipped != "" {
			logger.Info("skipping source", "source", src, "reason", fr.Skipped)
			res.Files = append(res.Files, fr)
			continue
		}

		fileStart := time.Now()
		added, sourceMax, err := mergeFile(ctx, target, src, srcAbs, state, o, logger.WithFile(src))
		fr.Duration = time.Since(fileStart)
		if err != nil {
			fr.Err = fmt.Errorf("failed to merge %s: %w", src, err)
			res.Files = append(res.Files, fr)
			o.progress.Report(core.Progress{Stage: "Merging " + src, Completed: i, Total: len(sources), Err: fr.Err})
			if !o.continueOnError {
				res.State = state
				return res, fr.Err
			}
			logger.Warn("source failed", "source", src, "error", err)
			continue
		}
		fr.Added = added
		state = state.Advance(sourceMax)
		res.Files = append(res.Files, fr)
		logger.Debug("merged source", "source", src, "duration", fr.Duration, "psms", added["PeptideSpectrumMatch"])
	}

	res.State = state
	logger.Info("merge finished", "merged", len(res.Merged()), "cancelled", res.Cancelled, "duration", time.Since(start))
	return res, nil
}

// mergeFile attaches one source file to the target connection and merges it
// in a single transaction. It returns the rows added and the source's max ids.
func mergeFile(ctx context.Context, target *store.Store, path, key string, state State, o options, logger *logging.Logger) (map[string]int64, map[string]int64, error) {
	if err := prepareSource(ctx, path, logger); err != nil {
		return nil, nil, err
	}

	if err := store.Attach(ctx, target, path, "new"); err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := store.Detach(context.Background(), target, "new"); err != nil {
			logger.Warn("detach failed", "error", err)
		}
	}()
	if o.cacheSize != 0 {
		if _, err := target.ExecContext(ctx, fmt.Sprintf("PRAGMA new.cache_size = %d", o.cacheSize)); err != nil {
			return nil, nil, fmt.Errorf("failed to set cache size: %w", err)
		}
	}

	sourceMax, err := store.MaxIDs(ctx, target, "new")
	if err != nil {
		return nil, nil, err
	}

	var added map[string]int64
	err = store.RunInTx(ctx, target, func(tx store.Querier) error {
		m := &merger{q: tx, target: "main", source: "new", state: state, logger: logger}
		var err error
		if added, err = m.run(ctx); err != nil {
			return err
		}
		return recordMerged(ctx, tx, "main", key)
	})
	if err != nil {
		return nil, nil, err
	}
	return added, sourceMax, nil
}

// MergeStore merges an open database into the idpDB at targetPath over the
// source's own connection. The source is guarded against repeated merges by
// its file path, or by the key given with WithSourceKey for an in-memory
// store; an in-memory store without a key is merged unguarded.
//
// The source's filters are dropped before merging, so a filtered source is
// left unfiltered afterwards, as is the target.
func MergeStore(ctx context.Context, targetPath string, source *store.Store, opts ...Option) (*Result, error) {
	o := newOptions(opts)
	res := &Result{RunID: uuid.NewString()}
	logger := o.logger.WithRun(res.RunID).WithFile(targetPath)

	key := o.sourceKey
	if source.Path() != "" {
		key = absPath(source.Path())
		if key == absPath(targetPath) {
			return res, ErrSameFile
		}
	}
	fr := FileResult{Path: key}

	target, err := openTarget(ctx, targetPath, logger)
	if err != nil {
		return res, err
	}
	state, err := ReadState(ctx, target, "main")
	if err == nil && key != "" {
		var merged bool
		if merged, err = alreadyMerged(ctx, target, "main", key); merged {
			fr.Skipped = SkipMerged
		}
	}
	if cerr := target.Close(); err == nil {
		err = cerr
	}
	res.State = state
	if err != nil {
		return res, err
	}
	if fr.Skipped != "" {
		logger.Info("skipping source", "source", key, "reason", fr.Skipped)
		res.Files = append(res.Files, fr)
		return res, nil
	}

	if o.progress.Report(core.Progress{Stage: "Merging " + key, Completed: 0, Total: 1}) {
		res.Cancelled = true
		return res, nil
	}

	if err := filter.DropFilters(ctx, source); err != nil {
		return res, err
	}
	if err := store.Attach(ctx, source, targetPath, "merged"); err != nil {
		return res, err
	}
	defer func() {
		if err := store.Detach(context.Background(), source, "merged"); err != nil {
			logger.Warn("detach failed", "error", err)
		}
	}()

	sourceMax, err := store.MaxIDs(ctx, source, "main")
	if err != nil {
		return res, err
	}

	start := time.Now()
	err = store.RunInTx(ctx, source, func(tx store.Querier) error {
		m := &merger{q: tx, target: "merged", source: "main", state: state, logger: logger}
		var err error
		if fr.Added, err = m.run(ctx); err != nil {
			return err
		}
		if key == "" {
			return nil
		}
		return recordMerged(ctx, tx, "merged", key)
	})
	fr.Duration = time.Since(start)
	if err != nil {
		fr.Err = fmt.Errorf("failed to merge into %s: %w", targetPath, err)
		fr.Added = nil
		res.Files = append(res.Files, fr)
		return res, fr.Err
	}

	res.State = state.Advance(sourceMax)
	res.Files = append(res.Files, fr)
	logger.Info("merged store", "source", key, "duration", fr.Duration)
	return res, nil
}

// openTarget opens or creates the target, refusing existing files that are not idpDBs.
func openTarget(ctx context.Context, path string, logger *logging.Logger) (*store.Store, error) {
	if exists(path) && !store.IsValidFile(path) {
		if info, err := os.Stat(path); err != nil || info.Size() > 0 {
			return nil, fmt.Errorf("%s: %w", path, store.ErrNotIDPDB)
		}
	}
	s, err := store.Open(path, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := filter.DropFilters(ctx, s); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// prepareSource checks that path is an idpDB and restores its unfiltered tables.
func prepareSource(ctx context.Context, path string, logger *logging.Logger) error {
	if !store.IsValidFile(path) {
		return store.ErrNotIDPDB
	}
	s, err := store.Open(path, store.WithoutMigrations(), store.WithJournalMode(""), store.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := filter.DropFilters(ctx, s); err != nil {
		_ = s.Close()
		return err
	}
	return s.Close()
}

func alreadyMerged(ctx context.Context, q store.Querier, schema, key string) (bool, error) {
	ok, err := store.TableExists(ctx, q, schema, "MergedFiles")
	if err != nil || !ok {
		return false, err
	}
	var n int
	err = q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+schema+".MergedFiles WHERE Filepath = ?", key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to read merged files: %w", err)
	}
	return n > 0, nil
}

func recordMerged(ctx context.Context, q store.Querier, schema, key string) error {
	if _, err := q.ExecContext(ctx, "INSERT OR IGNORE INTO "+schema+".MergedFiles (Filepath) VALUES (?)", key); err != nil {
		return fmt.Errorf("failed to record merged file: %w", err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(path)
}
