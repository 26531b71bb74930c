// Package idtsv provides a streaming reader for tab-separated identification
// results: one peptide-spectrum match per line, columns named by a header line.
package idtsv

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/idpdb/pkg/core"
)

// Known columns. Any other column is read as a numeric score.
const (
	ColSource      = "source"
	ColGroup       = "group"
	ColNativeID    = "nativeid"
	ColCharge      = "charge"
	ColRank        = "rank"
	ColQValue      = "qvalue"
	ColPrecursorMZ = "precursormz"
	ColSequence    = "sequence"
	ColMods        = "mods"
	ColAccession   = "accession"
	ColAnalysis    = "analysis"
)

var requiredColumns = []string{ColSource, ColNativeID, ColSequence}

// Record is one identification.
type Record struct {
	Line        int
	Source      string
	Group       string // empty when the source is ungrouped
	NativeID    string
	Charge      int
	Rank        int
	QValue      float64
	PrecursorMZ float64
	Sequence    string
	Mods        []core.ResidueMod
	Accessions  []string // protein accessions listed for the peptide; may be empty
	Analysis    string
	Scores      map[string]float64
}

// Reader provides streaming access to identification TSV files
type Reader struct {
	scanner *bufio.Scanner
	modDB   *core.ModDatabase
	lineNum int
	columns []string
	index   map[string]int
	current *Record
	err     error
}

// NewReader creates a new reader; nil modDB uses core.DefaultModDatabase.
func NewReader(r io.Reader, modDB *core.ModDatabase) *Reader {
	if modDB == nil {
		modDB = core.DefaultModDatabase()
	}

	return &Reader{
		scanner: bufio.NewScanner(r),
		modDB:   modDB,
	}
}

// Next advances to the next record. Returns false when no more records or error.
func (r *Reader) Next() bool {
	r.current = nil
	if r.err != nil {
		return false
	}

	rec, err := r.readRecord()
	if err != nil {
		if err != io.EOF {
			r.err = err
		}
		return false
	}

	r.current = rec
	return true
}

// Record returns the current record
func (r *Reader) Record() *Record {
	return r.current
}

// Err returns any error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

// Columns returns the header names in file order (lowercased).
func (r *Reader) Columns() []string {
	return r.columns
}

func (r *Reader) readRecord() (*Record, error) {
	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")

		if r.index == nil {
			if err := r.parseHeader(fields); err != nil {
				return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
			}
			continue
		}

		rec, err := r.parseRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
		}
		return rec, nil
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (r *Reader) parseHeader(fields []string) error {
	r.index = make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.ToLower(strings.TrimSpace(f))
		if _, dup := r.index[name]; dup {
			return fmt.Errorf("duplicate column %q", f)
		}
		r.index[name] = i
		r.columns = append(r.columns, name)
	}
	for _, c := range requiredColumns {
		if _, ok := r.index[c]; !ok {
			return fmt.Errorf("missing required column %q", c)
		}
	}
	return nil
}

func (r *Reader) field(fields []string, column string) string {
	i, ok := r.index[column]
	if !ok || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

func (r *Reader) parseRecord(fields []string) (*Record, error) {
	if len(fields) > len(r.columns) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(r.columns), len(fields))
	}

	rec := &Record{
		Line:     r.lineNum,
		Source:   r.field(fields, ColSource),
		Group:    r.field(fields, ColGroup),
		NativeID: r.field(fields, ColNativeID),
		Sequence: strings.ToUpper(r.field(fields, ColSequence)),
		Analysis: r.field(fields, ColAnalysis),
		Rank:     1,
	}
	if rec.Source == "" || rec.NativeID == "" || rec.Sequence == "" {
		return nil, fmt.Errorf("source, nativeID and sequence must not be empty")
	}

	var err error
	if v := r.field(fields, ColCharge); v != "" {
		if rec.Charge, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid charge %q: %w", v, err)
		}
	}
	if v := r.field(fields, ColRank); v != "" {
		if rec.Rank, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid rank %q: %w", v, err)
		}
	}
	if v := r.field(fields, ColQValue); v != "" {
		if rec.QValue, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid q-value %q: %w", v, err)
		}
	}
	if v := r.field(fields, ColPrecursorMZ); v != "" {
		if rec.PrecursorMZ, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid precursor m/z %q: %w", v, err)
		}
	}
	if v := r.field(fields, ColMods); v != "" {
		if rec.Mods, err = r.modDB.ParseModString(v, rec.Sequence); err != nil {
			return nil, err
		}
	}
	if v := r.field(fields, ColAccession); v != "" {
		for _, a := range strings.Split(v, ";") {
			if a = strings.TrimSpace(a); a != "" {
				rec.Accessions = append(rec.Accessions, a)
			}
		}
	}

	for i, name := range r.columns {
		if isKnown(name) || i >= len(fields) || strings.TrimSpace(fields[i]) == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid score %s %q: %w", name, fields[i], err)
		}
		if rec.Scores == nil {
			rec.Scores = make(map[string]float64)
		}
		rec.Scores[name] = v
	}

	return rec, nil
}

var knownColumns = []string{
	ColSource, ColGroup, ColNativeID, ColCharge, ColRank, ColQValue,
	ColPrecursorMZ, ColSequence, ColMods, ColAccession, ColAnalysis,
}

func isKnown(column string) bool {
	return slices.Contains(knownColumns, column)
}
