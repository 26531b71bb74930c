// Package fasta provides a streaming reader for FASTA protein databases
package fasta

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/ChrisMcGann/idpdb/pkg/core"
)

// Reader provides streaming access to FASTA files
type Reader struct {
	scanner     *bufio.Scanner
	lineNum     int
	header      string // header line of the next entry, already consumed
	current     *core.Protein
	decoyPrefix string
	err         error
}

// NewReader creates a new FASTA reader. Proteins whose accession starts with
// decoyPrefix are marked as decoys; an empty prefix marks none.
func NewReader(r io.Reader, decoyPrefix string) *Reader {
	scanner := bufio.NewScanner(r)
	// protein sequences are single lines in some databases
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Reader{scanner: scanner, decoyPrefix: decoyPrefix}
}

// Next advances to the next protein. Returns false when no more proteins or error.
func (r *Reader) Next() bool {
	r.current = nil

	p, err := r.readProtein()
	if err != nil {
		if err != io.EOF {
			r.err = err
		}
		return false
	}

	r.current = p
	return true
}

// Protein returns the current protein
func (r *Reader) Protein() *core.Protein {
	return r.current
}

// Err returns any error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) readProtein() (*core.Protein, error) {
	for r.header == "" {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		r.lineNum++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if !strings.HasPrefix(line, ">") {
			return nil, fmt.Errorf("line %d: sequence data before the first header", r.lineNum)
		}
		r.header = line
	}

	p, err := r.parseHeader(r.header)
	if err != nil {
		return nil, err
	}
	r.header = ""

	var seq strings.Builder
	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimSpace(r.scanner.Text())
		if strings.HasPrefix(line, ">") {
			r.header = line
			break
		}
		seq.WriteString(strings.TrimSuffix(line, "*"))
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	p.Sequence = strings.ToUpper(seq.String())
	p.Length = len(p.Sequence)
	if p.Length == 0 {
		return nil, fmt.Errorf("line %d: protein %s has no sequence", r.lineNum, p.Accession)
	}
	return p, nil
}

// parseHeader splits ">accession description"
func (r *Reader) parseHeader(header string) (*core.Protein, error) {
	accession, description, _ := strings.Cut(strings.TrimSpace(header[1:]), " ")
	if accession == "" {
		return nil, fmt.Errorf("line %d: empty accession", r.lineNum)
	}
	return &core.Protein{
		Accession:   accession,
		Description: strings.TrimSpace(description),
		IsDecoy:     r.decoyPrefix != "" && strings.HasPrefix(accession, r.decoyPrefix),
	}, nil
}
