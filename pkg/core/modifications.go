package core

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Offsets used for terminal modifications
const (
	NTerminusOffset = math.MinInt32
	CTerminusOffset = math.MaxInt32
)

// ModDefinition is a named mass shift.
type ModDefinition struct {
	Name          string
	MonoMassDelta float64
	AvgMassDelta  float64
	Formula       string
}

// ResidueMod is a modification placed at a peptide offset.
type ResidueMod struct {
	Name     string
	Mass     float64
	AvgMass  float64
	Formula  string
	Position int // 0-based; NTerminusOffset or CTerminusOffset for termini
}

// ModDatabase stores modification definitions
type ModDatabase struct {
	mods map[string]ModDefinition
}

// NewModDatabase creates an empty modification database
func NewModDatabase() *ModDatabase {
	return &ModDatabase{
		mods: make(map[string]ModDefinition),
	}
}

// LoadFromCSV loads modifications from a CSV file (format: name,mono[,avg[,formula]])
func (db *ModDatabase) LoadFromCSV(r io.Reader) error {
	scanner := bufio.NewScanner(r)

	// Skip header line
	scanner.Scan()

	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			return fmt.Errorf("line %d: invalid format, expected at least 2 comma-separated fields", lineNum)
		}

		def := ModDefinition{Name: strings.TrimSpace(parts[0])}
		mono, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid mass value '%s': %w", lineNum, parts[1], err)
		}
		def.MonoMassDelta = mono
		def.AvgMassDelta = mono

		if len(parts) > 2 && strings.TrimSpace(parts[2]) != "" {
			avg, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
			if err != nil {
				return fmt.Errorf("line %d: invalid average mass '%s': %w", lineNum, parts[2], err)
			}
			def.AvgMassDelta = avg
		}
		if len(parts) > 3 {
			def.Formula = strings.TrimSpace(parts[3])
		}

		db.mods[def.Name] = def
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading CSV: %w", err)
	}

	return nil
}

// Get returns the definition for a modification name
func (db *ModDatabase) Get(name string) (ModDefinition, bool) {
	def, ok := db.mods[name]
	return def, ok
}

// Add adds or updates a modification
func (db *ModDatabase) Add(def ModDefinition) {
	if def.AvgMassDelta == 0 {
		def.AvgMassDelta = def.MonoMassDelta
	}
	db.mods[def.Name] = def
}

// Names returns the known modification names in sorted order.
func (db *ModDatabase) Names() []string {
	names := make([]string, 0, len(db.mods))
	for name := range db.mods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseModString parses a modification string like "57.021464@C2;Oxidation@M8;Acetyl@n".
// Positions are 1-based in the string and 0-based in the result; "n" and "c"
// (or "-1" for the N terminus) mark terminal modifications.
func (db *ModDatabase) ParseModString(modStr string, sequence string) ([]ResidueMod, error) {
	if strings.TrimSpace(modStr) == "" {
		return nil, nil
	}

	var mods []ResidueMod
	for _, part := range strings.Split(modStr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		atParts := strings.Split(part, "@")
		if len(atParts) != 2 {
			return nil, fmt.Errorf("invalid modification format '%s', expected 'name@position' or 'mass@position'", part)
		}

		nameOrMass := strings.TrimSpace(atParts[0])
		mod := ResidueMod{Name: nameOrMass}

		if mass, err := strconv.ParseFloat(nameOrMass, 64); err == nil {
			mod.Mass = mass
			mod.AvgMass = mass
		} else {
			def, ok := db.Get(nameOrMass)
			if !ok {
				return nil, fmt.Errorf("unknown modification '%s'", nameOrMass)
			}
			mod.Mass = def.MonoMassDelta
			mod.AvgMass = def.AvgMassDelta
			mod.Formula = def.Formula
		}

		position, err := parsePosition(atParts[1], sequence)
		if err != nil {
			return nil, fmt.Errorf("invalid position '%s': %w", atParts[1], err)
		}
		mod.Position = position

		mods = append(mods, mod)
	}

	return mods, nil
}

// parsePosition parses a position that may carry a residue letter, e.g. "C2", "8", "n", "c".
func parsePosition(posStr string, sequence string) (int, error) {
	posStr = strings.TrimSpace(posStr)

	switch strings.ToLower(posStr) {
	case "n", "-1":
		return NTerminusOffset, nil
	case "c":
		return CTerminusOffset, nil
	}

	residue := strings.TrimRight(posStr, "0123456789")
	pos, err := strconv.Atoi(posStr[len(residue):])
	if err != nil {
		return 0, fmt.Errorf("invalid position number: %w", err)
	}
	if pos < 1 || (sequence != "" && pos > len(sequence)) {
		return 0, fmt.Errorf("position %d out of range for %q", pos, sequence)
	}
	if len(residue) == 1 && sequence != "" && sequence[pos-1] != residue[0] {
		return 0, fmt.Errorf("residue %s does not match %c at position %d", residue, sequence[pos-1], pos)
	}

	return pos - 1, nil
}

// DefaultModDatabase returns a ModDatabase pre-loaded with common modifications from unimod
func DefaultModDatabase() *ModDatabase {
	db := NewModDatabase()

	for _, def := range []ModDefinition{
		{"Acetyl", 42.010565, 42.0367, "H(2)C(2)O(1)"},
		{"Amidated", -0.984016, -0.9848, "H(1)N(1)O(-1)"},
		{"Carbamidomethyl", 57.021464, 57.0513, "H(3)C(2)N(1)O(1)"},
		{"Carbamyl", 43.005814, 43.0247, "H(1)C(1)N(1)O(1)"},
		{"Deamidated", 0.984016, 0.9848, "H(-1)N(-1)O(1)"},
		{"Dimethyl", 28.0313, 28.0532, "H(4)C(2)"},
		{"Gln->pyro-Glu", -17.026549, -17.0305, "H(-3)N(-1)"},
		{"Glu->pyro-Glu", -18.010565, -18.0153, "H(-2)O(-1)"},
		{"GlyGly", 114.042927, 114.1026, "H(6)C(4)N(2)O(2)"},
		{"Methyl", 14.01565, 14.0266, "H(2)C(1)"},
		{"Oxidation", 15.994915, 15.9994, "O(1)"},
		{"Phospho", 79.966331, 79.9799, "H(1)O(3)P(1)"},
		{"TMT6plex", 229.162932, 229.2634, "H(20)C(8)13C(4)N(1)15N(1)O(2)"},
		{"TMTpro", 304.207146, 304.3127, "H(25)C(8)13C(7)N(1)15N(2)O(3)"},
		{"iTRAQ4plex", 144.102063, 144.1544, "H(12)C(4)13C(3)N(1)15N(1)O(1)"},
	} {
		db.Add(def)
	}

	return db
}
