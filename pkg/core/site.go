package core

// ModifiedSite returns the residue symbol a modification sits on: '(' for the
// N terminus, ')' for the C terminus, otherwise the protein residue at
// instanceOffset+modOffset. It returns 0 when the residue is outside the sequence.
func ModifiedSite(proteinSequence string, instanceOffset, modOffset int) rune {
	switch modOffset {
	case NTerminusOffset:
		return '('
	case CTerminusOffset:
		return ')'
	}
	i := instanceOffset + modOffset
	if i < 0 || i >= len(proteinSequence) {
		return 0
	}
	return rune(proteinSequence[i])
}

// PeptideSite is like ModifiedSite but reads the residue from the peptide sequence itself.
func PeptideSite(peptideSequence string, modOffset int) rune {
	return ModifiedSite(peptideSequence, 0, modOffset)
}
