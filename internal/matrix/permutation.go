package matrix

// Permutation maps original row or column indices to display indices.
// Indices outside the permutation map to themselves.
type Permutation struct {
	toDisplay  []int
	toOriginal []int
}

// NewPermutation builds a permutation from display[original]. It returns
// false when display is not a permutation of 0..len(display)-1.
func NewPermutation(display []int) (*Permutation, bool) {
	inv := make([]int, len(display))
	seen := make([]bool, len(display))
	for orig, d := range display {
		if d < 0 || d >= len(display) || seen[d] {
			return nil, false
		}
		seen[d] = true
		inv[d] = orig
	}
	return &Permutation{
		toDisplay:  append([]int(nil), display...),
		toOriginal: inv,
	}, true
}

// Len returns the number of permuted indices.
func (p *Permutation) Len() int {
	if p == nil {
		return 0
	}
	return len(p.toDisplay)
}

// Display maps an original index to its display index.
func (p *Permutation) Display(original int) int {
	if p == nil || original < 0 || original >= len(p.toDisplay) {
		return original
	}
	return p.toDisplay[original]
}

// Original maps a display index back to the original index.
func (p *Permutation) Original(display int) int {
	if p == nil || display < 0 || display >= len(p.toOriginal) {
		return display
	}
	return p.toOriginal[display]
}
