package differ

// sentenceTerminators are the boundary characters this pipeline normalizes
// on (spec §4.3, Open Question i: the original source used different
// heuristics in different modules; this repository picks one and applies it
// everywhere).
var sentenceTerminators = map[rune]bool{
	'。': true,
	'！': true,
	'？': true,
}

// sentenceBoundaries returns, in ascending order, the rune-count position
// immediately after each sentence terminator in text.
func sentenceBoundaries(text []rune) []int {
	var bounds []int
	for i, r := range text {
		if sentenceTerminators[r] {
			bounds = append(bounds, i+1)
		}
	}
	return bounds
}

// nearestBoundaryAtMost returns the largest sentence boundary <= limit, or 0
// if the text has no terminator within that range.
func nearestBoundaryAtMost(text []rune, limit int) int {
	best := 0
	for _, b := range sentenceBoundaries(text) {
		if b > limit {
			break
		}
		best = b
	}
	return best
}

// commonPrefixLen returns the length, in runes, of the longest common
// prefix of a and b.
func commonPrefixLen(a, b []rune) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
