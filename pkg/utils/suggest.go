package utils

import "sort"

// EditDistance returns the Damerau-Levenshtein distance between a and b
// (optimal string alignment: insertions, deletions, substitutions and
// adjacent transpositions each cost one edit).
func EditDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	d := make([][]int, len(ra)+1)
	for i := range d {
		d[i] = make([]int, len(rb)+1)
		d[i][0] = i
	}
	for j := range d[0] {
		d[0][j] = j
	}
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d[i][j] = min(d[i-1][j]+1, d[i][j-1]+1, d[i-1][j-1]+cost)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				d[i][j] = min(d[i][j], d[i-2][j-2]+1)
			}
		}
	}
	return d[len(ra)][len(rb)]
}

// Suggest returns the candidate closest to input, or "" when none is within
// a third of the input's length (at least one edit). Ties go to the
// alphabetically first candidate.
func Suggest(input string, candidates []string) string {
	if input == "" || len(candidates) == 0 {
		return ""
	}
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)

	maxDist := max(1, len([]rune(input))/3)
	best, bestDist := "", maxDist+1
	for _, c := range sorted {
		if c == input {
			continue
		}
		if dist := EditDistance(input, c); dist < bestDist {
			best, bestDist = c, dist
		}
	}
	return best
}
