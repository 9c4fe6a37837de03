package conflict

import "strings"

// hunk is one replaced region: base lines [baseLo, baseHi) were replaced by
// other lines [otherLo, otherHi).
type hunk struct {
	baseLo, baseHi   int
	otherLo, otherHi int
}

// Merge3 performs a three-way text merge of two derived versions against
// their common base. It returns the merged text and whether the merge was
// clean. On overlapping edits with differing content the merge is not
// clean and the base region is kept untouched; callers route such files to
// manual resolution rather than emitting conflict markers.
func Merge3(base, a, b string) (string, bool) {
	// Fast paths cover the common cases where only one side edited.
	if a == b {
		return a, true
	}
	if a == base {
		return b, true
	}
	if b == base {
		return a, true
	}

	baseLines := splitLines(base)
	aLines := splitLines(a)
	bLines := splitLines(b)

	hunksA := diffHunks(baseLines, aLines)
	hunksB := diffHunks(baseLines, bLines)

	var out []string
	clean := true
	basePos := 0
	ia, ib := 0, 0

	for ia < len(hunksA) || ib < len(hunksB) {
		var ha, hb *hunk
		if ia < len(hunksA) {
			ha = &hunksA[ia]
		}
		if ib < len(hunksB) {
			hb = &hunksB[ib]
		}

		switch {
		case hb == nil || (ha != nil && ha.baseHi < hb.baseLo):
			// A's edit is entirely before B's next edit.
			out = append(out, baseLines[basePos:ha.baseLo]...)
			out = append(out, aLines[ha.otherLo:ha.otherHi]...)
			basePos = ha.baseHi
			ia++
		case ha == nil || (hb != nil && hb.baseHi < ha.baseLo):
			out = append(out, baseLines[basePos:hb.baseLo]...)
			out = append(out, bLines[hb.otherLo:hb.otherHi]...)
			basePos = hb.baseHi
			ib++
		default:
			// Overlapping edits. Coalesce every hunk from either side that
			// touches the region, then compare the replacements: identical
			// edits merge cleanly, anything else is a true conflict.
			lo := min(ha.baseLo, hb.baseLo)
			hi := max(ha.baseHi, hb.baseHi)
			firstA, firstB := ia, ib
			for {
				grew := false
				for ia < len(hunksA) && hunksA[ia].baseLo <= hi {
					hi = max(hi, hunksA[ia].baseHi)
					ia++
					grew = true
				}
				for ib < len(hunksB) && hunksB[ib].baseLo <= hi {
					hi = max(hi, hunksB[ib].baseHi)
					ib++
					grew = true
				}
				if !grew {
					break
				}
			}

			sameShape := ia-firstA == 1 && ib-firstB == 1 &&
				hunksA[firstA].baseLo == hunksB[firstB].baseLo &&
				hunksA[firstA].baseHi == hunksB[firstB].baseHi
			aText := strings.Join(aLines[hunksA[firstA].otherLo:hunksA[ia-1].otherHi], "\n")
			bText := strings.Join(bLines[hunksB[firstB].otherLo:hunksB[ib-1].otherHi], "\n")

			out = append(out, baseLines[basePos:lo]...)
			if sameShape && aText == bText {
				out = append(out, aLines[hunksA[firstA].otherLo:hunksA[firstA].otherHi]...)
			} else {
				clean = false
				out = append(out, baseLines[lo:hi]...)
			}
			basePos = hi
		}
	}
	out = append(out, baseLines[basePos:]...)

	return joinLines(out, base, a, b), clean
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func joinLines(lines []string, base, a, b string) string {
	joined := strings.Join(lines, "\n")
	if joined == "" {
		return joined
	}
	// Preserve a trailing newline when any input had one.
	if strings.HasSuffix(base, "\n") || strings.HasSuffix(a, "\n") || strings.HasSuffix(b, "\n") {
		joined += "\n"
	}
	return joined
}

// diffHunks computes the replaced regions turning base into other, based on
// a longest-common-subsequence alignment. Inputs here are source files, so
// the quadratic table is acceptable.
func diffHunks(base, other []string) []hunk {
	n, m := len(base), len(other)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if base[i] == other[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var hunks []hunk
	i, j := 0, 0
	for i < n || j < m {
		if i < n && j < m && base[i] == other[j] {
			i++
			j++
			continue
		}
		h := hunk{baseLo: i, otherLo: j}
		for i < n || j < m {
			if i < n && j < m && base[i] == other[j] {
				break
			}
			if i < n && (j >= m || lcs[i+1][j] >= lcs[i][j+1]) {
				i++
			} else {
				j++
			}
		}
		h.baseHi = i
		h.otherHi = j
		hunks = append(hunks, h)
	}
	return hunks
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
