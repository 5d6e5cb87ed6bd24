package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// stopWords are dropped when they stand alone as a word.
var stopWords = map[string]bool{
	"tv":        true,
	"тв":        true,
	"channel":   true,
	"канал":     true,
	"телеканал": true,
	"network":   true,
	"hd":        true,
}

var folder = cases.Fold()

// fold returns the case-folded form used for case-insensitive comparison.
func fold(s string) string {
	return folder.String(s)
}

func isLetter(r rune) bool {
	return unicode.IsLetter(r) || unicode.Is(unicode.Nl, r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// isWord reports whether r is part of a word for boundary purposes.
func isWord(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func isStripped(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r) || (r < unicode.MaxASCII && unicode.IsSymbol(r))
}

// splitLetterDigit inserts a space at every letter/digit boundary, so "BBC1"
// and "1TV" become "BBC 1" and "1 TV".
func splitLetterDigit(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 4)
	prev := rune(-1)
	for _, r := range s {
		if prev >= 0 && ((isLetter(prev) && isDigit(r)) || (isDigit(prev) && isLetter(r))) {
			sb.WriteByte(' ')
		}
		sb.WriteRune(r)
		prev = r
	}
	return sb.String()
}

// Normalize reduces a channel name to the form compared by edit distance:
// letter/digit runs are separated, stand-alone stop words are dropped and
// all punctuation and whitespace is removed. Case is preserved.
func Normalize(name string) string {
	runes := []rune(splitLetterDigit(name))
	var sb strings.Builder
	sb.Grow(len(name))
	for i := 0; i < len(runes); {
		r := runes[i]
		if !isWord(r) {
			if !isStripped(r) {
				sb.WriteRune(r)
			}
			i++
			continue
		}
		j := i
		for j < len(runes) && isWord(runes[j]) {
			j++
		}
		word := string(runes[i:j])
		if !stopWords[fold(word)] {
			for _, wr := range runes[i:j] {
				if !isStripped(wr) {
					sb.WriteRune(wr)
				}
			}
		}
		i = j
	}
	return sb.String()
}

// containsWord reports whether needle occurs in haystack, ignoring case, with
// a word boundary on both sides. An empty needle never matches.
func containsWord(needle, haystack string) bool {
	n := []rune(needle)
	h := []rune(haystack)
	if len(n) == 0 || len(n) > len(h) {
		return false
	}
	for i := 0; i+len(n) <= len(h); i++ {
		if !runesEqualFold(h[i:i+len(n)], n) {
			continue
		}
		before := i == 0 || !isWord(h[i-1])
		after := i+len(n) == len(h) || !isWord(h[i+len(n)])
		if boundary(before, isWord(n[0])) && boundary(after, isWord(n[len(n)-1])) {
			return true
		}
	}
	return false
}

// boundary reports whether a word boundary separates a neighbour (given as
// "is not a word character") from the adjacent needle rune.
func boundary(neighbourNonWord, edgeIsWord bool) bool {
	return neighbourNonWord == edgeIsWord
}

func runesEqualFold(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !runeEqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

func runeEqualFold(a, b rune) bool {
	if a == b {
		return true
	}
	return unicode.ToLower(a) == unicode.ToLower(b) || unicode.ToUpper(a) == unicode.ToUpper(b)
}

// containsFold reports whether sub occurs in s, ignoring case.
func containsFold(s, sub string) bool {
	return strings.Contains(fold(s), fold(sub))
}
