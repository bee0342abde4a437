package features

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	longDigitRun     = regexp.MustCompile(`\d{5,}`)
	letterDigitPairs = regexp.MustCompile(`[a-z]{2}\d{2,}[a-z]{2}\d{2,}`)
	consonantRun     = regexp.MustCompile(`[bcdfghjklmnpqrstvwxz]{5,}`)
)

// minTransitionLength is the shortest username checked for class churn.
const minTransitionLength = 8

// IsRandomUsername reports whether a username looks machine generated: long digit
// runs, letter/digit interleaving, unpronounceable consonant runs, or frequent
// switches between letters and digits.
func IsRandomUsername(username string) bool {
	lower := strings.ToLower(username)
	if longDigitRun.MatchString(lower) || letterDigitPairs.MatchString(lower) || consonantRun.MatchString(lower) {
		return true
	}
	return utf8.RuneCountInString(lower) >= minTransitionLength && classTransitions(lower) >= 4
}

// classTransitions counts letter<->digit switches, ignoring other characters.
func classTransitions(s string) int {
	const (
		none = iota
		letter
		digit
	)
	prev, n := none, 0
	for _, r := range s {
		cur := none
		switch {
		case unicode.IsLetter(r):
			cur = letter
		case unicode.IsDigit(r):
			cur = digit
		default:
			continue
		}
		if prev != none && cur != prev {
			n++
		}
		prev = cur
	}
	return n
}
