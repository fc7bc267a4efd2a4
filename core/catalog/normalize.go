package catalog

import (
	"regexp"
	"strings"
)

var (
	// "(feat. X)", "ft. X", "featuring X" and everything after
	featMarker = regexp.MustCompile(`(?i)[\(\[\-\s]+(feat\.?|ft\.?|featuring)\s.*$`)
	// trailing qualifiers like "(remastered 2011)" or "[live]"
	trailingTag = regexp.MustCompile(`(?i)[\(\[](remaster(ed)?( \d{4})?|live|bonus track|explicit|single version)[\)\]]\s*$`)
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Normalize canonicalizes a title or artist string: case-folded,
// features-marker suffixes and trailing edition tags stripped,
// punctuation removed, whitespace collapsed. Equivalent tracks from
// different catalog entries normalize to the same string so their
// cache keys converge when durations agree.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = featMarker.ReplaceAllString(s, "")
	s = trailingTag.ReplaceAllString(s, "")
	s = punctuation.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
