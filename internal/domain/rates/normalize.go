package rates

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"and": {}, "of": {}, "the": {}, "to": {}, "for": {}, "with": {},
}

// synonyms folds trade wording onto one token. Targets must never be keys
// here or stop-words, otherwise Normalize stops being idempotent.
var synonyms = map[string]string{
	"scraping": "excavation",
	"scrape":   "excavation",
	"dispose":  "removal",
	"disposal": "removal",
	"pourings": "pour",
	"pouring":  "pour",
	"sqm":      "m2",
	"square":   "m2",
}

// letters, combining marks, digits, underscore and whitespace survive
var punct = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_\s]+`)

var lower = cases.Lower(language.Und)

// Normalize turns a free-text line name into its matching key.
// An empty result means no match is possible.
func Normalize(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	s := lower.String(norm.NFKC.String(name))
	s = punct.ReplaceAllString(s, " ")

	fields := strings.Fields(s)
	out := fields[:0]
	for _, t := range fields {
		if syn, ok := synonyms[t]; ok {
			t = syn
		}
		if _, stop := stopWords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return strings.Join(out, " ")
}

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
