package text

import (
	"regexp"
	"slices"
	"strings"
)

// ScoreIncrement is the score a document earns for each search term or
// phrase it contains
const ScoreIncrement = 0.75

var quoted = regexp.MustCompile(`"\s*([^"]*?)\s*"`)

// Search is a parsed $search string. Words and the words of quoted phrases
// are OR'ed; a document containing a negated word never matches.
type Search struct {
	Raw     string
	Terms   []string
	Phrases []Phrase
	Negated []string
}

// Phrase is a quoted part of a search string
type Phrase struct {
	Text    string
	pattern *regexp.Regexp
}

// Matches reports whether s contains the phrase as whole words, ignoring
// case
func (p Phrase) Matches(s string) bool {
	return p.pattern.MatchString(s)
}

// ParseSearch splits a search string into terms, quoted phrases and
// negated words ("-word")
func (a *Analyzer) ParseSearch(search string) Search {
	s := Search{Raw: search}
	for _, m := range quoted.FindAllStringSubmatch(search, -1) {
		if m[1] == "" {
			continue
		}
		s.Phrases = append(s.Phrases, Phrase{
			Text:    m[1],
			pattern: regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}])` + regexp.QuoteMeta(m[1]) + `($|[^\p{L}\p{N}])`),
		})
		s.Terms = appendTerms(s.Terms, a.Analyze(m[1]))
	}

	for _, word := range strings.Fields(quoted.ReplaceAllString(search, " ")) {
		if rest, ok := strings.CutPrefix(word, "-"); ok {
			s.Negated = appendTerms(s.Negated, a.Analyze(rest))
			continue
		}
		s.Terms = appendTerms(s.Terms, a.Analyze(word))
	}

	// a word both wanted and negated stays negated
	s.Terms = slices.DeleteFunc(s.Terms, func(t string) bool { return slices.Contains(s.Negated, t) })
	return s
}

func appendTerms(dst []string, terms []string) []string {
	for _, t := range terms {
		if !slices.Contains(dst, t) {
			dst = append(dst, t)
		}
	}
	return dst
}

// IsEmpty reports whether the search has nothing that could match
func (s Search) IsEmpty() bool {
	return len(s.Terms) == 0 && len(s.Phrases) == 0
}

// Score scores the text values of a document: ScoreIncrement for every
// term and phrase found, zero when nothing is found or a negated word is
// present
func (s Search) Score(a *Analyzer, texts []string) float64 {
	if s.IsEmpty() {
		return 0
	}
	terms := make(map[string]bool)
	for _, t := range texts {
		for _, term := range a.Analyze(t) {
			terms[term] = true
		}
	}
	for _, neg := range s.Negated {
		if terms[neg] {
			return 0
		}
	}

	score := 0.0
	for _, term := range s.Terms {
		if terms[term] {
			score += ScoreIncrement
		}
	}
	for _, p := range s.Phrases {
		if slices.ContainsFunc(texts, p.Matches) {
			score += ScoreIncrement
		}
	}
	return score
}
