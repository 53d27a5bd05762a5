package text

import (
	"strings"
	"unicode"
)

// PorterStemmer implements the Porter stemming algorithm for English words
type PorterStemmer struct{}

// NewPorterStemmer creates a new Porter stemmer
func NewPorterStemmer() *PorterStemmer {
	return &PorterStemmer{}
}

type rule struct {
	suffix      string
	replacement string
}

// Suffix tables are ordered longest first; the first suffix a word ends
// with decides the step.
var (
	step2Rules = []rule{
		{"ational", "ate"}, {"ization", "ize"}, {"iveness", "ive"},
		{"fulness", "ful"}, {"ousness", "ous"}, {"tional", "tion"},
		{"biliti", "ble"}, {"entli", "ent"}, {"ousli", "ous"},
		{"ation", "ate"}, {"alism", "al"}, {"aliti", "al"},
		{"iviti", "ive"}, {"enci", "ence"}, {"anci", "ance"},
		{"izer", "ize"}, {"alli", "al"}, {"ator", "ate"}, {"eli", "e"},
	}
	step3Rules = []rule{
		{"icate", "ic"}, {"ative", ""}, {"alize", "al"}, {"iciti", "ic"},
		{"ical", "ic"}, {"ness", ""}, {"ful", ""},
	}
	step4Suffixes = []string{
		"ement", "ance", "ence", "able", "ible", "ment", "ant", "ent",
		"ism", "ate", "iti", "ous", "ive", "ize", "ion", "al", "er", "ic", "ou",
	}
)

// Stem reduces a word to its stem
func (ps *PorterStemmer) Stem(word string) string {
	word = strings.ToLower(word)

	// Don't stem very short words
	if len(word) < 3 {
		return word
	}

	word = ps.step1a(word)
	word = ps.step1b(word)
	word = ps.step1c(word)
	word = ps.replaceSuffix(word, step2Rules)
	word = ps.replaceSuffix(word, step3Rules)
	word = ps.step4(word)
	return ps.step5(word)
}

// step1a handles plurals
func (ps *PorterStemmer) step1a(word string) string {
	switch {
	case strings.HasSuffix(word, "sses"), strings.HasSuffix(word, "ies"):
		return word[:len(word)-2]
	case strings.HasSuffix(word, "ss"):
		return word
	case strings.HasSuffix(word, "s") && len(word) > 3:
		return word[:len(word)-1]
	}
	return word
}

// step1b handles -eed, -ed and -ing
func (ps *PorterStemmer) step1b(word string) string {
	if strings.HasSuffix(word, "eed") {
		if ps.measure(word[:len(word)-3]) > 0 {
			return word[:len(word)-1]
		}
		return word
	}

	for _, suffix := range []string{"ed", "ing"} {
		if !strings.HasSuffix(word, suffix) {
			continue
		}
		stem := word[:len(word)-len(suffix)]
		if ps.containsVowel(stem) {
			return ps.step1bHelper(stem)
		}
		return word
	}
	return word
}

// step1bHelper tidies a stem after -ed or -ing removal
func (ps *PorterStemmer) step1bHelper(word string) string {
	// at -> ate, bl -> ble, iz -> ize
	if strings.HasSuffix(word, "at") || strings.HasSuffix(word, "bl") || strings.HasSuffix(word, "iz") {
		return word + "e"
	}

	// hopping -> hop
	if n := len(word); n >= 2 {
		last, prev := word[n-1], word[n-2]
		if last == prev && ps.isConsonant(rune(last)) && last != 'l' && last != 's' && last != 'z' {
			return word[:n-1]
		}
	}

	// hop -> hope
	if ps.measure(word) == 1 && ps.endsWithCVC(word) {
		return word + "e"
	}
	return word
}

// step1c turns a final y into i after a vowel-bearing stem
func (ps *PorterStemmer) step1c(word string) string {
	if strings.HasSuffix(word, "y") {
		stem := word[:len(word)-1]
		if ps.containsVowel(stem) {
			return stem + "i"
		}
	}
	return word
}

func (ps *PorterStemmer) replaceSuffix(word string, rules []rule) string {
	for _, r := range rules {
		if !strings.HasSuffix(word, r.suffix) {
			continue
		}
		stem := word[:len(word)-len(r.suffix)]
		if ps.measure(stem) > 0 {
			return stem + r.replacement
		}
		return word
	}
	return word
}

// step4 strips a final suffix from stems with measure above one
func (ps *PorterStemmer) step4(word string) string {
	for _, suffix := range step4Suffixes {
		if !strings.HasSuffix(word, suffix) {
			continue
		}
		stem := word[:len(word)-len(suffix)]
		if ps.measure(stem) <= 1 {
			return word
		}
		if suffix == "ion" && !strings.HasSuffix(stem, "s") && !strings.HasSuffix(stem, "t") {
			return word
		}
		return stem
	}
	return word
}

// step5 removes a final e and a double l
func (ps *PorterStemmer) step5(word string) string {
	if strings.HasSuffix(word, "e") {
		stem := word[:len(word)-1]
		m := ps.measure(stem)
		if m > 1 || (m == 1 && !ps.endsWithCVC(stem)) {
			return stem
		}
	}

	if strings.HasSuffix(word, "ll") && ps.measure(word) > 1 {
		return word[:len(word)-1]
	}
	return word
}

// measure counts the vowel-consonant sequences of word
func (ps *PorterStemmer) measure(word string) int {
	count := 0
	inVowelSeq := false
	for _, r := range word {
		if ps.isVowel(r) {
			inVowelSeq = true
		} else if inVowelSeq {
			count++
			inVowelSeq = false
		}
	}
	return count
}

func (ps *PorterStemmer) containsVowel(word string) bool {
	return strings.IndexFunc(word, ps.isVowel) >= 0
}

func (ps *PorterStemmer) isVowel(r rune) bool {
	switch unicode.ToLower(r) {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

func (ps *PorterStemmer) isConsonant(r rune) bool {
	return !ps.isVowel(r) && unicode.IsLetter(r)
}

// endsWithCVC reports a consonant-vowel-consonant ending whose last letter
// is not w, x or y
func (ps *PorterStemmer) endsWithCVC(word string) bool {
	runes := []rune(word)
	n := len(runes)
	if n < 3 {
		return false
	}
	last := runes[n-1]
	return ps.isConsonant(runes[n-3]) &&
		ps.isVowel(runes[n-2]) &&
		ps.isConsonant(last) &&
		last != 'w' && last != 'x' && last != 'y'
}
