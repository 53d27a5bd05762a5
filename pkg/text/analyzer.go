// Package text implements the analysis behind text indexes: tokenizing,
// stop word removal and stemming, $search string parsing, scoring and an
// inverted index from terms to document ids.
package text

import (
	"strings"
	"unicode"
)

// Analyzer turns text into normalized terms
type Analyzer struct {
	stopWords map[string]bool
	stemmer   *PorterStemmer
}

// NewAnalyzer creates an analyzer with the English stop word list
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		stopWords: defaultStopWords(),
		stemmer:   NewPorterStemmer(),
	}
}

// Analyze returns the terms of text in order, repeats included
func (a *Analyzer) Analyze(text string) []string {
	var result []string
	for _, tp := range a.AnalyzeWithPositions(text) {
		result = append(result, tp.Token)
	}
	return result
}

// AnalyzeWithPositions returns the terms of text with the position of the
// word they came from. Dropped words still advance the position.
func (a *Analyzer) AnalyzeWithPositions(text string) []TokenPosition {
	var result []TokenPosition
	for pos, word := range tokenize(text) {
		if term, ok := a.normalize(word); ok {
			result = append(result, TokenPosition{Token: term, Position: pos})
		}
	}
	return result
}

// Term normalizes a single word, reporting false for stop words and words
// too short to index
func (a *Analyzer) Term(word string) (string, bool) {
	return a.normalize(word)
}

func (a *Analyzer) normalize(word string) (string, bool) {
	word = strings.ToLower(word)
	if len(word) < 2 || a.stopWords[word] {
		return "", false
	}
	return a.stemmer.Stem(word), true
}

// TokenPosition is a term and the index of the word it was derived from
type TokenPosition struct {
	Token    string
	Position int
}

// tokenize splits text on every rune that is neither a letter nor a number
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool { return !IsWord(r) })
}

// IsWord checks if a rune is a letter or number
func IsWord(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

func defaultStopWords() map[string]bool {
	words := []string{
		"a", "an", "and", "are", "as", "at", "be", "but", "by",
		"for", "if", "in", "into", "is", "it", "no", "not", "of",
		"on", "or", "such", "that", "the", "their", "then", "there",
		"these", "they", "this", "to", "was", "will", "with",
		"i", "you", "he", "she", "we", "me", "him", "her",
		"us", "them", "what", "which", "who", "when", "where", "why",
		"how", "all", "each", "every", "both", "few", "more", "most",
		"other", "some", "can", "could", "may", "might", "must",
		"shall", "should", "would", "am", "been", "being", "have",
		"has", "had", "do", "does", "did", "doing",
	}

	stopWords := make(map[string]bool, len(words))
	for _, word := range words {
		stopWords[word] = true
	}
	return stopWords
}
