package text

import (
	"reflect"
	"testing"
)

func TestTokenization(t *testing.T) {
	analyzer := NewAnalyzer()

	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "Simple text",
			input:    "The quick brown fox",
			expected: []string{"quick", "brown", "fox"},
		},
		{
			name:     "With punctuation",
			input:    "Hello, world! How are you?",
			expected: []string{"hello", "world"},
		},
		{
			name:     "Mixed case",
			input:    "MongoDB is a Database",
			expected: []string{"mongodb", "databas"},
		},
		{
			name:     "Numbers",
			input:    "Version 2024 release",
			expected: []string{"version", "2024", "releas"},
		},
		{
			name:     "Only stop words",
			input:    "the a an and or but",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := analyzer.Analyze(tt.input)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestStemming(t *testing.T) {
	stemmer := NewPorterStemmer()

	tests := []struct {
		input    string
		expected string
	}{
		{"cats", "cat"},
		{"caresses", "caress"},
		{"ponies", "poni"},
		{"running", "run"},
		{"hopping", "hop"},
		{"jumped", "jump"},
		{"relational", "relat"},
		{"goodness", "good"},
		{"happiness", "happi"},
		{"databases", "databas"},
		{"indexing", "index"},
		{"computing", "comput"},
		{"developer", "develop"},
		{"go", "go"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := stemmer.Stem(tt.input); result != tt.expected {
				t.Errorf("Stem(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestStemmingIsStable(t *testing.T) {
	stemmer := NewPorterStemmer()
	first := stemmer.Stem("rationalization")
	for i := 0; i < 50; i++ {
		if got := stemmer.Stem("rationalization"); got != first {
			t.Fatalf("Expected a stable stem %q, got %q", first, got)
		}
	}
}

func TestAnalyzerWithPositions(t *testing.T) {
	analyzer := NewAnalyzer()

	positions := analyzer.AnalyzeWithPositions("The quick brown fox jumps")

	expected := []TokenPosition{
		{Token: "quick", Position: 1},
		{Token: "brown", Position: 2},
		{Token: "fox", Position: 3},
		{Token: "jump", Position: 4},
	}
	if !reflect.DeepEqual(positions, expected) {
		t.Errorf("Expected %v, got %v", expected, positions)
	}
}

func TestShortWords(t *testing.T) {
	analyzer := NewAnalyzer()

	tokens := analyzer.Analyze("I am a go developer")

	expected := []string{"go", "develop"}
	if !reflect.DeepEqual(tokens, expected) {
		t.Errorf("Expected %v, got %v", expected, tokens)
	}

	if _, ok := analyzer.Term("x"); ok {
		t.Error("Expected a single letter to be dropped")
	}
	if term, ok := analyzer.Term("Databases"); !ok || term != "databas" {
		t.Errorf("Expected databas, got %q", term)
	}
}
