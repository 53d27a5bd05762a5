package query

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mnohosten/memdb/pkg/dberr"
)

// DefaultRegexCacheSize is the size of the cache shared by compilers that
// are not given one
const DefaultRegexCacheSize = 512

var defaultRegexCache = mustRegexCache(DefaultRegexCacheSize)

// RegexCache keeps compiled patterns keyed by pattern and options
type RegexCache struct {
	cache *lru.Cache[string, *regexp.Regexp]
}

// NewRegexCache creates a cache holding up to size patterns
func NewRegexCache(size int) (*RegexCache, error) {
	if size <= 0 {
		size = DefaultRegexCacheSize
	}
	cache, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		return nil, err
	}
	return &RegexCache{cache: cache}, nil
}

func mustRegexCache(size int) *RegexCache {
	rc, err := NewRegexCache(size)
	if err != nil {
		panic(err)
	}
	return rc
}

// Compile returns the compiled pattern, compiling it on first use
func (rc *RegexCache) Compile(pattern, options string) (*regexp.Regexp, error) {
	key := options + "/" + pattern
	if rx, ok := rc.cache.Get(key); ok {
		return rx, nil
	}

	src, err := translateRegex(pattern, options)
	if err != nil {
		return nil, err
	}
	rx, err := regexp.Compile(src)
	if err != nil {
		return nil, dberr.Compilef("Regular expression is invalid: %v", err)
	}
	rc.cache.Add(key, rx)
	return rx, nil
}

// Len returns the number of cached patterns
func (rc *RegexCache) Len() int {
	return rc.cache.Len()
}

// translateRegex maps the i, m, s and x options onto RE2 flags
func translateRegex(pattern, options string) (string, error) {
	var flags strings.Builder
	extended := false
	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			if !strings.ContainsRune(flags.String(), o) {
				flags.WriteRune(o)
			}
		case 'x':
			extended = true
		case 'u', 'l':
			// unicode and locale are always on in RE2
		default:
			return "", dberr.Compilef("invalid flag in regex options: %c", o)
		}
	}
	if extended {
		pattern = stripExtended(pattern)
	}
	if flags.Len() > 0 {
		return "(?" + flags.String() + ")" + pattern, nil
	}
	return pattern, nil
}

// stripExtended drops unescaped whitespace and # comments outside
// character classes
func stripExtended(pattern string) string {
	var b strings.Builder
	inClass, comment := false, false
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		if comment {
			if ch == '\n' {
				comment = false
			}
			continue
		}
		switch {
		case ch == '\\' && i+1 < len(pattern):
			b.WriteByte(ch)
			b.WriteByte(pattern[i+1])
			i++
			continue
		case ch == '[':
			inClass = true
		case ch == ']':
			inClass = false
		case !inClass && (ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'):
			continue
		case !inClass && ch == '#':
			comment = true
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}
