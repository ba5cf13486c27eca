// Package pattern implements the glob syntax shared by the tag filters.
//
// Patterns are anchored and case-sensitive: `*` matches any run of
// characters (including none), `?` matches exactly one character, and
// every other character matches itself literally.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a compiled glob expression.
type Pattern struct {
	raw string
	re  *regexp.Regexp
}

// Compile translates a glob into an anchored regular expression.
func Compile(glob string) (*Pattern, error) {
	if glob == "" {
		return nil, fmt.Errorf("empty pattern")
	}

	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", glob, err)
	}
	return &Pattern{raw: glob, re: re}, nil
}

// CompileAll compiles a list of globs, failing on the first invalid one.
func CompileAll(globs []string) ([]*Pattern, error) {
	patterns := make([]*Pattern, 0, len(globs))
	for _, g := range globs {
		p, err := Compile(g)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// Match reports whether s matches the whole pattern.
func (p *Pattern) Match(s string) bool {
	return p.re.MatchString(s)
}

// String returns the original glob text.
func (p *Pattern) String() string {
	return p.raw
}

// MatchAny reports whether s matches at least one of the patterns.
func MatchAny(patterns []*Pattern, s string) bool {
	for _, p := range patterns {
		if p.Match(s) {
			return true
		}
	}
	return false
}
