// Package tokens provides pure functions for build token substitution.
//
// Tokens are delimited markers such as {{SiteDomain}} or {{VERSION}}. All
// functions here are pure (no I/O); the imperative shell
// (internal/shell/substitute) applies them to files on disk.
//
// # Usage
//
//	out := tokens.Apply(content, replacements)
//	matcher, err := tokens.CompilePattern(tokens.DefaultStampPattern)
package tokens

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/artpar/maiden/internal/core/domain"
)

// =============================================================================
// Token Format
// =============================================================================

const (
	// Open starts a token.
	Open = "{{"
	// Close ends a token.
	Close = "}}"
)

// DefaultStampPattern selects the files stamped with build metadata.
const DefaultStampPattern = `\.(php|js|css|json|tpl|html|twig)$`

// Marker returns the delimited form of name.
//
// Example:
//
//	Marker("SiteDomain") // returns "{{SiteDomain}}"
func Marker(name string) string {
	return Open + name + Close
}

// =============================================================================
// Substitution
// =============================================================================

// Apply replaces every marker of every token in set with its value.
//
// Behavior:
//   - Matching is literal and case-sensitive
//   - The content is scanned once, left to right; substituted values are never
//     re-scanned, so a value containing a marker is emitted verbatim
//   - Markers with no entry in set are left unchanged
//
// Examples:
//
//	Apply("ServerName {{SiteDomain}}", domain.Replacements{{Token: "SiteDomain", Value: "shop.test"}})
//	// Returns: "ServerName shop.test"
//
//	Apply("{{MISSING}}", nil)
//	// Returns: "{{MISSING}}"
func Apply(content string, set domain.Replacements) string {
	if len(set) == 0 || !strings.Contains(content, Open) {
		return content
	}
	return replacer(set).Replace(content)
}

// ApplyBytes is Apply for file contents.
func ApplyBytes(content []byte, set domain.Replacements) []byte {
	return []byte(Apply(string(content), set))
}

func replacer(set domain.Replacements) *strings.Replacer {
	pairs := make([]string, 0, len(set)*2)
	for _, rep := range set {
		pairs = append(pairs, Marker(rep.Token), rep.Value)
	}
	return strings.NewReplacer(pairs...)
}

// Unresolved returns the names of markers left in content, in order of first
// appearance.
func Unresolved(content string) []string {
	matches := markerRegex.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// markerRegex matches {{NAME}} markers. Group 1 is the token name.
var markerRegex = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_-]*)\}\}`)

// =============================================================================
// File Patterns
// =============================================================================

// CompilePattern compiles a case-insensitive file name pattern.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = DefaultStampPattern
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile file pattern %q: %w", pattern, err)
	}
	return re, nil
}
