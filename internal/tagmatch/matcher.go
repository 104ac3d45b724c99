package tagmatch

import (
	"regexp"
	"strings"

	"media-vault/internal/logging"
	"media-vault/internal/metrics"
)

// Target identifies which candidate string a mapping matches against.
type Target uint8

const (
	// TargetFileName matches against the file's base name.
	TargetFileName Target = 1 << iota
	// TargetFolderName matches against the containing folder name(s).
	TargetFolderName
	// TargetDiffusionParams matches against embedded generation metadata.
	TargetDiffusionParams

	// TargetAll matches against every candidate string.
	TargetAll = TargetFileName | TargetFolderName | TargetDiffusionParams
)

// Has reports whether t includes the given target.
func (t Target) Has(target Target) bool {
	return t&target != 0
}

// Mapping binds a user-authored regular expression to a tag.
type Mapping struct {
	Pattern string
	TagID   int64
	Targets Target
}

// compiled is a mapping whose pattern compiled successfully.
type compiled struct {
	re      *regexp.Regexp
	tagID   int64
	targets Target
}

// Matcher evaluates a fixed set of mappings against candidate strings.
// Mappings whose pattern fails to compile are skipped, not fatal: the
// patterns are user-edited and a typo must never fail an import.
type Matcher struct {
	mappings []compiled
	skipped  []Mapping
}

// New compiles the given mappings into a Matcher. Every pattern is compiled
// case-insensitive and multiline. Invalid patterns are recorded and skipped.
func New(mappings []Mapping) *Matcher {
	m := &Matcher{}
	for _, mapping := range mappings {
		re, err := regexp.Compile("(?im)" + mapping.Pattern)
		if err != nil {
			logging.Warn("tag regex %q (tag %d) failed to compile, skipping: %v",
				mapping.Pattern, mapping.TagID, err)
			metrics.TagRegexSkippedMappings.Inc()
			m.skipped = append(m.skipped, mapping)
			continue
		}
		m.mappings = append(m.mappings, compiled{
			re:      re,
			tagID:   mapping.TagID,
			targets: mapping.Targets,
		})
	}
	return m
}

// Match returns the tag ids of every mapping whose pattern matches candidate
// and whose targets include target. The result preserves mapping order and
// contains no duplicates.
func (m *Matcher) Match(candidate string, target Target) []int64 {
	if candidate == "" {
		return nil
	}

	var ids []int64
	seen := make(map[int64]bool)
	for _, mapping := range m.mappings {
		if !mapping.targets.Has(target) {
			continue
		}
		if seen[mapping.tagID] {
			continue
		}
		if mapping.re.MatchString(candidate) {
			ids = append(ids, mapping.tagID)
			seen[mapping.tagID] = true
		}
	}
	return ids
}

// SkippedMappings returns the mappings that were dropped due to compile errors.
func (m *Matcher) SkippedMappings() []Mapping {
	return m.skipped
}

// Len returns the number of usable (compiled) mappings.
func (m *Matcher) Len() int {
	return len(m.mappings)
}

// separator matches the characters treated as interchangeable token
// boundaries inside labels: "foo bar", "foo_bar", "foo-bar" and "foo.bar"
// must all match the same pattern.
var separator = regexp.MustCompile(`[\s_.\-]+`)

// flexibleBoundary is the pattern inserted between label tokens.
const flexibleBoundary = `[\s_.\-]+`

// PatternFromLabel builds the canonical pattern for a tag's label and
// aliases: literal text, regexp-escaped, with whitespace and punctuation
// runs normalized to a single flexible token boundary, wrapped in word
// boundaries, and alternated across the label and all aliases.
func PatternFromLabel(label string, aliases []string) string {
	var alternates []string
	for _, text := range append([]string{label}, aliases...) {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		tokens := separator.Split(text, -1)
		escaped := make([]string, 0, len(tokens))
		for _, token := range tokens {
			if token == "" {
				continue
			}
			escaped = append(escaped, regexp.QuoteMeta(token))
		}
		if len(escaped) == 0 {
			continue
		}
		alternates = append(alternates, strings.Join(escaped, flexibleBoundary))
	}

	if len(alternates) == 0 {
		return ""
	}
	if len(alternates) == 1 {
		return `\b` + alternates[0] + `\b`
	}
	return `\b(?:` + strings.Join(alternates, "|") + `)\b`
}
