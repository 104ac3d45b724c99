package importer

import (
	"path/filepath"
	"strings"
	"sync"

	"media-vault/internal/taggraph"
	"media-vault/internal/tagmatch"
)

// TagResolver combines caller-requested tags with regex matches and expands
// the result with graph ancestors for the denormalized closure.
type TagResolver struct {
	mu      sync.RWMutex
	matcher *tagmatch.Matcher
	graph   *taggraph.Graph
}

// NewTagResolver creates a resolver over the given matcher and graph.
func NewTagResolver(matcher *tagmatch.Matcher, graph *taggraph.Graph) *TagResolver {
	return &TagResolver{matcher: matcher, graph: graph}
}

// UpdateMatcher swaps in a rebuilt matcher after tag mappings change.
// In-flight resolutions finish against the matcher they started with.
func (r *TagResolver) UpdateMatcher(matcher *tagmatch.Matcher) {
	r.mu.Lock()
	r.matcher = matcher
	r.mu.Unlock()
}

// Resolve returns the direct tag set for a file (requested tags first, then
// regex matches in mapping order, deduplicated) and the same set expanded
// with every ancestor.
func (r *TagResolver) Resolve(path, embeddedText string, requested []int64) (direct, withAncestors []int64) {
	r.mu.RLock()
	matcher := r.matcher
	r.mu.RUnlock()

	seen := make(map[int64]struct{})
	add := func(ids []int64) {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			direct = append(direct, id)
		}
	}

	add(requested)
	add(matcher.Match(filepath.Base(path), tagmatch.TargetFileName))
	add(matcher.Match(folderCandidates(path), tagmatch.TargetFolderName))
	add(matcher.Match(embeddedText, tagmatch.TargetDiffusionParams))

	closure := make(map[int64]struct{}, len(direct))
	for _, id := range direct {
		closure[id] = struct{}{}
		for _, ancestor := range r.graph.AncestorsOf(id) {
			closure[ancestor] = struct{}{}
		}
	}
	withAncestors = make([]int64, 0, len(closure))
	for _, id := range direct {
		withAncestors = append(withAncestors, id)
		delete(closure, id)
	}
	for id := range closure {
		withAncestors = append(withAncestors, id)
	}
	return direct, withAncestors
}

// folderCandidates joins the path's directory names into one matchable
// string, deepest last.
func folderCandidates(path string) string {
	dir := filepath.Dir(path)
	if dir == "." || dir == string(filepath.Separator) {
		return ""
	}
	parts := strings.Split(dir, string(filepath.Separator))
	var nonEmpty []string
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, " ")
}
