package taggraph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"media-vault/internal/logging"
	"media-vault/internal/metrics"
)

// ErrCycle is returned when a relation edit would make a tag its own
// ancestor. The graph is never mutated by a rejected edit.
var ErrCycle = errors.New("cycle detected")

// ErrTagNotFound is returned when an operation references an unknown tag id.
var ErrTagNotFound = errors.New("tag not found")

// Edge is a single parent/child relation.
type Edge struct {
	ParentID int64
	ChildID  int64
}

// Graph maintains the tag parent/child adjacency and cached
// ancestor/descendant closures. All mutations are serialized; readers see
// consistent snapshots and never observe a mutation in progress.
type Graph struct {
	mu       sync.RWMutex
	parents  map[int64]map[int64]struct{}
	children map[int64]map[int64]struct{}
	tags     map[int64]struct{}

	// Closure caches, invalidated on mutation and filled lazily.
	ancestorCache   map[int64][]int64
	descendantCache map[int64][]int64
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		parents:         make(map[int64]map[int64]struct{}),
		children:        make(map[int64]map[int64]struct{}),
		tags:            make(map[int64]struct{}),
		ancestorCache:   make(map[int64][]int64),
		descendantCache: make(map[int64][]int64),
	}
}

// Load replaces the graph content with the given tags and edges. Edges that
// would violate acyclicity are skipped and logged; the store is authoritative
// for edges, but a corrupt edge set must not poison the in-memory graph.
func (g *Graph) Load(tagIDs []int64, edges []Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.parents = make(map[int64]map[int64]struct{})
	g.children = make(map[int64]map[int64]struct{})
	g.tags = make(map[int64]struct{})
	g.invalidateAllLocked()

	for _, id := range tagIDs {
		g.tags[id] = struct{}{}
	}

	skipped := 0
	for _, edge := range edges {
		if err := g.addRelationLocked(edge.ParentID, edge.ChildID); err != nil {
			skipped++
		}
	}
	if skipped > 0 {
		logging.Warn("tag graph: skipped %d stored relations that violate acyclicity", skipped)
	}

	g.updateSizeMetricsLocked()
}

// AddTag registers a tag with no relations. Adding an existing tag is a no-op.
func (g *Graph) AddTag(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tags[id] = struct{}{}
	g.updateSizeMetricsLocked()
}

// RemoveTag deletes a tag and every edge touching it.
func (g *Graph) RemoveTag(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeTagLocked(id)
	g.updateSizeMetricsLocked()
}

func (g *Graph) removeTagLocked(id int64) {
	for parent := range g.parents[id] {
		delete(g.children[parent], id)
	}
	for child := range g.children[id] {
		delete(g.parents[child], id)
	}
	delete(g.parents, id)
	delete(g.children, id)
	delete(g.tags, id)
	g.invalidateAllLocked()
}

// HasTag reports whether the tag id is known to the graph.
func (g *Graph) HasTag(id int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.tags[id]
	return ok
}

// AddRelation inserts a parent→child edge. It fails with ErrCycle if the
// child is already an ancestor of the parent (or parent == child), leaving
// the graph unchanged.
func (g *Graph) AddRelation(parentID, childID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := g.addRelationLocked(parentID, childID)
	if err == nil {
		g.updateSizeMetricsLocked()
	} else if errors.Is(err, ErrCycle) {
		metrics.TagGraphCycleRejections.Inc()
	}
	return err
}

func (g *Graph) addRelationLocked(parentID, childID int64) error {
	if parentID == childID {
		return fmt.Errorf("%w: tag %d cannot be its own parent", ErrCycle, parentID)
	}

	// Adding parent→child creates a cycle exactly when child already
	// reaches parent via child edges, i.e. child is an ancestor of parent.
	if g.reachesLocked(g.parents, parentID, childID) {
		return fmt.Errorf("%w: tag %d is already an ancestor of tag %d", ErrCycle, childID, parentID)
	}

	if g.children[parentID] == nil {
		g.children[parentID] = make(map[int64]struct{})
	}
	if g.parents[childID] == nil {
		g.parents[childID] = make(map[int64]struct{})
	}
	g.children[parentID][childID] = struct{}{}
	g.parents[childID][parentID] = struct{}{}
	g.tags[parentID] = struct{}{}
	g.tags[childID] = struct{}{}

	// The child's descendants gained an ancestor; the parent's ancestors
	// gained a descendant.
	g.invalidateDownLocked(childID)
	g.invalidateUpLocked(parentID)
	return nil
}

// RemoveRelation deletes a parent→child edge if present.
func (g *Graph) RemoveRelation(parentID, childID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.children[parentID], childID)
	delete(g.parents[childID], parentID)
	g.invalidateDownLocked(childID)
	g.invalidateUpLocked(parentID)
	g.updateSizeMetricsLocked()
}

// reachesLocked reports whether target is reachable from start by following
// the given adjacency (parents for upward, children for downward).
func (g *Graph) reachesLocked(adj map[int64]map[int64]struct{}, start, target int64) bool {
	if start == target {
		return true
	}
	visited := map[int64]struct{}{start: {}}
	queue := []int64{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for next := range adj[current] {
			if next == target {
				return true
			}
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return false
}

// AncestorsOf returns the transitive set of tags reachable via parent edges,
// excluding the tag itself. Returns an empty slice for a tag with no
// relations. The result is sorted and safe for the caller to retain.
func (g *Graph) AncestorsOf(tagID int64) []int64 {
	return g.closure(tagID, true)
}

// DescendantsOf returns the transitive set of tags reachable via child edges,
// excluding the tag itself.
func (g *Graph) DescendantsOf(tagID int64) []int64 {
	return g.closure(tagID, false)
}

func (g *Graph) closure(tagID int64, up bool) []int64 {
	// Fast path: cached.
	g.mu.RLock()
	cache := g.descendantCache
	if up {
		cache = g.ancestorCache
	}
	if cached, ok := cache[tagID]; ok {
		out := make([]int64, len(cached))
		copy(out, cached)
		g.mu.RUnlock()
		return out
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Re-check under the write lock; another goroutine may have filled it.
	cache = g.descendantCache
	if up {
		cache = g.ancestorCache
	}
	if cached, ok := cache[tagID]; ok {
		out := make([]int64, len(cached))
		copy(out, cached)
		return out
	}

	computed := g.computeClosureLocked(tagID, up)
	cache[tagID] = computed

	out := make([]int64, len(computed))
	copy(out, computed)
	return out
}

func (g *Graph) computeClosureLocked(tagID int64, up bool) []int64 {
	adj := g.children
	if up {
		adj = g.parents
	}

	visited := make(map[int64]struct{})
	queue := []int64{tagID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for next := range adj[current] {
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	delete(visited, tagID)

	out := make([]int64, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RegenerateClosures recomputes and caches the ancestor/descendant sets for
// the given tags and everything transitively dependent on them. Running it
// on an already-consistent graph changes no observable closure.
func (g *Graph) RegenerateClosures(tagIDs []int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	affected := make(map[int64]struct{})
	for _, id := range tagIDs {
		affected[id] = struct{}{}
		// A tag's closure depends on every tag above and below it.
		for _, dep := range g.computeClosureLocked(id, true) {
			affected[dep] = struct{}{}
		}
		for _, dep := range g.computeClosureLocked(id, false) {
			affected[dep] = struct{}{}
		}
	}

	for id := range affected {
		g.ancestorCache[id] = g.computeClosureLocked(id, true)
		g.descendantCache[id] = g.computeClosureLocked(id, false)
	}

	metrics.TagGraphClosureRegens.Inc()
}

// invalidateDownLocked drops cached closures for id and all its descendants
// (their ancestor sets changed) and id's own descendant set.
func (g *Graph) invalidateDownLocked(id int64) {
	delete(g.ancestorCache, id)
	delete(g.descendantCache, id)
	for _, descendant := range g.computeClosureLocked(id, false) {
		delete(g.ancestorCache, descendant)
		delete(g.descendantCache, descendant)
	}
}

// invalidateUpLocked drops cached closures for id and all its ancestors
// (their descendant sets changed) and id's own ancestor set.
func (g *Graph) invalidateUpLocked(id int64) {
	delete(g.ancestorCache, id)
	delete(g.descendantCache, id)
	for _, ancestor := range g.computeClosureLocked(id, true) {
		delete(g.ancestorCache, ancestor)
		delete(g.descendantCache, ancestor)
	}
}

func (g *Graph) invalidateAllLocked() {
	g.ancestorCache = make(map[int64][]int64)
	g.descendantCache = make(map[int64][]int64)
}

// ParentsOf returns the direct parents of a tag.
func (g *Graph) ParentsOf(tagID int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.parents[tagID])
}

// ChildrenOf returns the direct children of a tag.
func (g *Graph) ChildrenOf(tagID int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.children[tagID])
}

// Edges returns every edge in the graph, sorted by parent then child.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges []Edge
	for parent, childSet := range g.children {
		for child := range childSet {
			edges = append(edges, Edge{ParentID: parent, ChildID: child})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].ParentID != edges[j].ParentID {
			return edges[i].ParentID < edges[j].ParentID
		}
		return edges[i].ChildID < edges[j].ChildID
	})
	return edges
}

// Size returns the number of tags and edges.
func (g *Graph) Size() (tags, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tags = len(g.tags)
	for _, childSet := range g.children {
		edges += len(childSet)
	}
	return tags, edges
}

func (g *Graph) updateSizeMetricsLocked() {
	edgeCount := 0
	for _, childSet := range g.children {
		edgeCount += len(childSet)
	}
	metrics.TagGraphTags.Set(float64(len(g.tags)))
	metrics.TagGraphEdges.Set(float64(edgeCount))
}

func sortedKeys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
