// Package taggraph maintains the tag hierarchy as a directed acyclic graph.
//
// Tags can have multiple parents and multiple children. The graph rejects
// any relation edit that would make a tag its own ancestor, caches transitive
// ancestor/descendant closures, and supports folding one tag into another
// with conflicting edges dropped rather than failing the merge.
package taggraph
