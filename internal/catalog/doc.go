// Package catalog is the command layer tying the store, the tag graph, the
// regex matcher, and the import pipeline together. Each command keeps the
// persisted state and the in-memory structures consistent and publishes the
// corresponding change events.
package catalog
