// Package tagmatch proposes tag attachments by evaluating regular-expression
// mappings against filenames, folder names, and embedded text metadata.
//
// Patterns are derived from tag labels and aliases with whitespace and
// punctuation normalized so "foo bar", "foo_bar", and "foo-bar" are
// equivalent matches. Users can also edit patterns directly; a pattern that
// fails to compile is skipped rather than failing the import.
package tagmatch
