// Package workers provides worker pool sizing helpers that respect container
// CPU limits and allow manual override via the IMPORT_WORKERS environment
// variable.
package workers
