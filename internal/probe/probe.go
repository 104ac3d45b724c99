package probe

import (
	"context"
)

// Metadata holds the fields extracted from a media file.
type Metadata struct {
	Width    int
	Height   int
	Duration float64
	Codec    string

	// DiffusionParams is embedded generation text (PNG tEXt "parameters"
	// chunk) when present, used for regex tag matching.
	DiffusionParams string
}

// Result is the outcome of probing one file.
type Result struct {
	Metadata

	// ThumbPath is the generated thumbnail artifact, empty when thumbnail
	// generation was skipped or failed.
	ThumbPath string

	// Corrupted marks a file that was readable but not decodable. A
	// corrupted file still gets a record; it just carries no metadata.
	Corrupted bool
}

// MediaProbe extracts metadata and produces a thumbnail artifact for a file.
// The hash names the thumbnail so duplicates share one artifact.
type MediaProbe interface {
	Probe(ctx context.Context, path, hash string) (*Result, error)
}
