package database

import (
	"encoding/json"
	"time"
)

// FileRecord is the canonical persisted entity for a unique piece of
// content. Exactly one row exists per distinct hash.
type FileRecord struct {
	ID           int64     `json:"id"`
	Hash         string    `json:"hash"`
	OriginalHash string    `json:"originalHash"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Duration     float64   `json:"duration"`
	Codec        string    `json:"codec"`
	ThumbPath    string    `json:"thumbPath"`
	IsCorrupted  bool      `json:"isCorrupted"`
	CollectionID int64     `json:"collectionId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Tag is a node in the tag hierarchy.
type Tag struct {
	ID           int64     `json:"id"`
	Label        string    `json:"label"`
	Aliases      []string  `json:"aliases"`
	RegexPattern string    `json:"regexPattern,omitempty"`
	RegexTargets int       `json:"regexTargets"`
	Count        int64     `json:"count"`
	CountWithSub int64     `json:"countWithSub"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Collection is an optional grouping target for imported files.
type Collection struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// ImportBatch is a persisted import request.
type ImportBatch struct {
	ID                string     `json:"id"`
	CollectionID      int64      `json:"collectionId,omitempty"`
	TagIDs            []int64    `json:"tagIds"`
	DeleteOnImport    bool       `json:"deleteOnImport"`
	IgnorePrevDeleted bool       `json:"ignorePrevDeleted"`
	CreatedAt         time.Time  `json:"createdAt"`
	StartedAt         *time.Time `json:"startedAt,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

// ImportItem is one file within an import batch.
type ImportItem struct {
	ID        string    `json:"id"`
	BatchID   string    `json:"batchId"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Status    string    `json:"status"`
	ErrorMsg  string    `json:"errorMsg,omitempty"`
	FileID    int64     `json:"fileId,omitempty"`
	ThumbPath string    `json:"thumbPath,omitempty"`
	TagIDs    []int64   `json:"tagIds"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// encodeIDs serializes an id list for storage in a JSON text column.
func encodeIDs(ids []int64) string {
	if len(ids) == 0 {
		return "[]"
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeIDs(data string) []int64 {
	if data == "" {
		return nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil
	}
	if len(ids) == 0 {
		return nil
	}
	return ids
}

func encodeAliases(aliases []string) string {
	if len(aliases) == 0 {
		return "[]"
	}
	data, err := json.Marshal(aliases)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeAliases(data string) []string {
	if data == "" {
		return nil
	}
	var aliases []string
	if err := json.Unmarshal([]byte(data), &aliases); err != nil {
		return nil
	}
	if len(aliases) == 0 {
		return nil
	}
	return aliases
}
