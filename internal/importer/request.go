package importer

// ItemStatus is the lifecycle state of one import item.
type ItemStatus string

const (
	// StatusPending means the item is queued and untouched.
	StatusPending ItemStatus = "pending"
	// StatusHashing means a worker is computing the content hash.
	StatusHashing ItemStatus = "hashing"
	// StatusDuplicate means the hash matched an existing record; probing is
	// skipped and tag resolution runs against the existing record.
	StatusDuplicate ItemStatus = "duplicate"
	// StatusProbing means metadata and thumbnail extraction is running.
	StatusProbing ItemStatus = "probing"
	// StatusTagResolution means the final tag set is being computed.
	StatusTagResolution ItemStatus = "tag_resolution"
	// StatusPersisted means the record and attachments are written.
	StatusPersisted ItemStatus = "persisted"
	// StatusDone is the successful terminal state.
	StatusDone ItemStatus = "done"
	// StatusSkipped is the terminal state for content previously deleted by
	// the user and not re-imported.
	StatusSkipped ItemStatus = "skipped"
	// StatusFailed is the terminal failure state, reachable from any step.
	StatusFailed ItemStatus = "failed"
)

// Terminal reports whether the status ends an item's processing.
func (s ItemStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusSkipped, StatusFailed:
		return true
	}
	return false
}

// CancelledReason is the error message recorded on items failed by batch
// cancellation, distinguishing them from genuine processing errors.
const CancelledReason = "cancelled"

// Outcome classifies how an item ended, for metrics and batch accounting.
type Outcome string

const (
	// OutcomeNew means a fresh file record was created.
	OutcomeNew Outcome = "new"
	// OutcomeDuplicate means the item resolved to an existing record,
	// whether found by lookup or by losing an insert race.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeSkipped means previously deleted content was not re-imported.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means the item hit a processing error.
	OutcomeFailed Outcome = "failed"
	// OutcomeCancelled means the batch was cancelled before the item finished.
	OutcomeCancelled Outcome = "cancelled"
)

// FileImportRequest is one file to be imported, as handed to the pool.
type FileImportRequest struct {
	ItemID            string
	BatchID           string
	Path              string
	Size              int64
	TagIDs            []int64
	CollectionID      int64
	DeleteOnImport    bool
	IgnorePrevDeleted bool
}

// ItemResult reports an item's terminal state back to the tracker.
type ItemResult struct {
	Request *FileImportRequest
	Outcome Outcome
	FileID  int64
	// AttachedTagIDs is the direct tag set that ended up on the record.
	AttachedTagIDs []int64
	Err            error
}
