package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"media-vault/internal/database"
	"media-vault/internal/events"
	"media-vault/internal/filesystem"
	"media-vault/internal/hasher"
	"media-vault/internal/logging"
	"media-vault/internal/memory"
	"media-vault/internal/metrics"
	"media-vault/internal/probe"
)

// Store is the persistence surface the import pipeline depends on.
// *database.Database satisfies it; tests substitute fakes.
type Store interface {
	GetFileByHash(ctx context.Context, hash string) (*database.FileRecord, error)
	InsertFile(ctx context.Context, file *database.FileRecord) (int64, error)
	AttachTags(ctx context.Context, fileID int64, tagIDs []int64) error
	ReplaceFileTagAncestors(ctx context.Context, fileID int64, tagIDs []int64) error
	IsHashDeleted(ctx context.Context, hash string) (bool, error)
	ForgetDeletedHash(ctx context.Context, hash string) error
	UpdateItem(ctx context.Context, item *database.ImportItem) error
	MarkBatchCompleted(ctx context.Context, id string) (time.Time, error)
	RecalculateTagCounts(ctx context.Context) error
}

// Resolver computes the final tag set for an imported file: caller-requested
// tags plus regex matches on the file name, folder names, and embedded text,
// expanded with every ancestor for the denormalized closure.
type Resolver interface {
	Resolve(path, embeddedText string, requested []int64) (direct, withAncestors []int64)
}

// task binds a request to its batch context and completion callback.
type task struct {
	ctx     context.Context
	request *FileImportRequest
	done    func(ItemResult)
}

// Pool is the bounded-concurrency execution engine for import items. All
// batches share one pool; per-batch cancellation travels in the task context.
type Pool struct {
	queue    chan task
	workers  int
	store    Store
	prober   probe.MediaProbe
	resolver Resolver
	hasher   *hasher.Hasher
	bus      events.Publisher
	memory   *memory.Monitor
	stop     chan struct{}
	stopped  chan struct{}
}

// NewPool creates a Pool with the given worker count. Start must be called
// before enqueueing.
func NewPool(workers int, store Store, prober probe.MediaProbe, resolver Resolver, bus events.Publisher) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		queue:    make(chan task, workers*16),
		workers:  workers,
		store:    store,
		prober:   prober,
		resolver: resolver,
		hasher:   hasher.New(),
		bus:      bus,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// SetMemoryMonitor attaches a backpressure monitor. Workers block before the
// probe stage while the monitor reports memory pressure. Must be called
// before Start.
func (p *Pool) SetMemoryMonitor(monitor *memory.Monitor) {
	p.memory = monitor
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	logging.Info("import pool: starting %d workers", p.workers)
	metrics.ImportWorkers.Set(float64(p.workers))

	done := make(chan struct{}, p.workers)
	for i := 0; i < p.workers; i++ {
		go func(id int) {
			defer func() { done <- struct{}{} }()
			p.worker(id)
		}(i)
	}
	go func() {
		for i := 0; i < p.workers; i++ {
			<-done
		}
		close(p.stopped)
	}()
}

// Stop closes the queue and waits for in-flight items to finish.
func (p *Pool) Stop() {
	close(p.stop)
	<-p.stopped
	metrics.ImportWorkers.Set(0)
	logging.Info("import pool: stopped")
}

// Enqueue submits a request. It blocks while the queue is full and returns
// the context's error if the batch is cancelled before the item is accepted.
func (p *Pool) Enqueue(ctx context.Context, request *FileImportRequest, done func(ItemResult)) error {
	metrics.ImportQueueDepth.Inc()
	select {
	case p.queue <- task{ctx: ctx, request: request, done: done}:
		return nil
	case <-ctx.Done():
		metrics.ImportQueueDepth.Dec()
		return ctx.Err()
	case <-p.stop:
		metrics.ImportQueueDepth.Dec()
		return errors.New("import pool stopped")
	}
}

func (p *Pool) worker(id int) {
	for {
		select {
		case t := <-p.queue:
			metrics.ImportQueueDepth.Dec()
			result := p.process(t.ctx, t.request)
			metrics.ImportItemsTotal.WithLabelValues(string(result.Outcome)).Inc()
			if t.done != nil {
				t.done(result)
			}
		case <-p.stop:
			// Drain nothing further; queued items belong to batches that
			// will be re-enqueued on restart.
			logging.Debug("import worker %d exiting", id)
			return
		}
	}
}

// process runs one item through the full pipeline. The returned result is
// always terminal; the item row reflects the same state.
func (p *Pool) process(ctx context.Context, request *FileImportRequest) ItemResult {
	result := ItemResult{Request: request}

	if ctx.Err() != nil {
		p.finishItem(request, StatusFailed, CancelledReason, 0, "")
		result.Outcome = OutcomeCancelled
		result.Err = ctx.Err()
		return result
	}

	// Hash.
	p.updateItem(request, StatusHashing, "", 0, "")
	hashStart := time.Now()
	hash, err := p.hasher.Hash(request.Path)
	metrics.ImportItemDuration.WithLabelValues("hash").Observe(time.Since(hashStart).Seconds())
	if err != nil {
		return p.fail(&result, fmt.Errorf("hashing failed: %w", err))
	}
	if ctx.Err() != nil {
		return p.cancel(&result)
	}

	// Dedup lookup.
	existing, err := p.store.GetFileByHash(ctx, hash)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return p.fail(&result, fmt.Errorf("dedup lookup failed: %w", err))
	}

	if existing == nil {
		// Previously deleted content is skipped unless the caller asked to
		// ignore the ledger.
		deleted, delErr := p.store.IsHashDeleted(ctx, hash)
		if delErr != nil {
			return p.fail(&result, fmt.Errorf("deleted-hash lookup failed: %w", delErr))
		}
		if deleted {
			if !request.IgnorePrevDeleted {
				logging.Debug("skipping previously deleted content: %s (%s)", request.Path, hash)
				p.finishItem(request, StatusSkipped, "", 0, "")
				result.Outcome = OutcomeSkipped
				return result
			}
			if err := p.store.ForgetDeletedHash(ctx, hash); err != nil {
				return p.fail(&result, fmt.Errorf("failed to clear deleted hash: %w", err))
			}
		}
	}

	var record *database.FileRecord
	var embeddedText string
	outcome := OutcomeDuplicate

	if existing != nil {
		p.updateItem(request, StatusDuplicate, "", existing.ID, existing.ThumbPath)
		record = existing
	} else {
		// Probe. Decoding is the allocation-heavy stage, so honor memory
		// backpressure before entering it.
		if p.memory != nil && !p.memory.WaitIfPaused() {
			return p.cancel(&result)
		}
		if ctx.Err() != nil {
			return p.cancel(&result)
		}
		p.updateItem(request, StatusProbing, "", 0, "")
		probeStart := time.Now()
		probed, probeErr := p.prober.Probe(ctx, request.Path, hash)
		metrics.ImportItemDuration.WithLabelValues("probe").Observe(time.Since(probeStart).Seconds())
		if probeErr != nil {
			if ctx.Err() != nil {
				return p.cancel(&result)
			}
			return p.fail(&result, fmt.Errorf("probe failed: %w", probeErr))
		}
		embeddedText = probed.DiffusionParams

		record = &database.FileRecord{
			Hash:         hash,
			OriginalHash: hash,
			Path:         request.Path,
			Size:         request.Size,
			Width:        probed.Width,
			Height:       probed.Height,
			Duration:     probed.Duration,
			Codec:        probed.Codec,
			ThumbPath:    probed.ThumbPath,
			IsCorrupted:  probed.Corrupted,
			CollectionID: request.CollectionID,
		}

		persistStart := time.Now()
		_, insErr := p.store.InsertFile(ctx, record)
		metrics.ImportItemDuration.WithLabelValues("persist").Observe(time.Since(persistStart).Seconds())
		if insErr != nil {
			if errors.Is(insErr, database.ErrDuplicateHash) {
				// Lost the insert race to a concurrent worker; resolve
				// against the winner's record.
				winner, lookupErr := p.store.GetFileByHash(ctx, hash)
				if lookupErr != nil {
					return p.fail(&result, fmt.Errorf("duplicate re-lookup failed: %w", lookupErr))
				}
				record = winner
				p.updateItem(request, StatusDuplicate, "", record.ID, record.ThumbPath)
			} else {
				return p.fail(&result, fmt.Errorf("persist failed: %w", insErr))
			}
		} else {
			outcome = OutcomeNew
		}
	}

	if ctx.Err() != nil {
		return p.cancel(&result)
	}

	// Tag resolution runs for duplicates too so newly requested tags land
	// on the pre-existing record.
	p.updateItem(request, StatusTagResolution, "", record.ID, record.ThumbPath)
	tagStart := time.Now()
	direct, withAncestors := p.resolver.Resolve(request.Path, embeddedText, request.TagIDs)
	if err := p.store.AttachTags(ctx, record.ID, direct); err != nil {
		return p.fail(&result, fmt.Errorf("tag attach failed: %w", err))
	}
	if err := p.store.ReplaceFileTagAncestors(ctx, record.ID, withAncestors); err != nil {
		return p.fail(&result, fmt.Errorf("tag closure update failed: %w", err))
	}
	metrics.ImportItemDuration.WithLabelValues("tag_resolution").Observe(time.Since(tagStart).Seconds())

	p.updateItem(request, StatusPersisted, "", record.ID, record.ThumbPath)

	// The source file may be removed only when the store holds the content
	// elsewhere; the sole copy of unique content is never deleted.
	if request.DeleteOnImport && outcome == OutcomeDuplicate && record.Path != request.Path {
		if err := filesystem.RemoveWithRetry(request.Path, filesystem.DefaultRetryConfig()); err != nil {
			logging.Warn("delete-on-import failed for %s: %v", request.Path, err)
		}
	}

	p.finishItem(request, StatusDone, "", record.ID, record.ThumbPath)
	result.Outcome = outcome
	result.FileID = record.ID
	result.AttachedTagIDs = direct
	return result
}

func (p *Pool) fail(result *ItemResult, err error) ItemResult {
	logging.Error("import item %s (%s): %v", result.Request.ItemID, result.Request.Path, err)
	p.finishItem(result.Request, StatusFailed, err.Error(), 0, "")
	result.Outcome = OutcomeFailed
	result.Err = err
	return *result
}

func (p *Pool) cancel(result *ItemResult) ItemResult {
	p.finishItem(result.Request, StatusFailed, CancelledReason, 0, "")
	result.Outcome = OutcomeCancelled
	result.Err = context.Canceled
	return *result
}

// updateItem persists a non-terminal status transition and publishes it.
// Persistence errors are logged, not fatal: the pipeline result matters
// more than the progress row.
func (p *Pool) updateItem(request *FileImportRequest, status ItemStatus, errorMsg string, fileID int64, thumbPath string) {
	item := &database.ImportItem{
		ID:        request.ItemID,
		BatchID:   request.BatchID,
		Status:    string(status),
		ErrorMsg:  errorMsg,
		FileID:    fileID,
		ThumbPath: thumbPath,
	}
	if err := p.store.UpdateItem(context.Background(), item); err != nil {
		logging.Warn("failed to persist item %s status %s: %v", request.ItemID, status, err)
	}

	p.bus.Publish(events.Event{
		Name: events.FileImportUpdated,
		Payload: events.FileImportPayload{
			BatchID:  request.BatchID,
			FileID:   fileID,
			FilePath: request.Path,
			Status:   string(status),
			ErrorMsg: errorMsg,
		},
	})
}

// finishItem records a terminal status. Emitted exactly once per item.
func (p *Pool) finishItem(request *FileImportRequest, status ItemStatus, errorMsg string, fileID int64, thumbPath string) {
	p.updateItem(request, status, errorMsg, fileID, thumbPath)
}
