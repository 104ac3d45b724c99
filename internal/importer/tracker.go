package importer

import (
	"context"
	"sort"
	"sync"
	"time"

	"media-vault/internal/database"
	"media-vault/internal/events"
	"media-vault/internal/logging"
	"media-vault/internal/metrics"
)

const (
	statsMinInterval = time.Second
	statsByteDelta   = 1 << 20 // 1 MiB
)

// Tracker owns the set of in-flight import batches. It multiplexes their
// items onto a shared Pool, detects completion order-independently by
// counting outstanding items, and finalizes each batch exactly once.
type Tracker struct {
	pool  *Pool
	store Store
	bus   events.Publisher

	statsInterval time.Duration

	mu      sync.Mutex
	batches map[string]*batchState
}

type batchState struct {
	id             string
	cancel         context.CancelFunc
	outstanding    int
	totalBytes     int64
	completedBytes int64
	started        time.Time
	throttle       *statsThrottle
	finalized      bool
	attachedTags   map[int64]struct{}
}

// NewTracker creates a Tracker over the given pool and store.
func NewTracker(pool *Pool, store Store, bus events.Publisher) *Tracker {
	return &Tracker{
		pool:          pool,
		store:         store,
		bus:           bus,
		statsInterval: statsMinInterval,
		batches:       make(map[string]*batchState),
	}
}

// SetStatsInterval overrides the minimum interval between progress events
// for batches started afterwards.
func (t *Tracker) SetStatsInterval(interval time.Duration) {
	if interval > 0 {
		t.statsInterval = interval
	}
}

// StartBatch enqueues every item of a batch. The batch gets its own
// cancellable context derived from ctx; cancelling it affects no other
// batch sharing the pool. Items that cannot be enqueued (cancellation mid
// submission) are counted as cancelled immediately.
func (t *Tracker) StartBatch(ctx context.Context, batch *database.ImportBatch, items []*database.ImportItem) error {
	if len(items) == 0 {
		return t.finalizeEmpty(ctx, batch.ID)
	}

	batchCtx, cancel := context.WithCancel(ctx)

	state := &batchState{
		id:           batch.ID,
		cancel:       cancel,
		outstanding:  len(items),
		started:      time.Now(),
		throttle:     newStatsThrottle(t.statsInterval, statsByteDelta),
		attachedTags: make(map[int64]struct{}),
	}
	for _, item := range items {
		state.totalBytes += item.Size
	}

	t.mu.Lock()
	t.batches[batch.ID] = state
	t.mu.Unlock()
	metrics.ImportBatchesActive.Inc()

	logging.Info("starting import batch %s: %d items, %d bytes", batch.ID, len(items), state.totalBytes)

	for _, item := range items {
		request := &FileImportRequest{
			ItemID:            item.ID,
			BatchID:           batch.ID,
			Path:              item.Path,
			Size:              item.Size,
			TagIDs:            append(append([]int64{}, batch.TagIDs...), item.TagIDs...),
			CollectionID:      batch.CollectionID,
			DeleteOnImport:    batch.DeleteOnImport,
			IgnorePrevDeleted: batch.IgnorePrevDeleted,
		}
		if err := t.pool.Enqueue(batchCtx, request, t.itemDone); err != nil {
			t.itemDone(ItemResult{Request: request, Outcome: OutcomeCancelled, Err: err})
		}
	}
	return nil
}

// finalizeEmpty completes a batch with no items immediately.
func (t *Tracker) finalizeEmpty(ctx context.Context, batchID string) error {
	if _, err := t.store.MarkBatchCompleted(ctx, batchID); err != nil {
		return err
	}
	t.bus.Publish(events.Event{
		Name:    events.ImportBatchCompleted,
		Payload: events.BatchCompletedPayload{ID: batchID},
	})
	metrics.ImportBatchesCompleted.Inc()
	return nil
}

// CancelBatch signals every outstanding item of a batch. Terminal items are
// not rolled back; in-flight and queued items fail with the cancelled reason.
func (t *Tracker) CancelBatch(batchID string) bool {
	t.mu.Lock()
	state, ok := t.batches[batchID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	logging.Info("cancelling import batch %s", batchID)
	state.cancel()
	return true
}

// Active reports whether the batch still has outstanding items.
func (t *Tracker) Active(batchID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.batches[batchID]
	return ok
}

// itemDone is the pool callback. It updates batch progress and triggers
// finalization when the last item of a batch lands, regardless of order.
func (t *Tracker) itemDone(result ItemResult) {
	batchID := result.Request.BatchID

	t.mu.Lock()
	state, ok := t.batches[batchID]
	if !ok {
		t.mu.Unlock()
		logging.Warn("item %s finished for unknown batch %s", result.Request.ItemID, batchID)
		return
	}

	state.outstanding--
	state.completedBytes += result.Request.Size
	for _, tagID := range result.AttachedTagIDs {
		state.attachedTags[tagID] = struct{}{}
	}

	last := state.outstanding == 0
	if last {
		state.finalized = true
		delete(t.batches, batchID)
	}

	completedBytes := state.completedBytes
	totalBytes := state.totalBytes
	elapsed := time.Since(state.started)
	publish := state.throttle.shouldPublish(time.Now(), completedBytes, last)
	t.mu.Unlock()

	if publish {
		rate := 0.0
		if seconds := elapsed.Seconds(); seconds > 0 {
			rate = float64(completedBytes) / seconds
		}
		t.bus.Publish(events.Event{
			Name: events.ImportStatsUpdated,
			Payload: events.ImportStatsPayload{
				BatchID:        batchID,
				CompletedBytes: completedBytes,
				TotalBytes:     totalBytes,
				RateInBytes:    rate,
				ElapsedMillis:  elapsed.Milliseconds(),
			},
		})
	}

	if last {
		t.finalize(batchID, state)
	}
}

// finalize runs exactly once per batch, after every item is terminal, so
// counts never include attachments still in flight.
func (t *Tracker) finalize(batchID string, state *batchState) {
	ctx, cancelTimeout := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelTimeout()

	state.cancel()

	if err := t.store.RecalculateTagCounts(ctx); err != nil {
		logging.Error("batch %s: tag count recalculation failed: %v", batchID, err)
	}
	if _, err := t.store.MarkBatchCompleted(ctx, batchID); err != nil {
		logging.Error("batch %s: failed to mark completed: %v", batchID, err)
	}

	// Counts changed for every tag the batch attached; tell subscribers
	// which ones so they can refresh without a full reload.
	if len(state.attachedTags) > 0 {
		tagIDs := make([]int64, 0, len(state.attachedTags))
		for tagID := range state.attachedTags {
			tagIDs = append(tagIDs, tagID)
		}
		sort.Slice(tagIDs, func(i, j int) bool { return tagIDs[i] < tagIDs[j] })
		updates := make([]events.TagUpdate, 0, len(tagIDs))
		for _, tagID := range tagIDs {
			updates = append(updates, events.TagUpdate{TagID: tagID})
		}
		t.bus.Publish(events.Event{
			Name:    events.TagsUpdated,
			Payload: events.TagsUpdatedPayload{Tags: updates},
		})
	}

	t.bus.Publish(events.Event{
		Name:    events.ImportBatchCompleted,
		Payload: events.BatchCompletedPayload{ID: batchID},
	})
	metrics.ImportBatchesActive.Dec()
	metrics.ImportBatchesCompleted.Inc()
	logging.Info("import batch %s completed in %s", batchID, time.Since(state.started).Round(time.Millisecond))
}
