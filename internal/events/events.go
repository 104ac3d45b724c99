package events

import (
	"sync"

	"media-vault/internal/logging"
	"media-vault/internal/metrics"
)

// Name identifies an event type on the bus.
type Name string

const (
	// FileImportUpdated fires whenever an import item changes state.
	FileImportUpdated Name = "fileImportUpdated"
	// ImportStatsUpdated fires with throttled aggregate progress for a batch.
	ImportStatsUpdated Name = "importStatsUpdated"
	// ImportBatchCompleted fires exactly once when every item in a batch is terminal.
	ImportBatchCompleted Name = "importBatchCompleted"
	// TagsUpdated fires after tag create/edit/count operations.
	TagsUpdated Name = "tagsUpdated"
	// TagMerged fires after a successful tag merge.
	TagMerged Name = "tagMerged"
)

// Event is a single published notification. Delivery is at-least-once;
// consumers must be idempotent.
type Event struct {
	Name    Name        `json:"name"`
	Payload interface{} `json:"payload"`
}

// FileImportPayload carries per-item import state changes.
type FileImportPayload struct {
	BatchID  string `json:"batchId"`
	FileID   int64  `json:"fileId,omitempty"`
	FilePath string `json:"filePath"`
	Status   string `json:"status"`
	ErrorMsg string `json:"errorMsg,omitempty"`
}

// ImportStatsPayload carries aggregate batch progress.
type ImportStatsPayload struct {
	BatchID        string  `json:"batchId"`
	CompletedBytes int64   `json:"completedBytes"`
	TotalBytes     int64   `json:"totalBytes"`
	RateInBytes    float64 `json:"rateInBytes"`
	ElapsedMillis  int64   `json:"elapsedMillis"`
}

// BatchCompletedPayload identifies a finished batch.
type BatchCompletedPayload struct {
	ID string `json:"id"`
}

// TagUpdate describes one changed tag.
type TagUpdate struct {
	TagID   int64             `json:"tagId"`
	Updates map[string]string `json:"updates,omitempty"`
}

// TagsUpdatedPayload carries a set of tag changes.
type TagsUpdatedPayload struct {
	Tags           []TagUpdate `json:"tags"`
	WithFileReload bool        `json:"withFileReload"`
}

// TagMergedPayload identifies a merge's source and surviving tag.
type TagMergedPayload struct {
	OldTagID int64 `json:"oldTagId"`
	NewTagID int64 `json:"newTagId"`
}

// Publisher is the minimal publish mechanism the pipeline and graph
// components depend on. The core never assumes a specific transport.
type Publisher interface {
	Publish(event Event)
}

// Nop is a Publisher that discards everything. Useful for tests.
type Nop struct{}

// Publish discards the event.
func (Nop) Publish(Event) {}

// Bus fans events out to subscribed sinks. Publishing never blocks: if a
// sink's buffer is full the event is dropped for that sink and counted.
type Bus struct {
	mu     sync.RWMutex
	sinks  map[int]chan Event
	nextID int
	buffer int
}

// NewBus creates a Bus whose per-sink channels buffer up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = 64
	}
	return &Bus{
		sinks:  make(map[int]chan Event),
		buffer: buffer,
	}
}

// Publish delivers the event to every sink without blocking.
func (b *Bus) Publish(event Event) {
	metrics.EventsPublished.WithLabelValues(string(event.Name)).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sink := range b.sinks {
		select {
		case sink <- event:
		default:
			metrics.EventsDropped.Inc()
			logging.Warn("event bus: dropping %s event, sink not keeping up", event.Name)
		}
	}
}

// Subscribe registers a sink and returns its channel plus a cancel function.
// Cancelling closes the channel; the subscriber must stop reading afterwards.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.sinks[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sink, ok := b.sinks[id]; ok {
			delete(b.sinks, id)
			close(sink)
		}
	}
	return ch, cancel
}

// SubscriberCount returns the number of active sinks.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}
