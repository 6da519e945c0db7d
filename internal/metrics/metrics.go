package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	FeedsFetched           int64
	FeedErrors             int64
	EntriesProcessed       int64
	DuplicatesFiltered     int64
	ItemsStored            int64
	SuccessfulTranslations int64
	FailedTranslations     int64
	TranslationsDropped    int64 // enqueue rejected on a full queue
	EmbeddingsBackfilled   int64
	TelegramMessagesSent   int64
	PublishThrottled       int64

	// Timings
	LastCycleTime    time.Duration
	TotalCycleTime   time.Duration
	AverageCycleTime time.Duration
	CycleCount       int64

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = &Metrics{IsHealthy: true}

func (m *Metrics) IncrementFeedsFetched() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FeedsFetched++
}

func (m *Metrics) IncrementFeedErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FeedErrors++
}

func (m *Metrics) IncrementEntriesProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EntriesProcessed++
}

func (m *Metrics) IncrementDuplicatesFiltered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DuplicatesFiltered++
}

func (m *Metrics) IncrementItemsStored() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ItemsStored++
}

func (m *Metrics) IncrementSuccessfulTranslations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SuccessfulTranslations++
}

func (m *Metrics) IncrementFailedTranslations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailedTranslations++
}

func (m *Metrics) IncrementTranslationsDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TranslationsDropped++
}

func (m *Metrics) IncrementEmbeddingsBackfilled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EmbeddingsBackfilled++
}

func (m *Metrics) IncrementTelegramMessagesSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TelegramMessagesSent++
}

func (m *Metrics) IncrementPublishThrottled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishThrottled++
}

func (m *Metrics) RecordCycleTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastCycleTime = duration
	m.TotalCycleTime += duration
	m.CycleCount++

	if m.CycleCount > 0 {
		m.AverageCycleTime = m.TotalCycleTime / time.Duration(m.CycleCount)
	}
}

func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"feeds_fetched":           m.FeedsFetched,
		"feed_errors":             m.FeedErrors,
		"entries_processed":       m.EntriesProcessed,
		"duplicates_filtered":     m.DuplicatesFiltered,
		"items_stored":            m.ItemsStored,
		"successful_translations": m.SuccessfulTranslations,
		"failed_translations":     m.FailedTranslations,
		"translations_dropped":    m.TranslationsDropped,
		"embeddings_backfilled":   m.EmbeddingsBackfilled,
		"telegram_messages_sent":  m.TelegramMessagesSent,
		"publish_throttled":       m.PublishThrottled,
		"last_cycle_time_ms":      m.LastCycleTime.Milliseconds(),
		"average_cycle_time_ms":   m.AverageCycleTime.Milliseconds(),
		"last_run_time":           m.LastRunTime.Format(time.RFC3339),
		"last_error_time":         m.LastErrorTime.Format(time.RFC3339),
		"last_error":              m.LastError,
		"is_healthy":              m.IsHealthy,
	}
}
