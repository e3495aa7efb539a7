package loader

import (
	"sync"
	"time"
)

// BatchMetrics tracks what the loader has produced since construction.
type BatchMetrics struct {
	BatchesBuilt   int64
	FailedBatches  int64
	ExamplesServed int64
	ValidTokens    int64 // sum of lengths, documents and queries
	PaddedTokens   int64 // matrix cells, documents and queries
	Shuffles       int64
	AverageTime    time.Duration
	LastOperation  time.Time
	Mu             sync.RWMutex
}

// UpdateMetrics records one batch build that started at start.
func (bm *BatchMetrics) UpdateMetrics(start time.Time, b *Batch, success bool) {
	bm.Mu.Lock()
	defer bm.Mu.Unlock()

	bm.LastOperation = time.Now()
	if !success {
		bm.FailedBatches++
		return
	}

	bm.BatchesBuilt++
	duration := time.Since(start)
	if bm.BatchesBuilt == 1 {
		bm.AverageTime = duration
	} else {
		bm.AverageTime = (bm.AverageTime*time.Duration(bm.BatchesBuilt-1) + duration) / time.Duration(bm.BatchesBuilt)
	}

	bm.ExamplesServed += int64(b.Size())
	for _, f := range []Field{b.Document, b.Query} {
		bm.PaddedTokens += int64(f.Tokens.Len())
		for _, l := range f.Lengths.Data() {
			bm.ValidTokens += l
		}
	}
}

// RecordShuffle counts a dataset reshuffle.
func (bm *BatchMetrics) RecordShuffle() {
	bm.Mu.Lock()
	defer bm.Mu.Unlock()
	bm.Shuffles++
	bm.LastOperation = time.Now()
}

// GetMetrics returns the metrics as a map
func (bm *BatchMetrics) GetMetrics() map[string]interface{} {
	bm.Mu.RLock()
	defer bm.Mu.RUnlock()

	paddingRatio := 0.0
	if bm.PaddedTokens > 0 {
		paddingRatio = 1 - float64(bm.ValidTokens)/float64(bm.PaddedTokens)
	}

	return map[string]interface{}{
		"batches_built":   bm.BatchesBuilt,
		"failed_batches":  bm.FailedBatches,
		"examples_served": bm.ExamplesServed,
		"valid_tokens":    bm.ValidTokens,
		"padded_tokens":   bm.PaddedTokens,
		"padding_ratio":   paddingRatio,
		"shuffles":        bm.Shuffles,
		"average_time":    bm.AverageTime,
		"last_operation":  bm.LastOperation,
	}
}
