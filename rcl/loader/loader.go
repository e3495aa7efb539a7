// Package loader turns a document/query/answer dataset into padded minibatches.
//
// Each call to Batch pads the document and query sequences of one slice of
// the dataset to their batch-local maximum length and returns the padded
// matrices, the length vectors, and 0/1 masks alongside the answers. Shuffle
// reorders the dataset between epochs.
package loader

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	internal "github.com/ZanzyTHEbar/rc-loader/rcl"
	"github.com/ZanzyTHEbar/rc-loader/rcl/config"
	"github.com/ZanzyTHEbar/rc-loader/rcl/dataset"
	"github.com/ZanzyTHEbar/rc-loader/rcl/device"
	"github.com/ZanzyTHEbar/rc-loader/rcl/dictionary"
	"github.com/ZanzyTHEbar/rc-loader/rcl/tensor"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/sampleuv"
)

var (
	ErrBatchIndexOutOfRange = errors.New("batch index out of range")
	ErrInvalidBatchSize     = errors.New("batch size must be positive")
)

// Options configures optional loader behaviour. The zero value is usable.
type Options struct {
	Placer  device.Placer   // Device placement when useDevice is set (default: ONNX, default EP)
	Seed    int64           // Shuffle seed (0 = seed from time)
	Workers int             // Batches built ahead by Epoch (<= 0 = internal.DefaultWorkers)
	Shuffle bool            // Shuffle at the start of every Epoch
	Logger  *zerolog.Logger // Defaults to internal.GetLogger() at info level
}

// Loader is the batch builder. Batch may be called concurrently; Shuffle
// must not overlap with an Epoch in progress.
type Loader struct {
	dict      dictionary.Dictionary
	batchSize int
	useDevice bool
	placer    device.Placer
	workers   int
	shuffle   bool
	log       zerolog.Logger

	mu      sync.RWMutex
	data    *dataset.Dataset
	rng     rand.Source
	epochID uuid.UUID

	metrics *BatchMetrics
}

// New stores references to dict and data and computes the batch count.
func New(dict dictionary.Dictionary, data *dataset.Dataset, useDevice bool, batchSize int, opts Options) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, batchSize)
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dataset: %w", err)
	}

	placer := opts.Placer
	if useDevice && placer == nil {
		p, err := device.NewONNXPlacer(internal.DefaultExecutionProvider, internal.DefaultDeviceID)
		if err != nil {
			return nil, fmt.Errorf("create device placer: %w", err)
		}
		placer = p
	}

	logger := internal.GetLogger().Level(zerolog.InfoLevel)
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = internal.DefaultWorkers
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	l := &Loader{
		dict:      dict,
		batchSize: batchSize,
		useDevice: useDevice,
		placer:    placer,
		workers:   workers,
		shuffle:   opts.Shuffle,
		log:       logger.With().Str("component", "loader").Logger(),
		data:      data,
		rng:       rand.NewPCG(uint64(seed), uint64(seed)>>1|1),
		epochID:   uuid.New(),
		metrics:   &BatchMetrics{},
	}

	target := tensor.HostDevice
	if useDevice {
		target = placer.Name()
	}
	l.log.Debug().
		Int("examples", data.Len()).
		Int("batch_size", batchSize).
		Int("batch_num", l.NumBatches()).
		Str("device", target).
		Msg("loader initialized")

	return l, nil
}

// NewFromConfig builds a loader from the loader and device sections of cfg.
func NewFromConfig(dict dictionary.Dictionary, data *dataset.Dataset, cfg *config.Config, logger *zerolog.Logger) (*Loader, error) {
	placer, err := device.New(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("create device placer: %w", err)
	}
	return New(dict, data, cfg.Device.Enabled, cfg.Loader.BatchSize, Options{
		Placer:  placer,
		Seed:    cfg.Loader.Seed,
		Workers: cfg.Loader.Workers,
		Shuffle: cfg.Loader.Shuffle,
		Logger:  logger,
	})
}

// Dictionary returns the dictionary the loader was built with.
func (l *Loader) Dictionary() dictionary.Dictionary { return l.dict }

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int { return l.batchSize }

// Len returns the number of examples.
func (l *Loader) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.data.Len()
}

// NumBatches returns ceil(N / batchSize).
func (l *Loader) NumBatches() int {
	n := l.Len()
	return (n + l.batchSize - 1) / l.batchSize
}

// EpochID identifies the current example order; it changes on every Shuffle.
func (l *Loader) EpochID() uuid.UUID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.epochID
}

// Dataset returns the dataset in its current order.
func (l *Loader) Dataset() *dataset.Dataset {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.data
}

// Metrics returns loader statistics as a map.
func (l *Loader) Metrics() map[string]interface{} { return l.metrics.GetMetrics() }

// Shuffle draws a uniform permutation of the examples and reorders the
// document, query and answer sequences identically.
func (l *Loader) Shuffle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.data.Len()
	perm := make([]int, n)
	sampleuv.WithoutReplacement(perm, n, l.rng)

	// perm is a permutation of [0, n) by construction
	shuffled, err := l.data.Permute(perm)
	if err != nil {
		panic(fmt.Sprintf("loader: shuffle produced invalid permutation: %v", err))
	}
	l.data = shuffled
	l.epochID = uuid.New()
	l.metrics.RecordShuffle()

	l.log.Info().
		Str("epoch_id", l.epochID.String()).
		Int("examples", n).
		Msg("dataset shuffled")
}

// Batch builds batch index. The last batch absorbs the remainder and may be
// smaller than the batch size.
func (l *Loader) Batch(index int) (*Batch, error) {
	start := time.Now()

	l.mu.RLock()
	data := l.data
	l.mu.RUnlock()

	n := data.Len()
	batchNum := (n + l.batchSize - 1) / l.batchSize
	if index < 0 || index >= batchNum {
		l.metrics.UpdateMetrics(start, nil, false)
		return nil, fmt.Errorf("%w: index %d >= batch num %d", ErrBatchIndexOutOfRange, index, batchNum)
	}

	lo := index * l.batchSize
	hi := min(lo+l.batchSize, n)
	slice := data.Slice(lo, hi)

	docs, docLengths := padSequences(slice.Document)
	queries, queryLengths := padSequences(slice.Query)

	b := &Batch{
		Index: index,
		Document: Field{
			Tokens:  docs,
			Lengths: docLengths,
			Mask:    createMask(docLengths, docs.Dim(1)),
		},
		Query: Field{
			Tokens:  queries,
			Lengths: queryLengths,
			Mask:    createMask(queryLengths, queries.Dim(1)),
		},
		Answer: tensor.Vector(slice.Answer),
	}

	if err := l.wrap(b); err != nil {
		l.metrics.UpdateMetrics(start, nil, false)
		return nil, fmt.Errorf("batch %d: %w", index, err)
	}

	l.metrics.UpdateMetrics(start, b, true)
	l.log.Debug().
		Int("batch", index).
		Int("size", b.Size()).
		Int("doc_len", b.Document.MaxLen()).
		Int("query_len", b.Query.MaxLen()).
		Msg("batch built")

	return b, nil
}

// wrap marks every tensor as not tracking gradients and, when the device
// flag is set, places it on the device.
func (l *Loader) wrap(b *Batch) error {
	ts := b.Tensors()
	for _, t := range ts {
		t.SetRequiresGrad(false)
	}
	if !l.useDevice {
		return nil
	}
	for i, t := range ts {
		if err := l.placer.Place(t); err != nil {
			for _, placed := range ts[:i] {
				_ = placed.Release()
			}
			return fmt.Errorf("place on %s: %w", l.placer.Name(), err)
		}
	}
	return nil
}
