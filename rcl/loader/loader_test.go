package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/ZanzyTHEbar/rc-loader/rcl/config"
	"github.com/ZanzyTHEbar/rc-loader/rcl/dataset"
	"github.com/ZanzyTHEbar/rc-loader/rcl/dictionary"
	"github.com/ZanzyTHEbar/rc-loader/rcl/tensor"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var quiet = zerolog.New(io.Discard)

type fakeHandle struct {
	mu        *sync.Mutex
	destroyed *int
}

func (h fakeHandle) Destroy() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.destroyed++
	return nil
}

// fakePlacer records placements and can fail after a number of calls.
type fakePlacer struct {
	mu        sync.Mutex
	placed    int
	destroyed int
	failAfter int // <= 0 never fails
}

func (p *fakePlacer) Name() string { return "fake:0" }

func (p *fakePlacer) Place(t tensor.Tensor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAfter > 0 && p.placed >= p.failAfter {
		return errors.New("out of device memory")
	}
	p.placed++
	t.Bind(p.Name(), fakeHandle{mu: &p.mu, destroyed: &p.destroyed})
	return nil
}

// makeDataset builds n examples where example i has answer i, a document of
// length i%5+1 starting with i, and a query of length i%3+1 starting with i+1000.
func makeDataset(n int) *dataset.Dataset {
	examples := make([]dataset.Example, n)
	for i := range examples {
		doc := make([]int64, i%5+1)
		for j := range doc {
			doc[j] = int64(i + j*7)
		}
		doc[0] = int64(i)
		q := make([]int64, i%3+1)
		for j := range q {
			q[j] = int64(i + 1000 + j)
		}
		examples[i] = dataset.Example{Document: doc, Query: q, Answer: int64(i)}
	}
	return dataset.New(examples)
}

func testDict(t *testing.T) dictionary.Dictionary {
	t.Helper()
	v, err := dictionary.NewVocab([]string{"[PAD]", "[UNK]"})
	require.NoError(t, err)
	return v
}

// LoaderTestSuite exercises batch construction on host memory.
type LoaderTestSuite struct {
	suite.Suite
	data   *dataset.Dataset
	loader *Loader
}

func TestLoaderSuite(t *testing.T) {
	suite.Run(t, new(LoaderTestSuite))
}

func (suite *LoaderTestSuite) SetupTest() {
	suite.data = makeDataset(7)
	l, err := New(testDict(suite.T()), suite.data, false, 3, Options{Seed: 7, Logger: &quiet})
	require.NoError(suite.T(), err)
	suite.loader = l
}

func (suite *LoaderTestSuite) TestNumBatches() {
	assert.Equal(suite.T(), 3, suite.loader.NumBatches())
	assert.Equal(suite.T(), 7, suite.loader.Len())
	assert.Equal(suite.T(), 3, suite.loader.BatchSize())
	assert.NotNil(suite.T(), suite.loader.Dictionary())
}

func (suite *LoaderTestSuite) TestBatchShapes() {
	b, err := suite.loader.Batch(0)
	require.NoError(suite.T(), err)

	// examples 0,1,2: doc lengths 1,2,3 query lengths 1,2,3
	assert.Equal(suite.T(), 0, b.Index)
	assert.Equal(suite.T(), 3, b.Size())
	assert.Equal(suite.T(), []int{3, 3}, b.Document.Tokens.Shape())
	assert.Equal(suite.T(), []int{3}, b.Document.Lengths.Shape())
	assert.Equal(suite.T(), []int{3, 3, 1}, b.Document.Mask.Shape())
	assert.Equal(suite.T(), []int64{1, 2, 3}, b.Document.Lengths.Data())
	assert.Equal(suite.T(), []int{3, 3}, b.Query.Tokens.Shape())
	assert.Equal(suite.T(), []int64{1, 2, 3}, b.Query.Lengths.Data())
	assert.Equal(suite.T(), []int64{0, 1, 2}, b.Answer.Data())

	assert.Equal(suite.T(), []int64{1, 8, 0}, b.Document.Tokens.Row(1))
	assert.Equal(suite.T(), []int64{1001, 1002, 0}, b.Query.Tokens.Row(1))
}

func (suite *LoaderTestSuite) TestLastBatchAbsorbsRemainder() {
	b, err := suite.loader.Batch(2)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), 7%3, b.Size())
	assert.Equal(suite.T(), []int64{6}, b.Answer.Data())
	// example 6: doc length 2, query length 1; widths are batch-local
	assert.Equal(suite.T(), []int{1, 2}, b.Document.Tokens.Shape())
	assert.Equal(suite.T(), []int{1, 1}, b.Query.Tokens.Shape())
}

func (suite *LoaderTestSuite) TestMaskAndPaddingInvariants() {
	for i := 0; i < suite.loader.NumBatches(); i++ {
		b, err := suite.loader.Batch(i)
		require.NoError(suite.T(), err)

		for _, f := range []Field{b.Document, b.Query} {
			maxLen := f.MaxLen()
			var sum int64
			for r, l := range f.Lengths.Data() {
				sum += l
				for j := 0; j < maxLen; j++ {
					if int64(j) < l {
						assert.Equal(suite.T(), float32(1), f.Mask.At(r, j, 0))
					} else {
						assert.Equal(suite.T(), float32(0), f.Mask.At(r, j, 0))
						assert.Equal(suite.T(), int64(0), f.Tokens.At(r, j))
					}
				}
			}
			assert.LessOrEqual(suite.T(), sum, int64(suite.loader.BatchSize()*maxLen))
		}
	}
}

func (suite *LoaderTestSuite) TestTensorsDoNotTrackGradients() {
	b, err := suite.loader.Batch(1)
	require.NoError(suite.T(), err)

	for _, tt := range b.Tensors() {
		assert.False(suite.T(), tt.RequiresGrad())
		assert.Equal(suite.T(), tensor.HostDevice, tt.Device())
	}
	assert.NoError(suite.T(), b.Release())
}

func (suite *LoaderTestSuite) TestBatchIndexOutOfRange() {
	_, err := suite.loader.Batch(suite.loader.NumBatches())
	require.Error(suite.T(), err)
	assert.True(suite.T(), errors.Is(err, ErrBatchIndexOutOfRange))
	assert.Contains(suite.T(), err.Error(), "index 3 >= batch num 3")

	_, err = suite.loader.Batch(-1)
	assert.True(suite.T(), errors.Is(err, ErrBatchIndexOutOfRange))
}

func (suite *LoaderTestSuite) TestBatchDoesNotAliasDataset() {
	b, err := suite.loader.Batch(0)
	require.NoError(suite.T(), err)

	b.Document.Tokens.Set(99, 0, 0)
	b.Answer.Set(99, 0)

	assert.Equal(suite.T(), int64(0), suite.data.Document[0][0])
	assert.Equal(suite.T(), int64(0), suite.data.Answer[0])
}

func (suite *LoaderTestSuite) TestShufflePreservesTriples() {
	before := suite.loader.EpochID()
	suite.loader.Shuffle()
	assert.NotEqual(suite.T(), before, suite.loader.EpochID())

	shuffled := suite.loader.Dataset()
	require.NoError(suite.T(), shuffled.Validate())
	assert.Equal(suite.T(), 7, shuffled.Len())

	// every example still lines up: answer i, document starts with i, query with i+1000
	answers := make([]int, 0, shuffled.Len())
	for i := 0; i < shuffled.Len(); i++ {
		ex := shuffled.Example(i)
		assert.Equal(suite.T(), ex.Answer, ex.Document[0])
		assert.Equal(suite.T(), ex.Answer+1000, ex.Query[0])
		answers = append(answers, int(ex.Answer))
	}
	sort.Ints(answers)
	assert.Equal(suite.T(), []int{0, 1, 2, 3, 4, 5, 6}, answers)

	// the original dataset value is left in its order
	assert.Equal(suite.T(), []int64{0, 1, 2, 3, 4, 5, 6}, suite.data.Answer)
}

func (suite *LoaderTestSuite) TestShuffleChangesBatchContents() {
	// with 7 examples at least one of several reshuffles moves something
	moved := false
	for i := 0; i < 10 && !moved; i++ {
		suite.loader.Shuffle()
		b, err := suite.loader.Batch(0)
		require.NoError(suite.T(), err)
		moved = fmt.Sprint(b.Answer.Data()) != "[0 1 2]"
	}
	assert.True(suite.T(), moved)
	assert.Equal(suite.T(), 3, suite.loader.NumBatches())
}

func (suite *LoaderTestSuite) TestEpochMatchesSequentialBatches() {
	var got [][]int64
	err := suite.loader.Epoch(context.Background(), func(b *Batch) error {
		got = append(got, append([]int64(nil), b.Answer.Data()...))
		return nil
	})
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), [][]int64{{0, 1, 2}, {3, 4, 5}, {6}}, got)
}

func (suite *LoaderTestSuite) TestEpochStopsOnCallbackError() {
	boom := errors.New("boom")
	calls := 0
	err := suite.loader.Epoch(context.Background(), func(b *Batch) error {
		calls++
		if b.Index == 1 {
			return boom
		}
		return nil
	})
	assert.True(suite.T(), errors.Is(err, boom))
	assert.Equal(suite.T(), 2, calls)
}

func (suite *LoaderTestSuite) TestEpochCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := suite.loader.Epoch(ctx, func(*Batch) error {
		calls++
		return nil
	})
	assert.True(suite.T(), errors.Is(err, context.Canceled))
	assert.Zero(suite.T(), calls)
}

func (suite *LoaderTestSuite) TestMetrics() {
	for i := 0; i < suite.loader.NumBatches(); i++ {
		_, err := suite.loader.Batch(i)
		require.NoError(suite.T(), err)
	}
	_, _ = suite.loader.Batch(10)
	suite.loader.Shuffle()

	m := suite.loader.Metrics()
	assert.Equal(suite.T(), int64(3), m["batches_built"])
	assert.Equal(suite.T(), int64(1), m["failed_batches"])
	assert.Equal(suite.T(), int64(7), m["examples_served"])
	assert.Equal(suite.T(), int64(1), m["shuffles"])

	// doc lengths 1,2,3,4,5,1,2 = 18, query lengths 1,2,3,1,2,3,1 = 13
	assert.Equal(suite.T(), int64(31), m["valid_tokens"])
	// doc widths 3,5,2 and query widths 3,3,1 over rows 3,3,1
	assert.Equal(suite.T(), int64(9+15+2+9+9+1), m["padded_tokens"])
	ratio := m["padding_ratio"].(float64)
	assert.InDelta(suite.T(), 1-31.0/45.0, ratio, 1e-9)
}

func TestNewValidation(t *testing.T) {
	dict := testDict(t)

	_, err := New(dict, makeDataset(3), false, 0, Options{Logger: &quiet})
	assert.True(t, errors.Is(err, ErrInvalidBatchSize))

	_, err = New(dict, &dataset.Dataset{}, false, 2, Options{Logger: &quiet})
	assert.True(t, errors.Is(err, dataset.ErrEmptyDataset))

	ragged := makeDataset(3)
	ragged.Answer = ragged.Answer[:1]
	_, err = New(dict, ragged, false, 2, Options{Logger: &quiet})
	assert.True(t, errors.Is(err, dataset.ErrRaggedDataset))
}

func TestExactMultipleBatchSize(t *testing.T) {
	l, err := New(testDict(t), makeDataset(6), false, 3, Options{Logger: &quiet})
	require.NoError(t, err)

	assert.Equal(t, 2, l.NumBatches())
	b, err := l.Batch(1)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Size())
}

func TestEmptySequencesGiveZeroWidth(t *testing.T) {
	data := dataset.New([]dataset.Example{
		{Document: []int64{}, Query: []int64{3}, Answer: 1},
		{Document: nil, Query: []int64{4, 5}, Answer: 2},
	})
	l, err := New(testDict(t), data, false, 4, Options{Logger: &quiet})
	require.NoError(t, err)

	b, err := l.Batch(0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, b.Document.Tokens.Shape())
	assert.Equal(t, []int{2, 0, 1}, b.Document.Mask.Shape())
	assert.Equal(t, []int64{0, 0}, b.Document.Lengths.Data())
	assert.Equal(t, []int{2, 2}, b.Query.Tokens.Shape())
}

func TestShuffleIsDeterministicForSeed(t *testing.T) {
	a, err := New(testDict(t), makeDataset(20), false, 4, Options{Seed: 11, Logger: &quiet})
	require.NoError(t, err)
	b, err := New(testDict(t), makeDataset(20), false, 4, Options{Seed: 11, Logger: &quiet})
	require.NoError(t, err)

	a.Shuffle()
	b.Shuffle()
	assert.Equal(t, a.Dataset().Answer, b.Dataset().Answer)
}

func TestSingleExampleShuffle(t *testing.T) {
	l, err := New(testDict(t), makeDataset(1), false, 4, Options{Logger: &quiet})
	require.NoError(t, err)

	l.Shuffle()
	assert.Equal(t, []int64{0}, l.Dataset().Answer)
}

func TestDevicePlacement(t *testing.T) {
	p := &fakePlacer{}
	l, err := New(testDict(t), makeDataset(5), true, 2, Options{Placer: p, Logger: &quiet})
	require.NoError(t, err)

	b, err := l.Batch(0)
	require.NoError(t, err)

	assert.Equal(t, 7, p.placed)
	for _, tt := range b.Tensors() {
		assert.Equal(t, "fake:0", tt.Device())
		assert.False(t, tt.RequiresGrad())
	}

	require.NoError(t, b.Release())
	assert.Equal(t, 7, p.destroyed)
	assert.Equal(t, tensor.HostDevice, b.Answer.Device())
}

func TestDevicePlacementIgnoredWithoutFlag(t *testing.T) {
	p := &fakePlacer{}
	l, err := New(testDict(t), makeDataset(5), false, 2, Options{Placer: p, Logger: &quiet})
	require.NoError(t, err)

	_, err = l.Batch(0)
	require.NoError(t, err)
	assert.Zero(t, p.placed)
}

func TestDevicePlacementFailureReleases(t *testing.T) {
	p := &fakePlacer{failAfter: 4}
	l, err := New(testDict(t), makeDataset(5), true, 2, Options{Placer: p, Logger: &quiet})
	require.NoError(t, err)

	b, err := l.Batch(0)
	assert.Nil(t, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of device memory")
	assert.Equal(t, 4, p.destroyed)
}

func TestNewFromConfig(t *testing.T) {
	cfg := &config.Config{
		Loader: config.LoaderConfig{BatchSize: 4, Seed: 3, Workers: 2},
	}
	l, err := NewFromConfig(testDict(t), makeDataset(9), cfg, &quiet)
	require.NoError(t, err)

	assert.Equal(t, 3, l.NumBatches())
	assert.Equal(t, 2, l.workers)
	assert.False(t, l.shuffle)
}

func TestEpochShufflesWhenConfigured(t *testing.T) {
	cfg := &config.Config{
		Loader: config.LoaderConfig{BatchSize: 4, Seed: 5, Shuffle: true},
	}
	l, err := NewFromConfig(testDict(t), makeDataset(9), cfg, &quiet)
	require.NoError(t, err)

	first := l.EpochID()
	seen := 0
	err = l.Epoch(context.Background(), func(b *Batch) error {
		seen += b.Size()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 9, seen)
	assert.NotEqual(t, first, l.EpochID())
	assert.Equal(t, int64(1), l.Metrics()["shuffles"])
}
