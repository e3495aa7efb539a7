package dataset

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyDataset  = errors.New("dataset is empty")
	ErrRaggedDataset = errors.New("document, query and answer sequences differ in length")
	ErrInvalidPerm   = errors.New("invalid permutation")
)

// Dataset holds parallel document, query and answer sequences.
// Index i across the three fields refers to the same example.
type Dataset struct {
	Document [][]int64
	Query    [][]int64
	Answer   []int64
}

// Example is a single document/query/answer triple.
type Example struct {
	Document []int64
	Query    []int64
	Answer   int64
}

// New builds a dataset from examples.
func New(examples []Example) *Dataset {
	d := &Dataset{
		Document: make([][]int64, len(examples)),
		Query:    make([][]int64, len(examples)),
		Answer:   make([]int64, len(examples)),
	}
	for i, ex := range examples {
		d.Document[i] = ex.Document
		d.Query[i] = ex.Query
		d.Answer[i] = ex.Answer
	}
	return d
}

// Len returns the number of examples, taken from the document field.
func (d *Dataset) Len() int { return len(d.Document) }

// Validate checks that the dataset is non-empty and its fields are parallel.
func (d *Dataset) Validate() error {
	if d == nil || len(d.Document) == 0 {
		return ErrEmptyDataset
	}
	if len(d.Query) != len(d.Document) || len(d.Answer) != len(d.Document) {
		return fmt.Errorf("%w: document=%d query=%d answer=%d",
			ErrRaggedDataset, len(d.Document), len(d.Query), len(d.Answer))
	}
	return nil
}

// Example returns the i-th triple.
func (d *Dataset) Example(i int) Example {
	return Example{Document: d.Document[i], Query: d.Query[i], Answer: d.Answer[i]}
}

// Slice returns the examples in [start, end) as a view over d.
func (d *Dataset) Slice(start, end int) *Dataset {
	return &Dataset{
		Document: d.Document[start:end],
		Query:    d.Query[start:end],
		Answer:   d.Answer[start:end],
	}
}

// Permute returns a new dataset whose i-th example is d's perm[i]-th example.
// The outer slices are freshly allocated; token sequences are shared.
func (d *Dataset) Permute(perm []int) (*Dataset, error) {
	n := d.Len()
	if len(perm) != n {
		return nil, fmt.Errorf("%w: length %d for %d examples", ErrInvalidPerm, len(perm), n)
	}
	seen := make([]bool, n)
	out := &Dataset{
		Document: make([][]int64, n),
		Query:    make([][]int64, n),
		Answer:   make([]int64, n),
	}
	for i, p := range perm {
		if p < 0 || p >= n || seen[p] {
			return nil, fmt.Errorf("%w: entry %d at position %d", ErrInvalidPerm, p, i)
		}
		seen[p] = true
		out.Document[i] = d.Document[p]
		out.Query[i] = d.Query[p]
		out.Answer[i] = d.Answer[p]
	}
	return out, nil
}
