package dataset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Dataset {
	return New([]Example{
		{Document: []int64{1, 2, 3}, Query: []int64{4}, Answer: 1},
		{Document: []int64{5}, Query: []int64{6, 7}, Answer: 5},
		{Document: []int64{8, 9}, Query: []int64{10, 11, 12}, Answer: 9},
	})
}

func TestNewKeepsParallelOrder(t *testing.T) {
	d := sample()
	require.NoError(t, d.Validate())
	assert.Equal(t, 3, d.Len())

	ex := d.Example(1)
	assert.Equal(t, []int64{5}, ex.Document)
	assert.Equal(t, []int64{6, 7}, ex.Query)
	assert.Equal(t, int64(5), ex.Answer)
}

func TestValidate(t *testing.T) {
	var nilSet *Dataset
	assert.True(t, errors.Is(nilSet.Validate(), ErrEmptyDataset))
	assert.True(t, errors.Is((&Dataset{}).Validate(), ErrEmptyDataset))

	ragged := sample()
	ragged.Answer = ragged.Answer[:2]
	assert.True(t, errors.Is(ragged.Validate(), ErrRaggedDataset))

	ragged = sample()
	ragged.Query = append(ragged.Query, []int64{1})
	assert.True(t, errors.Is(ragged.Validate(), ErrRaggedDataset))
}

func TestSlice(t *testing.T) {
	d := sample()
	s := d.Slice(1, 3)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []int64{5, 9}, s.Answer)
}

func TestPermute(t *testing.T) {
	d := sample()
	p, err := d.Permute([]int{2, 0, 1})
	require.NoError(t, err)

	assert.Equal(t, []int64{9, 1, 5}, p.Answer)
	assert.Equal(t, []int64{8, 9}, p.Document[0])
	assert.Equal(t, []int64{10, 11, 12}, p.Query[0])

	// original order untouched
	assert.Equal(t, []int64{1, 5, 9}, d.Answer)

	// reordering p never reorders d
	p.Answer[0] = 100
	assert.Equal(t, int64(1), d.Answer[0])
}

func TestPermuteRejectsInvalid(t *testing.T) {
	d := sample()
	for _, perm := range [][]int{{0, 1}, {0, 0, 1}, {0, 1, 3}, {-1, 0, 1}} {
		_, err := d.Permute(perm)
		assert.True(t, errors.Is(err, ErrInvalidPerm), "perm %v", perm)
	}
}
