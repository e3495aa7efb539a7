package loader

import (
	"errors"

	"github.com/ZanzyTHEbar/rc-loader/rcl/tensor"
)

// Field is one padded sequence field of a batch.
type Field struct {
	Tokens  *tensor.Dense[int64]   // batch x max_len, zero padded
	Lengths *tensor.Dense[int64]   // batch
	Mask    *tensor.Dense[float32] // batch x max_len x 1
}

// MaxLen is the batch-local padded width.
func (f Field) MaxLen() int { return f.Tokens.Dim(1) }

// Batch is one minibatch of document/query/answer triples.
type Batch struct {
	Index    int
	Document Field
	Query    Field
	Answer   *tensor.Dense[int64] // batch
}

// Size is the number of examples in the batch.
func (b *Batch) Size() int { return b.Answer.Len() }

// Tensors lists every tensor of the batch in a fixed order.
func (b *Batch) Tensors() []tensor.Tensor {
	return []tensor.Tensor{
		b.Document.Tokens, b.Document.Lengths, b.Document.Mask,
		b.Query.Tokens, b.Query.Lengths, b.Query.Mask,
		b.Answer,
	}
}

// Release frees any device memory bound to the batch tensors.
func (b *Batch) Release() error {
	var errs []error
	for _, t := range b.Tensors() {
		if err := t.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
