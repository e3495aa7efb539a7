package loader

import (
	"github.com/ZanzyTHEbar/rc-loader/rcl/tensor"
)

// padSequences copies seqs left-aligned into a zero-filled matrix whose width
// is the longest sequence, and returns it with the per-row lengths.
func padSequences(seqs [][]int64) (*tensor.Dense[int64], *tensor.Dense[int64]) {
	lengths := make([]int64, len(seqs))
	maxLen := 0
	for i, seq := range seqs {
		lengths[i] = int64(len(seq))
		maxLen = max(maxLen, len(seq))
	}

	out, _ := tensor.New[int64](len(seqs), maxLen)
	for i, seq := range seqs {
		copy(out.Row(i), seq)
	}
	return out, tensor.Vector(lengths)
}

// createMask returns a rows x maxLen x 1 mask with 1 where j < lengths[i].
func createMask(lengths *tensor.Dense[int64], maxLen int) *tensor.Dense[float32] {
	n := lengths.Len()
	mask, _ := tensor.New[float32](n, maxLen)
	for i, l := range lengths.Data() {
		row := mask.Row(i)
		for j := 0; j < int(l) && j < maxLen; j++ {
			row[j] = 1
		}
	}
	return mask.Unsqueeze(2)
}
