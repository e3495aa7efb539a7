// Package predict turns per-position model probabilities over a padded
// document batch into per-word scores and answer predictions.
package predict

import (
	"slices"

	"github.com/ZanzyTHEbar/rc-loader/rcl/tensor"

	roaring "github.com/RoaringBitmap/roaring"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Aggregate sums probs per token id over the valid positions of each row.
// docs and probs are batch x seq_len, lengths is batch. Result i maps every
// distinct id in docs[i][:lengths[i]] to the sum of its probabilities.
func Aggregate(docs *tensor.Dense[int64], probs mat.Matrix, lengths *tensor.Dense[int64]) []map[int64]float64 {
	batch := lengths.Len()
	out := make([]map[int64]float64, batch)
	for i := 0; i < batch; i++ {
		scores := make(map[int64]float64)
		n := int(lengths.At(i))
		for j := 0; j < n; j++ {
			scores[docs.At(i, j)] += probs.At(i, j)
		}
		out[i] = scores
	}
	return out
}

// Candidates returns the distinct token ids at the valid positions of each row.
func Candidates(docs *tensor.Dense[int64], lengths *tensor.Dense[int64]) []*roaring.Bitmap {
	batch := lengths.Len()
	out := make([]*roaring.Bitmap, batch)
	for i := 0; i < batch; i++ {
		bm := roaring.New()
		n := int(lengths.At(i))
		for j := 0; j < n; j++ {
			bm.Add(uint32(docs.At(i, j)))
		}
		out[i] = bm
	}
	return out
}

// Best returns the highest scoring id, restricted to candidates when it is
// non-nil. Ties go to the smallest id. ok is false when nothing qualifies.
func Best(scores map[int64]float64, candidates *roaring.Bitmap) (id int64, prob float64, ok bool) {
	ids := make([]int64, 0, len(scores))
	for k := range scores {
		if candidates != nil && (k < 0 || !candidates.Contains(uint32(k))) {
			continue
		}
		ids = append(ids, k)
	}
	if len(ids) == 0 {
		return 0, 0, false
	}
	slices.Sort(ids)

	vals := make([]float64, len(ids))
	for i, k := range ids {
		vals[i] = scores[k]
	}
	// MaxIdx returns the first maximum, i.e. the smallest id
	best := floats.MaxIdx(vals)
	return ids[best], vals[best], true
}

// Prediction is the extracted answer for one example.
type Prediction struct {
	ID     int64
	Prob   float64
	Scores map[int64]float64
	Valid  bool
}

// Extract aggregates probs and picks the best document word for each row.
// When candidates is non-nil, row i only considers ids in candidates[i].
func Extract(docs *tensor.Dense[int64], probs mat.Matrix, lengths *tensor.Dense[int64], candidates []*roaring.Bitmap) []Prediction {
	scores := Aggregate(docs, probs, lengths)
	out := make([]Prediction, len(scores))
	for i, s := range scores {
		var c *roaring.Bitmap
		if candidates != nil {
			c = candidates[i]
		}
		id, p, ok := Best(s, c)
		out[i] = Prediction{ID: id, Prob: p, Scores: s, Valid: ok}
	}
	return out
}

// Accuracy is the fraction of predictions whose id equals the answer.
// Invalid predictions count as wrong.
func Accuracy(preds []Prediction, answers *tensor.Dense[int64]) float64 {
	if len(preds) == 0 {
		return 0
	}
	correct := 0
	for i, p := range preds {
		if p.Valid && p.ID == answers.At(i) {
			correct++
		}
	}
	return float64(correct) / float64(len(preds))
}
