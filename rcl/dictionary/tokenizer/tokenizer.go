package tokenizer

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/rc-loader/rcl/dictionary"
)

// Tokenizer converts raw text to variable-length token id sequences.
// Padding and masking are left to the loader.
type Tokenizer interface {
	Encode(texts []string) ([][]int64, error)
}

// ErrUnsupported indicates the tokenizer could not be initialized
var ErrUnsupported = fmt.Errorf("unsupported tokenizer configuration")

// Whitespace splits on whitespace and looks each field up in a dictionary.
// Unknown words map to the unk id; sequences longer than maxSeqLen are cut.
type Whitespace struct {
	dict      dictionary.Dictionary
	unkID     int64
	maxSeqLen int
	lower     bool
}

// NewWhitespace resolves unkToken in dict. maxSeqLen <= 0 disables truncation.
func NewWhitespace(dict dictionary.Dictionary, unkToken string, maxSeqLen int, lower bool) (*Whitespace, error) {
	unkID, ok := dict.ID(unkToken)
	if !ok {
		return nil, fmt.Errorf("%w: unk token %q not in vocabulary", ErrUnsupported, unkToken)
	}
	return &Whitespace{dict: dict, unkID: unkID, maxSeqLen: maxSeqLen, lower: lower}, nil
}

func (w *Whitespace) Encode(texts []string) ([][]int64, error) {
	out := make([][]int64, len(texts))
	for i, t := range texts {
		if w.lower {
			t = strings.ToLower(t)
		}
		fields := strings.Fields(t)
		if w.maxSeqLen > 0 && len(fields) > w.maxSeqLen {
			fields = fields[:w.maxSeqLen]
		}
		seq := make([]int64, len(fields))
		for j, f := range fields {
			id, ok := w.dict.ID(f)
			if !ok {
				id = w.unkID
			}
			seq[j] = id
		}
		out[i] = seq
	}
	return out, nil
}
