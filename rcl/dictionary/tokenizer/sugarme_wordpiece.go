package tokenizer

import (
	"fmt"
	"os"
	"path/filepath"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
)

// SugarWordPiece wraps sugarme/tokenizer WordPiece (BERT-style) without
// special tokens or padding, so ids line up with the loader's vocabulary.
type SugarWordPiece struct {
	t *tk.Tokenizer
}

// NewSugarWordPiece loads vocab.txt (or a directory holding one) and builds a
// BERT WordPiece tokenizer. maxSeq <= 0 disables truncation.
func NewSugarWordPiece(vocabPath, unkToken string, maxSeq int) (*SugarWordPiece, error) {
	fi, err := os.Stat(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if fi.IsDir() {
		vocabPath = filepath.Join(vocabPath, "vocab.txt")
	}

	wp, err := wordpiece.NewWordPieceFromFile(vocabPath, unkToken)
	if err != nil {
		return nil, fmt.Errorf("%w: load wordpiece vocab: %v", ErrUnsupported, err)
	}

	t := tk.NewTokenizer(wp)
	t.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, true))
	t.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())
	if maxSeq > 0 {
		t.WithTruncation(&tk.TruncationParams{MaxLength: maxSeq})
	}
	return &SugarWordPiece{t: t}, nil
}

func (s *SugarWordPiece) Encode(texts []string) ([][]int64, error) {
	out := make([][]int64, len(texts))
	for i, txt := range texts {
		enc, err := s.t.Encode(tk.NewSingleEncodeInput(tk.NewInputSequence(txt)), false)
		if err != nil {
			return nil, fmt.Errorf("encode text %d: %w", i, err)
		}
		ids := enc.GetIds()
		seq := make([]int64, len(ids))
		for j, id := range ids {
			seq[j] = int64(id)
		}
		out[i] = seq
	}
	return out, nil
}
