package tokenizer

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/rc-loader/rcl/dataset"
	"github.com/ZanzyTHEbar/rc-loader/rcl/dictionary"
)

// BuildDataset encodes parallel document, query and answer texts into a
// Dataset. Answers are single words resolved directly in dict.
func BuildDataset(tok Tokenizer, dict dictionary.Dictionary, documents, queries, answers []string) (*dataset.Dataset, error) {
	if len(documents) != len(queries) || len(documents) != len(answers) {
		return nil, fmt.Errorf("%w: document=%d query=%d answer=%d",
			dataset.ErrRaggedDataset, len(documents), len(queries), len(answers))
	}
	docs, err := tok.Encode(documents)
	if err != nil {
		return nil, fmt.Errorf("encode documents: %w", err)
	}
	qs, err := tok.Encode(queries)
	if err != nil {
		return nil, fmt.Errorf("encode queries: %w", err)
	}
	ans := make([]int64, len(answers))
	for i, a := range answers {
		id, ok := dict.ID(strings.TrimSpace(a))
		if !ok {
			return nil, fmt.Errorf("answer %d: %q not in vocabulary", i, a)
		}
		ans[i] = id
	}
	return &dataset.Dataset{Document: docs, Query: qs, Answer: ans}, nil
}
