package dictionary

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/armon/go-radix"
)

var ErrDuplicateWord = errors.New("duplicate word in vocabulary")

// Dictionary maps words to integer ids and back.
type Dictionary interface {
	Size() int
	ID(word string) (int64, bool)
	Word(id int64) (string, bool)
}

// Vocab is a Dictionary whose ids are the line order of its source.
// Words are indexed in a patricia tree so prefix queries stay O(k).
type Vocab struct {
	mu    sync.RWMutex
	tree  *radix.Tree
	words []string
}

// NewVocab assigns ids to words in order.
func NewVocab(words []string) (*Vocab, error) {
	v := &Vocab{tree: radix.New(), words: make([]string, 0, len(words))}
	for _, w := range words {
		if _, err := v.add(w); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// LoadVocab reads one token per line; blank lines are skipped.
func LoadVocab(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadVocab(f)
}

// ReadVocab is LoadVocab over an arbitrary reader.
func ReadVocab(r io.Reader) (*Vocab, error) {
	v := &Vocab{tree: radix.New(), words: make([]string, 0, 30000)}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		tok := strings.TrimSpace(scanner.Text())
		if tok == "" {
			continue
		}
		if _, err := v.add(tok); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return v, nil
}

func (v *Vocab) add(word string) (int64, error) {
	if _, ok := v.tree.Get(word); ok {
		return 0, fmt.Errorf("%w: %q", ErrDuplicateWord, word)
	}
	id := int64(len(v.words))
	v.tree.Insert(word, id)
	v.words = append(v.words, word)
	return id, nil
}

// Add appends word if absent and returns its id.
func (v *Vocab) Add(word string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if id, ok := v.tree.Get(word); ok {
		return id.(int64)
	}
	id, _ := v.add(word)
	return id
}

func (v *Vocab) Size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.words)
}

func (v *Vocab) ID(word string) (int64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.tree.Get(word)
	if !ok {
		return 0, false
	}
	return id.(int64), true
}

func (v *Vocab) Word(id int64) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if id < 0 || id >= int64(len(v.words)) {
		return "", false
	}
	return v.words[id], true
}

// Words maps ids to words, using unk for ids outside the vocabulary.
func (v *Vocab) Words(ids []int64, unk string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		w, ok := v.Word(id)
		if !ok {
			w = unk
		}
		out[i] = w
	}
	return out
}

// WithPrefix returns the words starting with prefix in lexical order.
func (v *Vocab) WithPrefix(prefix string) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var results []string
	v.tree.WalkPrefix(prefix, func(key string, _ interface{}) bool {
		results = append(results, key)
		return false // Continue walking
	})
	return results
}
