// Package corpus loads word-level text corpora and lays token streams out
// as batched matrices for truncated BPTT.
package corpus

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Split file names inside a corpus directory.
const (
	TrainFile = "train.txt"
	ValidFile = "valid.txt"
	TestFile  = "test.txt"
)

// Corpus is a tokenized train/valid/test split sharing one dictionary.
type Corpus struct {
	Dict  *Dictionary
	Train []int
	Valid []int
	Test  []int
}

// Load tokenizes the three split files under dir. Every split extends the
// dictionary, so valid and test words never map to an unknown id.
func Load(dir string) (*Corpus, error) {
	c := &Corpus{Dict: NewDictionary()}
	for _, split := range []struct {
		name string
		dst  *[]int
	}{
		{TrainFile, &c.Train},
		{ValidFile, &c.Valid},
		{TestFile, &c.Test},
	} {
		ids, err := c.tokenizeFile(filepath.Join(dir, split.name))
		if err != nil {
			return nil, err
		}
		*split.dst = ids
		log.Debug().Str("file", split.name).Int("tokens", len(ids)).Int("vocab", c.Dict.Len()).Msg("Tokenized split")
	}
	return c, nil
}

// normalizer composes to NFC and strips control runes other than whitespace.
func normalizer() transform.Transformer {
	return transform.Chain(norm.NFC, runes.Remove(runes.Predicate(func(r rune) bool {
		return unicode.IsControl(r) && !unicode.IsSpace(r)
	})))
}

// Tokenize splits one line into words and appends EOS.
func Tokenize(line string) []string {
	normalized, _, err := transform.String(normalizer(), line)
	if err != nil {
		normalized = line
	}
	return append(strings.Fields(normalized), EOS)
}

func (c *Corpus) tokenizeFile(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var ids []int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		for _, w := range Tokenize(scanner.Text()) {
			ids = append(ids, c.Dict.Add(w))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ids, nil
}
