package corpus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
)

// Arrow cache file names.
const (
	vocabArrow = "vocab.arrow"
)

var (
	vocabSchema = arrow.NewSchema([]arrow.Field{{Name: "word", Type: arrow.BinaryTypes.String}}, nil)
	tokenSchema = arrow.NewSchema([]arrow.Field{{Name: "token", Type: arrow.PrimitiveTypes.Int32}}, nil)
)

// ErrCacheMiss is returned by LoadArrow when dir holds no complete cache.
var ErrCacheMiss = errors.New("corpus: arrow cache miss")

func splitFiles(c *Corpus) map[string]*[]int {
	return map[string]*[]int{
		"train.arrow": &c.Train,
		"valid.arrow": &c.Valid,
		"test.arrow":  &c.Test,
	}
}

// SaveArrow writes the dictionary and the three token streams as Arrow IPC
// streams under dir.
func SaveArrow(dir string, c *Corpus) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	mem := memory.NewGoAllocator()

	wb := array.NewStringBuilder(mem)
	defer wb.Release()
	wb.AppendValues(c.Dict.Words(), nil)
	if err := writeColumn(filepath.Join(dir, vocabArrow), vocabSchema, wb.NewArray()); err != nil {
		return err
	}

	for name, ids := range splitFiles(c) {
		tb := array.NewInt32Builder(mem)
		tb.Reserve(len(*ids))
		for _, id := range *ids {
			tb.UnsafeAppend(int32(id))
		}
		err := writeColumn(filepath.Join(dir, name), tokenSchema, tb.NewArray())
		tb.Release()
		if err != nil {
			return err
		}
	}
	log.Debug().Str("dir", dir).Int("vocab", c.Dict.Len()).Msg("Wrote arrow corpus cache")
	return nil
}

func writeColumn(path string, schema *arrow.Schema, col arrow.Array) error {
	defer col.Release()
	rec := array.NewRecordBatch(schema, []arrow.Array{col}, int64(col.Len()))
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	writer := ipc.NewWriter(f, ipc.WithSchema(schema))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("close writer %s: %w", path, err)
	}
	return f.Close()
}

// LoadArrow reads a cache written by SaveArrow. It returns ErrCacheMiss when
// any file is absent.
func LoadArrow(dir string) (*Corpus, error) {
	mem := memory.NewGoAllocator()

	var words []string
	err := readColumn(filepath.Join(dir, vocabArrow), mem, func(col arrow.Array) error {
		s, ok := col.(*array.String)
		if !ok {
			return fmt.Errorf("vocab column is %s, want utf8", col.DataType())
		}
		for i := 0; i < s.Len(); i++ {
			words = append(words, s.Value(i))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c := &Corpus{Dict: DictionaryFrom(words)}
	for name, dst := range splitFiles(c) {
		err := readColumn(filepath.Join(dir, name), mem, func(col arrow.Array) error {
			ints, ok := col.(*array.Int32)
			if !ok {
				return fmt.Errorf("token column is %s, want int32", col.DataType())
			}
			for _, v := range ints.Int32Values() {
				if int(v) >= len(words) || v < 0 {
					return fmt.Errorf("token %d outside vocabulary of %d", v, len(words))
				}
				*dst = append(*dst, int(v))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func readColumn(path string, mem memory.Allocator, fn func(arrow.Array) error) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, ErrCacheMiss)
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	reader, err := ipc.NewReader(f, ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("open arrow stream %s: %w", path, err)
	}
	defer reader.Release()

	for reader.Next() {
		rec := reader.Record()
		if rec.NumCols() != 1 {
			return fmt.Errorf("%s: %d columns, want 1", path, rec.NumCols())
		}
		if err := fn(rec.Column(0)); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return reader.Err()
}
