package client

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// EpochSummary is the per-epoch row published to Longbow.
type EpochSummary struct {
	Epoch     int
	TrainLoss float64
	ValidLoss float64
	ValidPPL  float64
	LR        float64
	Elapsed   int64 // milliseconds
}

var (
	embeddingSchema = arrow.NewSchema([]arrow.Field{
		{Name: "word", Type: arrow.BinaryTypes.String},
		{Name: "vector", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
	}, nil)

	epochSchema = arrow.NewSchema([]arrow.Field{
		{Name: "epoch", Type: arrow.PrimitiveTypes.Int32},
		{Name: "train_loss", Type: arrow.PrimitiveTypes.Float64},
		{Name: "valid_loss", Type: arrow.PrimitiveTypes.Float64},
		{Name: "valid_ppl", Type: arrow.PrimitiveTypes.Float64},
		{Name: "lr", Type: arrow.PrimitiveTypes.Float64},
		{Name: "elapsed_ms", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
)

// RecordBatchBuilder creates Arrow record batches for export.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildEmbeddingRecord pairs each word with its vector, narrowed to
// float32. It returns nil for empty input.
func (b *RecordBatchBuilder) BuildEmbeddingRecord(words []string, vectors [][]float64) (arrow.RecordBatch, error) {
	if len(words) != len(vectors) {
		return nil, fmt.Errorf("%d words for %d vectors", len(words), len(vectors))
	}
	if len(words) == 0 {
		return nil, nil
	}

	rb := array.NewRecordBuilder(b.mem, embeddingSchema)
	defer rb.Release()

	rb.Field(0).(*array.StringBuilder).AppendValues(words, nil)

	listBuilder := rb.Field(1).(*array.ListBuilder)
	valueBuilder := listBuilder.ValueBuilder().(*array.Float32Builder)
	for _, vec := range vectors {
		listBuilder.Append(true)
		valueBuilder.Reserve(len(vec))
		for _, v := range vec {
			valueBuilder.UnsafeAppend(float32(v))
		}
	}
	return rb.NewRecord(), nil
}

// BuildEpochRecord encodes summaries, one row each.
func (b *RecordBatchBuilder) BuildEpochRecord(summaries ...EpochSummary) arrow.RecordBatch {
	rb := array.NewRecordBuilder(b.mem, epochSchema)
	defer rb.Release()

	for _, s := range summaries {
		rb.Field(0).(*array.Int32Builder).Append(int32(s.Epoch))
		rb.Field(1).(*array.Float64Builder).Append(s.TrainLoss)
		rb.Field(2).(*array.Float64Builder).Append(s.ValidLoss)
		rb.Field(3).(*array.Float64Builder).Append(s.ValidPPL)
		rb.Field(4).(*array.Float64Builder).Append(s.LR)
		rb.Field(5).(*array.Int64Builder).Append(s.Elapsed)
	}
	return rb.NewRecord()
}
