package influx

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultBatchSize caps the records sent in one physical write.
const DefaultBatchSize = 10000

// LineWriter submits already rendered line records in one request.
type LineWriter interface {
	WriteLines(ctx context.Context, lines []string) error
}

// BatchWriter writes a whole run's records, chunked to BatchSize.
type BatchWriter struct {
	sink      LineWriter
	batchSize int
	logger    *slog.Logger
}

func NewBatchWriter(sink LineWriter, batchSize int, logger *slog.Logger) *BatchWriter {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchWriter{sink: sink, batchSize: batchSize, logger: logger}
}

// Write renders records and submits them in order. It stops at the first
// failing chunk; nothing is retried.
func (w *BatchWriter) Write(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		w.logger.Info("no records to write")
		return nil
	}
	lines, err := FormatLines(records)
	if err != nil {
		return err
	}

	chunks := Chunk(lines, w.batchSize)
	for i, chunk := range chunks {
		if err := w.sink.WriteLines(ctx, chunk); err != nil {
			return fmt.Errorf("write chunk %d/%d (%d records): %w", i+1, len(chunks), len(chunk), err)
		}
		w.logger.Debug("wrote chunk", "chunk", i+1, "chunks", len(chunks), "records", len(chunk))
	}
	w.logger.Info("records written", "records", len(lines), "chunks", len(chunks))
	return nil
}

// Chunk splits lines into consecutive slices of at most size elements.
func Chunk(lines []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	out := make([][]string, 0, (len(lines)+size-1)/size)
	for start := 0; start < len(lines); start += size {
		end := min(start+size, len(lines))
		out = append(out, lines[start:end:end])
	}
	return out
}
