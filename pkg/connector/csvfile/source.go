// Package csvfile implements the flat-file source and destination connectors.
package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/hebaghazali/portl/pkg/config"
	"github.com/hebaghazali/portl/pkg/connector/core"
	"github.com/hebaghazali/portl/pkg/connector/registry"
	"github.com/hebaghazali/portl/pkg/errors"
	"github.com/hebaghazali/portl/pkg/logger"
	"github.com/hebaghazali/portl/pkg/models"
	"github.com/hebaghazali/portl/pkg/schema"
)

func init() {
	registry.RegisterSource(config.KindCSV, func(endpoint *config.Endpoint) (core.Source, error) {
		return NewSource(endpoint), nil
	})
	registry.RegisterDestination(config.KindCSV, func(endpoint *config.Endpoint) (core.Destination, error) {
		return NewDestination(endpoint), nil
	})
}

// schemaSampleRows bounds how many rows type inference reads
const schemaSampleRows = 1000

// batchStreamDepth is how many batches a reader may run ahead of the consumer
const batchStreamDepth = 4

// Source reads batches from a delimited text file. There is no persistent
// connection; Connect validates the path and sniffs the file encoding.
type Source struct {
	endpoint  *config.Endpoint
	log       *zap.Logger
	connected bool
	encoding  string

	cachedSchema *schema.Schema
}

// NewSource creates a CSV source. No I/O happens until Connect.
func NewSource(endpoint *config.Endpoint) *Source {
	return &Source{
		endpoint: endpoint,
		log:      logger.Get().With(zap.String("connector", "csv_source"), zap.String("path", endpoint.Path)),
	}
}

// Connect validates that the file exists and detects its encoding
func (s *Source) Connect(_ context.Context) error {
	if s.connected {
		return nil
	}

	info, err := os.Stat(s.endpoint.Path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "csv file not found").
			WithDetail("path", s.endpoint.Path)
	}
	if info.IsDir() {
		return errors.Newf(errors.ErrorTypeFile, "%s is a directory, not a file", s.endpoint.Path)
	}

	s.encoding = s.endpoint.Encoding
	if s.encoding == "" {
		name, confidence, err := detectFileEncoding(s.endpoint.Path)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to detect encoding")
		}
		s.encoding = name
		s.log.Info("detected encoding",
			zap.String("encoding", name),
			zap.Float64("confidence", confidence))
	}

	s.connected = true
	return nil
}

// Disconnect is a no-op for files. Safe to call repeatedly or after a
// failed Connect.
func (s *Source) Disconnect(_ context.Context) error {
	s.connected = false
	return nil
}

// TestConnection reports whether the file is readable
func (s *Source) TestConnection(_ context.Context) bool {
	info, err := os.Stat(s.endpoint.Path)
	if err != nil || info.IsDir() {
		return false
	}
	f, err := os.Open(s.endpoint.Path) //nolint:gosec // G304
	if err != nil {
		return false
	}
	f.Close() //nolint:errcheck
	return true
}

// GetSchema infers column types from a bounded sample of rows
func (s *Source) GetSchema(_ context.Context) (*schema.Schema, error) {
	if s.cachedSchema != nil {
		return s.cachedSchema, nil
	}

	reader, closeFn, err := s.openReader()
	if err != nil {
		return nil, err
	}
	defer closeFn()

	header, first, err := s.readHeader(reader)
	if err != nil {
		return nil, err
	}

	samples := make([][]string, len(header))
	addSample := func(record []string) {
		for col := range header {
			if col < len(record) {
				samples[col] = append(samples[col], record[col])
			}
		}
	}
	if first != nil {
		addSample(first)
	}
	for i := 0; i < schemaSampleRows; i++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read csv sample")
		}
		addSample(record)
	}

	result := schema.Empty()
	for i, name := range header {
		result.Add(inferColumnType(name, samples[i]))
	}

	s.cachedSchema = result
	s.log.Info("inferred schema", zap.Int("columns", len(result.Columns)))
	return result, nil
}

// GetRowCount counts data rows, excluding the header
func (s *Source) GetRowCount(_ context.Context) (int64, error) {
	reader, closeFn, err := s.openReader()
	if err != nil {
		return 0, err
	}
	defer closeFn()

	var count int64
	for {
		_, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeFile, "failed to count csv rows")
		}
		count++
	}

	if s.endpoint.HeaderEnabled() && count > 0 {
		count--
	}
	return count, nil
}

// ReadData streams batches starting at offset. The goroutine owns the file
// handle and closes it when the stream ends, errors, or is cancelled.
func (s *Source) ReadData(ctx context.Context, batchSize int, offset int64) (*core.BatchStream, error) {
	if batchSize <= 0 {
		return nil, errors.Newf(errors.ErrorTypeData, "batch size must be positive, got %d", batchSize)
	}

	tableSchema, err := s.GetSchema(ctx)
	if err != nil {
		return nil, err
	}

	batches := make(chan *models.Batch, batchStreamDepth)
	errs := make(chan error, 1)

	go func() {
		defer close(batches)
		defer close(errs)

		reader, closeFn, err := s.openReader()
		if err != nil {
			errs <- err
			return
		}
		defer closeFn()

		header, pending, err := s.readHeader(reader)
		if err != nil {
			errs <- err
			return
		}

		next := func() ([]string, error) {
			if pending != nil {
				record := pending
				pending = nil
				return record, nil
			}
			return reader.Read()
		}

		for skipped := int64(0); skipped < offset; skipped++ {
			if _, err := next(); err == io.EOF {
				return
			} else if err != nil {
				errs <- errors.Wrap(err, errors.ErrorTypeFile, "failed to skip csv rows")
				return
			}
		}

		batch := models.NewBatch(batchSize)
		for {
			record, err := next()
			if err == io.EOF {
				break
			}
			if err != nil {
				errs <- errors.Wrap(err, errors.ErrorTypeFile, "failed to read csv row")
				return
			}

			batch.Append(recordToRow(header, record, tableSchema))
			if batch.Len() < batchSize {
				continue
			}

			select {
			case batches <- batch:
				batch = models.NewBatch(batchSize)
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}

		// Final short batch also terminates the stream.
		if !batch.IsEmpty() {
			select {
			case batches <- batch:
			case <-ctx.Done():
				errs <- ctx.Err()
			}
		}
	}()

	return &core.BatchStream{Batches: batches, Errors: errs}, nil
}

// PreviewData returns up to limit rows, swallowing errors into an empty batch
func (s *Source) PreviewData(ctx context.Context, limit int) *models.Batch {
	if limit <= 0 {
		return models.NewBatch(0)
	}

	stream, err := s.ReadData(ctx, limit, 0)
	if err != nil {
		s.log.Warn("preview failed", zap.Error(err))
		return models.NewBatch(0)
	}

	batch, ok := <-stream.Batches
	if !ok {
		if err := <-stream.Errors; err != nil {
			s.log.Warn("preview failed", zap.Error(err))
		}
		return models.NewBatch(0)
	}
	// Drain so the reader goroutine can exit.
	go func() {
		for range stream.Batches {
		}
	}()
	return batch
}

// openReader opens the file behind a decoding reader with the configured
// delimiter
func (s *Source) openReader() (*csv.Reader, func(), error) {
	f, err := os.Open(s.endpoint.Path) //nolint:gosec // G304
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open csv file").
			WithDetail("path", s.endpoint.Path)
	}

	reader := csv.NewReader(decodingReader(f, s.encoding))
	reader.Comma = s.endpoint.DelimiterRune()
	reader.FieldsPerRecord = -1

	return reader, func() { f.Close() }, nil //nolint:errcheck
}

// readHeader consumes the header row. For headerless files it synthesizes
// col_N names from the first record's width and hands that record back so
// the caller treats it as data.
func (s *Source) readHeader(reader *csv.Reader) (header []string, first []string, err error) {
	record, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read csv header")
	}

	if s.endpoint.HeaderEnabled() {
		return record, nil, nil
	}

	header = make([]string, len(record))
	for i := range record {
		header[i] = fmt.Sprintf("col_%d", i)
	}
	return header, record, nil
}

func recordToRow(header []string, record []string, tableSchema *schema.Schema) *models.Row {
	row := models.NewRow(header)
	for i, name := range header {
		raw := ""
		if i < len(record) {
			raw = record[i]
		}
		colType := schema.TypeText
		if col, ok := tableSchema.Column(name); ok {
			colType = col.Type
		}
		row.Values[name] = parseValue(raw, colType)
	}
	return row
}
