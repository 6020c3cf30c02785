package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hebaghazali/portl/pkg/config"
	"github.com/hebaghazali/portl/pkg/models"
	"github.com/hebaghazali/portl/pkg/schema"
)

// writeFixture writes a users CSV with rowCount data rows and returns its path
func writeFixture(t *testing.T, rowCount int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "users.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := csv.NewWriter(f)
	require.NoError(t, w.Write([]string{"id", "name", "score"}))
	for i := 0; i < rowCount; i++ {
		require.NoError(t, w.Write([]string{
			strconv.Itoa(i),
			fmt.Sprintf("user_%d", i),
			fmt.Sprintf("%d.5", i),
		}))
	}
	w.Flush()
	require.NoError(t, w.Error())
	return path
}

func newTestSource(t *testing.T, path string) *Source {
	t.Helper()
	src := NewSource(&config.Endpoint{Type: config.KindCSV, Path: path})
	require.NoError(t, src.Connect(context.Background()))
	t.Cleanup(func() { _ = src.Disconnect(context.Background()) })
	return src
}

func TestSourceConnect(t *testing.T) {
	t.Run("missing file fails", func(t *testing.T) {
		src := NewSource(&config.Endpoint{Type: config.KindCSV, Path: "/nonexistent/x.csv"})
		assert.Error(t, src.Connect(context.Background()))
		// Disconnect after failed connect must be safe.
		assert.NoError(t, src.Disconnect(context.Background()))
	})

	t.Run("directory fails", func(t *testing.T) {
		src := NewSource(&config.Endpoint{Type: config.KindCSV, Path: t.TempDir()})
		assert.Error(t, src.Connect(context.Background()))
	})

	t.Run("connect is idempotent", func(t *testing.T) {
		src := newTestSource(t, writeFixture(t, 3))
		assert.NoError(t, src.Connect(context.Background()))
		assert.True(t, src.TestConnection(context.Background()))
	})
}

func TestSourceGetSchema(t *testing.T) {
	src := newTestSource(t, writeFixture(t, 10))

	s, err := src.GetSchema(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"id", "name", "score"}, s.ColumnNames())
	id, _ := s.Column("id")
	name, _ := s.Column("name")
	score, _ := s.Column("score")
	assert.Equal(t, schema.TypeInt, id.Type)
	assert.Equal(t, schema.TypeText, name.Type)
	assert.Equal(t, schema.TypeDouble, score.Type)
}

func TestSourceGetRowCount(t *testing.T) {
	src := newTestSource(t, writeFixture(t, 37))

	count, err := src.GetRowCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(37), count)
}

func TestSourceGetRowCountEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	src := newTestSource(t, path)
	count, err := src.GetRowCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

// drain consumes a stream fully, failing the test on a stream error
func drain(t *testing.T, src *Source, batchSize int, offset int64) []*models.Batch {
	t.Helper()

	stream, err := src.ReadData(context.Background(), batchSize, offset)
	require.NoError(t, err)

	var batches []*models.Batch
	for batch := range stream.Batches {
		batches = append(batches, batch)
	}
	require.NoError(t, <-stream.Errors)
	return batches
}

func TestSourceReadDataBatchSums(t *testing.T) {
	const total = 2500
	src := newTestSource(t, writeFixture(t, total))

	batches := drain(t, src, 1000, 0)

	require.Len(t, batches, 3)
	assert.Equal(t, 1000, batches[0].Len())
	assert.Equal(t, 1000, batches[1].Len())
	assert.Equal(t, 500, batches[2].Len())

	sum := 0
	for _, batch := range batches {
		sum += batch.Len()
	}
	assert.Equal(t, total, sum)

	// Values arrive typed per the inferred schema.
	first := batches[0].Rows[0]
	assert.Equal(t, int64(0), first.Get("id"))
	assert.Equal(t, "user_0", first.Get("name"))
	assert.Equal(t, 0.5, first.Get("score"))
}

func TestSourceReadDataExactMultiple(t *testing.T) {
	src := newTestSource(t, writeFixture(t, 200))

	batches := drain(t, src, 100, 0)
	require.Len(t, batches, 2)
	assert.Equal(t, 100, batches[1].Len())
}

func TestSourceReadDataRestartableByOffset(t *testing.T) {
	src := newTestSource(t, writeFixture(t, 50))

	full := drain(t, src, 10, 0)
	resumed := drain(t, src, 10, 30)

	var tail []*models.Row
	for _, batch := range full {
		tail = append(tail, batch.Rows...)
	}
	tail = tail[30:]

	var got []*models.Row
	for _, batch := range resumed {
		got = append(got, batch.Rows...)
	}

	require.Len(t, got, len(tail))
	for i := range got {
		assert.Equal(t, tail[i].Values, got[i].Values)
	}
}

func TestSourceReadDataOffsetPastEnd(t *testing.T) {
	src := newTestSource(t, writeFixture(t, 5))
	assert.Empty(t, drain(t, src, 10, 100))
}

func TestSourceReadDataRejectsBadBatchSize(t *testing.T) {
	src := newTestSource(t, writeFixture(t, 5))
	_, err := src.ReadData(context.Background(), 0, 0)
	assert.Error(t, err)
}

func TestSourceReadDataCancellation(t *testing.T) {
	src := newTestSource(t, writeFixture(t, 2000))

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := src.ReadData(ctx, 10, 0)
	require.NoError(t, err)

	<-stream.Batches
	cancel()

	// The producer stops; the stream terminates rather than hanging.
	for range stream.Batches {
	}
}

func TestSourcePreviewData(t *testing.T) {
	src := newTestSource(t, writeFixture(t, 10))

	t.Run("limit under row count", func(t *testing.T) {
		preview := src.PreviewData(context.Background(), 5)
		assert.Equal(t, 5, preview.Len())
	})

	t.Run("limit over row count", func(t *testing.T) {
		preview := src.PreviewData(context.Background(), 50)
		assert.Equal(t, 10, preview.Len())
	})

	t.Run("errors swallowed into empty batch", func(t *testing.T) {
		broken := NewSource(&config.Endpoint{Type: config.KindCSV, Path: "/nonexistent/x.csv"})
		broken.connected = true
		preview := broken.PreviewData(context.Background(), 5)
		assert.Equal(t, 0, preview.Len())
	})
}

func TestSourceHeaderlessFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.csv")
	require.NoError(t, os.WriteFile(path, []byte("1,ada\n2,grace\n"), 0o644))

	noHeader := false
	src := NewSource(&config.Endpoint{Type: config.KindCSV, Path: path, HasHeader: &noHeader})
	require.NoError(t, src.Connect(context.Background()))

	s, err := src.GetSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"col_0", "col_1"}, s.ColumnNames())

	count, err := src.GetRowCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	batches := drain(t, src, 10, 0)
	require.Len(t, batches, 1)
	assert.Equal(t, 2, batches[0].Len())
	assert.Equal(t, int64(1), batches[0].Rows[0].Get("col_0"))
	assert.Equal(t, "ada", batches[0].Rows[0].Get("col_1"))
}

func TestSourceCustomDelimiter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semi.csv")
	require.NoError(t, os.WriteFile(path, []byte("id;name\n1;ada\n"), 0o644))

	src := NewSource(&config.Endpoint{Type: config.KindCSV, Path: path, Delimiter: ";"})
	require.NoError(t, src.Connect(context.Background()))

	batches := drain(t, src, 10, 0)
	require.Len(t, batches, 1)
	assert.Equal(t, "ada", batches[0].Rows[0].Get("name"))
}
