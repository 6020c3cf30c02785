package csvfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hebaghazali/portl/pkg/config"
	"github.com/hebaghazali/portl/pkg/models"
	"github.com/hebaghazali/portl/pkg/schema"
)

func newTestDestination(t *testing.T, endpoint *config.Endpoint) *Destination {
	t.Helper()
	dst := NewDestination(endpoint)
	require.NoError(t, dst.Connect(context.Background()))
	t.Cleanup(func() { _ = dst.Disconnect(context.Background()) })
	return dst
}

func userSchema() *schema.Schema {
	s := schema.Empty()
	s.Add(schema.Column{Name: "id", Type: schema.TypeInt})
	s.Add(schema.Column{Name: "name", Type: schema.TypeText})
	return s
}

func userBatch(rows ...[2]interface{}) *models.Batch {
	batch := models.NewBatch(len(rows))
	for _, r := range rows {
		row := models.NewRow([]string{"id", "name"})
		row.Set("id", r[0])
		row.Set("name", r[1])
		batch.Append(row)
	}
	return batch
}

func TestDestinationConnectCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "out.csv")
	dst := newTestDestination(t, &config.Endpoint{Type: config.KindCSV, Path: path})

	assert.DirExists(t, filepath.Dir(path))
	assert.True(t, dst.TestConnection(context.Background()))
}

func TestDestinationGetSchemaMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	dst := newTestDestination(t, &config.Endpoint{Type: config.KindCSV, Path: path})

	s, err := dst.GetSchema(context.Background())
	require.NoError(t, err)
	assert.True(t, s.IsEmpty())
}

func TestDestinationCreateIfMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	dst := newTestDestination(t, &config.Endpoint{Type: config.KindCSV, Path: path})

	require.NoError(t, dst.CreateIfMissing(context.Background(), userSchema()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n", string(data))

	// Idempotent: calling again leaves the file alone.
	require.NoError(t, dst.CreateIfMissing(context.Background(), userSchema()))
	data, _ = os.ReadFile(path)
	assert.Equal(t, "id,name\n", string(data))
}

func TestDestinationWriteBatchInsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	dst := newTestDestination(t, &config.Endpoint{Type: config.KindCSV, Path: path})
	require.NoError(t, dst.CreateIfMissing(context.Background(), userSchema()))

	written, err := dst.WriteBatch(context.Background(),
		userBatch([2]interface{}{int64(1), "ada"}, [2]interface{}{int64(2), "grace"}),
		config.ConflictOverwrite)
	require.NoError(t, err)
	assert.Equal(t, int64(2), written)

	// Header appears exactly once across repeated writes.
	_, err = dst.WriteBatch(context.Background(),
		userBatch([2]interface{}{int64(3), "joan"}), config.ConflictOverwrite)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,ada\n2,grace\n3,joan\n", string(data))
}

func TestDestinationWriteBatchWritesHeaderOnNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	dst := newTestDestination(t, &config.Endpoint{Type: config.KindCSV, Path: path})

	_, err := dst.WriteBatch(context.Background(),
		userBatch([2]interface{}{int64(1), "ada"}), config.ConflictOverwrite)
	require.NoError(t, err)

	data, _ := os.ReadFile(path)
	assert.True(t, strings.HasPrefix(string(data), "id,name\n"))
}

func TestDestinationRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	endpoint := &config.Endpoint{Type: config.KindCSV, Path: path}
	dst := newTestDestination(t, endpoint)
	require.NoError(t, dst.CreateIfMissing(context.Background(), userSchema()))

	original := userBatch(
		[2]interface{}{int64(1), "ada"},
		[2]interface{}{int64(2), "grace"},
		[2]interface{}{int64(3), "joan"},
	)
	_, err := dst.WriteBatch(context.Background(), original, config.ConflictOverwrite)
	require.NoError(t, err)

	src := newTestSource(t, path)
	readSchema, err := src.GetSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, readSchema.ColumnNames())

	batches := drain(t, src, 10, 0)
	require.Len(t, batches, 1)
	require.Equal(t, original.Len(), batches[0].Len())
	for i, row := range batches[0].Rows {
		assert.Equal(t, original.Rows[i].Get("id"), row.Get("id"))
		assert.Equal(t, original.Rows[i].Get("name"), row.Get("name"))
	}
}

func TestDestinationUpdateAndDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	endpoint := &config.Endpoint{
		Type:       config.KindCSV,
		Path:       path,
		KeyColumns: []string{"id"},
	}
	dst := newTestDestination(t, endpoint)
	require.NoError(t, dst.CreateIfMissing(context.Background(), userSchema()))

	_, err := dst.WriteBatch(context.Background(), userBatch(
		[2]interface{}{int64(1), "ada"},
		[2]interface{}{int64(2), "grace"},
		[2]interface{}{int64(3), "joan"},
	), config.ConflictOverwrite)
	require.NoError(t, err)

	batch := models.NewBatch(2)
	update := models.NewRow([]string{"id", "name"})
	update.Set("id", int64(2))
	update.Set("name", "hopper")
	update.Op = models.OpUpdate
	batch.Append(update)

	del := models.NewRow([]string{"id"})
	del.Set("id", int64(3))
	del.Op = models.OpDelete
	batch.Append(del)

	changed, err := dst.WriteBatch(context.Background(), batch, config.ConflictOverwrite)
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,ada\n2,hopper\n", string(data))
}

func TestDestinationUpdateAndDeleteHeaderless(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(path, []byte("1,ada\n2,grace\n3,joan\n"), 0o644))

	hasHeader := false
	dst := newTestDestination(t, &config.Endpoint{
		Type:       config.KindCSV,
		Path:       path,
		HasHeader:  &hasHeader,
		KeyColumns: []string{"col_0"},
	})

	batch := models.NewBatch(2)
	update := models.NewRow([]string{"col_0", "col_1"})
	update.Set("col_0", int64(2))
	update.Set("col_1", "hopper")
	update.Op = models.OpUpdate
	batch.Append(update)

	del := models.NewRow([]string{"col_0"})
	del.Set("col_0", int64(3))
	del.Op = models.OpDelete
	batch.Append(del)

	changed, err := dst.WriteBatch(context.Background(), batch, config.ConflictOverwrite)
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1,ada\n2,hopper\n", string(data))
}

func TestDestinationUpdateWithoutKeyColumnsFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	dst := newTestDestination(t, &config.Endpoint{Type: config.KindCSV, Path: path})

	batch := models.NewBatch(1)
	row := models.NewRow([]string{"id"})
	row.Set("id", int64(1))
	row.Op = models.OpUpdate
	batch.Append(row)

	_, err := dst.WriteBatch(context.Background(), batch, config.ConflictOverwrite)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_columns")
}

func TestDestinationEmptyBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	dst := newTestDestination(t, &config.Endpoint{Type: config.KindCSV, Path: path})

	written, err := dst.WriteBatch(context.Background(), models.NewBatch(0), config.ConflictOverwrite)
	require.NoError(t, err)
	assert.Equal(t, int64(0), written)
	assert.NoFileExists(t, path)
}

func TestDestinationTransactionsAreBestEffort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	dst := newTestDestination(t, &config.Endpoint{Type: config.KindCSV, Path: path})

	ctx := context.Background()
	assert.NoError(t, dst.BeginTransaction(ctx))
	assert.NoError(t, dst.CommitTransaction(ctx))
	// Rollback cannot undo file writes; it warns and succeeds.
	assert.NoError(t, dst.RollbackTransaction(ctx))
}

func TestDestinationValidateSchemaCompatibility(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	dst := newTestDestination(t, &config.Endpoint{Type: config.KindCSV, Path: path})

	t.Run("new file has no warnings", func(t *testing.T) {
		assert.Empty(t, dst.ValidateSchemaCompatibility(context.Background(), userSchema()))
	})

	t.Run("missing column warned", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("id\n1\n"), 0o644))

		source := userSchema()
		warnings := dst.ValidateSchemaCompatibility(context.Background(), source)
		require.NotEmpty(t, warnings)
		assert.Contains(t, warnings[len(warnings)-1], "name")
	})
}
