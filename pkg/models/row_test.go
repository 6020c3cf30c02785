package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowSetAndGet(t *testing.T) {
	row := NewRow([]string{"id", "name"})
	row.Set("id", int64(1))
	row.Set("name", "ada")

	assert.Equal(t, int64(1), row.Get("id"))
	assert.Equal(t, "ada", row.Get("name"))
	assert.Nil(t, row.Get("missing"))
	assert.Equal(t, OpInsert, row.Op)
}

func TestRowSetNewColumnExtendsOrder(t *testing.T) {
	row := NewRow([]string{"id"})
	row.Set("id", 1)
	row.Set("extra", "x")

	assert.Equal(t, []string{"id", "extra"}, row.Columns)
	assert.Equal(t, []interface{}{1, "x"}, row.OrderedValues())
}

func TestRowRename(t *testing.T) {
	row := NewRow([]string{"user_id", "email", "age"})
	row.Set("user_id", int64(7))
	row.Set("email", "a@b.c")
	row.Set("age", int64(30))
	row.Op = OpUpdate

	renamed := row.Rename(map[string]string{"user_id": "id"})

	// Same cardinality, order preserved, unmapped keys pass through.
	require.Len(t, renamed.Columns, 3)
	assert.Equal(t, []string{"id", "email", "age"}, renamed.Columns)
	assert.Equal(t, int64(7), renamed.Get("id"))
	assert.Equal(t, "a@b.c", renamed.Get("email"))
	assert.Equal(t, OpUpdate, renamed.Op)

	// Pure: the input row is untouched.
	assert.Equal(t, []string{"user_id", "email", "age"}, row.Columns)
	assert.Equal(t, int64(7), row.Get("user_id"))
}

func TestBatchRename(t *testing.T) {
	batch := NewBatch(2)
	for i := 0; i < 2; i++ {
		row := NewRow([]string{"a", "b"})
		row.Set("a", i)
		row.Set("b", i*10)
		batch.Append(row)
	}

	renamed := batch.Rename(map[string]string{"a": "x"})
	require.Equal(t, 2, renamed.Len())
	for i, row := range renamed.Rows {
		assert.Equal(t, []string{"x", "b"}, row.Columns)
		assert.Equal(t, i, row.Get("x"))
		assert.Equal(t, i*10, row.Get("b"))
	}

	// Empty mapping returns the batch as-is.
	assert.Same(t, batch, batch.Rename(nil))
}

func TestBatchLen(t *testing.T) {
	var nilBatch *Batch
	assert.Equal(t, 0, nilBatch.Len())
	assert.True(t, nilBatch.IsEmpty())

	batch := NewBatch(4)
	assert.True(t, batch.IsEmpty())
	batch.Append(NewRow([]string{"a"}))
	assert.Equal(t, 1, batch.Len())
}
