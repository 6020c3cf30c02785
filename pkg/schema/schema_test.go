package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTag(t *testing.T) {
	tests := []struct {
		tag      string
		wantType Type
		nullable bool
		wantErr  bool
	}{
		{tag: "int", wantType: TypeInt},
		{tag: "varchar?", wantType: TypeVarchar, nullable: true},
		{tag: "timestamptz", wantType: TypeTimestampTZ},
		{tag: "jsonb?", wantType: TypeJSONB, nullable: true},
		{tag: "bigserial", wantErr: true},
		{tag: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			typ, nullable, err := ParseTag(tt.tag)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, typ)
			assert.Equal(t, tt.nullable, nullable)
		})
	}
}

func TestColumnTag(t *testing.T) {
	assert.Equal(t, "int", Column{Name: "id", Type: TypeInt}.Tag())
	assert.Equal(t, "text?", Column{Name: "bio", Type: TypeText, Nullable: true}.Tag())
}

func TestNew(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		s, err := New(
			Column{Name: "id", Type: TypeInt},
			Column{Name: "email", Type: TypeVarchar, Nullable: true},
		)
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "email"}, s.ColumnNames())
	})

	t.Run("duplicate column", func(t *testing.T) {
		_, err := New(
			Column{Name: "id", Type: TypeInt},
			Column{Name: "id", Type: TypeBigInt},
		)
		assert.Error(t, err)
	})

	t.Run("invalid type", func(t *testing.T) {
		_, err := New(Column{Name: "id", Type: "serial"})
		assert.Error(t, err)
	})
}

func TestSchemaOrderPreserved(t *testing.T) {
	s := Empty()
	for _, name := range []string{"z", "a", "m"} {
		s.Add(Column{Name: name, Type: TypeText})
	}
	assert.Equal(t, []string{"z", "a", "m"}, s.ColumnNames())

	// Replacing keeps position.
	s.Add(Column{Name: "a", Type: TypeInt})
	assert.Equal(t, []string{"z", "a", "m"}, s.ColumnNames())
	col, ok := s.Column("a")
	require.True(t, ok)
	assert.Equal(t, TypeInt, col.Type)
}

func TestRename(t *testing.T) {
	s := Empty()
	s.Add(Column{Name: "user_id", Type: TypeInt})
	s.Add(Column{Name: "email", Type: TypeVarchar})

	renamed := s.Rename(map[string]string{"user_id": "id"})

	assert.Equal(t, []string{"id", "email"}, renamed.ColumnNames())
	// Original untouched.
	assert.Equal(t, []string{"user_id", "email"}, s.ColumnNames())
}

func TestCompatibilityWarnings(t *testing.T) {
	source := Empty()
	source.Add(Column{Name: "id", Type: TypeInt})
	source.Add(Column{Name: "name", Type: TypeVarchar})
	source.Add(Column{Name: "created_at", Type: TypeTimestamp})

	t.Run("empty destination has no warnings", func(t *testing.T) {
		assert.Empty(t, CompatibilityWarnings(source, Empty()))
		assert.Empty(t, CompatibilityWarnings(source, nil))
	})

	t.Run("identical schemas have no warnings", func(t *testing.T) {
		assert.Empty(t, CompatibilityWarnings(source, source))
	})

	t.Run("missing column and type mismatch", func(t *testing.T) {
		dest := Empty()
		dest.Add(Column{Name: "id", Type: TypeBigInt})
		dest.Add(Column{Name: "name", Type: TypeVarchar})

		warnings := CompatibilityWarnings(source, dest)
		require.Len(t, warnings, 2)
		assert.Contains(t, warnings[0], "id")
		assert.Contains(t, warnings[0], "mismatch")
		assert.Contains(t, warnings[1], "created_at")
	})
}
