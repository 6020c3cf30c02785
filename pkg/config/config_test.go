package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validJob() *Job {
	return &Job{
		Source: Endpoint{
			Type: KindCSV,
			Path: "/data/in.csv",
		},
		Destination: Endpoint{
			Type:     KindPostgres,
			Host:     "localhost",
			Database: "warehouse",
			Username: "loader",
			Table:    "users",
		},
		Conflict:  ConflictOverwrite,
		BatchSize: 500,
	}
}

func TestValidateAcceptsValidJob(t *testing.T) {
	assert.Empty(t, validJob().Validate())
}

func TestValidateCollectsAllViolations(t *testing.T) {
	job := &Job{
		Source:      Endpoint{Type: KindCSV},
		Destination: Endpoint{Type: KindPostgres},
		Conflict:    "upsert",
		BatchSize:   -5,
	}

	errs := job.Validate()
	// csv path, pg host/database/username/table, conflict, batch size
	assert.GreaterOrEqual(t, len(errs), 6)
}

func TestValidateRejectsZeroBatchSize(t *testing.T) {
	job := validJob()
	job.BatchSize = 0

	errs := job.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "batch_size")
}

func TestValidateEndpointRules(t *testing.T) {
	t.Run("missing type", func(t *testing.T) {
		job := validJob()
		job.Source.Type = ""
		assert.NotEmpty(t, job.Validate())
	})

	t.Run("unknown type", func(t *testing.T) {
		job := validJob()
		job.Source.Type = "oracle"
		errs := job.Validate()
		require.NotEmpty(t, errs)
		assert.Contains(t, errs[0].Error(), "oracle")
		assert.Contains(t, errs[0].Error(), "postgres")
	})

	t.Run("database source needs table or query", func(t *testing.T) {
		job := validJob()
		job.Source = Endpoint{
			Type: KindPostgres, Host: "h", Database: "d", Username: "u",
		}
		assert.NotEmpty(t, job.Validate())

		job.Source.Query = "SELECT 1"
		assert.Empty(t, job.Validate())
	})

	t.Run("database destination needs table", func(t *testing.T) {
		job := validJob()
		job.Destination.Table = ""
		job.Destination.Query = "SELECT 1"
		assert.NotEmpty(t, job.Validate())
	})

	t.Run("google sheets needs spreadsheet and sheet", func(t *testing.T) {
		job := validJob()
		job.Source = Endpoint{Type: KindGoogleSheets, SpreadsheetID: "abc"}
		errs := job.Validate()
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "sheet_name")
	})
}

func TestValidateRejectsSameLocation(t *testing.T) {
	t.Run("same table", func(t *testing.T) {
		job := validJob()
		job.Source = job.Destination
		errs := job.Validate()
		require.NotEmpty(t, errs)
		assert.Contains(t, errs[0].Error(), "same table")
	})

	t.Run("same file", func(t *testing.T) {
		job := validJob()
		job.Destination = Endpoint{Type: KindCSV, Path: job.Source.Path}
		errs := job.Validate()
		require.NotEmpty(t, errs)
		assert.Contains(t, errs[0].Error(), "same file")
	})

	t.Run("same table name on different hosts is fine", func(t *testing.T) {
		job := validJob()
		job.Source = Endpoint{
			Type: KindPostgres, Host: "other", Database: "warehouse",
			Username: "u", Table: "users",
		}
		assert.Empty(t, job.Validate())
	})
}

func TestApplyDefaults(t *testing.T) {
	job := &Job{
		Source: Endpoint{Type: KindPostgres, Host: "h", Database: "d", Username: "u", Table: "t"},
		Destination: Endpoint{
			Type: KindMySQL, Host: "h2", Database: "d2", Username: "u2", Table: "t2",
		},
	}

	warnings := job.ApplyDefaults()

	assert.Equal(t, DefaultConflict, job.Conflict)
	assert.Equal(t, DefaultBatchSize, job.BatchSize)
	assert.Equal(t, DefaultTimeoutSecs, job.TimeoutSecs)
	assert.Equal(t, "public", job.Source.Schema)
	assert.Equal(t, 5432, job.Source.Port)
	assert.Equal(t, 3306, job.Destination.Port)
	assert.Len(t, warnings, 2)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	job := validJob()
	job.Source.Port = 9999
	warnings := job.ApplyDefaults()

	assert.Equal(t, ConflictOverwrite, job.Conflict)
	assert.Equal(t, 500, job.BatchSize)
	assert.Equal(t, 9999, job.Source.Port)
	assert.Empty(t, warnings)
}

func TestEndpointHelpers(t *testing.T) {
	e := &Endpoint{Type: KindCSV}
	assert.False(t, e.IsDatabase())
	assert.True(t, e.HeaderEnabled())
	assert.Equal(t, ',', e.DelimiterRune())

	noHeader := false
	e.HasHeader = &noHeader
	e.Delimiter = ";"
	assert.False(t, e.HeaderEnabled())
	assert.Equal(t, ';', e.DelimiterRune())

	assert.True(t, (&Endpoint{Type: KindPostgres}).IsDatabase())
	assert.True(t, (&Endpoint{Type: KindMySQL}).IsDatabase())
}

func TestLoadJob(t *testing.T) {
	t.Setenv("PORTL_TEST_PASSWORD", "s3cret")

	dir := t.TempDir()
	jobFile := filepath.Join(dir, "job.yaml")
	content := `
name: users-nightly
source:
  type: csv
  path: /data/users.csv
destination:
  type: postgres
  host: localhost
  database: warehouse
  username: loader
  password: ${PORTL_TEST_PASSWORD}
  table: users
conflict: skip
batch_size: 250
schema_mapping:
  uid: id
`
	require.NoError(t, os.WriteFile(jobFile, []byte(content), 0o644))

	job, warnings, err := LoadJob(jobFile)
	require.NoError(t, err)

	assert.Equal(t, "users-nightly", job.Name)
	assert.Equal(t, KindCSV, job.Source.Type)
	assert.Equal(t, "s3cret", job.Destination.Password)
	assert.Equal(t, ConflictSkip, job.Conflict)
	assert.Equal(t, 250, job.BatchSize)
	assert.Equal(t, map[string]string{"uid": "id"}, job.SchemaMapping)
	assert.Empty(t, warnings)
	assert.Empty(t, job.Validate())
}

func TestLoadJobMissingFile(t *testing.T) {
	_, _, err := LoadJob(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadJobBadYAML(t *testing.T) {
	jobFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(jobFile, []byte("source: [oops"), 0o644))

	_, _, err := LoadJob(jobFile)
	assert.Error(t, err)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("PORTL_HOST", "db.internal")

	assert.Equal(t, "host: db.internal", substituteEnvVars("host: ${PORTL_HOST}"))
	assert.Equal(t, "plain", substituteEnvVars("plain"))
	// Unset variables substitute to empty.
	assert.Equal(t, "host: ", substituteEnvVars("host: ${PORTL_UNSET_VAR}"))
}
