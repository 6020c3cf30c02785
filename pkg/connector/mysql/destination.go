package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hebaghazali/portl/pkg/config"
	"github.com/hebaghazali/portl/pkg/errors"
	"github.com/hebaghazali/portl/pkg/logger"
	"github.com/hebaghazali/portl/pkg/models"
	"github.com/hebaghazali/portl/pkg/schema"
)

// Destination writes batches into a MySQL table. Overwrite maps to
// ON DUPLICATE KEY UPDATE, Skip to INSERT IGNORE, Fail to a plain insert.
type Destination struct {
	endpoint *config.Endpoint
	log      *zap.Logger
	db       *sql.DB
	tx       *sql.Tx
}

// NewDestination creates a MySQL destination. No I/O happens until Connect.
func NewDestination(endpoint *config.Endpoint) *Destination {
	return &Destination{
		endpoint: endpoint,
		log: logger.Get().With(
			zap.String("connector", "mysql_destination"),
			zap.String("host", endpoint.Host),
			zap.String("table", endpoint.Table)),
	}
}

// Connect opens the handle pinned to a single connection and verifies it
func (d *Destination) Connect(ctx context.Context) error {
	if d.db != nil {
		return nil
	}

	db, err := sql.Open("mysql", buildDSN(d.endpoint))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to open mysql connection")
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to mysql").
			WithDetail("host", d.endpoint.Host).
			WithDetail("database", d.endpoint.Database)
	}

	d.db = db
	d.log.Info("connected")
	return nil
}

// Disconnect closes the handle; an uncommitted transaction is rolled back
// by the server when its connection dies
func (d *Destination) Disconnect(_ context.Context) error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	d.tx = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close connection")
	}
	d.log.Info("disconnected")
	return nil
}

// TestConnection pings the backend, reporting false on any failure
func (d *Destination) TestConnection(ctx context.Context) bool {
	if d.db == nil {
		return false
	}
	return d.db.PingContext(ctx) == nil
}

// GetSchema introspects the destination table; a missing table yields an
// empty schema
func (d *Destination) GetSchema(ctx context.Context) (*schema.Schema, error) {
	if d.db == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "not connected")
	}
	return introspectTable(ctx, d.db, d.endpoint)
}

// CreateIfMissing creates the destination table from the normalized schema
func (d *Destination) CreateIfMissing(ctx context.Context, s *schema.Schema) error {
	if d.db == nil {
		return errors.New(errors.ErrorTypeConnection, "not connected")
	}
	if s.IsEmpty() {
		return errors.New(errors.ErrorTypeSchema, "cannot create table from empty schema")
	}

	defs := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		def := quoteIdent(col.Name) + " " + mapGenericType(col.Type)
		if !col.Nullable {
			def += " NOT NULL"
		}
		defs[i] = def
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", tableRef(d.endpoint), strings.Join(defs, ", "))
	if _, err := d.exec(ctx, query); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSchema, "failed to create table").
			WithDetail("table", d.endpoint.Table)
	}

	d.log.Info("ensured destination table exists", zap.Int("columns", len(s.Columns)))
	return nil
}

// WriteBatch inserts the batch under the given conflict strategy. Merge is
// rejected as unsupported at the connector layer.
func (d *Destination) WriteBatch(ctx context.Context, batch *models.Batch, strategy config.ConflictStrategy) (int64, error) {
	if strategy == config.ConflictMerge {
		return 0, errors.New(errors.ErrorTypeCapability,
			"merge conflict strategy is not supported by the mysql connector")
	}
	if d.db == nil {
		return 0, errors.New(errors.ErrorTypeConnection, "not connected")
	}
	if batch.IsEmpty() {
		return 0, nil
	}

	columns := batch.Rows[0].Columns

	var sb strings.Builder
	sb.WriteString("INSERT ")
	if strategy == config.ConflictSkip {
		sb.WriteString("IGNORE ")
	}
	sb.WriteString("INTO ")
	sb.WriteString(tableRef(d.endpoint))
	sb.WriteString(" (")
	sb.WriteString(quoteIdentList(columns))
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, batch.Len()*len(columns))
	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	for i, row := range batch.Rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(rowPlaceholder)
		for _, col := range columns {
			args = append(args, row.Get(col))
		}
	}

	if strategy == config.ConflictOverwrite {
		updates := make([]string, len(columns))
		for i, col := range columns {
			updates[i] = fmt.Sprintf("%s = VALUES(%s)", quoteIdent(col), quoteIdent(col))
		}
		sb.WriteString(" ON DUPLICATE KEY UPDATE ")
		sb.WriteString(strings.Join(updates, ", "))
	}

	affected, err := d.exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeWrite, "failed to write batch").
			WithDetail("rows", batch.Len())
	}

	// ON DUPLICATE KEY UPDATE reports 2 per updated row; cap at batch size
	// so counters stay in row units.
	if affected > int64(batch.Len()) {
		affected = int64(batch.Len())
	}
	return affected, nil
}

// ValidateSchemaCompatibility reports advisory column and type warnings
func (d *Destination) ValidateSchemaCompatibility(ctx context.Context, source *schema.Schema) []string {
	dest, err := d.GetSchema(ctx)
	if err != nil {
		return []string{"could not read destination schema: " + err.Error()}
	}
	return schema.CompatibilityWarnings(source, dest)
}

// BeginTransaction opens the run's transaction
func (d *Destination) BeginTransaction(ctx context.Context) error {
	if d.db == nil {
		return errors.New(errors.ErrorTypeConnection, "not connected")
	}
	if d.tx != nil {
		return errors.New(errors.ErrorTypeWrite, "transaction already open")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to begin transaction")
	}
	d.tx = tx
	d.log.Info("transaction started")
	return nil
}

// CommitTransaction commits the run's transaction
func (d *Destination) CommitTransaction(_ context.Context) error {
	if d.tx == nil {
		return errors.New(errors.ErrorTypeWrite, "no open transaction to commit")
	}
	err := d.tx.Commit()
	d.tx = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to commit transaction")
	}
	d.log.Info("transaction committed")
	return nil
}

// RollbackTransaction rolls back the run's transaction; a no-op when none
// is open
func (d *Destination) RollbackTransaction(_ context.Context) error {
	if d.tx == nil {
		return nil
	}
	err := d.tx.Rollback()
	d.tx = nil
	if err != nil && err != sql.ErrTxDone {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to roll back transaction")
	}
	d.log.Info("transaction rolled back")
	return nil
}

// exec routes statements through the open transaction when there is one
func (d *Destination) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	if d.tx != nil {
		result, err = d.tx.ExecContext(ctx, query, args...)
	} else {
		result, err = d.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // drivers without affected-row support still succeeded
	}
	return affected, nil
}
