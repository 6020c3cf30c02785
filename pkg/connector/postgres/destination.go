package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hebaghazali/portl/pkg/config"
	"github.com/hebaghazali/portl/pkg/errors"
	"github.com/hebaghazali/portl/pkg/logger"
	"github.com/hebaghazali/portl/pkg/models"
	"github.com/hebaghazali/portl/pkg/schema"
)

// Destination writes batches into a PostgreSQL table over one connection.
// Conflict strategies translate to native upsert clauses against the
// table's primary key.
type Destination struct {
	endpoint *config.Endpoint
	log      *zap.Logger
	conn     *pgx.Conn
	tx       pgx.Tx

	primaryKey   []string
	pkIntrospect bool
	warnedNoPK   bool
}

// NewDestination creates a PostgreSQL destination. No I/O happens until
// Connect.
func NewDestination(endpoint *config.Endpoint) *Destination {
	return &Destination{
		endpoint: endpoint,
		log: logger.Get().With(
			zap.String("connector", "postgres_destination"),
			zap.String("host", endpoint.Host),
			zap.String("table", endpoint.Table)),
	}
}

// Connect opens the single connection used for the run
func (d *Destination) Connect(ctx context.Context) error {
	if d.conn != nil {
		return nil
	}

	conn, err := pgx.Connect(ctx, buildDSN(d.endpoint))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to postgres").
			WithDetail("host", d.endpoint.Host).
			WithDetail("database", d.endpoint.Database)
	}

	d.conn = conn
	d.log.Info("connected")
	return nil
}

// Disconnect closes the connection. An open transaction dies with it and
// the server aborts it, which is the rollback the caller wanted if it got
// here without committing.
func (d *Destination) Disconnect(ctx context.Context) error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close(ctx)
	d.conn = nil
	d.tx = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close connection")
	}
	d.log.Info("disconnected")
	return nil
}

// TestConnection pings the backend, reporting false on any failure
func (d *Destination) TestConnection(ctx context.Context) bool {
	if d.conn == nil {
		return false
	}
	return d.conn.Ping(ctx) == nil
}

// GetSchema introspects the destination table; a missing table yields an
// empty schema
func (d *Destination) GetSchema(ctx context.Context) (*schema.Schema, error) {
	if d.conn == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "not connected")
	}
	return introspectTable(ctx, d.conn, d.endpoint)
}

// CreateIfMissing creates the destination table from the normalized schema.
// An existing table is left untouched.
func (d *Destination) CreateIfMissing(ctx context.Context, s *schema.Schema) error {
	if d.conn == nil {
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

	sql := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", tableRef(d.endpoint), strings.Join(defs, ", "))
	if _, err := d.exec(ctx, sql); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSchema, "failed to create table").
			WithDetail("table", d.endpoint.Table)
	}

	d.log.Info("ensured destination table exists", zap.Int("columns", len(s.Columns)))
	return nil
}

// WriteBatch inserts the batch under the given conflict strategy and returns
// rows affected. Merge needs row-level diffing the connector cannot express
// in a single statement and is rejected here.
func (d *Destination) WriteBatch(ctx context.Context, batch *models.Batch, strategy config.ConflictStrategy) (int64, error) {
	if strategy == config.ConflictMerge {
		return 0, errors.New(errors.ErrorTypeCapability,
			"merge conflict strategy is not supported by the postgres connector")
	}
	if d.conn == nil {
		return 0, errors.New(errors.ErrorTypeConnection, "not connected")
	}
	if batch.IsEmpty() {
		return 0, nil
	}

	columns := batch.Rows[0].Columns
	conflictClause, err := d.conflictClause(ctx, strategy, columns)
	if err != nil {
		return 0, err
	}

	sql, args := buildInsert(tableRef(d.endpoint), columns, batch, conflictClause)
	tag, err := d.exec(ctx, sql, args...)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeWrite, "failed to write batch").
			WithDetail("rows", batch.Len())
	}

	return tag, nil
}

// conflictClause renders the ON CONFLICT clause for the strategy. Overwrite
// upserts against the primary key; without one it degrades to a plain
// insert with a one-time warning.
func (d *Destination) conflictClause(ctx context.Context, strategy config.ConflictStrategy, columns []string) (string, error) {
	switch strategy {
	case config.ConflictFail:
		return "", nil
	case config.ConflictSkip:
		return " ON CONFLICT DO NOTHING", nil
	case config.ConflictOverwrite:
		pk, err := d.tablePrimaryKey(ctx)
		if err != nil {
			return "", err
		}
		if len(pk) == 0 {
			if !d.warnedNoPK {
				d.log.Warn("table has no primary key, overwrite degrades to plain insert")
				d.warnedNoPK = true
			}
			return "", nil
		}

		var updates []string
		for _, col := range columns {
			if containsString(pk, col) {
				continue
			}
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(col), quoteIdent(col)))
		}
		target := quoteIdentList(pk)
		if len(updates) == 0 {
			// Every column is part of the key; nothing to update.
			return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", target), nil
		}
		return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", target, strings.Join(updates, ", ")), nil
	default:
		return "", errors.Newf(errors.ErrorTypeWrite, "unknown conflict strategy %q", strategy)
	}
}

// tablePrimaryKey introspects the primary key columns once per run
func (d *Destination) tablePrimaryKey(ctx context.Context) ([]string, error) {
	if d.pkIntrospect {
		return d.primaryKey, nil
	}

	rows, err := d.conn.Query(ctx, `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = to_regclass($1) AND i.indisprimary
		ORDER BY a.attnum`,
		tableRef(d.endpoint))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to introspect primary key")
	}
	defer rows.Close()

	var pk []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to scan primary key column")
		}
		pk = append(pk, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to introspect primary key")
	}

	d.primaryKey = pk
	d.pkIntrospect = true
	return pk, nil
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
	if d.conn == nil {
		return errors.New(errors.ErrorTypeConnection, "not connected")
	}
	if d.tx != nil {
		return errors.New(errors.ErrorTypeWrite, "transaction already open")
	}

	tx, err := d.conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to begin transaction")
	}
	d.tx = tx
	d.log.Info("transaction started")
	return nil
}

// CommitTransaction commits the run's transaction
func (d *Destination) CommitTransaction(ctx context.Context) error {
	if d.tx == nil {
		return errors.New(errors.ErrorTypeWrite, "no open transaction to commit")
	}
	err := d.tx.Commit(ctx)
	d.tx = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to commit transaction")
	}
	d.log.Info("transaction committed")
	return nil
}

// RollbackTransaction rolls back the run's transaction. Calling it with no
// open transaction is a no-op so failure paths can roll back unconditionally.
func (d *Destination) RollbackTransaction(ctx context.Context) error {
	if d.tx == nil {
		return nil
	}
	err := d.tx.Rollback(ctx)
	d.tx = nil
	if err != nil && err != pgx.ErrTxClosed {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to roll back transaction")
	}
	d.log.Info("transaction rolled back")
	return nil
}

// exec routes statements through the open transaction when there is one
func (d *Destination) exec(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	if d.tx != nil {
		tag, err := d.tx.Exec(ctx, sql, args...)
		return tag.RowsAffected(), err
	}
	tag, err := d.conn.Exec(ctx, sql, args...)
	return tag.RowsAffected(), err
}

// buildInsert renders a multi-row INSERT with numbered placeholders
func buildInsert(table string, columns []string, batch *models.Batch, conflictClause string) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(quoteIdentList(columns))
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, batch.Len()*len(columns))
	placeholder := 1
	for i, row := range batch.Rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, col := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", placeholder)
			placeholder++
			args = append(args, row.Get(col))
		}
		sb.WriteString(")")
	}
	sb.WriteString(conflictClause)

	return sb.String(), args
}

func quoteIdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = quoteIdent(name)
	}
	return strings.Join(quoted, ", ")
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
