package mysql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql" // registers the mysql driver
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
	registry.RegisterSource(config.KindMySQL, func(endpoint *config.Endpoint) (core.Source, error) {
		return NewSource(endpoint), nil
	})
	registry.RegisterDestination(config.KindMySQL, func(endpoint *config.Endpoint) (core.Destination, error) {
		return NewDestination(endpoint), nil
	})
}

const batchStreamDepth = 4

// Source reads from a MySQL table or a free-form query
type Source struct {
	endpoint *config.Endpoint
	log      *zap.Logger
	db       *sql.DB
}

// NewSource creates a MySQL source. No I/O happens until Connect.
func NewSource(endpoint *config.Endpoint) *Source {
	return &Source{
		endpoint: endpoint,
		log: logger.Get().With(
			zap.String("connector", "mysql_source"),
			zap.String("host", endpoint.Host),
			zap.String("database", endpoint.Database)),
	}
}

// Connect opens the handle pinned to a single connection and verifies it
func (s *Source) Connect(ctx context.Context) error {
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("mysql", buildDSN(s.endpoint))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to open mysql connection")
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to mysql").
			WithDetail("host", s.endpoint.Host).
			WithDetail("database", s.endpoint.Database)
	}

	s.db = db
	s.log.Info("connected")
	return nil
}

// Disconnect closes the handle. Safe to call repeatedly.
func (s *Source) Disconnect(_ context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close connection")
	}
	s.log.Info("disconnected")
	return nil
}

// TestConnection pings the backend, reporting false on any failure
func (s *Source) TestConnection(ctx context.Context) bool {
	if s.db == nil {
		return false
	}
	return s.db.PingContext(ctx) == nil
}

// GetSchema introspects the catalog for table sources, or probes the
// configured query with a zero-row limit
func (s *Source) GetSchema(ctx context.Context) (*schema.Schema, error) {
	if s.db == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "not connected")
	}
	if s.endpoint.Table != "" {
		return introspectTable(ctx, s.db, s.endpoint)
	}
	return s.schemaFromQuery(ctx)
}

func (s *Source) schemaFromQuery(ctx context.Context) (*schema.Schema, error) {
	query := fmt.Sprintf("SELECT * FROM (%s) AS sub LIMIT 0", s.endpoint.Query)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to probe query schema")
	}
	defer rows.Close() //nolint:errcheck

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to read column types")
	}

	result := schema.Empty()
	for _, ct := range types {
		nullable, hasNullable := ct.Nullable()
		result.Add(schema.Column{
			Name:     ct.Name(),
			Type:     mapNativeType(ct.DatabaseTypeName()),
			Nullable: !hasNullable || nullable,
		})
	}
	return result, rows.Err()
}

// GetRowCount issues COUNT(*) over the table or the wrapped query
func (s *Source) GetRowCount(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, errors.New(errors.ErrorTypeConnection, "not connected")
	}

	var query string
	if s.endpoint.Table != "" {
		query = fmt.Sprintf("SELECT COUNT(*) FROM %s", tableRef(s.endpoint))
	} else {
		query = fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS sub", s.endpoint.Query)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to count rows")
	}
	return count, nil
}

// ReadData pages through the source with LIMIT/OFFSET. A page shorter than
// batchSize ends the stream.
func (s *Source) ReadData(ctx context.Context, batchSize int, offset int64) (*core.BatchStream, error) {
	if s.db == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "not connected")
	}
	if batchSize <= 0 {
		return nil, errors.Newf(errors.ErrorTypeData, "batch size must be positive, got %d", batchSize)
	}

	base := s.baseQuery()
	batches := make(chan *models.Batch, batchStreamDepth)
	errs := make(chan error, 1)

	go func() {
		defer close(batches)
		defer close(errs)

		current := offset
		for {
			query := fmt.Sprintf("%s LIMIT %d OFFSET %d", base, batchSize, current)
			batch, err := s.readPage(ctx, query, batchSize)
			if err != nil {
				errs <- err
				return
			}
			if batch.IsEmpty() {
				return
			}

			select {
			case batches <- batch:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}

			if batch.Len() < batchSize {
				return
			}
			current += int64(batch.Len())
		}
	}()

	return &core.BatchStream{Batches: batches, Errors: errs}, nil
}

func (s *Source) baseQuery() string {
	if s.endpoint.Table != "" {
		return fmt.Sprintf("SELECT * FROM %s", tableRef(s.endpoint))
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS sub", s.endpoint.Query)
}

func (s *Source) readPage(ctx context.Context, query string, batchSize int) (*models.Batch, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read page")
	}
	defer rows.Close() //nolint:errcheck

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read columns")
	}

	batch := models.NewBatch(batchSize)
	values := make([]interface{}, len(columns))
	scanArgs := make([]interface{}, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan row")
		}
		row := models.NewRow(columns)
		for i, col := range columns {
			row.Values[col] = convertValue(values[i])
		}
		batch.Append(row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read page")
	}
	return batch, nil
}

// PreviewData returns up to limit rows, swallowing errors into an empty batch
func (s *Source) PreviewData(ctx context.Context, limit int) *models.Batch {
	if s.db == nil || limit <= 0 {
		return models.NewBatch(0)
	}

	query := fmt.Sprintf("%s LIMIT %d", s.baseQuery(), limit)
	batch, err := s.readPage(ctx, query, limit)
	if err != nil {
		s.log.Warn("preview failed", zap.Error(err))
		return models.NewBatch(0)
	}
	return batch
}

// introspectTable reads column metadata from information_schema in ordinal
// order. A missing table yields an empty schema.
func introspectTable(ctx context.Context, db *sql.DB, endpoint *config.Endpoint) (*schema.Schema, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`,
		endpoint.Database, endpoint.Table)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to introspect table").
			WithDetail("table", endpoint.Table)
	}
	defer rows.Close() //nolint:errcheck

	result := schema.Empty()
	for rows.Next() {
		var name, dataType, isNullable string
		if err := rows.Scan(&name, &dataType, &isNullable); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to scan column metadata")
		}
		result.Add(schema.Column{
			Name:     name,
			Type:     mapNativeType(dataType),
			Nullable: isNullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to introspect table")
	}
	return result, nil
}
