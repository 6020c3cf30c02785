package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
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
	registry.RegisterSource(config.KindPostgres, func(endpoint *config.Endpoint) (core.Source, error) {
		return NewSource(endpoint), nil
	})
	registry.RegisterDestination(config.KindPostgres, func(endpoint *config.Endpoint) (core.Destination, error) {
		return NewDestination(endpoint), nil
	})
}

// batchStreamDepth bounds how far reads run ahead of the consumer
const batchStreamDepth = 4

// Source reads from a PostgreSQL table or a free-form query over one
// connection
type Source struct {
	endpoint *config.Endpoint
	log      *zap.Logger
	conn     *pgx.Conn
}

// NewSource creates a PostgreSQL source. No I/O happens until Connect.
func NewSource(endpoint *config.Endpoint) *Source {
	return &Source{
		endpoint: endpoint,
		log: logger.Get().With(
			zap.String("connector", "postgres_source"),
			zap.String("host", endpoint.Host),
			zap.String("database", endpoint.Database)),
	}
}

// Connect opens the single connection used for the run
func (s *Source) Connect(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}

	conn, err := pgx.Connect(ctx, buildDSN(s.endpoint))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to postgres").
			WithDetail("host", s.endpoint.Host).
			WithDetail("database", s.endpoint.Database)
	}

	s.conn = conn
	s.log.Info("connected")
	return nil
}

// Disconnect closes the connection. Safe to call repeatedly or after a
// failed Connect.
func (s *Source) Disconnect(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(ctx)
	s.conn = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close connection")
	}
	s.log.Info("disconnected")
	return nil
}

// TestConnection pings the backend, reporting false on any failure
func (s *Source) TestConnection(ctx context.Context) bool {
	if s.conn == nil {
		return false
	}
	return s.conn.Ping(ctx) == nil
}

// GetSchema introspects the catalog for table sources, or runs the
// configured query with a zero-row limit and reads its result descriptor
func (s *Source) GetSchema(ctx context.Context) (*schema.Schema, error) {
	if s.conn == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "not connected")
	}
	if s.endpoint.Table != "" {
		return introspectTable(ctx, s.conn, s.endpoint)
	}
	return s.schemaFromQuery(ctx)
}

func (s *Source) schemaFromQuery(ctx context.Context) (*schema.Schema, error) {
	sql := fmt.Sprintf("SELECT * FROM (%s) AS sub LIMIT 0", s.endpoint.Query)
	rows, err := s.conn.Query(ctx, sql)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to probe query schema")
	}
	defer rows.Close()

	result := schema.Empty()
	for _, fd := range rows.FieldDescriptions() {
		result.Add(schema.Column{
			Name: fd.Name,
			Type: mapOIDType(fd.DataTypeOID),
			// The descriptor does not carry nullability; assume nullable.
			Nullable: true,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to probe query schema")
	}
	return result, nil
}

// GetRowCount issues COUNT(*) over the table or the wrapped query
func (s *Source) GetRowCount(ctx context.Context) (int64, error) {
	if s.conn == nil {
		return 0, errors.New(errors.ErrorTypeConnection, "not connected")
	}

	var sql string
	if s.endpoint.Table != "" {
		sql = fmt.Sprintf("SELECT COUNT(*) FROM %s", tableRef(s.endpoint))
	} else {
		sql = fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS sub", s.endpoint.Query)
	}

	var count int64
	if err := s.conn.QueryRow(ctx, sql).Scan(&count); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to count rows")
	}
	return count, nil
}

// ReadData pages through the source with LIMIT/OFFSET, advancing the offset
// by the rows actually returned. A page shorter than batchSize ends the
// stream.
func (s *Source) ReadData(ctx context.Context, batchSize int, offset int64) (*core.BatchStream, error) {
	if s.conn == nil {
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
			sql := fmt.Sprintf("%s LIMIT %d OFFSET %d", base, batchSize, current)
			batch, err := s.readPage(ctx, sql, batchSize)
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

func (s *Source) readPage(ctx context.Context, sql string, batchSize int) (*models.Batch, error) {
	rows, err := s.conn.Query(ctx, sql)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read page")
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	columns := make([]string, len(fds))
	for i, fd := range fds {
		columns[i] = fd.Name
	}

	batch := models.NewBatch(batchSize)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan row")
		}
		row := models.NewRow(columns)
		for i, col := range columns {
			row.Values[col] = values[i]
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
	if s.conn == nil || limit <= 0 {
		return models.NewBatch(0)
	}

	sql := fmt.Sprintf("%s LIMIT %d", s.baseQuery(), limit)
	batch, err := s.readPage(ctx, sql, limit)
	if err != nil {
		s.log.Warn("preview failed", zap.Error(err))
		return models.NewBatch(0)
	}
	return batch
}

// introspectTable reads column metadata from information_schema in ordinal
// order. A missing table yields an empty schema.
func introspectTable(ctx context.Context, conn *pgx.Conn, endpoint *config.Endpoint) (*schema.Schema, error) {
	schemaName := endpoint.Schema
	if schemaName == "" {
		schemaName = "public"
	}

	rows, err := conn.Query(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`,
		schemaName, endpoint.Table)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to introspect table").
			WithDetail("table", endpoint.Table)
	}
	defer rows.Close()

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
