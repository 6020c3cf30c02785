package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hebaghazali/portl/pkg/config"
	"github.com/hebaghazali/portl/pkg/errors"
	"github.com/hebaghazali/portl/pkg/logger"
	"github.com/hebaghazali/portl/pkg/models"
	"github.com/hebaghazali/portl/pkg/schema"
)

// Destination appends rows to a delimited text file. Inserts append; updates
// and deletes rewrite the whole file keyed on the configured key columns.
// Files have no transactions, so begin/commit are no-ops and rollback only
// warns that data may already be on disk.
type Destination struct {
	endpoint  *config.Endpoint
	log       *zap.Logger
	connected bool

	// columnOrder pins header order from the first written batch so later
	// batches with reordered maps produce identical files
	columnOrder []string
}

// NewDestination creates a CSV destination. No I/O happens until Connect.
func NewDestination(endpoint *config.Endpoint) *Destination {
	return &Destination{
		endpoint: endpoint,
		log:      logger.Get().With(zap.String("connector", "csv_destination"), zap.String("path", endpoint.Path)),
	}
}

// Connect verifies the parent directory can be created. The file itself may
// not exist yet.
func (d *Destination) Connect(_ context.Context) error {
	if d.connected {
		return nil
	}

	parent := filepath.Dir(d.endpoint.Path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "cannot create parent directory").
			WithDetail("dir", parent)
	}

	if _, err := os.Stat(d.endpoint.Path); os.IsNotExist(err) {
		d.log.Info("destination file will be created")
	}

	d.connected = true
	return nil
}

// Disconnect is a no-op for files
func (d *Destination) Disconnect(_ context.Context) error {
	d.connected = false
	return nil
}

// TestConnection reports whether the parent directory is usable
func (d *Destination) TestConnection(_ context.Context) bool {
	parent := filepath.Dir(d.endpoint.Path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return false
	}
	return true
}

// GetSchema infers the schema from the existing file, or returns an empty
// schema when the file does not exist yet
func (d *Destination) GetSchema(ctx context.Context) (*schema.Schema, error) {
	if _, err := os.Stat(d.endpoint.Path); os.IsNotExist(err) {
		return schema.Empty(), nil
	}

	src := NewSource(d.endpoint)
	if err := src.Connect(ctx); err != nil {
		return nil, err
	}
	defer src.Disconnect(ctx) //nolint:errcheck
	return src.GetSchema(ctx)
}

// CreateIfMissing creates the file with a header row when it does not exist.
// Existing files are left untouched.
func (d *Destination) CreateIfMissing(_ context.Context, s *schema.Schema) error {
	if _, err := os.Stat(d.endpoint.Path); err == nil {
		return nil
	}

	f, err := os.Create(d.endpoint.Path) //nolint:gosec // G304
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create csv file").
			WithDetail("path", d.endpoint.Path)
	}
	defer f.Close() //nolint:errcheck

	if d.endpoint.HeaderEnabled() && !s.IsEmpty() {
		w := csv.NewWriter(f)
		w.Comma = d.endpoint.DelimiterRune()
		if err := w.Write(s.ColumnNames()); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to write csv header")
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to write csv header")
		}
		d.columnOrder = s.ColumnNames()
	}

	d.log.Info("created destination file", zap.Int("columns", len(s.Columns)))
	return nil
}

// WriteBatch applies the batch's rows to the file. Inserts are appended;
// updates and deletes need key_columns configured and rewrite the file.
// CSV files have no keys, so the conflict strategy has nothing to act on
// for inserts and is accepted as-is.
func (d *Destination) WriteBatch(_ context.Context, batch *models.Batch, _ config.ConflictStrategy) (int64, error) {
	if batch.IsEmpty() {
		return 0, nil
	}

	var inserts, updates, deletes []*models.Row
	for _, row := range batch.Rows {
		switch row.Op {
		case models.OpUpdate:
			updates = append(updates, row)
		case models.OpDelete:
			deletes = append(deletes, row)
		default:
			inserts = append(inserts, row)
		}
	}

	var written int64
	if len(inserts) > 0 {
		n, err := d.appendRows(inserts)
		if err != nil {
			return written, err
		}
		written += n
	}

	if len(updates) > 0 || len(deletes) > 0 {
		if len(d.endpoint.KeyColumns) == 0 {
			return written, errors.New(errors.ErrorTypeWrite,
				"key_columns must be configured for update or delete operations on csv")
		}
		n, err := d.rewriteFile(updates, deletes, d.endpoint.KeyColumns)
		if err != nil {
			return written, err
		}
		written += n
	}

	return written, nil
}

// ValidateSchemaCompatibility reports advisory column and type warnings
func (d *Destination) ValidateSchemaCompatibility(ctx context.Context, source *schema.Schema) []string {
	dest, err := d.GetSchema(ctx)
	if err != nil {
		return []string{"could not read existing destination schema: " + err.Error()}
	}
	return schema.CompatibilityWarnings(source, dest)
}

// BeginTransaction is a logged no-op; files have no transactions
func (d *Destination) BeginTransaction(_ context.Context) error {
	d.log.Info("csv write transaction started")
	return nil
}

// CommitTransaction is a logged no-op
func (d *Destination) CommitTransaction(_ context.Context) error {
	d.log.Info("csv write transaction committed")
	return nil
}

// RollbackTransaction cannot undo writes already on disk; it warns instead
func (d *Destination) RollbackTransaction(_ context.Context) error {
	d.log.Warn("csv files do not support rollback, data may be partially written")
	return nil
}

// appendRows appends insert rows, writing a header first when the file is new
func (d *Destination) appendRows(rows []*models.Row) (int64, error) {
	_, statErr := os.Stat(d.endpoint.Path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(d.endpoint.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G304
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeFile, "failed to open csv file for append")
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	w.Comma = d.endpoint.DelimiterRune()

	if len(d.columnOrder) == 0 {
		if isNew {
			d.columnOrder = rows[0].Columns
		} else if header, err := d.existingHeader(); err == nil && len(header) > 0 {
			d.columnOrder = header
		} else {
			d.columnOrder = rows[0].Columns
		}
	}

	if isNew && d.endpoint.HeaderEnabled() {
		if err := w.Write(d.columnOrder); err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeFile, "failed to write csv header")
		}
	}

	var written int64
	for _, row := range rows {
		record := make([]string, len(d.columnOrder))
		for i, col := range d.columnOrder {
			record[i] = formatValue(row.Get(col))
		}
		if err := w.Write(record); err != nil {
			return written, errors.Wrap(err, errors.ErrorTypeFile, "failed to write csv row")
		}
		written++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return written, errors.Wrap(err, errors.ErrorTypeFile, "failed to flush csv rows")
	}

	d.log.Info("appended rows", zap.Int64("rows", written))
	return written, nil
}

// rewriteFile applies updates and deletes by reading the whole file,
// replacing or dropping matched rows by key tuple, and atomically renaming
// the rewritten copy over the original
func (d *Destination) rewriteFile(updates, deletes []*models.Row, keyColumns []string) (int64, error) {
	if _, err := os.Stat(d.endpoint.Path); os.IsNotExist(err) {
		d.log.Warn("file does not exist, nothing to update or delete")
		return 0, nil
	}

	header, records, err := d.readAll()
	if err != nil {
		return 0, err
	}
	if len(header) == 0 {
		if len(records) == 0 {
			return 0, nil
		}
		// Headerless files match on the same synthesized col_N names the
		// source produces.
		header = make([]string, len(records[0]))
		for i := range header {
			header[i] = fmt.Sprintf("col_%d", i)
		}
	}

	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		colIndex[name] = i
	}
	for _, key := range keyColumns {
		if _, ok := colIndex[key]; !ok {
			return 0, errors.Newf(errors.ErrorTypeWrite,
				"key column %q not present in destination file", key)
		}
	}

	updateLookup := keyLookup(updates, keyColumns)
	deleteLookup := keyLookup(deletes, keyColumns)

	var kept [][]string
	var changed int64
	for _, record := range records {
		key := recordKey(record, header, colIndex, keyColumns)
		if _, ok := deleteLookup[key]; ok {
			changed++
			continue
		}
		if row, ok := updateLookup[key]; ok {
			for i, col := range header {
				if isKeyColumn(col, keyColumns) {
					continue
				}
				if _, has := row.Values[col]; has {
					record[i] = formatValue(row.Get(col))
				}
			}
			changed++
		}
		kept = append(kept, record)
	}

	if err := d.writeAtomically(header, kept); err != nil {
		return 0, err
	}

	d.log.Info("rewrote file", zap.Int64("rows_changed", changed))
	return changed, nil
}

// readAll loads the entire file into memory
func (d *Destination) readAll() ([]string, [][]string, error) {
	f, err := os.Open(d.endpoint.Path) //nolint:gosec // G304
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open csv file")
	}
	defer f.Close() //nolint:errcheck

	encodingName := d.endpoint.Encoding
	reader := csv.NewReader(decodingReader(f, encodingName))
	reader.Comma = d.endpoint.DelimiterRune()
	reader.FieldsPerRecord = -1

	var header []string
	if d.endpoint.HeaderEnabled() {
		header, err = reader.Read()
		if err == io.EOF {
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read csv header")
		}
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read csv rows")
		}
		records = append(records, record)
	}
	return header, records, nil
}

// writeAtomically writes to a temp file in the same directory and renames it
// over the target so readers never observe a half-written file
func (d *Destination) writeAtomically(header []string, records [][]string) error {
	dir := filepath.Dir(d.endpoint.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(d.endpoint.Path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // no-op after successful rename

	w := csv.NewWriter(tmp)
	w.Comma = d.endpoint.DelimiterRune()

	if d.endpoint.HeaderEnabled() && len(header) > 0 {
		if err := w.Write(header); err != nil {
			tmp.Close() //nolint:errcheck
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to write csv header")
		}
	}
	for _, record := range records {
		if err := w.Write(record); err != nil {
			tmp.Close() //nolint:errcheck
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to write csv rows")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close() //nolint:errcheck
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush csv rows")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close temp file")
	}

	if err := os.Rename(tmpPath, d.endpoint.Path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to replace csv file")
	}
	return nil
}

// existingHeader reads only the header row of the current file
func (d *Destination) existingHeader() ([]string, error) {
	if !d.endpoint.HeaderEnabled() {
		return nil, nil
	}
	header, _, err := d.readAll()
	return header, err
}

func keyLookup(rows []*models.Row, keyColumns []string) map[string]*models.Row {
	lookup := make(map[string]*models.Row, len(rows))
	for _, row := range rows {
		parts := make([]string, len(keyColumns))
		for i, col := range keyColumns {
			parts[i] = formatValue(row.Get(col))
		}
		lookup[strings.Join(parts, "\x1f")] = row
	}
	return lookup
}

func recordKey(record []string, header []string, colIndex map[string]int, keyColumns []string) string {
	parts := make([]string, len(keyColumns))
	for i, col := range keyColumns {
		idx := colIndex[col]
		if idx < len(record) {
			parts[i] = record[idx]
		}
	}
	return strings.Join(parts, "\x1f")
}

func isKeyColumn(col string, keyColumns []string) bool {
	for _, key := range keyColumns {
		if key == col {
			return true
		}
	}
	return false
}
