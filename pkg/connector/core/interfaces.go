// Package core defines the connector contracts every backend implements.
package core

import (
	"context"

	"github.com/hebaghazali/portl/pkg/config"
	"github.com/hebaghazali/portl/pkg/models"
	"github.com/hebaghazali/portl/pkg/schema"
)

// Role distinguishes the two connector capability sets
type Role string

const (
	RoleSource      Role = "source"
	RoleDestination Role = "destination"
)

// BatchStream is a lazy, finite sequence of batches produced by a source.
// The channel is bounded so reads pipeline a little ahead of writes without
// buffering the whole table. A batch shorter than the requested size is the
// final batch; the channel is closed after it. Errors carries at most one
// value and is closed with Batches.
type BatchStream struct {
	Batches <-chan *models.Batch
	Errors  <-chan error
}

// Source is the read contract. Connect and Disconnect are idempotent and
// paired; Disconnect must be safe to call even when Connect never succeeded.
type Source interface {
	// Connect establishes the backend connection. No I/O happens before it.
	Connect(ctx context.Context) error
	// Disconnect releases the connection. Safe to call repeatedly.
	Disconnect(ctx context.Context) error
	// TestConnection is a best-effort liveness probe. It never returns an
	// error; any failure reports false.
	TestConnection(ctx context.Context) bool
	// GetSchema introspects the source and returns its normalized schema.
	GetSchema(ctx context.Context) (*schema.Schema, error)
	// GetRowCount returns the total rows available, computed eagerly.
	GetRowCount(ctx context.Context) (int64, error)
	// ReadData produces batches lazily starting at offset. The final batch
	// may be shorter than batchSize; that (or an empty batch) terminates
	// the stream.
	ReadData(ctx context.Context, batchSize int, offset int64) (*BatchStream, error)
	// PreviewData returns up to limit rows. It swallows errors into an
	// empty batch so callers can render previews without failure handling.
	PreviewData(ctx context.Context, limit int) *models.Batch
}

// Destination is the write contract
type Destination interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	TestConnection(ctx context.Context) bool
	// GetSchema returns the destination schema, or an empty schema when the
	// target does not exist yet.
	GetSchema(ctx context.Context) (*schema.Schema, error)
	// CreateIfMissing creates the target from the given schema. It is a
	// no-op when the target already exists.
	CreateIfMissing(ctx context.Context, s *schema.Schema) error
	// WriteBatch writes a batch under the given conflict strategy and
	// returns the number of rows written.
	WriteBatch(ctx context.Context, batch *models.Batch, strategy config.ConflictStrategy) (int64, error)
	// ValidateSchemaCompatibility compares the incoming schema against the
	// destination and returns advisory warnings. It never blocks a run.
	ValidateSchemaCompatibility(ctx context.Context, source *schema.Schema) []string

	BeginTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error
}

// connectable is the subset shared by both roles
type connectable interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// WithConnection runs fn inside a connect/disconnect pair, guaranteeing
// disconnection on every exit path
func WithConnection(ctx context.Context, c connectable, fn func() error) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect(ctx) //nolint:errcheck // disconnect errors do not mask fn's result
	return fn()
}

// WithTransaction runs fn inside a destination transaction, committing on
// success and rolling back on failure. The original failure is returned
// even when the rollback itself fails.
func WithTransaction(ctx context.Context, d Destination, fn func() error) error {
	if err := d.BeginTransaction(ctx); err != nil {
		return err
	}
	if err := fn(); err != nil {
		d.RollbackTransaction(ctx) //nolint:errcheck // rollback failure must not mask fn's error
		return err
	}
	return d.CommitTransaction(ctx)
}
