// Package engine drives a migration job through its state machine:
// Validating, Connecting, SchemaChecking, then either DryRunReporting or
// Transferring, and always Finalizing.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hebaghazali/portl/pkg/config"
	"github.com/hebaghazali/portl/pkg/connector/core"
	"github.com/hebaghazali/portl/pkg/connector/registry"
	"github.com/hebaghazali/portl/pkg/errors"
	"github.com/hebaghazali/portl/pkg/logger"
)

// previewRows is how many rows a dry run shows
const previewRows = 5

// Options tune one run without mutating the job config
type Options struct {
	DryRun bool
	// BatchSize overrides the job's batch size when positive
	BatchSize int
	// TimeoutSecs overrides the job's timeout_seconds when positive
	TimeoutSecs int
}

// Engine executes one migration job
type Engine struct {
	job  *config.Job
	opts Options
	log  *zap.Logger
}

// New creates an engine for the given job
func New(job *config.Job, opts Options) *Engine {
	return &Engine{
		job:  job,
		opts: opts,
		log:  logger.Get().With(zap.String("job", job.Name)),
	}
}

// batchSize applies the caller override over the job's configured value
func (e *Engine) batchSize() int {
	if e.opts.BatchSize > 0 {
		return e.opts.BatchSize
	}
	return e.job.BatchSize
}

// boundedCtx derives a timeout context for connection and schema operations
func (e *Engine) boundedCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	secs := e.job.TimeoutSecs
	if e.opts.TimeoutSecs > 0 {
		secs = e.opts.TimeoutSecs
	}
	if secs <= 0 {
		secs = config.DefaultTimeoutSecs
	}
	return context.WithTimeout(ctx, time.Duration(secs)*time.Second)
}

// Run drives the job to completion. Failures land in the result's error
// list; the process-level error return is reserved for programming defects.
func (e *Engine) Run(ctx context.Context) *ExecutionResult {
	result := newExecutionResult(e.opts.DryRun)
	ctx = context.WithValue(ctx, logger.RunIDKey, result.RunID)
	e.log = logger.WithContext(ctx).With(zap.String("job", e.job.Name))
	defer result.finalize()

	// Validating
	if !e.validate(result) {
		return result
	}

	// Connecting
	source, err := registry.CreateSource(&e.job.Source)
	if err != nil {
		result.AddError(err)
		return result
	}
	destination, err := registry.CreateDestination(&e.job.Destination)
	if err != nil {
		result.AddError(err)
		return result
	}

	if err := e.connect(ctx, source); err != nil {
		result.AddError(err)
		return result
	}
	defer e.disconnect(source)

	if err := e.connect(ctx, destination); err != nil {
		result.AddError(err)
		return result
	}
	defer e.disconnect(destination)

	if err := e.runConnected(ctx, source, destination, result); err != nil {
		result.AddError(err)
	}
	return result
}

// connector is the lifecycle surface shared by sources and destinations
type connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// connect establishes the connection under the job timeout so a hung dial
// cannot stall the run
func (e *Engine) connect(ctx context.Context, c connector) error {
	connectCtx, cancel := e.boundedCtx(ctx)
	defer cancel()
	return c.Connect(connectCtx)
}

// disconnect always runs, on a fresh bounded context so it still works when
// the run context is already cancelled or expired
func (e *Engine) disconnect(c connector) {
	ctx, cancel := e.boundedCtx(context.Background())
	defer cancel()
	if err := c.Disconnect(ctx); err != nil {
		e.log.Warn("disconnect failed", zap.Error(err))
	}
}

// validate is the Validating state. It never touches a connector.
func (e *Engine) validate(result *ExecutionResult) bool {
	e.log.Info("validating job")

	errs := e.job.Validate()
	for _, err := range errs {
		result.AddError(err)
	}
	if len(errs) > 0 {
		return false
	}

	if e.job.Conflict == config.ConflictMerge {
		result.AddError(errors.New(errors.ErrorTypeCapability,
			"merge conflict strategy is not implemented yet"))
		return false
	}
	if e.opts.BatchSize < 0 {
		result.AddError(errors.Newf(errors.ErrorTypeValidation,
			"batch size override must be positive, got %d", e.opts.BatchSize))
		return false
	}
	return true
}

// runConnected covers the states that need live connections. Returning an
// error records it; disconnection is handled by the enclosing scopes.
func (e *Engine) runConnected(ctx context.Context, source core.Source, destination core.Destination, result *ExecutionResult) error {
	probeCtx, cancel := e.boundedCtx(ctx)
	defer cancel()

	if !source.TestConnection(probeCtx) {
		return errors.New(errors.ErrorTypeConnection, "source connection test failed")
	}
	if !destination.TestConnection(probeCtx) {
		return errors.New(errors.ErrorTypeConnection, "destination connection test failed")
	}

	// SchemaChecking
	e.log.Info("checking schemas")
	sourceSchema, err := source.GetSchema(probeCtx)
	if err != nil {
		return err
	}
	totalRows, err := source.GetRowCount(probeCtx)
	if err != nil {
		return err
	}
	result.TotalRows = totalRows

	destSchema := sourceSchema.Rename(e.job.SchemaMapping)
	if !e.opts.DryRun {
		if err := destination.CreateIfMissing(probeCtx, destSchema); err != nil {
			// The destination may already satisfy the need.
			result.AddWarning("could not create destination: " + err.Error())
			e.log.Warn("create if missing failed", zap.Error(err))
		}
	}
	for _, warning := range destination.ValidateSchemaCompatibility(probeCtx, destSchema) {
		result.AddWarning(warning)
	}

	if e.opts.DryRun {
		return e.dryRun(ctx, source, result)
	}
	return e.transfer(ctx, source, destination, result)
}

// dryRun is the DryRunReporting state: row count, warnings, and a small
// preview, with no destination transaction and no writes
func (e *Engine) dryRun(ctx context.Context, source core.Source, result *ExecutionResult) error {
	e.log.Info("dry run, no data will be written", zap.Int64("total_rows", result.TotalRows))
	result.Preview = source.PreviewData(ctx, previewRows)
	return nil
}

// transfer is the Transferring state: one destination transaction spans the
// whole job, batches apply in read order, and any write failure rolls the
// transaction back
func (e *Engine) transfer(ctx context.Context, source core.Source, destination core.Destination, result *ExecutionResult) error {
	batchSize := e.batchSize()
	e.log.Info("transferring",
		zap.Int("batch_size", batchSize),
		zap.Int64("total_rows", result.TotalRows),
		zap.String("conflict", string(e.job.Conflict)))

	// The reader goroutine must be stopped and drained before the source is
	// disconnected, even when a write fails partway through.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := source.ReadData(ctx, batchSize, 0)
	if err != nil {
		return err
	}
	defer func() {
		cancel()
		for range stream.Batches {
		}
	}()

	return core.WithTransaction(ctx, destination, func() error {
		for {
			// Cancellation is honored between batches, never mid-write.
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "run cancelled")
			default:
			}

			batch, ok := <-stream.Batches
			if !ok {
				if err := <-stream.Errors; err != nil {
					return err
				}
				return nil
			}

			batch = batch.Rename(e.job.SchemaMapping)
			written, err := destination.WriteBatch(ctx, batch, e.job.Conflict)
			if err != nil {
				return err
			}

			result.RowsProcessed += int64(batch.Len())
			result.RowsWritten += written
			result.BatchesProcessed++
			e.log.Debug("batch written",
				zap.Int64("batches", result.BatchesProcessed),
				zap.Int64("rows_processed", result.RowsProcessed))
		}
	})
}
