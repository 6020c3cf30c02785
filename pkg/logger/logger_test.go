package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetReturnsLogger(t *testing.T) {
	log := Get()
	assert.NotNil(t, log)
	// Repeated calls hand back the same instance.
	assert.Same(t, log, Get())
}

func TestWithContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), RunIDKey, "run-123")
	ctx = context.WithValue(ctx, ConnectorKey, "csv_source")

	// Must not panic and must return a usable logger.
	log := WithContext(ctx)
	assert.NotNil(t, log)
	log.Debug("context fields attached")

	assert.NotNil(t, WithContext(context.Background()))
}

func TestSyncWithoutInit(t *testing.T) {
	assert.NotPanics(t, func() { _ = Sync() })
}
