// Package portl is a declarative data migration tool that moves tabular
// data between heterogeneous sources and destinations from a single YAML
// job file.
//
// A job names a source endpoint, a destination endpoint, a conflict
// strategy, and an optional column mapping. The engine validates the job,
// connects both endpoints, reconciles schemas, and streams rows in batches
// inside a single destination transaction, so a failed run leaves the
// destination untouched.
//
// # Connectors
//
// Connectors live under pkg/connector and register themselves with the
// factory registry at init time:
//
//   - postgres: tables or arbitrary SQL queries over pgx
//   - mysql: tables or arbitrary SQL queries over database/sql
//   - csv: delimited files with encoding detection and type inference
//
// Sources implement core.Source and destinations implement
// core.Destination; a connector may implement both. New connectors only
// need a constructor and a registry.RegisterSource / RegisterDestination
// call.
//
// # Quick Start
//
// Run a migration from a job file:
//
//	portl run job.yaml
//
// Preview what would happen without writing anything:
//
//	portl run job.yaml --dry-run
//
// Or work with the connector packages directly:
//
//	import (
//	    "context"
//
//	    "github.com/hebaghazali/portl/pkg/config"
//	    "github.com/hebaghazali/portl/pkg/connector/registry"
//	    _ "github.com/hebaghazali/portl/pkg/connector/csvfile"
//	)
//
//	job, warnings, err := config.LoadJob("job.yaml")
//	if err != nil {
//	    // handle
//	}
//	source, err := registry.CreateSource(&job.Source)
//	if err != nil {
//	    // handle
//	}
//	ctx := context.Background()
//	if err := source.Connect(ctx); err != nil {
//	    // handle
//	}
//	defer source.Disconnect(ctx)
//	preview := source.PreviewData(ctx, 5)
//
// See examples/ for complete job files.
package portl
