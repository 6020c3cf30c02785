// Package postgres implements the PostgreSQL source and destination
// connectors on a single connection per run.
package postgres

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hebaghazali/portl/pkg/config"
)

// buildDSN renders a pgx connection URL from an endpoint
func buildDSN(endpoint *config.Endpoint) string {
	sslmode := endpoint.SSLMode
	if sslmode == "" {
		sslmode = "prefer"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(endpoint.Username),
		url.QueryEscape(endpoint.Password),
		endpoint.Host,
		endpoint.Port,
		endpoint.Database,
		sslmode,
	)
}

// quoteIdent double-quotes an identifier, escaping embedded quotes
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// tableRef renders the schema-qualified quoted table reference
func tableRef(endpoint *config.Endpoint) string {
	schemaName := endpoint.Schema
	if schemaName == "" {
		schemaName = "public"
	}
	return quoteIdent(schemaName) + "." + quoteIdent(endpoint.Table)
}
