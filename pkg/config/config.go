// Package config defines job and endpoint configuration for portl
package config

import (
	"fmt"
	"strings"

	"github.com/hebaghazali/portl/pkg/errors"
)

// Kind identifies a backend type
type Kind string

const (
	KindPostgres     Kind = "postgres"
	KindMySQL        Kind = "mysql"
	KindCSV          Kind = "csv"
	KindGoogleSheets Kind = "google_sheets"
)

// ValidKinds lists every backend type the configuration layer accepts.
// Acceptance here does not imply a connector is registered for the kind;
// the factory reports that separately at connector construction time.
var ValidKinds = []Kind{KindPostgres, KindMySQL, KindCSV, KindGoogleSheets}

// ConflictStrategy governs what a write does when a row's key already exists
type ConflictStrategy string

const (
	ConflictOverwrite ConflictStrategy = "overwrite"
	ConflictSkip      ConflictStrategy = "skip"
	ConflictFail      ConflictStrategy = "fail"
	ConflictMerge     ConflictStrategy = "merge"
)

// ValidConflictStrategies lists accepted conflict strategy values
var ValidConflictStrategies = []ConflictStrategy{
	ConflictOverwrite, ConflictSkip, ConflictFail, ConflictMerge,
}

// Endpoint configures one side of a migration. It is a tagged union keyed
// on Type: database kinds use the connection fields, csv uses Path, and
// google_sheets uses the spreadsheet fields.
type Endpoint struct {
	Type Kind `yaml:"type"`

	// Database backends
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	Schema   string `yaml:"schema,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Table    string `yaml:"table,omitempty"`
	Query    string `yaml:"query,omitempty"`
	SSLMode  string `yaml:"sslmode,omitempty"`

	// Flat files
	Path       string   `yaml:"path,omitempty"`
	Delimiter  string   `yaml:"delimiter,omitempty"`
	HasHeader  *bool    `yaml:"has_header,omitempty"`
	Encoding   string   `yaml:"encoding,omitempty"`
	KeyColumns []string `yaml:"key_columns,omitempty"`

	// Spreadsheets
	SpreadsheetID string `yaml:"spreadsheet_id,omitempty"`
	SheetName     string `yaml:"sheet_name,omitempty"`
}

// IsDatabase reports whether the endpoint is a database backend
func (e *Endpoint) IsDatabase() bool {
	return e.Type == KindPostgres || e.Type == KindMySQL
}

// HeaderEnabled returns the has_header flag, defaulting to true
func (e *Endpoint) HeaderEnabled() bool {
	if e.HasHeader == nil {
		return true
	}
	return *e.HasHeader
}

// DelimiterRune returns the configured delimiter as a rune, defaulting to comma
func (e *Endpoint) DelimiterRune() rune {
	if e.Delimiter == "" {
		return ','
	}
	return []rune(e.Delimiter)[0]
}

// Job is the validated aggregate driving one migration run
type Job struct {
	Name          string            `yaml:"name,omitempty"`
	Source        Endpoint          `yaml:"source"`
	Destination   Endpoint          `yaml:"destination"`
	Conflict      ConflictStrategy  `yaml:"conflict,omitempty"`
	BatchSize     int               `yaml:"batch_size,omitempty"`
	SchemaMapping map[string]string `yaml:"schema_mapping,omitempty"`
	TimeoutSecs   int               `yaml:"timeout_seconds,omitempty"`
}

const (
	// DefaultBatchSize applies when batch_size is omitted
	DefaultBatchSize = 1000
	// DefaultConflict applies when conflict is omitted
	DefaultConflict = ConflictOverwrite
	// DefaultTimeoutSecs bounds connection and schema operations
	DefaultTimeoutSecs = 30
)

// ApplyDefaults fills omitted optional fields and returns warnings for each
// default applied, so callers can surface them
func (j *Job) ApplyDefaults() []string {
	var warnings []string
	if j.Conflict == "" {
		j.Conflict = DefaultConflict
		warnings = append(warnings,
			fmt.Sprintf("conflict strategy not set, defaulting to %q", DefaultConflict))
	}
	if j.BatchSize == 0 {
		j.BatchSize = DefaultBatchSize
		warnings = append(warnings,
			fmt.Sprintf("batch_size not set, defaulting to %d", DefaultBatchSize))
	}
	if j.TimeoutSecs == 0 {
		j.TimeoutSecs = DefaultTimeoutSecs
	}
	if j.Source.Type == KindPostgres && j.Source.Schema == "" {
		j.Source.Schema = "public"
	}
	if j.Destination.Type == KindPostgres && j.Destination.Schema == "" {
		j.Destination.Schema = "public"
	}
	if j.Source.Port == 0 {
		j.Source.Port = defaultPort(j.Source.Type)
	}
	if j.Destination.Port == 0 {
		j.Destination.Port = defaultPort(j.Destination.Type)
	}
	return warnings
}

func defaultPort(kind Kind) int {
	switch kind {
	case KindPostgres:
		return 5432
	case KindMySQL:
		return 3306
	default:
		return 0
	}
}

// Validate checks the job for structural errors. All violations are
// collected and returned together so the caller sees every problem at once.
func (j *Job) Validate() []error {
	var errs []error

	errs = append(errs, validateEndpoint(&j.Source, "source", true)...)
	errs = append(errs, validateEndpoint(&j.Destination, "destination", false)...)

	if j.Conflict != "" && !isValidConflict(j.Conflict) {
		errs = append(errs, errors.Newf(errors.ErrorTypeValidation,
			"conflict must be one of %s, got %q",
			joinConflicts(), j.Conflict))
	}
	if j.BatchSize <= 0 {
		errs = append(errs, errors.Newf(errors.ErrorTypeValidation,
			"batch_size must be a positive integer, got %d", j.BatchSize))
	}
	if j.TimeoutSecs < 0 {
		errs = append(errs, errors.Newf(errors.ErrorTypeValidation,
			"timeout_seconds must be a positive integer, got %d", j.TimeoutSecs))
	}

	if err := j.checkNotSameLocation(); err != nil {
		errs = append(errs, err)
	}

	return errs
}

// checkNotSameLocation rejects jobs whose source and destination resolve to
// the identical physical table
func (j *Job) checkNotSameLocation() error {
	src, dst := &j.Source, &j.Destination
	if src.Type != dst.Type {
		return nil
	}
	if src.IsDatabase() {
		if src.Host == dst.Host && src.Database == dst.Database &&
			src.Table != "" && src.Table == dst.Table {
			return errors.New(errors.ErrorTypeValidation,
				"source and destination point at the same table")
		}
		return nil
	}
	if src.Type == KindCSV && src.Path != "" && src.Path == dst.Path {
		return errors.New(errors.ErrorTypeValidation,
			"source and destination point at the same file")
	}
	return nil
}

func validateEndpoint(e *Endpoint, role string, isSource bool) []error {
	var errs []error

	if e.Type == "" {
		errs = append(errs, errors.Newf(errors.ErrorTypeValidation,
			"%s: type is required", role))
		return errs
	}
	if !isValidKind(e.Type) {
		errs = append(errs, errors.Newf(errors.ErrorTypeValidation,
			"%s: type must be one of %s, got %q", role, joinKinds(), e.Type))
		return errs
	}

	switch {
	case e.IsDatabase():
		for _, f := range []struct {
			name, value string
		}{
			{"host", e.Host},
			{"database", e.Database},
			{"username", e.Username},
		} {
			if f.value == "" {
				errs = append(errs, errors.Newf(errors.ErrorTypeValidation,
					"%s: %s is required for %s", role, f.name, e.Type))
			}
		}
		if isSource {
			if e.Table == "" && e.Query == "" {
				errs = append(errs, errors.Newf(errors.ErrorTypeValidation,
					"%s: either table or query is required", role))
			}
		} else if e.Table == "" {
			errs = append(errs, errors.Newf(errors.ErrorTypeValidation,
				"%s: table is required", role))
		}
	case e.Type == KindCSV:
		if e.Path == "" {
			errs = append(errs, errors.Newf(errors.ErrorTypeValidation,
				"%s: path is required for csv", role))
		}
	case e.Type == KindGoogleSheets:
		if e.SpreadsheetID == "" {
			errs = append(errs, errors.Newf(errors.ErrorTypeValidation,
				"%s: spreadsheet_id is required for google_sheets", role))
		}
		if e.SheetName == "" {
			errs = append(errs, errors.Newf(errors.ErrorTypeValidation,
				"%s: sheet_name is required for google_sheets", role))
		}
	}

	return errs
}

func isValidKind(k Kind) bool {
	for _, valid := range ValidKinds {
		if k == valid {
			return true
		}
	}
	return false
}

func isValidConflict(c ConflictStrategy) bool {
	for _, valid := range ValidConflictStrategies {
		if c == valid {
			return true
		}
	}
	return false
}

func joinKinds() string {
	parts := make([]string, len(ValidKinds))
	for i, k := range ValidKinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

func joinConflicts() string {
	parts := make([]string, len(ValidConflictStrategies))
	for i, c := range ValidConflictStrategies {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
