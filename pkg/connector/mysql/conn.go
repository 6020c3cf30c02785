// Package mysql implements the MySQL source and destination connectors on
// database/sql with a single open connection per run.
package mysql

import (
	"fmt"
	"strings"

	"github.com/hebaghazali/portl/pkg/config"
	"github.com/hebaghazali/portl/pkg/schema"
)

// buildDSN renders a go-sql-driver DSN. parseTime makes DATETIME columns
// scan as time.Time instead of raw bytes.
func buildDSN(endpoint *config.Endpoint) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		endpoint.Username,
		endpoint.Password,
		endpoint.Host,
		endpoint.Port,
		endpoint.Database,
	)
}

// quoteIdent backtick-quotes an identifier, escaping embedded backticks
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteIdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = quoteIdent(name)
	}
	return strings.Join(quoted, ", ")
}

// tableRef renders the quoted table reference
func tableRef(endpoint *config.Endpoint) string {
	return quoteIdent(endpoint.Table)
}

var nativeToGeneric = map[string]schema.Type{
	"int":        schema.TypeInt,
	"integer":    schema.TypeInt,
	"mediumint":  schema.TypeInt,
	"bigint":     schema.TypeBigInt,
	"smallint":   schema.TypeSmallInt,
	"tinyint":    schema.TypeSmallInt,
	"decimal":    schema.TypeDecimal,
	"numeric":    schema.TypeDecimal,
	"float":      schema.TypeFloat,
	"double":     schema.TypeDouble,
	"varchar":    schema.TypeVarchar,
	"char":       schema.TypeChar,
	"text":       schema.TypeText,
	"tinytext":   schema.TypeText,
	"mediumtext": schema.TypeText,
	"longtext":   schema.TypeText,
	"date":       schema.TypeDate,
	"datetime":   schema.TypeTimestamp,
	"timestamp":  schema.TypeTimestampTZ,
	"time":       schema.TypeTime,
	"json":       schema.TypeJSON,
}

var genericToNative = map[schema.Type]string{
	schema.TypeInt:         "INT",
	schema.TypeBigInt:      "BIGINT",
	schema.TypeSmallInt:    "SMALLINT",
	schema.TypeDecimal:     "DECIMAL(38,9)",
	schema.TypeFloat:       "FLOAT",
	schema.TypeDouble:      "DOUBLE",
	schema.TypeVarchar:     "VARCHAR(255)",
	schema.TypeChar:        "CHAR(1)",
	schema.TypeText:        "TEXT",
	schema.TypeBoolean:     "TINYINT(1)",
	schema.TypeDate:        "DATE",
	schema.TypeTimestamp:   "DATETIME",
	schema.TypeTimestampTZ: "TIMESTAMP",
	schema.TypeTime:        "TIME",
	schema.TypeJSON:        "JSON",
	schema.TypeJSONB:       "JSON",
	schema.TypeUUID:        "CHAR(36)",
}

func mapNativeType(dataType string) schema.Type {
	if t, ok := nativeToGeneric[strings.ToLower(dataType)]; ok {
		return t
	}
	return schema.TypeText
}

func mapGenericType(t schema.Type) string {
	if native, ok := genericToNative[t]; ok {
		return native
	}
	return "TEXT"
}

// convertValue normalizes driver values. The text protocol hands numeric
// and string columns back as []byte, which would otherwise leak through
// to destinations as raw bytes.
func convertValue(value interface{}) interface{} {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}
