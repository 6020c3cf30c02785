package postgres

import "github.com/hebaghazali/portl/pkg/schema"

// nativeToGeneric maps information_schema data_type values to the normalized
// vocabulary
var nativeToGeneric = map[string]schema.Type{
	"integer":                     schema.TypeInt,
	"bigint":                      schema.TypeBigInt,
	"smallint":                    schema.TypeSmallInt,
	"numeric":                     schema.TypeDecimal,
	"decimal":                     schema.TypeDecimal,
	"real":                        schema.TypeFloat,
	"double precision":            schema.TypeDouble,
	"character varying":           schema.TypeVarchar,
	"character":                   schema.TypeChar,
	"text":                        schema.TypeText,
	"boolean":                     schema.TypeBoolean,
	"date":                        schema.TypeDate,
	"timestamp without time zone": schema.TypeTimestamp,
	"timestamp with time zone":    schema.TypeTimestampTZ,
	"time without time zone":      schema.TypeTime,
	"json":                        schema.TypeJSON,
	"jsonb":                       schema.TypeJSONB,
	"uuid":                        schema.TypeUUID,
}

// genericToNative maps normalized types to the column types used when
// creating tables
var genericToNative = map[schema.Type]string{
	schema.TypeInt:         "INTEGER",
	schema.TypeBigInt:      "BIGINT",
	schema.TypeSmallInt:    "SMALLINT",
	schema.TypeDecimal:     "NUMERIC",
	schema.TypeFloat:       "REAL",
	schema.TypeDouble:      "DOUBLE PRECISION",
	schema.TypeVarchar:     "VARCHAR(255)",
	schema.TypeChar:        "CHAR(1)",
	schema.TypeText:        "TEXT",
	schema.TypeBoolean:     "BOOLEAN",
	schema.TypeDate:        "DATE",
	schema.TypeTimestamp:   "TIMESTAMP",
	schema.TypeTimestampTZ: "TIMESTAMPTZ",
	schema.TypeTime:        "TIME",
	schema.TypeJSON:        "JSON",
	schema.TypeJSONB:       "JSONB",
	schema.TypeUUID:        "UUID",
}

// oidToGeneric maps result descriptor OIDs for query-shaped schema discovery
var oidToGeneric = map[uint32]schema.Type{
	16:   schema.TypeBoolean,
	20:   schema.TypeBigInt,
	21:   schema.TypeSmallInt,
	23:   schema.TypeInt,
	25:   schema.TypeText,
	114:  schema.TypeJSON,
	700:  schema.TypeFloat,
	701:  schema.TypeDouble,
	1042: schema.TypeChar,
	1043: schema.TypeVarchar,
	1082: schema.TypeDate,
	1083: schema.TypeTime,
	1114: schema.TypeTimestamp,
	1184: schema.TypeTimestampTZ,
	1700: schema.TypeDecimal,
	2950: schema.TypeUUID,
	3802: schema.TypeJSONB,
}

// mapNativeType translates an information_schema data_type, defaulting to text
func mapNativeType(dataType string) schema.Type {
	if t, ok := nativeToGeneric[dataType]; ok {
		return t
	}
	return schema.TypeText
}

// mapOIDType translates a result descriptor OID, defaulting to text
func mapOIDType(oid uint32) schema.Type {
	if t, ok := oidToGeneric[oid]; ok {
		return t
	}
	return schema.TypeText
}

// mapGenericType translates a normalized type to its column definition
func mapGenericType(t schema.Type) string {
	if native, ok := genericToNative[t]; ok {
		return native
	}
	return "TEXT"
}
