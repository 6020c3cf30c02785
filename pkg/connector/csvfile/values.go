package csvfile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hebaghazali/portl/pkg/schema"
)

// nullMarkers are cell values treated as null on read
var nullMarkers = map[string]bool{
	"":     true,
	"NULL": true,
	"null": true,
	"N/A":  true,
	"NaN":  true,
}

const (
	timestampLayout = "2006-01-02 15:04:05"
	dateLayout      = "2006-01-02"
)

// inferColumnType inspects sampled cell values and picks the narrowest type
// that fits every non-null value. Columns with any null sample are marked
// nullable.
func inferColumnType(name string, samples []string) schema.Column {
	col := schema.Column{Name: name, Type: schema.TypeText}

	couldBeInt := true
	couldBeFloat := true
	couldBeBool := true
	couldBeTimestamp := true
	couldBeDate := true
	sawValue := false

	for _, raw := range samples {
		if nullMarkers[raw] {
			col.Nullable = true
			continue
		}
		sawValue = true

		if couldBeInt {
			if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
				couldBeInt = false
			}
		}
		if couldBeFloat {
			if _, err := strconv.ParseFloat(raw, 64); err != nil {
				couldBeFloat = false
			}
		}
		if couldBeBool {
			switch strings.ToLower(raw) {
			case "true", "false":
			default:
				couldBeBool = false
			}
		}
		if couldBeDate {
			if _, err := time.Parse(dateLayout, raw); err != nil {
				couldBeDate = false
			}
		}
		if couldBeTimestamp {
			if !parsesAsTimestamp(raw) {
				couldBeTimestamp = false
			}
		}
	}

	if !sawValue {
		col.Nullable = true
		return col
	}

	switch {
	case couldBeBool:
		col.Type = schema.TypeBoolean
	case couldBeInt:
		col.Type = schema.TypeInt
	case couldBeFloat:
		col.Type = schema.TypeDouble
	case couldBeDate:
		col.Type = schema.TypeDate
	case couldBeTimestamp:
		col.Type = schema.TypeTimestamp
	default:
		col.Type = schema.TypeText
	}
	return col
}

func parsesAsTimestamp(raw string) bool {
	for _, layout := range []string{timestampLayout, time.RFC3339} {
		if _, err := time.Parse(layout, raw); err == nil {
			return true
		}
	}
	return false
}

// parseValue converts a raw cell to the scalar its column type calls for.
// Cells that refuse to parse stay strings rather than failing the row.
func parseValue(raw string, colType schema.Type) interface{} {
	if nullMarkers[raw] {
		return nil
	}

	switch colType {
	case schema.TypeInt, schema.TypeBigInt, schema.TypeSmallInt:
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return v
		}
	case schema.TypeFloat, schema.TypeDouble, schema.TypeDecimal:
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	case schema.TypeBoolean:
		if v, err := strconv.ParseBool(strings.ToLower(raw)); err == nil {
			return v
		}
	case schema.TypeDate:
		if v, err := time.Parse(dateLayout, raw); err == nil {
			return v
		}
	case schema.TypeTimestamp, schema.TypeTimestampTZ:
		for _, layout := range []string{timestampLayout, time.RFC3339} {
			if v, err := time.Parse(layout, raw); err == nil {
				return v
			}
		}
	}
	return raw
}

// formatValue renders a scalar back to its cell representation. Nulls become
// empty cells, matching what parseValue treats as null.
func formatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format(dateLayout)
		}
		return v.Format(timestampLayout)
	default:
		return fmt.Sprintf("%v", v)
	}
}
