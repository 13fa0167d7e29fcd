package engine

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// EncodeLiteral converts a Go value into SQL literal text safe to splice
// into a statement. It is pure and has no backend-specific behavior;
// identifier quoting is owned by the adapters.
//
// Rules, in priority order: nil becomes NULL; time.Time becomes quoted
// ISO-8601 text; strings are quoted with embedded quotes doubled; booleans
// become TRUE/FALSE; numbers become decimal text, with non-finite floats
// coerced to NULL rather than emitted as invalid syntax; byte slices become
// X'…' blob literals; anything else is marshalled to JSON and quoted.
//
// The X'…' spelling is a blob literal in SQLite and MySQL but a bit-string
// literal in PostgreSQL, so []byte values cannot target bytea columns
// through the postgres adapter.
func EncodeLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return quoteText(x.UTC().Format(time.RFC3339))
	case string:
		return quoteText(x)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return encodeFloat(x)
	case float32:
		return encodeFloat(float64(x))
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case []byte:
		return "X'" + strings.ToUpper(hex.EncodeToString(x)) + "'"
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return quoteText(fmt.Sprint(x))
		}
		return quoteText(string(b))
	}
}

func encodeFloat(f float64) string {
	// NaN and ±Inf have no SQL spelling; emit NULL instead of garbage.
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "NULL"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// quoteText wraps s in single quotes, doubling embedded quote characters.
func quoteText(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
