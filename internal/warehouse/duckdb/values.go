package duckdb

import (
	"fmt"
	"math"
	"math/big"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb/v2"
)

// normalizeValue converts driver values into shapes that encode cleanly as
// JSON and survive a round trip through the query record store.
func normalizeValue(databaseType string, value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case []byte:
		if databaseType == "UUID" && len(typed) == 16 {
			if id, err := uuid.FromBytes(typed); err == nil {
				return id.String()
			}
		}
		return string(typed)
	case *big.Int:
		if typed.IsInt64() {
			return typed.Int64()
		}
		return typed.String()
	case duckdb.Decimal:
		return typed.Float64()
	case float64:
		return finiteOrString(typed)
	case float32:
		return finiteOrString(float64(typed))
	case duckdb.Map:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[fmt.Sprint(key)] = normalizeValue("", item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = normalizeValue("", item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeValue("", item)
		}
		return out
	default:
		return typed
	}
}

func finiteOrString(value float64) any {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Sprint(value)
	}
	return value
}
