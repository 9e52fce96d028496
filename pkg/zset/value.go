package zset

import (
	"fmt"
	"math"
	"strings"
)

// Value is one scalar slot of a tuple. The engine stores int64, float64,
// string and bool values; NormalizeValue widens the remaining Go numeric
// types on entry.
type Value = any

// NormalizeValue coerces v into the canonical value domain: integer
// types widen to int64, float32 to float64. Non-finite floats and
// unsupported types are rejected.
func NormalizeValue(v Value) (Value, error) {
	switch val := v.(type) {
	case int64, string, bool:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, newZSetError(fmt.Sprintf("value %d overflows the integer domain", val), nil)
		}
		return int64(val), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, newZSetError("non-finite float values are not supported", nil)
		}
		return val, nil
	case float32:
		return NormalizeValue(float64(val))
	case nil:
		return nil, newZSetError("nil is not a value", nil)
	default:
		return nil, newZSetError(fmt.Sprintf("unsupported value type %T", v), nil)
	}
}

// CompareValues imposes a total order over the value domain and returns
// -1, 0 or 1. Numeric values order first and compare across int64 and
// float64, then strings, then booleans. Values outside the canonical
// domain compare by their printed form.
func CompareValues(left, right Value) int {
	lr, rr := typeRank(left), typeRank(right)
	if lr != rr {
		if lr < rr {
			return -1
		}
		return 1
	}

	switch l := left.(type) {
	case int64:
		if r, ok := right.(int64); ok {
			switch {
			case l < r:
				return -1
			case l > r:
				return 1
			default:
				return 0
			}
		}
		return compareNumeric(float64(l), right)
	case float64:
		return compareNumeric(l, right)
	case string:
		return strings.Compare(l, right.(string))
	case bool:
		r := right.(bool)
		switch {
		case !l && r:
			return -1
		case l && !r:
			return 1
		default:
			return 0
		}
	default:
		return strings.Compare(fmt.Sprint(left), fmt.Sprint(right))
	}
}

// EqualValues reports value equality under the CompareValues order, so
// int64(2) and float64(2) are equal.
func EqualValues(left, right Value) bool {
	return CompareValues(left, right) == 0
}

func typeRank(v Value) int {
	switch v.(type) {
	case int64, float64:
		return 0
	case string:
		return 1
	case bool:
		return 2
	default:
		return 3
	}
}

func compareNumeric(left float64, right Value) int {
	var r float64
	switch rv := right.(type) {
	case int64:
		r = float64(rv)
	case float64:
		r = rv
	}
	switch {
	case left < r:
		return -1
	case left > r:
		return 1
	default:
		return 0
	}
}
