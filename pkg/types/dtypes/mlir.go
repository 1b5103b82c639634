package dtypes

import (
	"fmt"
	"math"
	"strconv"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// ToMLIR returns the MLIR spelling of the DType.
func (dtype DType) ToMLIR() string {
	switch dtype {
	case Float64:
		return "f64"
	case Float32:
		return "f32"
	case Float16:
		return "f16"
	case BFloat16:
		return "bf16"
	case Int64:
		return "i64"
	case Int32:
		return "i32"
	case Int16:
		return "i16"
	case Int8:
		return "i8"
	case Bool:
		return "i1"
	case Index:
		return "index"
	default:
		return fmt.Sprintf("unknown_dtype<%s>", dtype.String())
	}
}

// RoundToDType rounds v to the closest value representable by dtype.
//
// Float16 and BFloat16 go through the actual half-precision conversions; integer types truncate toward zero.
func RoundToDType(dtype DType, v float64) float64 {
	switch dtype {
	case Float16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case BFloat16:
		return float64(bfloat16.FromFloat32(float32(v)).Float32())
	case Float32:
		return float64(float32(v))
	case Float64:
		return v
	case Bool:
		if v != 0 {
			return 1
		}
		return 0
	default:
		return math.Trunc(v)
	}
}

// FormatScalar returns the MLIR literal of v as an attribute of the given dtype, e.g. `0.000000e+00 : f32`.
func FormatScalar(dtype DType, v float64) string {
	v = RoundToDType(dtype, v)
	switch {
	case dtype == Bool:
		if v != 0 {
			return "true"
		}
		return "false"
	case dtype.IsFloat():
		switch {
		case math.IsInf(v, 1):
			return fmt.Sprintf("0x%s : %s", infHex(dtype, false), dtype.ToMLIR())
		case math.IsInf(v, -1):
			return fmt.Sprintf("0x%s : %s", infHex(dtype, true), dtype.ToMLIR())
		}
		return fmt.Sprintf("%s : %s", strconv.FormatFloat(v, 'e', 6, 64), dtype.ToMLIR())
	default:
		return fmt.Sprintf("%d : %s", int64(v), dtype.ToMLIR())
	}
}

func infHex(dtype DType, negative bool) string {
	switch dtype {
	case Float16:
		bits := float16.Inf(1).Bits()
		if negative {
			bits = float16.Inf(-1).Bits()
		}
		return fmt.Sprintf("%04X", bits)
	case BFloat16:
		if negative {
			return "FF80"
		}
		return "7F80"
	case Float32:
		if negative {
			return "FF800000"
		}
		return "7F800000"
	default:
		if negative {
			return "FFF0000000000000"
		}
		return "7FF0000000000000"
	}
}

// LowestValue returns the lowest value of dtype: -Inf for floats, the minimum for integers.
func LowestValue(dtype DType) float64 {
	switch dtype {
	case Int8:
		return math.MinInt8
	case Int16:
		return math.MinInt16
	case Int32:
		return math.MinInt32
	case Int64, Index:
		return math.MinInt64
	case Bool:
		return 0
	default:
		return math.Inf(-1)
	}
}

// HighestValue returns the highest value of dtype: +Inf for floats, the maximum for integers.
func HighestValue(dtype DType) float64 {
	switch dtype {
	case Int8:
		return math.MaxInt8
	case Int16:
		return math.MaxInt16
	case Int32:
		return math.MaxInt32
	case Int64, Index:
		return math.MaxInt64
	case Bool:
		return 1
	default:
		return math.Inf(1)
	}
}
