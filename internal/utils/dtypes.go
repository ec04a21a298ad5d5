package utils

import (
	"github.com/gomlx/gopjrt/dtypes"
)

// DTypeToAssembly returns the element type name used in the textual
// assembly form, e.g. "f32" for Float32.
func DTypeToAssembly(dtype dtypes.DType) string {
	switch dtype {
	case dtypes.F64:
		return "f64"
	case dtypes.F32:
		return "f32"
	case dtypes.F16:
		return "f16"
	case dtypes.BFloat16:
		return "bf16"
	case dtypes.S64:
		return "i64"
	case dtypes.S32:
		return "i32"
	case dtypes.S16:
		return "i16"
	case dtypes.S8:
		return "i8"
	case dtypes.U64:
		return "ui64"
	case dtypes.U32:
		return "ui32"
	case dtypes.U16:
		return "ui16"
	case dtypes.U8:
		return "ui8"
	case dtypes.Bool:
		return "i1"
	default:
		return "unknown_dtype"
	}
}

// DTypeFromAssembly is the inverse of DTypeToAssembly.
// It returns dtypes.InvalidDType for unknown names.
func DTypeFromAssembly(name string) dtypes.DType {
	switch name {
	case "f64":
		return dtypes.F64
	case "f32":
		return dtypes.F32
	case "f16":
		return dtypes.F16
	case "bf16":
		return dtypes.BFloat16
	case "i64":
		return dtypes.S64
	case "i32":
		return dtypes.S32
	case "i16":
		return dtypes.S16
	case "i8":
		return dtypes.S8
	case "ui64":
		return dtypes.U64
	case "ui32":
		return dtypes.U32
	case "ui16":
		return dtypes.U16
	case "ui8":
		return dtypes.U8
	case "i1":
		return dtypes.Bool
	}
	return dtypes.InvalidDType
}
