package engine

import (
	"math"
	"reflect"
)

// Same reports whether a and b are the same value by identity.
//
// Comparable values compare with ==. Floats compare by bit pattern, so
// NaN equals NaN and 0 differs from -0. Maps, slices, funcs and channels
// compare by the pointer they carry, so a slice that was copied into a
// new backing array counts as a change even when the elements match.
func Same(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	case reflect.Float32, reflect.Float64:
		fa, fb := va.Float(), vb.Float()
		if math.IsNaN(fa) && math.IsNaN(fb) {
			return true
		}
		return math.Float64bits(fa) == math.Float64bits(fb)
	}
	if !va.Type().Comparable() {
		return false
	}
	return safeEqual(a, b)
}

// safeEqual compares values whose type is comparable but may hold
// interface fields with uncomparable dynamic values.
func safeEqual(a, b any) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
