package layering

import "reflect"

// KeepFunc reports whether a value must be carried over by reference instead
// of being deep copied.
type KeepFunc func(value any) bool

// Clone returns a deep copy of value. Maps, slices, arrays, pointers and
// structs are copied recursively; scalars are copied by value.
func Clone[T any](value T) T {
	return CloneFunc(value, nil)
}

// CloneFunc behaves like Clone but leaves any value accepted by keep shared
// with the source. It is used to copy raw payloads that may already embed live
// objects which must keep their identity.
func CloneFunc[T any](value T, keep KeepFunc) T {
	var zero T
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return zero
	}
	cloned := cloneValue(rv, keep)
	if !cloned.IsValid() {
		return zero
	}
	if out, ok := cloned.Interface().(T); ok {
		return out
	}
	return value
}

func cloneValue(v reflect.Value, keep KeepFunc) reflect.Value {
	if !v.IsValid() {
		return v
	}
	if keep != nil && v.CanInterface() && v.Kind() != reflect.Interface {
		if keep(v.Interface()) {
			return v
		}
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.New(v.Type().Elem())
		clone.Elem().Set(cloneValue(v.Elem(), keep))
		return clone
	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		elem := cloneValue(v.Elem(), keep)
		if !elem.IsValid() {
			return reflect.Zero(v.Type())
		}
		return elem.Convert(v.Type())
	case reflect.Struct:
		clone := reflect.New(v.Type()).Elem()
		clone.Set(v)
		for i := 0; i < v.NumField(); i++ {
			field := clone.Field(i)
			if !field.CanSet() {
				continue
			}
			field.Set(cloneValue(v.Field(i), keep))
		}
		return clone
	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			value := cloneValue(iter.Value(), keep)
			if !value.IsValid() {
				value = reflect.Zero(v.Type().Elem())
			}
			clone.SetMapIndex(iter.Key(), value)
		}
		return clone
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			value := cloneValue(v.Index(i), keep)
			if !value.IsValid() {
				continue
			}
			clone.Index(i).Set(value)
		}
		return clone
	case reflect.Array:
		clone := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			clone.Index(i).Set(cloneValue(v.Index(i), keep))
		}
		return clone
	default:
		if !v.CanInterface() {
			return v
		}
		return reflect.ValueOf(v.Interface())
	}
}
