// Package util holds small helpers shared by the scenario packages.
package util

import "reflect"

// visited maps the address of a map, slice or pointer already being copied
// to its copy, so cyclic values terminate.
type visited map[uintptr]interface{}

// DeepCopy returns a copy of src that shares no maps, slices or pointers with
// it. Values decoded from YAML take a fast path; anything else is copied by
// reflection. Unexported struct fields keep their zero value.
func DeepCopy(src interface{}) interface{} {
	if src == nil {
		return nil
	}
	return deepCopy(src, make(visited))
}

func deepCopy(src interface{}, seen visited) interface{} {
	if src == nil {
		return nil
	}
	v := reflect.ValueOf(src)
	if cpy, ok := lookup(v, seen); ok {
		return cpy.Interface()
	}

	// Fast path for the shapes yaml.v3 produces.
	switch typed := src.(type) {
	case map[string]interface{}:
		cpy := make(map[string]interface{}, len(typed))
		// Register before recursing so a self-reference resolves to cpy.
		seen[v.Pointer()] = cpy
		for k, item := range typed {
			cpy[k] = deepCopy(item, seen)
		}
		return cpy
	case []interface{}:
		cpy := make([]interface{}, len(typed))
		seen[v.Pointer()] = cpy
		for i, item := range typed {
			cpy[i] = deepCopy(item, seen)
		}
		return cpy
	// Immutable scalars are returned as is.
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return typed
	}
	// Everything else, including typed maps and structs, goes through reflection.
	return copyValue(v, seen).Interface()
}

// lookup returns the copy already made for v, or v itself when v is a nil
// map, slice or pointer. Empty slices are never tracked since they may share
// a zero-size backing array.
func lookup(v reflect.Value, seen visited) (reflect.Value, bool) {
	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.Ptr:
		if v.IsNil() {
			return v, true
		}
		if v.Kind() == reflect.Slice && v.Len() == 0 {
			return reflect.Value{}, false
		}
		// The same address can hold values of different types (a struct and
		// its first field), so the type must match too.
		if cpy, ok := seen[v.Pointer()]; ok {
			if c := reflect.ValueOf(cpy); c.Type() == v.Type() {
				return c, true
			}
		}
	}
	return reflect.Value{}, false
}

// copyValue is the reflection path of deepCopy.
func copyValue(v reflect.Value, seen visited) reflect.Value {
	if cpy, ok := lookup(v, seen); ok {
		return cpy
	}
	switch v.Kind() {
	case reflect.Ptr:
		cpy := reflect.New(v.Type().Elem())
		seen[v.Pointer()] = cpy.Interface()
		cpy.Elem().Set(copyValue(v.Elem(), seen))
		return cpy

	case reflect.Interface:
		// Copy the dynamic value and rewrap it in the same interface type.
		if v.IsNil() {
			return v
		}
		cpy := reflect.New(v.Type()).Elem()
		cpy.Set(copyValue(v.Elem(), seen))
		return cpy

	case reflect.Map:
		// Keys are copied too; pointer keys get fresh identities.
		cpy := reflect.MakeMapWithSize(v.Type(), v.Len())
		seen[v.Pointer()] = cpy.Interface()
		iter := v.MapRange()
		for iter.Next() {
			cpy.SetMapIndex(copyValue(iter.Key(), seen), copyValue(iter.Value(), seen))
		}
		return cpy

	case reflect.Slice:
		cpy := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		seen[v.Pointer()] = cpy.Interface()
		for i := 0; i < v.Len(); i++ {
			cpy.Index(i).Set(copyValue(v.Index(i), seen))
		}
		return cpy

	case reflect.Array:
		// Arrays are values; no cycle tracking needed.
		cpy := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			cpy.Index(i).Set(copyValue(v.Index(i), seen))
		}
		return cpy

	case reflect.Struct:
		cpy := reflect.New(v.Type()).Elem()
		for i := 0; i < v.NumField(); i++ {
			// Unexported fields cannot be set through reflection.
			if cpy.Field(i).CanSet() {
				cpy.Field(i).Set(copyValue(v.Field(i), seen))
			}
		}
		return cpy

	default:
		// Scalars, funcs and channels are shared.
		return v
	}
}
