// Package classdata exposes class-computed fixture objects to each test
// instance as independent deep copies. Copies are graph-preserving: objects
// that share a sub-object before copying share one cloned sub-object after,
// and reference cycles terminate.
package classdata

import "reflect"

type memoKey struct {
	ptr uintptr
	typ reflect.Type
	len int
}

// Memo maps original object identities to their clones. One memo is used
// per test instance so that everything that instance sees is cloned against
// the same identity table.
type Memo map[memoKey]reflect.Value

// NewMemo returns an empty memo table.
func NewMemo() Memo { return make(Memo) }

// Clone returns a deep copy of v, recording every cloned pointer, map, and
// slice in memo. Passing the same memo to successive calls preserves shared
// references across those calls.
//
// Channels, functions, and unexported struct fields are not cloned: channels
// and functions are shared as-is, unexported fields are left at their zero
// value in the copy.
func Clone(v interface{}, memo Memo) interface{} {
	if v == nil {
		return nil
	}
	if memo == nil {
		memo = NewMemo()
	}
	return cloneValue(reflect.ValueOf(v), memo).Interface()
}

func cloneValue(v reflect.Value, memo Memo) reflect.Value {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return v
		}
		key := memoKey{ptr: v.Pointer(), typ: v.Type()}
		if cached, ok := memo[key]; ok {
			return cached
		}
		out := reflect.New(v.Type().Elem())
		// Memoize before descending so that cycles resolve to the clone
		// under construction instead of recursing forever.
		memo[key] = out
		out.Elem().Set(cloneValue(v.Elem(), memo))
		return out

	case reflect.Map:
		if v.IsNil() {
			return v
		}
		key := memoKey{ptr: v.Pointer(), typ: v.Type()}
		if cached, ok := memo[key]; ok {
			return cached
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		memo[key] = out
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(cloneValue(iter.Key(), memo), cloneValue(iter.Value(), memo))
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		key := memoKey{ptr: v.Pointer(), typ: v.Type(), len: v.Len()}
		if cached, ok := memo[key]; ok {
			return cached
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Cap())
		memo[key] = out
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneValue(v.Index(i), memo))
		}
		return out

	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneValue(v.Index(i), memo))
		}
		return out

	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.NumField(); i++ {
			if !out.Field(i).CanSet() {
				continue
			}
			out.Field(i).Set(cloneValue(v.Field(i), memo))
		}
		return out

	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(cloneValue(v.Elem(), memo))
		return out

	default:
		// Basic types by value; channels and functions shared.
		return v
	}
}
