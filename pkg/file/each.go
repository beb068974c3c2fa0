package file

import "reflect"

// EachFile calls fn for every File reachable inside arbitrarily nested
// slices, arrays and maps. Self-referential containers are visited once.
func EachFile(v any, fn func(*File)) {
	seen := make(map[uintptr]struct{})
	walkFiles(reflect.ValueOf(v), seen, fn)
}

// Files collects every File reachable inside v.
func Files(v any) []*File {
	var out []*File
	EachFile(v, func(f *File) {
		out = append(out, f)
	})
	return out
}

func walkFiles(rv reflect.Value, seen map[uintptr]struct{}, fn func(*File)) {
	if !rv.IsValid() {
		return
	}

	if rv.CanInterface() {
		if f, ok := rv.Interface().(*File); ok {
			if f != nil {
				fn(f)
			}
			return
		}
		if _, ok := rv.Interface().(File); ok {
			// Value copies are not yielded: staging mutates the handle,
			// which would be lost on a copy.
			return
		}
	}

	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr:
		if rv.IsNil() {
			return
		}
		if rv.Kind() == reflect.Ptr {
			p := rv.Pointer()
			if _, ok := seen[p]; ok {
				return
			}
			seen[p] = struct{}{}
		}
		walkFiles(rv.Elem(), seen, fn)
	case reflect.Slice:
		p := rv.Pointer()
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		for i := 0; i < rv.Len(); i++ {
			walkFiles(rv.Index(i), seen, fn)
		}
	case reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			walkFiles(rv.Index(i), seen, fn)
		}
	case reflect.Map:
		p := rv.Pointer()
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		iter := rv.MapRange()
		for iter.Next() {
			walkFiles(iter.Value(), seen, fn)
		}
	}
}
