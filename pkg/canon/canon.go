// Package canon implements the canonical byte encoding spec.md §6 requires
// for every hashed object: struct/map fields sorted lexicographically by
// key, numbers as decimal integers or trimmed-zero IEEE-754 doubles, UTF-8
// strings, and byte strings as base64url without padding. A field tagged
// `canon:"-"` is excluded from the encoding. No struct outside the tests
// carries the tag: a seal's root_hash comes from the Merkle tree over its
// outputs, and a boundary's merkle_root is hashed from a separate input
// struct.
package canon

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

// Marshal produces the canonical byte encoding of v. v must be a struct,
// map[string]T, slice, or one of the primitive kinds below.
func Marshal(v any) ([]byte, error) {
	var buf []byte
	buf, err := appendValue(buf, reflect.ValueOf(v))
	if err != nil {
		return nil, fmt.Errorf("canon: %w", err)
	}
	return buf, nil
}

func appendValue(buf []byte, v reflect.Value) ([]byte, error) {
	if !v.IsValid() {
		return append(buf, "null"...), nil
	}

	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return append(buf, "null"...), nil
		}
		return appendValue(buf, v.Elem())

	case reflect.Struct:
		return appendStruct(buf, v)

	case reflect.Map:
		return appendMap(buf, v)

	case reflect.Slice, reflect.Array:
		if isByteSlice(v) {
			return appendBytes(buf, v)
		}
		return appendSlice(buf, v)

	case reflect.String:
		return appendString(buf, v.String()), nil

	case reflect.Bool:
		if v.Bool() {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.AppendInt(buf, v.Int(), 10), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.AppendUint(buf, v.Uint(), 10), nil

	case reflect.Float32, reflect.Float64:
		return appendFloat(buf, v.Float()), nil

	default:
		return nil, fmt.Errorf("unsupported kind %s", v.Kind())
	}
}

func isByteSlice(v reflect.Value) bool {
	return v.Type().Elem().Kind() == reflect.Uint8
}

func appendBytes(buf []byte, v reflect.Value) ([]byte, error) {
	var raw []byte
	if v.Kind() == reflect.Array {
		raw = make([]byte, v.Len())
		reflect.Copy(reflect.ValueOf(raw), v)
	} else {
		raw = v.Bytes()
	}
	buf = append(buf, '"')
	buf = append(buf, base64.RawURLEncoding.EncodeToString(raw)...)
	buf = append(buf, '"')
	return buf, nil
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for _, r := range s {
		switch r {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		default:
			buf = append(buf, string(r)...)
		}
	}
	buf = append(buf, '"')
	return buf
}

// appendFloat emits an IEEE-754 double with no trailing zeros, per spec.md
// §6 ("numbers as decimal integers or IEEE-754 double with no trailing
// zeros"). Whole-valued floats are emitted without a fractional part.
func appendFloat(buf []byte, f float64) []byte {
	if f == float64(int64(f)) {
		return strconv.AppendInt(buf, int64(f), 10)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	return append(buf, s...)
}

func appendSlice(buf []byte, v reflect.Value) ([]byte, error) {
	buf = append(buf, '[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		var err error
		buf, err = appendValue(buf, v.Index(i))
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, ']')
	return buf, nil
}

func appendMap(buf []byte, v reflect.Value) ([]byte, error) {
	keys := v.MapKeys()
	strKeys := make([]string, len(keys))
	for i, k := range keys {
		strKeys[i] = fmt.Sprint(k.Interface())
	}
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return strKeys[order[i]] < strKeys[order[j]] })

	buf = append(buf, '{')
	for i, idx := range order {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendString(buf, strKeys[idx])
		buf = append(buf, ':')
		var err error
		buf, err = appendValue(buf, v.MapIndex(keys[idx]))
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, '}')
	return buf, nil
}

func appendStruct(buf []byte, v reflect.Value) ([]byte, error) {
	t := v.Type()

	type field struct {
		name string
		val  reflect.Value
	}
	fields := make([]field, 0, t.NumField())

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" {
			continue // unexported
		}
		tag := sf.Tag.Get("canon")
		if tag == "-" {
			continue
		}
		name := sf.Name
		if tag != "" {
			name = tag
		} else if jsonTag := sf.Tag.Get("json"); jsonTag != "" {
			for i, c := range jsonTag {
				if c == ',' {
					jsonTag = jsonTag[:i]
					break
				}
			}
			if jsonTag != "" && jsonTag != "-" {
				name = jsonTag
			}
		}
		fields = append(fields, field{name: name, val: v.Field(i)})
	}

	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })

	buf = append(buf, '{')
	for i, f := range fields {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendString(buf, f.name)
		buf = append(buf, ':')
		var err error
		buf, err = appendValue(buf, f.val)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.name, err)
		}
	}
	buf = append(buf, '}')
	return buf, nil
}
