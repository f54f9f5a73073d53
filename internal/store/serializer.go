package store

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// maxSerializedSize bounds how large a serialized trace value (args,
// kwargs, return value) is allowed to get before being replaced with a
// truncation marker - large objects otherwise bloat the trace table and
// make query results unreadable.
const maxSerializedSize = 10000

const maxSerializeDepth = 10

// safeSerialize converts an arbitrary value into something safe to store
// as a JSON column: depth-capped, length-capped, and never panicking on
// unencodable types (functions, channels, cyclic structures). It mirrors
// the original's make_serializable/_safe_serialize truncation rules.
func safeSerialize(v any) string {
	safe := makeSerializable(v, 0)
	data, err := json.Marshal(safe)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"<error>": err.Error()})
	}
	if len(data) > maxSerializedSize {
		data, _ = json.Marshal(map[string]string{
			"<truncated>": fmt.Sprintf("Object too large (%d chars)", len(data)),
		})
	}
	return string(data)
}

func makeSerializable(v any, depth int) any {
	if depth > maxSerializeDepth {
		return "<max depth exceeded>"
	}

	if v == nil {
		return nil
	}

	switch val := v.(type) {
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return val
	case string:
		return val
	case []byte:
		if len(val) > 100 {
			return fmt.Sprintf("<bytes len=%d>", len(val))
		}
		return string(val)
	case map[string]any:
		return truncateMap(val, depth)
	case []any:
		return truncateSlice(val, depth)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan:
		return fmt.Sprintf("<function %s>", rv.Type().String())
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = rv.Index(i).Interface()
		}
		return truncateSlice(items, depth)
	case reflect.Map:
		m := make(map[string]any, rv.Len())
		for _, key := range rv.MapKeys() {
			m[fmt.Sprintf("%v", key.Interface())] = rv.MapIndex(key).Interface()
		}
		return truncateMap(m, depth)
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return makeSerializable(rv.Elem().Interface(), depth)
	case reflect.Struct:
		return structToMap(rv, depth)
	default:
		s := fmt.Sprintf("%v", v)
		if len(s) > 200 {
			s = s[:200] + "..."
		}
		return s
	}
}

func truncateSlice(items []any, depth int) any {
	out := make([]any, 0, len(items))
	limit := len(items)
	truncated := false
	if limit > 100 {
		limit = 100
		truncated = true
	}
	for i := 0; i < limit; i++ {
		out = append(out, makeSerializable(items[i], depth+1))
	}
	if truncated {
		out = append(out, fmt.Sprintf("<...%d more>", len(items)-100))
	}
	return out
}

func truncateMap(m map[string]any, depth int) any {
	out := make(map[string]any, len(m))
	count := 0
	for k, v := range m {
		if count >= 50 {
			out["<truncated>"] = fmt.Sprintf("%d more keys", len(m)-50)
			break
		}
		out[k] = makeSerializable(v, depth+1)
		count++
	}
	return out
}

func structToMap(rv reflect.Value, depth int) any {
	t := rv.Type()
	out := map[string]any{"__class__": t.Name()}
	fields := 0
	for i := 0; i < t.NumField() && fields < 20; i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		out[field.Name] = makeSerializable(rv.Field(i).Interface(), depth+1)
		fields++
	}
	return out
}
