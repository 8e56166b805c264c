package state

import (
	"encoding/json"
	"reflect"
)

// Kind classifies a dynamic state value
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindRecord
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindList:
		return "array"
	case KindRecord:
		return "object"
	default:
		return "other"
	}
}

// KindOf reports the kind of v
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case bool:
		return KindBool
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return KindNumber
	case []any:
		return KindList
	case map[string]any:
		return KindRecord
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return KindList
	case reflect.Map:
		if reflect.TypeOf(v).Key().Kind() == reflect.String {
			return KindRecord
		}
	}
	return KindOther
}

// AsList returns v as a []any when it is list-shaped
func AsList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// AsRecord returns v as a map[string]any when it is record-shaped
func AsRecord(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}

	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// DeepCopy copies lists and records recursively; scalars are returned as is
func DeepCopy(v any) any {
	if v == nil {
		return nil
	}
	switch KindOf(v) {
	case KindList:
		items, _ := AsList(v)
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = DeepCopy(item)
		}
		return out
	case KindRecord:
		rec, _ := AsRecord(v)
		return CopyRecord(rec)
	default:
		return v
	}
}

// CopyRecord deep copies a record
func CopyRecord(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = DeepCopy(v)
	}
	return out
}
