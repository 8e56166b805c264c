// Package binding adapts loosely typed shared state into the parameters a
// callee declares in its method schema.
//
// Binding only reads from its source. Values are coerced per declared type:
// integer, number, boolean, array (optionally array<elem>) and object get
// conversions; any other type is passed through untouched.
package binding

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/aescanero/a2aflow/internal/state"
	"github.com/aescanero/a2aflow/pkg/domain"
)

// Binding is the outcome of binding one method call
type Binding struct {
	// Params holds the coerced values to send
	Params map[string]any
	// Inputs holds the raw values read for each bound parameter
	Inputs map[string]any
}

// Bind builds call parameters for method from src, walking the declared
// parameters in schema order. On error the partial binding is still returned
// so callers can log what was read.
func Bind(method *domain.Method, src state.Source) (*Binding, error) {
	b := &Binding{
		Params: make(map[string]any),
		Inputs: make(map[string]any),
	}
	if method == nil {
		return b, nil
	}

	for _, p := range method.Params {
		raw, present := src.Get(p.Name)
		if !present {
			if p.Required {
				return b, &MissingParameterError{Name: p.Name}
			}
			continue
		}

		if raw == nil {
			if p.Required {
				return b, &MissingParameterError{Name: p.Name}
			}
			b.Inputs[p.Name] = nil
			b.Params[p.Name] = nil
			continue
		}

		if s, ok := raw.(string); ok && !p.Required && strings.TrimSpace(s) == "" {
			continue
		}

		b.Inputs[p.Name] = raw
		v, err := Coerce(p.Name, p.Type, raw)
		if err != nil {
			return b, err
		}
		b.Params[p.Name] = v
	}

	return b, nil
}

// Coerce converts raw to the declared type
func Coerce(name, declared string, raw any) (any, error) {
	t := strings.ToLower(strings.TrimSpace(declared))
	switch {
	case t == "integer" || t == "int":
		return toInteger(name, declared, raw)
	case t == "number" || t == "float":
		return toNumber(name, declared, raw)
	case t == "boolean" || t == "bool":
		return toBoolean(name, declared, raw)
	case strings.HasPrefix(t, "array"):
		return toArray(name, declared, elementType(t), raw)
	case t == "object":
		return toObject(name, declared, raw)
	default:
		return raw, nil
	}
}

func toInteger(name, declared string, raw any) (any, error) {
	fail := func(reason string) error {
		return &TypeCoercionError{Name: name, DeclaredType: declared, RawValue: raw, Reason: reason}
	}

	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fail("out of range")
		}
		return int64(v), nil
	case float32:
		return floatToInteger(float64(v), fail)
	case float64:
		return floatToInteger(v, fail)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil, fail(err.Error())
		}
		return i, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fail("not an integer")
		}
		return i, nil
	default:
		return nil, fail("")
	}
}

func floatToInteger(f float64, fail func(string) error) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Trunc(f) != f {
		return nil, fail("has a fractional part")
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fail("out of range")
	}
	return int64(f), nil
}

func toNumber(name, declared string, raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, nil
		}
	}
	return nil, &TypeCoercionError{Name: name, DeclaredType: declared, RawValue: raw, Reason: "not a number"}
}

func toBoolean(name, declared string, raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
	}
	return nil, &TypeCoercionError{Name: name, DeclaredType: declared, RawValue: raw, Reason: "not a boolean"}
}

func toArray(name, declared, elem string, raw any) (any, error) {
	if list, ok := state.AsList(raw); ok {
		return list, nil
	}

	if s, ok := raw.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err == nil {
			if list, ok := parsed.([]any); ok {
				return list, nil
			}
		}
		if elem == "string" {
			return splitCSV(s), nil
		}
	}

	return nil, &TypeCoercionError{Name: name, DeclaredType: declared, RawValue: raw, Reason: "not an array"}
}

func toObject(name, declared string, raw any) (any, error) {
	if rec, ok := state.AsRecord(raw); ok {
		return rec, nil
	}

	if s, ok := raw.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err == nil {
			if rec, ok := parsed.(map[string]any); ok {
				return rec, nil
			}
		}
	}

	return nil, &TypeCoercionError{Name: name, DeclaredType: declared, RawValue: raw, Reason: "not an object"}
}

// elementType extracts "string" from array<string>, array[string],
// array(string), array:string or "array of string"
func elementType(t string) string {
	rest := strings.TrimSpace(strings.TrimPrefix(t, "array"))
	rest = strings.TrimPrefix(rest, "of ")
	return strings.Trim(rest, "<>[]():. ")
}

func splitCSV(s string) []any {
	parts := strings.Split(s, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
