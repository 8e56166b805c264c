package binding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/a2aflow/internal/state"
	"github.com/aescanero/a2aflow/pkg/domain"
)

func method(params ...domain.Param) *domain.Method {
	return &domain.Method{Name: "m", Params: params}
}

func TestBind_IntegerFromString(t *testing.T) {
	b, err := Bind(method(domain.Param{Name: "x", Type: "integer", Required: true}),
		state.Seed(map[string]any{"x": "42"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": int64(42)}, b.Params)
	assert.Equal(t, map[string]any{"x": "42"}, b.Inputs)
}

func TestBind_ArrayCommaFallback(t *testing.T) {
	b, err := Bind(method(domain.Param{Name: "tags", Type: "array<string>", Required: true}),
		state.Seed(map[string]any{"tags": "a,b,c"}))
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, b.Params["tags"])
}

func TestBind_OptionalBlankSkipped(t *testing.T) {
	b, err := Bind(method(domain.Param{Name: "flag", Type: "boolean"}),
		state.Seed(map[string]any{"flag": ""}))
	require.NoError(t, err)
	assert.NotContains(t, b.Params, "flag")
	assert.NotContains(t, b.Inputs, "flag")
}

func TestBind_MissingRequired(t *testing.T) {
	_, err := Bind(method(
		domain.Param{Name: "present", Type: "string", Required: true},
		domain.Param{Name: "absent", Type: "string", Required: true},
	), state.Seed(map[string]any{"present": "yes"}))

	var missing *MissingParameterError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "absent", missing.Name)
	assert.ErrorIs(t, err, ErrMissingParameter)
}

func TestBind_OptionalAbsentOmitted(t *testing.T) {
	b, err := Bind(method(domain.Param{Name: "limit", Type: "integer"}), state.New())
	require.NoError(t, err)
	assert.Empty(t, b.Params)
}

func TestBind_OptionalNullPassedThrough(t *testing.T) {
	b, err := Bind(method(domain.Param{Name: "limit", Type: "integer"}),
		state.Seed(map[string]any{"limit": nil}))
	require.NoError(t, err)
	v, ok := b.Params["limit"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestBind_RequiredNullIsMissing(t *testing.T) {
	_, err := Bind(method(domain.Param{Name: "limit", Type: "integer", Required: true}),
		state.Seed(map[string]any{"limit": nil}))
	assert.ErrorIs(t, err, ErrMissingParameter)
}

func TestBind_IgnoresUndeclaredKeys(t *testing.T) {
	b, err := Bind(method(domain.Param{Name: "q", Type: "string"}),
		state.Seed(map[string]any{"q": "go", "other": 1}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"q": "go"}, b.Params)
}

func TestBind_CoercionErrorKeepsPartialInputs(t *testing.T) {
	b, err := Bind(method(
		domain.Param{Name: "a", Type: "string", Required: true},
		domain.Param{Name: "n", Type: "integer", Required: true},
	), state.Seed(map[string]any{"a": "ok", "n": "forty-two"}))

	var coercion *TypeCoercionError
	require.ErrorAs(t, err, &coercion)
	assert.Equal(t, "n", coercion.Name)
	assert.Equal(t, "integer", coercion.DeclaredType)
	assert.Equal(t, "forty-two", coercion.RawValue)
	assert.Equal(t, "ok", b.Params["a"])
	assert.Equal(t, "forty-two", b.Inputs["n"])
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		raw      any
		want     any
		wantErr  bool
	}{
		{"integer from float", "integer", 7.0, int64(7), false},
		{"integer from fractional float", "integer", 7.5, nil, true},
		{"integer from padded string", "integer", " 12 ", int64(12), false},
		{"integer from decimal string", "integer", "4.0", nil, true},
		{"integer from bool", "integer", true, nil, true},
		{"number from string", "number", "3.25", 3.25, false},
		{"number from int", "number", 3, 3.0, false},
		{"number from garbage", "number", "abc", nil, true},
		{"boolean passthrough", "boolean", false, false, false},
		{"boolean yes", "boolean", "YES", true, false},
		{"boolean zero", "boolean", "0", false, false},
		{"boolean garbage", "boolean", "maybe", nil, true},
		{"boolean from number", "boolean", 1.0, nil, true},
		{"array passthrough", "array", []any{1.0}, []any{1.0}, false},
		{"array from json", "array<integer>", "[1, 2]", []any{1.0, 2.0}, false},
		{"array json wins over split", "array<string>", `["a,b"]`, []any{"a,b"}, false},
		{"array split trims", "array[string]", " x , y ,", []any{"x", "y"}, false},
		{"array no split for numbers", "array<integer>", "1,2", nil, true},
		{"bare array no split", "array", "a,b", nil, true},
		{"array from number", "array<string>", 5.0, nil, true},
		{"object passthrough", "object", map[string]any{"a": 1.0}, map[string]any{"a": 1.0}, false},
		{"object from json", "object", `{"a": "b"}`, map[string]any{"a": "b"}, false},
		{"object from json list", "object", `[1]`, nil, true},
		{"object from scalar", "object", 1.0, nil, true},
		{"string passthrough", "string", 12.0, 12.0, false},
		{"unknown type passthrough", "email", "a@b.c", "a@b.c", false},
		{"empty type passthrough", "", []any{"x"}, []any{"x"}, false},
		{"case insensitive", "Integer", "5", int64(5), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce("p", tt.declared, tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTypeCoercion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBind_DoesNotMutateSource(t *testing.T) {
	src := state.Seed(map[string]any{"n": "5"})
	_, err := Bind(method(domain.Param{Name: "n", Type: "integer", Required: true}), src)
	require.NoError(t, err)

	v, _ := src.Get("n")
	assert.Equal(t, "5", v)
}
