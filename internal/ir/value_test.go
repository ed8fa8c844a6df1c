package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRObjectSortedKeys(t *testing.T) {
	obj := IRObject{"zeta": IRInt(1), "alpha": IRInt(2), "mid": IRInt(3)}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, obj.SortedKeys())
}

func TestIRObjectMarshalJSONSorted(t *testing.T) {
	obj := IRObject{"b": IRString("x"), "a": IRArray{IRInt(1), IRNull{}}}
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1,null],"b":"x"}`, string(data))
}

func TestIRObjectUnmarshalJSON(t *testing.T) {
	var obj IRObject
	require.NoError(t, json.Unmarshal([]byte(`{"n":9007199254740993,"s":"v","l":[true]}`), &obj))

	// Large integers survive without float64 rounding.
	assert.Equal(t, IRInt(9007199254740993), obj["n"])
	assert.Equal(t, IRString("v"), obj["s"])
	assert.Equal(t, IRArray{IRBool(true)}, obj["l"])
}

func TestIRObjectUnmarshalNull(t *testing.T) {
	obj := IRObject{"keep": IRInt(1)}
	require.NoError(t, json.Unmarshal([]byte(`null`), &obj))
	assert.Nil(t, obj)
}

func TestUnmarshalRejectsFloats(t *testing.T) {
	tests := []string{`{"n":1.5}`, `{"n":1e3}`, `[0.1]`}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := UnmarshalIRValue([]byte(input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "floats are not allowed")
		})
	}
}

func TestUnmarshalRejectsWrongShape(t *testing.T) {
	var obj IRObject
	require.Error(t, json.Unmarshal([]byte(`[1,2]`), &obj))

	var arr IRArray
	require.Error(t, json.Unmarshal([]byte(`{"a":1}`), &arr))
}

func TestFromAnyYAMLShapes(t *testing.T) {
	v, err := FromAny(map[string]any{
		"port":  8080,
		"tags":  []any{"a", "b"},
		"owner": nil,
	})
	require.NoError(t, err)

	obj, ok := v.(IRObject)
	require.True(t, ok)
	assert.Equal(t, IRInt(8080), obj["port"])
	assert.Equal(t, IRArray{IRString("a"), IRString("b")}, obj["tags"])
	assert.Equal(t, IRNull{}, obj["owner"])
}

func TestFromAnyRejectsUnsupported(t *testing.T) {
	_, err := FromAny(struct{}{})
	require.Error(t, err)

	_, err = FromAny(float32(1))
	require.Error(t, err)

	_, err = FromAny(uint64(1 << 63))
	require.Error(t, err)
}

func TestObjectFromAnyNil(t *testing.T) {
	obj, err := ObjectFromAny(nil)
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestMarshalIRValueRoundTrip(t *testing.T) {
	original := IRObject{
		"s": IRString("text"),
		"i": IRInt(-4),
		"b": IRBool(false),
		"a": IRArray{IRObject{"deep": IRString("x")}},
	}
	data, err := MarshalIRValue(original)
	require.NoError(t, err)

	decoded, err := UnmarshalIRValue(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}
