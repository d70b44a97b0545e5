package canonical_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/jmerrifield20/docchain/internal/canonical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_basic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"null", nil, "null"},
		{"string", "hello", `"hello"`},
		{"int", 42, "42"},
		{"negative int64", int64(-100), "-100"},
		{"uint", uint32(7), "7"},
		{"bool", true, "true"},
		{"integral float", 3.0, "3"},
		{"fraction", 28.7041, "28.7041"},
		{"large float", 1e21, "1e+21"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"no html escape", "<a&b>", `"<a&b>"`},
		{"json number int", json.Number("17"), "17"},
		{"json number float", json.Number("1.50"), "1.5"},
		{"json number beyond int64", json.Number("12345678901234567891"), "12345678901234567891"},
		{"json number below int64", json.Number("-92233720368547758080"), "-92233720368547758080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := canonical.Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshal_sortsKeysRecursively(t *testing.T) {
	v := map[string]any{
		"zebra": 1,
		"alpha": map[string]any{"y": true, "b": []any{map[string]any{"d": 1, "c": 2}}},
	}
	got, err := canonical.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"b":[{"c":2,"d":1}],"y":true},"zebra":1}`, string(got))
}

func TestMarshalRaw_constructionOrderIrrelevant(t *testing.T) {
	a, err := canonical.MarshalRaw([]byte(`{"payload": {"lat": 28.70, "lon": 77.1025}, "dataType": "gps"}`))
	require.NoError(t, err)
	b, err := canonical.MarshalRaw([]byte(`{"dataType":"gps","payload":{"lon":77.1025,"lat":28.7}}`))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestMarshal_structMatchesMap(t *testing.T) {
	type reading struct {
		Identifier string  `json:"identifier"`
		Latitude   float64 `json:"latitude"`
	}
	fromStruct, err := canonical.Marshal(reading{Identifier: "truck_1", Latitude: 1.25})
	require.NoError(t, err)
	fromMap, err := canonical.Marshal(map[string]any{"latitude": 1.25, "identifier": "truck_1"})
	require.NoError(t, err)
	assert.Equal(t, string(fromMap), string(fromStruct))
}

func TestMarshal_nfcNormalisesStrings(t *testing.T) {
	decomposed, err := canonical.Marshal("e\u0301")
	require.NoError(t, err)
	composed, err := canonical.Marshal("\u00e9")
	require.NoError(t, err)
	assert.Equal(t, string(composed), string(decomposed))
}

func TestMarshal_unsupported(t *testing.T) {
	cases := map[string]any{
		"nan":      math.NaN(),
		"inf":      math.Inf(1),
		"chan":     make(chan int),
		"func":     func() {},
		"nested":   map[string]any{"ok": []any{1, math.Inf(-1)}},
		"bad utf8": map[string]any{"s": "ok\xff"},
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := canonical.Marshal(v)
			require.Error(t, err)
			assert.True(t, errors.Is(err, canonical.ErrUnsupported))
		})
	}
}

func TestDecode_rejectsInvalidJSON(t *testing.T) {
	_, err := canonical.Decode([]byte(`{"a":`))
	assert.ErrorIs(t, err, canonical.ErrUnsupported)

	_, err = canonical.Decode([]byte(`{"a":1} {"b":2}`))
	assert.ErrorIs(t, err, canonical.ErrUnsupported)
}

func TestMarshalRaw_bigIntegersStayDistinct(t *testing.T) {
	a, err := canonical.MarshalRaw([]byte(`{"id":12345678901234567891}`))
	require.NoError(t, err)
	b, err := canonical.MarshalRaw([]byte(`{"id":12345678901234567892}`))
	require.NoError(t, err)

	assert.Equal(t, `{"id":12345678901234567891}`, string(a))
	assert.Equal(t, `{"id":12345678901234567892}`, string(b))
	assert.NotEqual(t, canonical.Sum(a), canonical.Sum(b))
}

func TestDecode_rejectsInvalidUTF8(t *testing.T) {
	_, err := canonical.Decode([]byte("{\"a\":\"\xff\"}"))
	assert.ErrorIs(t, err, canonical.ErrUnsupported)

	_, err = canonical.MarshalRaw([]byte("{\"a\":\"\xc3\x28\"}"))
	assert.ErrorIs(t, err, canonical.ErrUnsupported)
}

func TestHash_knownDigest(t *testing.T) {
	h, err := canonical.Hash(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, "015abd7f5cc57a2dd94b7590f04ad8084273905ee33ec5cebeae62276a97f862", h)

	raw, err := canonical.HashRaw([]byte(`{ "b" : 2 }`))
	require.NoError(t, err)
	assert.Equal(t, "0ab1a6d394cd30195f0642b67ae1180c375ffadf5dd7f39c390668b5fdb6da93", raw)
	assert.Len(t, raw, 64)
}
