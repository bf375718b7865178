package dataset

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ptq/internal/tensor"
)

func TestReadJSON(t *testing.T) {
	input := `[
		{"x": {"shape": [1, 2], "data": [1, 2]}},
		{"x": {"shape": [1, 2], "data": [3, 4]}}
	]`
	ds, err := ReadJSON(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())

	s, err := ds.Sample(1)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2}, s["x"].Shape())
	assert.Equal(t, []float32{3, 4}, s["x"].Float32s())

	_, err = ds.Sample(2)
	assert.Error(t, err)
}

func TestReadJSONErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `{`},
		{"empty", `[]`},
		{"no inputs", `[{}]`},
		{"shape mismatch", `[{"x": {"shape": [3], "data": [1, 2]}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadJSON(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	x, err := tensor.FromSlice(tensor.Shape{2, 2}, []float32{1, -2, 3.5, 0})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, Slice{{"x": x}}))

	ds, err := ReadJSON(&buf)
	require.NoError(t, err)
	s, err := ds.Sample(0)
	require.NoError(t, err)
	assert.Equal(t, x.Shape(), s["x"].Shape())
	assert.Equal(t, x.Float32s(), s["x"].Float32s())
}

func TestRandomIsDeterministic(t *testing.T) {
	shapes := map[string]tensor.Shape{"a": {1, 3}, "b": {2}}
	ds, err := NewRandom(shapes, 4, 7)
	require.NoError(t, err)
	assert.Equal(t, 4, ds.Len())

	first, err := ds.Sample(2)
	require.NoError(t, err)
	again, err := ds.Sample(2)
	require.NoError(t, err)
	other, err := ds.Sample(3)
	require.NoError(t, err)

	assert.Equal(t, first["a"].Float32s(), again["a"].Float32s())
	assert.NotEqual(t, first["a"].Float32s(), other["a"].Float32s())
	assert.Equal(t, tensor.Shape{2}, first["b"].Shape())

	_, err = ds.Sample(4)
	assert.Error(t, err)
}

func TestNewRandomErrors(t *testing.T) {
	_, err := NewRandom(map[string]tensor.Shape{"a": {1}}, 0, 1)
	assert.Error(t, err)
	_, err = NewRandom(nil, 1, 1)
	assert.Error(t, err)
	_, err = NewRandom(map[string]tensor.Shape{"a": {0, 2}}, 1, 1)
	assert.Error(t, err)
}
