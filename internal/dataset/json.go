package dataset

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	"github.com/born-ml/ptq/internal/tensor"
)

// jsonTensor is the file form of one input tensor.
type jsonTensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// ReadJSON decodes a calibration file: an array of samples, each an object
// mapping input names to {"shape": [...], "data": [...]} in row-major order.
func ReadJSON(r io.Reader) (Slice, error) {
	var raw []map[string]jsonTensor
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode calibration data: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("calibration data has no samples")
	}
	samples := make(Slice, len(raw))
	for i, entry := range raw {
		if len(entry) == 0 {
			return nil, fmt.Errorf("sample %d has no inputs", i)
		}
		sample := make(Sample, len(entry))
		for name, jt := range entry {
			t, err := tensor.FromSlice(tensor.Shape(jt.Shape), jt.Data)
			if err != nil {
				return nil, fmt.Errorf("sample %d input %s: %w", i, name, err)
			}
			sample[name] = t
		}
		samples[i] = sample
	}
	return samples, nil
}

// LoadJSON reads a calibration file from disk.
func LoadJSON(path string) (Slice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSON(f)
}

// WriteJSON encodes samples in the form ReadJSON accepts.
func WriteJSON(w io.Writer, samples Slice) error {
	raw := make([]map[string]jsonTensor, len(samples))
	for i, sample := range samples {
		entry := make(map[string]jsonTensor, len(sample))
		for name, t := range sample {
			entry[name] = jsonTensor{Shape: t.Shape(), Data: t.Float32s()}
		}
		raw[i] = entry
	}
	return json.NewEncoder(w).Encode(raw)
}
