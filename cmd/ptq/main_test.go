package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/born-ml/ptq/internal/algorithms/fbc"
	"github.com/born-ml/ptq/internal/algorithms/minmax"
	"github.com/born-ml/ptq/internal/onnx"
	"github.com/born-ml/ptq/internal/quantization"
	"github.com/born-ml/ptq/internal/tensor"
)

func writeModel(t *testing.T, dir string) string {
	t.Helper()
	w, err := tensor.FromSlice(tensor.Shape{2, 1, 1, 1}, []float32{0.5, -1})
	require.NoError(t, err)
	b, err := tensor.FromSlice(tensor.Shape{2}, []float32{0.1, -0.2})
	require.NoError(t, err)
	model := onnx.NewBuilder("conv").
		Input("x", 1, 1, 2, 2).
		Output("y").
		Initializer("w", w).
		Initializer("b", b).
		Node("Conv", "conv", []string{"x", "w", "b"}, []string{"c"}).
		Node("Relu", "relu", []string{"c"}, []string{"y"}).
		Build()
	path := filepath.Join(dir, "model.onnx")
	require.NoError(t, onnx.WriteFile(path, model))
	return path
}

func newApp(out *bytes.Buffer) *cli.Command {
	return &cli.Command{
		Name:      "ptq",
		Writer:    out,
		ErrWriter: &bytes.Buffer{},
		Commands:  []*cli.Command{quantizeCmd(), inspectCmd(), versionCmd()},
	}
}

func TestQuantizeCommand(t *testing.T) {
	dir := t.TempDir()
	modelPath := writeModel(t, dir)
	outPath := filepath.Join(dir, "model.int8.onnx")
	reportPath := filepath.Join(dir, "report.json")

	var out bytes.Buffer
	err := newApp(&out).Run(context.Background(), []string{
		"ptq", "quantize",
		"--model", modelPath,
		"--output", outPath,
		"--random", "4",
		"--apply-to-all-nodes",
		"--report", reportPath,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "conv")

	quantized, err := onnx.ParseFile(outPath)
	require.NoError(t, err)
	assert.Len(t, quantized.Graph.Nodes, 6)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report quantization.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 4, report.Samples)
	require.NotNil(t, report.MinMax)
	assert.Equal(t, 2, report.MinMax.Quantizers())
}

func TestQuantizeCommandRequiresData(t *testing.T) {
	dir := t.TempDir()
	modelPath := writeModel(t, dir)

	var out bytes.Buffer
	err := newApp(&out).Run(context.Background(), []string{
		"ptq", "quantize", "--model", modelPath, "--output", filepath.Join(dir, "out.onnx"),
	})
	assert.ErrorContains(t, err, "--data or --random")

	err = newApp(&out).Run(context.Background(), []string{
		"ptq", "quantize", "--model", modelPath, "--output", filepath.Join(dir, "out.onnx"),
		"--random", "2", "--threshold=-1",
	})
	assert.Error(t, err)
}

func TestInspectCommand(t *testing.T) {
	modelPath := writeModel(t, t.TempDir())

	var out bytes.Buffer
	err := newApp(&out).Run(context.Background(), []string{"ptq", "inspect", "--model", modelPath})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Conv")
	assert.Contains(t, out.String(), "2 operators")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, newApp(&out).Run(context.Background(), []string{"ptq", "version"}))
	assert.Contains(t, out.String(), "ptq ")
}

func TestSummaryRows(t *testing.T) {
	report := &quantization.Report{
		MinMax: &minmax.Report{Nodes: []minmax.NodeResult{
			{Node: "conv", NodeType: "conv", Activation: true, Weights: true},
			{Node: "skip", NodeType: "matmul", Skipped: "ignored"},
		}},
		FastBiasCorrection: &fbc.Report{Nodes: []fbc.NodeResult{
			{Node: "conv", NodeType: "conv", Applied: true, Magnitude: 0.5},
			{Node: "gemm", NodeType: "gemm", Skipped: "bias not found"},
		}},
	}
	rows := summaryRows(report)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"conv", "conv", "2", "corrected", "0.5", ""}, rows[0])
	assert.Equal(t, []string{"skip", "matmul", "0", "-", "-", "ignored"}, rows[1])
	assert.Equal(t, []string{"gemm", "gemm", "-", "skipped", "-", "bias not found"}, rows[2])
}
