package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/born-ml/ptq/internal/config"
	"github.com/born-ml/ptq/internal/dataset"
	"github.com/born-ml/ptq/internal/logger"
	"github.com/born-ml/ptq/internal/onnx"
	"github.com/born-ml/ptq/internal/quantization"
)

type quantizeOptions struct {
	modelPath       string
	outputPath      string
	dataPath        string
	randomSamples   int
	seed            int
	configPath      string
	threshold       float64
	numSamples      int
	applyToAllNodes bool
	reportPath      string
	logLevel        string
	logFormat       string
}

func quantizeCmd() *cli.Command {
	var opts quantizeOptions

	return &cli.Command{
		Name:  "quantize",
		Usage: "Quantize an ONNX model and correct its biases",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to the float .onnx model",
				Destination: &opts.modelPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "path for the quantized .onnx model",
				Destination: &opts.outputPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "data",
				Aliases:     []string{"d"},
				Usage:       "calibration samples as JSON",
				Destination: &opts.dataPath,
			},
			&cli.IntFlag{
				Name:        "random",
				Usage:       "calibrate on N random normal samples instead of --data",
				Destination: &opts.randomSamples,
			},
			&cli.IntFlag{
				Name:        "seed",
				Usage:       "seed for --random",
				Value:       1,
				Destination: &opts.seed,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "YAML configuration file",
				Destination: &opts.configPath,
			},
			&cli.FloatFlag{
				Name:        "threshold",
				Usage:       "fast bias correction magnitude threshold",
				Destination: &opts.threshold,
			},
			&cli.IntFlag{
				Name:        "num-samples",
				Aliases:     []string{"n"},
				Usage:       "calibration subset size",
				Destination: &opts.numSamples,
			},
			&cli.BoolFlag{
				Name:        "apply-to-all-nodes",
				Usage:       "correct every bias regardless of the threshold",
				Destination: &opts.applyToAllNodes,
			},
			&cli.StringFlag{
				Name:        "report",
				Usage:       "write the run report as JSON to this path",
				Destination: &opts.reportPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "debug, info, warn or error",
				Destination: &opts.logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "text or json",
				Destination: &opts.logFormat,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			log := logger.ForFormat(cfg.LogFormat, cmd.Root().ErrWriter, logger.ParseLevel(cfg.LogLevel))
			ctx = logger.WithContext(ctx, log)
			return runQuantize(ctx, cmd.Root().Writer, opts, cfg)
		},
	}
}

// loadConfig reads the configuration file, if any, and applies the flags
// the user set explicitly on top of it.
func loadConfig(cmd *cli.Command, opts quantizeOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		cfg, err = config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
	}
	if cmd.IsSet("threshold") {
		cfg.SetThreshold(opts.threshold)
	}
	if cmd.IsSet("num-samples") {
		cfg.SetNumSamples(opts.numSamples)
	}
	if cmd.IsSet("apply-to-all-nodes") {
		cfg.SetApplyToAllNodes(opts.applyToAllNodes)
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if cmd.IsSet("log-format") {
		cfg.LogFormat = opts.logFormat
	}
	return cfg, cfg.Validate()
}

func runQuantize(ctx context.Context, w io.Writer, opts quantizeOptions, cfg config.Config) error {
	model, err := onnx.ParseFile(opts.modelPath)
	if err != nil {
		return err
	}
	ds, err := calibrationData(model, opts)
	if err != nil {
		return err
	}

	out, report, err := quantization.Quantize(ctx, model, ds, cfg)
	if err != nil {
		return err
	}
	quantized, ok := out.(*onnx.ModelProto)
	if !ok {
		return fmt.Errorf("unexpected model type %T", out)
	}
	if err := onnx.WriteFile(opts.outputPath, quantized); err != nil {
		return err
	}
	if opts.reportPath != "" {
		if err := writeReport(opts.reportPath, report); err != nil {
			return err
		}
	}
	writeSummary(w, report)
	return nil
}

func calibrationData(model *onnx.ModelProto, opts quantizeOptions) (dataset.Dataset, error) {
	switch {
	case opts.dataPath != "" && opts.randomSamples > 0:
		return nil, errors.New("--data and --random are mutually exclusive")
	case opts.dataPath != "":
		return dataset.LoadJSON(opts.dataPath)
	case opts.randomSamples > 0:
		if opts.seed < 0 {
			return nil, fmt.Errorf("--seed must be non-negative, got %d", opts.seed)
		}
		return quantization.RandomDataset(model, opts.randomSamples, uint64(opts.seed))
	default:
		return nil, errors.New("one of --data or --random is required")
	}
}

func writeReport(path string, report *quantization.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func writeSummary(w io.Writer, report *quantization.Report) {
	fmt.Fprintf(w, "run %s: %d samples in %s\n\n", report.RunID, report.Samples, report.Duration.Round(time.Millisecond))

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NODE", "TYPE", "QUANTIZERS", "BIAS", "MAGNITUDE", "NOTE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	for _, row := range summaryRows(report) {
		table.Append(row)
	}
	table.Render()
}

// summaryRows joins the per-node results of both algorithms, in the order
// the nodes first appear.
func summaryRows(report *quantization.Report) [][]string {
	type row struct {
		nodeType, quantizers, bias, magnitude, note string
	}
	var order []string
	rows := map[string]*row{}
	get := func(node, nodeType string) *row {
		r, ok := rows[node]
		if !ok {
			r = &row{nodeType: nodeType, quantizers: "-", bias: "-", magnitude: "-"}
			rows[node] = r
			order = append(order, node)
		}
		return r
	}

	if report.MinMax != nil {
		for _, n := range report.MinMax.Nodes {
			r := get(n.Node, n.NodeType)
			count := 0
			if n.Activation {
				count++
			}
			if n.Weights {
				count++
			}
			r.quantizers = strconv.Itoa(count)
			if n.Skipped != "" {
				r.note = n.Skipped
			}
		}
	}
	if report.FastBiasCorrection != nil {
		for _, n := range report.FastBiasCorrection.Nodes {
			r := get(n.Node, n.NodeType)
			switch {
			case n.Applied:
				r.bias = "corrected"
			case n.Skipped != "":
				r.bias = "skipped"
				if r.note == "" {
					r.note = n.Skipped
				}
			default:
				r.bias = "below threshold"
			}
			if n.Skipped == "" {
				r.magnitude = strconv.FormatFloat(float64(n.Magnitude), 'g', 4, 64)
			}
		}
	}

	out := make([][]string, 0, len(order))
	for _, node := range order {
		r := rows[node]
		out = append(out, []string{node, r.nodeType, r.quantizers, r.bias, r.magnitude, r.note})
	}
	return out
}
