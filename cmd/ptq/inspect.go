package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/born-ml/ptq/internal/onnx"
	"github.com/born-ml/ptq/internal/quantization"
)

func inspectCmd() *cli.Command {
	var modelPath string

	return &cli.Command{
		Name:  "inspect",
		Usage: "List the operators of an ONNX model and their quantization candidacy",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .onnx file",
				Destination: &modelPath,
				Required:    true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			model, err := onnx.ParseFile(modelPath)
			if err != nil {
				return err
			}
			infos, err := quantization.Inspect(model)
			if err != nil {
				return err
			}
			writeInspectTable(cmd.Root().Writer, infos)
			return nil
		},
	}
}

func writeInspectTable(w io.Writer, infos []quantization.NodeInfo) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NAME", "OP", "METATYPE", "BIAS", "QUANTIZED", "FBC"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	for _, info := range infos {
		table.Append([]string{
			info.Name,
			info.OpType,
			info.Metatype,
			strconv.FormatBool(info.HasBias),
			strconv.FormatBool(info.QuantizedWeights),
			strconv.FormatBool(info.BiasCandidate),
		})
	}
	table.Render()
	fmt.Fprintf(w, "\n%d operators\n", len(infos))
}
