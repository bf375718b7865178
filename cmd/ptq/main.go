// Command ptq quantizes ONNX models after training.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:   "ptq",
		Usage:  "Post-training quantization for ONNX models",
		Action: func(_ context.Context, cmd *cli.Command) error { return cli.ShowAppHelp(cmd) },
		Commands: []*cli.Command{
			quantizeCmd(),
			inspectCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
