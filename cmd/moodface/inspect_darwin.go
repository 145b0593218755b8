//go:build darwin

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tsawler/go-metal/checkpoints"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <model.onnx>",
	Short: "Check whether go-metal can import a classifier model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modelPath := args[0]
		out := cmd.OutOrStdout()

		if _, err := os.Stat(modelPath); err != nil {
			return fmt.Errorf("model not found: %w", err)
		}

		fmt.Fprintf(out, "%s %s\n", decorate("⚡ go-metal", statusMessage), modelPath)

		importer := checkpoints.NewONNXImporter()
		checkpoint, err := importer.ImportFromONNX(modelPath)
		if err != nil {
			return fmt.Errorf("failed to import ONNX model (unsupported operations?): %w", err)
		}

		fmt.Fprintf(out, "\nLayers: %d\n", len(checkpoint.ModelSpec.Layers))
		fmt.Fprintf(out, "Weights: %d tensors\n\n", len(checkpoint.Weights))
		for i, layer := range checkpoint.ModelSpec.Layers {
			fmt.Fprintf(out, "  %d: %s (%s)\n", i+1, layer.Name, layer.Type)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
