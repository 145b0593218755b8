package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dudu/moodface/internal/emotion"
	"github.com/dudu/moodface/internal/inference"
	"github.com/dudu/moodface/internal/preprocess"
)

var probeCmd = &cobra.Command{
	Use:   "probe <model.onnx>",
	Short: "Check that ONNX Runtime can load a model and list its tensors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modelPath := args[0]
		out := cmd.OutOrStdout()

		if _, err := os.Stat(modelPath); err != nil {
			return fmt.Errorf("model not found: %w", err)
		}

		fmt.Fprintf(out, "%s %s\n", decorate("⚡ ONNX Runtime", statusMessage), modelPath)
		if err := inference.Initialize(cfg.ORTLibrary); err != nil {
			return err
		}
		defer inference.Shutdown()

		info, err := inference.Describe(modelPath)
		if err != nil {
			return err
		}

		printModelInfo(out, info)
		return nil
	},
}

func printModelInfo(w io.Writer, info *inference.ModelInfo) {
	fmt.Fprintf(w, "\nInputs (%d):\n", len(info.Inputs))
	for _, t := range info.Inputs {
		fmt.Fprintf(w, "  %s: shape=%v, type=%s\n", t.Name, t.Dimensions, t.DataType)
	}

	fmt.Fprintf(w, "\nOutputs (%d):\n", len(info.Outputs))
	for _, t := range info.Outputs {
		fmt.Fprintf(w, "  %s: shape=%v, type=%s\n", t.Name, t.Dimensions, t.DataType)
	}

	fmt.Fprintln(w, "\nMetadata:")
	if info.Producer != "" {
		fmt.Fprintf(w, "  Producer: %s\n", info.Producer)
	}
	fmt.Fprintf(w, "  Version: %d\n", info.Version)
	if info.Domain != "" {
		fmt.Fprintf(w, "  Domain: %s\n", info.Domain)
	}
	if info.Description != "" {
		fmt.Fprintf(w, "  Description: %s\n", info.Description)
	}

	if in, outName, ok := emotionSignature(info); ok {
		fmt.Fprintf(w, "\n%s usable as emotion classifier (--classifier-input %s --classifier-output %s)\n",
			decorate("✔", successMessage), in, outName)
	} else {
		fmt.Fprintf(w, "\n%s no [1,48,48,1] input with a %d class output\n",
			decorate("✘", errorMessage), emotion.NumLabels)
	}
}

// emotionSignature finds an input/output pair shaped like an emotion model.
// Dynamic dimensions (-1) match anything.
func emotionSignature(info *inference.ModelInfo) (string, string, bool) {
	var inName string
	for _, t := range info.Inputs {
		if dimsMatch(t.Dimensions, []int64{1, preprocess.Size, preprocess.Size, 1}) {
			inName = t.Name
			break
		}
	}
	if inName == "" {
		return "", "", false
	}

	for _, t := range info.Outputs {
		if dimsMatch(t.Dimensions, []int64{1, emotion.NumLabels}) {
			return inName, t.Name, true
		}
	}
	return "", "", false
}

func dimsMatch(got, want []int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] > 0 && got[i] != want[i] {
			return false
		}
	}
	return true
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
