package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dudu/moodface/internal/config"
	"github.com/dudu/moodface/internal/logging"
)

// Version is the application version
const Version = "0.1.0"

var (
	// cfg is the merged configuration shared by subcommands
	cfg config.Config
	// logger is the process logger, ready once PersistentPreRunE has run
	logger *logrus.Logger

	envFile string
	flagCfg = config.Default()
)

var rootCmd = &cobra.Command{
	Use:     "moodface",
	Short:   "Face emotion detection for still images",
	Version: Version,
	Long: `moodface finds a face in an image, crops it, and ranks the seven
basic emotions predicted by a 48x48 grayscale classifier.

Settings come from MOODFACE_* environment variables (optionally read
from a .env file) and can be overridden with flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(envFile)
		if err != nil {
			return err
		}
		applyFlags(cmd.Flags(), &loaded, flagCfg)
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded

		logger, err = logging.Init(logging.Options{
			Level: cfg.LogLevel,
			File:  cfg.LogFile,
		})
		return err
	},
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, decorate(err.Error(), errorMessage))
		stop()
		os.Exit(1)
	}
}

// applyFlags copies every flag the user set explicitly from src into dst
func applyFlags(flags *pflag.FlagSet, dst *config.Config, src config.Config) {
	overrides := map[string]func(){
		"localizer":         func() { dst.Localizer = src.Localizer },
		"localizer-model":   func() { dst.LocalizerModel = src.LocalizerModel },
		"puploc":            func() { dst.PuplocCascade = src.PuplocCascade },
		"classifier":        func() { dst.Classifier = src.Classifier },
		"classifier-model":  func() { dst.ClassifierModel = src.ClassifierModel },
		"classifier-input":  func() { dst.ClassifierInput = src.ClassifierInput },
		"classifier-output": func() { dst.ClassifierOutput = src.ClassifierOutput },
		"softmax":           func() { dst.Softmax = src.Softmax },
		"remote-url":        func() { dst.RemoteURL = src.RemoteURL },
		"remote-timeout":    func() { dst.RemoteTimeout = src.RemoteTimeout },
		"ort-lib":           func() { dst.ORTLibrary = src.ORTLibrary },
		"coreml":            func() { dst.CoreML = src.CoreML },
		"threads":           func() { dst.Threads = src.Threads },
		"margin":            func() { dst.Margin = src.Margin },
		"threshold":         func() { dst.Threshold = src.Threshold },
		"log-level":         func() { dst.LogLevel = src.LogLevel },
		"log-file":          func() { dst.LogFile = src.LogFile },
		"addr":              func() { dst.Addr = src.Addr },
		"request-timeout":   func() { dst.RequestTimeout = src.RequestTimeout },
	}

	flags.Visit(func(f *pflag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply()
		}
	})
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&envFile, "env-file", "", "Read settings from this file (default: .env if present)")

	pf.StringVarP(&flagCfg.Localizer, "localizer", "l", flagCfg.Localizer, "Face localizer: blazeface, yunet or pigo")
	pf.StringVar(&flagCfg.LocalizerModel, "localizer-model", flagCfg.LocalizerModel, "Localizer model or cascade file")
	pf.StringVar(&flagCfg.PuplocCascade, "puploc", "", "Pupil localization cascade (pigo only)")
	pf.StringVarP(&flagCfg.Classifier, "classifier", "c", flagCfg.Classifier, "Emotion classifier: onnx or remote")
	pf.StringVar(&flagCfg.ClassifierModel, "classifier-model", flagCfg.ClassifierModel, "Emotion ONNX model")
	pf.StringVar(&flagCfg.ClassifierInput, "classifier-input", flagCfg.ClassifierInput, "Emotion model input tensor name")
	pf.StringVar(&flagCfg.ClassifierOutput, "classifier-output", flagCfg.ClassifierOutput, "Emotion model output tensor name")
	pf.BoolVar(&flagCfg.Softmax, "softmax", false, "Apply softmax to raw classifier logits")
	pf.StringVar(&flagCfg.RemoteURL, "remote-url", "", "Websocket URL of a remote emotion classifier")
	pf.DurationVar(&flagCfg.RemoteTimeout, "remote-timeout", flagCfg.RemoteTimeout, "Remote classifier handshake timeout")
	pf.StringVar(&flagCfg.ORTLibrary, "ort-lib", "", "Path to the ONNX Runtime shared library")
	pf.BoolVar(&flagCfg.CoreML, "coreml", false, "Use the CoreML execution provider when available")
	pf.IntVar(&flagCfg.Threads, "threads", 0, "ONNX Runtime intra-op threads (0 = runtime default)")
	pf.Float64Var(&flagCfg.Margin, "margin", flagCfg.Margin, "Crop margin in pixels around the face")
	pf.Float64Var(&flagCfg.Threshold, "threshold", flagCfg.Threshold, "Hide emotions at or below this percentage")
	pf.StringVar(&flagCfg.LogLevel, "log-level", flagCfg.LogLevel, "Log level: trace, debug, info, warn or error")
	pf.StringVar(&flagCfg.LogFile, "log-file", "", "Also write logs to this rotating file")
}
