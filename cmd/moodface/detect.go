package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dudu/moodface/internal/imageio"
	"github.com/dudu/moodface/internal/loader"
	"github.com/dudu/moodface/internal/logging"
	"github.com/dudu/moodface/internal/pipeline"
	"github.com/dudu/moodface/internal/server"
	"github.com/dudu/moodface/internal/ui"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// detectOptions holds flags for the detect command
type detectOptions struct {
	JSON     bool
	Preview  bool
	Annotate string
	Timeout  time.Duration
}

var detectOpts detectOptions

var detectCmd = &cobra.Command{
	Use:   "detect <image|dir|url|->...",
	Short: "Rank the emotions of the face in each image",
	Example: `  moodface detect face.jpg
  moodface detect photos/ --annotate out/
  curl -s https://example.com/face.png | moodface detect - --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDetect(cmd, args, detectOpts)
	},
}

func runDetect(cmd *cobra.Command, args []string, opts detectOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	srcs, err := imageio.Expand(args)
	if err != nil {
		return err
	}
	if len(srcs) == 0 {
		return fmt.Errorf("no supported images found in %v", args)
	}
	if opts.Annotate != "" {
		if err := os.MkdirAll(opts.Annotate, 0o755); err != nil {
			return fmt.Errorf("failed to create annotation directory: %w", err)
		}
	}

	p, err := loader.Load(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.WithField("error", err.Error()).Warn("[detect.runDetect] failed to release models")
		}
	}()

	var bar *progressbar.ProgressBar
	if len(srcs) > 1 && term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.NewOptions(len(srcs),
			progressbar.OptionSetDescription("🔍 Detecting emotions"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	var window *ui.Window
	if opts.Preview {
		window = ui.NewWindow("moodface", len(srcs))
		defer window.Close()
	}

	start := time.Now()
	var (
		reports []server.EmotionResponse
		failed  int
	)

	for i, src := range srcs {
		if ctx.Err() != nil {
			break
		}

		reqCtx := logging.ContextWithRequestID(ctx, logging.NewRequestID())
		log := logging.WithRequestID(reqCtx, logger).WithField("source", src)

		img, err := imageio.Load(reqCtx, src)
		if err != nil {
			failed++
			log.WithField("error", err.Error()).Error("[detect.runDetect] failed to load image")
			if !opts.JSON {
				fmt.Fprintf(out, "%s  %s\n", src, decorate(err.Error(), errorMessage))
			}
			if bar != nil {
				bar.Add(1)
			}
			continue
		}

		detectCtx, cancel := reqCtx, context.CancelFunc(func() {})
		if opts.Timeout > 0 {
			detectCtx, cancel = context.WithTimeout(reqCtx, opts.Timeout)
		}
		res := p.Detect(detectCtx, img.Image)
		cancel()

		if f := res.Failure; f != nil && f.Reason != pipeline.ReasonNoFaceDetected {
			failed++
		}

		if opts.JSON {
			report := server.NewEmotionResponse(logging.RequestID(reqCtx), res)
			report.Source = img.Source
			reports = append(reports, report)
		} else {
			printResult(out, img.Source, res)
		}

		if opts.Annotate != "" {
			path := ui.AnnotatedName(opts.Annotate, src, i+1)
			if err := ui.Annotate(img.Image, res, path); err != nil {
				log.WithField("error", err.Error()).Error("[detect.runDetect] failed to annotate image")
			} else {
				log.WithField("path", path).Debug("[detect.runDetect] annotated image written")
			}
		}

		if window != nil {
			if err := window.Show(img.Image, res, img.Source); err != nil {
				log.WithField("error", err.Error()).Warn("[detect.runDetect] preview failed")
			} else if ui.Quit(window.WaitKey(0)) {
				window.Close()
				window = nil
			}
		}

		if bar != nil {
			bar.Add(1)
		}
	}

	if bar != nil {
		bar.Finish()
	}

	if opts.JSON {
		if err := writeJSON(out, reports); err != nil {
			return err
		}
	}

	logger.WithFields(logrus.Fields{
		"images":  len(srcs),
		"failed":  failed,
		"elapsed": time.Since(start),
	}).Debug("[detect.runDetect] batch finished")

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("detection interrupted: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(srcs))
	}
	return nil
}

// writeJSON prints one object for a single report and an array otherwise
func writeJSON(w io.Writer, reports []server.EmotionResponse) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if len(reports) == 1 {
		return enc.Encode(reports[0])
	}
	if reports == nil {
		reports = []server.EmotionResponse{}
	}
	return enc.Encode(reports)
}

func init() {
	f := detectCmd.Flags()
	f.BoolVar(&detectOpts.JSON, "json", false, "Print results as JSON")
	f.BoolVarP(&detectOpts.Preview, "preview", "p", false, "Show each result in a preview window (q or Esc to stop)")
	f.StringVarP(&detectOpts.Annotate, "annotate", "a", "", "Write annotated images into this directory")
	f.DurationVar(&detectOpts.Timeout, "timeout", 0, "Per image detection timeout (0 = none)")

	rootCmd.AddCommand(detectCmd)
}
