// Package loader opens the models named by the configuration and assembles
// them into a pipeline. Keeping it apart from the pipeline means only
// binaries that load real models link the detector backends.
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dudu/moodface/internal/classifier"
	"github.com/dudu/moodface/internal/config"
	"github.com/dudu/moodface/internal/detector"
	"github.com/dudu/moodface/internal/detector/yunet"
	"github.com/dudu/moodface/internal/inference"
	"github.com/dudu/moodface/internal/pipeline"
)

const remotePingInterval = 30 * time.Second

// needsRuntime reports whether cfg loads any ONNX Runtime model
func needsRuntime(cfg config.Config) bool {
	return pipeline.Backend(cfg.Localizer) == pipeline.BackendBlazeFace ||
		pipeline.ClassifierKind(cfg.Classifier) == pipeline.ClassifierONNX
}

// Load builds the localizer and classifier described by cfg and wraps them in
// a pipeline. Model loading happens once here; Close releases everything.
func Load(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*pipeline.Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	sessionOpts := inference.SessionOptions{
		CoreML:         cfg.CoreML,
		IntraOpThreads: cfg.Threads,
		Logger:         log,
	}

	opts := []pipeline.Option{
		pipeline.WithMargin(float32(cfg.Margin)),
		pipeline.WithThreshold(cfg.Threshold),
		pipeline.WithLogger(log),
	}

	if needsRuntime(cfg) {
		if err := inference.Initialize(cfg.ORTLibrary); err != nil {
			return nil, fmt.Errorf("failed to initialize inference: %w", err)
		}
		opts = append(opts, pipeline.WithCloser(inference.Shutdown))
	}

	loc, err := newLocalizer(cfg, sessionOpts)
	if err != nil {
		if needsRuntime(cfg) {
			inference.Shutdown()
		}
		return nil, fmt.Errorf("failed to create face localizer: %w", err)
	}

	cls, err := newClassifier(ctx, cfg, sessionOpts, log)
	if err != nil {
		loc.Close()
		if needsRuntime(cfg) {
			inference.Shutdown()
		}
		return nil, fmt.Errorf("failed to create emotion classifier: %w", err)
	}

	log.WithFields(logrus.Fields{
		"localizer":  cfg.Localizer,
		"classifier": cfg.Classifier,
	}).Info("[loader.Load] models loaded")

	return pipeline.New(loc, cls, opts...)
}

func newLocalizer(cfg config.Config, sessionOpts inference.SessionOptions) (pipeline.FaceLocalizer, error) {
	switch pipeline.Backend(cfg.Localizer) {
	case pipeline.BackendBlazeFace:
		bc := detector.DefaultBlazeFaceConfig(cfg.LocalizerModel)
		bc.Session = sessionOpts
		return detector.NewBlazeFace(bc)
	case pipeline.BackendYuNet:
		return yunet.New(yunet.DefaultConfig(cfg.LocalizerModel))
	case pipeline.BackendPigo:
		pc := detector.DefaultPigoConfig(cfg.LocalizerModel)
		pc.PuplocCascade = cfg.PuplocCascade
		return detector.NewPigo(pc)
	default:
		return nil, fmt.Errorf("unknown localizer %q", cfg.Localizer)
	}
}

func newClassifier(ctx context.Context, cfg config.Config, sessionOpts inference.SessionOptions, log logrus.FieldLogger) (pipeline.EmotionClassifier, error) {
	switch pipeline.ClassifierKind(cfg.Classifier) {
	case pipeline.ClassifierONNX:
		return classifier.NewONNX(classifier.ONNXConfig{
			ModelPath:  cfg.ClassifierModel,
			InputName:  cfg.ClassifierInput,
			OutputName: cfg.ClassifierOutput,
			Softmax:    cfg.Softmax,
			Session:    sessionOpts,
		})
	case pipeline.ClassifierRemote:
		return classifier.NewRemote(ctx, classifier.RemoteConfig{
			URL:              cfg.RemoteURL,
			HandshakeTimeout: cfg.RemoteTimeout,
			PingInterval:     remotePingInterval,
			Logger:           log,
		})
	default:
		return nil, fmt.Errorf("unknown classifier %q", cfg.Classifier)
	}
}
