package pipeline

import (
	"context"
	"image"

	"github.com/dudu/moodface/internal/detector"
	"github.com/dudu/moodface/internal/preprocess"
)

// Backend represents the localizer implementation to use
type Backend string

const (
	BackendBlazeFace Backend = "blazeface"
	BackendYuNet     Backend = "yunet"
	BackendPigo      Backend = "pigo"
)

// ClassifierKind selects where emotion inference runs
type ClassifierKind string

const (
	ClassifierONNX   ClassifierKind = "onnx"
	ClassifierRemote ClassifierKind = "remote"
)

// FaceLocalizer finds faces and their landmarks. Landmarks must follow the
// detector package's six point layout.
type FaceLocalizer interface {
	Locate(ctx context.Context, img image.Image) ([]detector.Face, error)
	Close() error
}

// EmotionClassifier maps a [1,48,48,1] tensor to one probability per emotion
type EmotionClassifier interface {
	Predict(ctx context.Context, input preprocess.Tensor) ([]float32, error)
	Close() error
}

// readiness is implemented by collaborators that can report whether their
// models are loaded.
type readiness interface {
	Ready() bool
}
