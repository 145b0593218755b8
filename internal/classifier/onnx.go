package classifier

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/dudu/moodface/internal/emotion"
	"github.com/dudu/moodface/internal/inference"
	"github.com/dudu/moodface/internal/preprocess"
)

// ONNXConfig describes a local FER model
type ONNXConfig struct {
	ModelPath  string
	InputName  string
	OutputName string
	// Softmax normalizes raw logits. Leave off for models that end in softmax.
	Softmax bool
	Session inference.SessionOptions
}

// ONNX runs a 48x48 grayscale emotion model through ONNX Runtime
type ONNX struct {
	mu      sync.Mutex
	session *inference.Session
	softmax bool
}

// NewONNX creates a new ONNX emotion classifier
func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	if err := checkSignature(cfg); err != nil {
		return nil, err
	}

	inputNames := []string{cfg.InputName}
	outputNames := []string{cfg.OutputName}

	session, err := inference.NewSession(cfg.ModelPath, inputNames, outputNames, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to create emotion classifier session: %w", err)
	}

	return &ONNX{
		session: session,
		softmax: cfg.Softmax,
	}, nil
}

// Ready reports whether the model session is open
func (c *ONNX) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Predict returns one probability per emotion label
func (c *ONNX) Predict(ctx context.Context, input preprocess.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shape := input.Shape64()
	if want := int(shape[0] * shape[1] * shape[2] * shape[3]); len(input.Data) != want {
		return nil, fmt.Errorf("tensor has %d values for shape %v", len(input.Data), shape)
	}

	inputTensor, err := inference.CreateTensor(shape, input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, emotion.NumLabels})
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, fmt.Errorf("classifier is closed")
	}
	if err := c.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	probs := append([]float32(nil), outputTensor.GetData()...)
	if c.softmax {
		softmax(probs)
	}
	return probs, nil
}

// Close releases classifier resources
func (c *ONNX) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	err := c.session.Destroy()
	c.session = nil
	return err
}

// checkSignature rejects models whose declared output cannot hold one value
// per emotion. Dynamic dimensions (-1) are accepted.
func checkSignature(cfg ONNXConfig) error {
	info, err := inference.Describe(cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to read emotion model signature: %w", err)
	}

	if _, ok := info.Input(cfg.InputName); !ok {
		return fmt.Errorf("emotion model has no input %q", cfg.InputName)
	}
	out, ok := info.Output(cfg.OutputName)
	if !ok {
		return fmt.Errorf("emotion model has no output %q", cfg.OutputName)
	}

	dims := out.Dimensions
	if len(dims) == 0 {
		return fmt.Errorf("%w: output %q has no dimensions", emotion.ErrOutputShape, cfg.OutputName)
	}
	if last := dims[len(dims)-1]; last > 0 && last != emotion.NumLabels {
		return fmt.Errorf("%w: output %q has %d classes", emotion.ErrOutputShape, cfg.OutputName, last)
	}
	return nil
}
