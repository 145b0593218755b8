package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/dudu/moodface/internal/crop"
	"github.com/dudu/moodface/internal/detector"
	"github.com/dudu/moodface/internal/emotion"
	"github.com/dudu/moodface/internal/preprocess"
)

// Status strings shown to users
const (
	StatusAnalyzed = "Face detected and emotion analyzed!"
	StatusNoFace   = "No faces detected"
	StatusError    = "Error detecting faces"
)

// Reason tags why a request failed
type Reason int

const (
	ReasonNone Reason = iota
	ReasonModelsNotReady
	ReasonPipelineBusy
	ReasonNoFaceDetected
	ReasonInvalidGeometry
	ReasonEmptyCrop
	ReasonClassifierOutputShape
	ReasonClassifierInvocation
	ReasonDetectionFailed
)

var (
	ErrModelsNotReady        = errors.New("models not ready")
	ErrPipelineBusy          = errors.New("pipeline busy")
	ErrNoFaceDetected        = errors.New("no face detected")
	ErrInvalidGeometry       = crop.ErrInvalidGeometry
	ErrEmptyCrop             = preprocess.ErrEmptyCrop
	ErrClassifierOutputShape = emotion.ErrOutputShape
	ErrClassifierInvocation  = errors.New("classifier invocation failed")
	ErrDetectionFailed       = errors.New("detection failed")
)

var reasonInfo = map[Reason]struct {
	name string
	err  error
}{
	ReasonModelsNotReady:        {"ModelsNotReady", ErrModelsNotReady},
	ReasonPipelineBusy:          {"PipelineBusy", ErrPipelineBusy},
	ReasonNoFaceDetected:        {"NoFaceDetected", ErrNoFaceDetected},
	ReasonInvalidGeometry:       {"InvalidGeometry", ErrInvalidGeometry},
	ReasonEmptyCrop:             {"EmptyCropError", ErrEmptyCrop},
	ReasonClassifierOutputShape: {"ClassifierOutputShapeError", ErrClassifierOutputShape},
	ReasonClassifierInvocation:  {"ClassifierInvocationError", ErrClassifierInvocation},
	ReasonDetectionFailed:       {"DetectionFailed", ErrDetectionFailed},
}

func (r Reason) String() string {
	if info, ok := reasonInfo[r]; ok {
		return info.name
	}
	return "None"
}

// MarshalText encodes the reason by name
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Err returns the sentinel error matching the reason
func (r Reason) Err() error {
	if info, ok := reasonInfo[r]; ok {
		return info.err
	}
	return nil
}

// Failure is the error carried by a failed Result
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil || f.Err == f.Reason.Err() {
		return f.Reason.Err().Error()
	}
	return fmt.Sprintf("%s: %v", f.Reason.Err(), f.Err)
}

// Unwrap returns the underlying cause
func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches the sentinel error for the failure's reason
func (f *Failure) Is(target error) bool {
	return target != nil && target == f.Reason.Err()
}

func fail(reason Reason, err error) *Failure {
	return &Failure{Reason: reason, Err: err}
}

// Timing holds performance timing information
type Timing struct {
	Localize  time.Duration
	Crop      time.Duration
	Normalize time.Duration
	Classify  time.Duration
	Total     time.Duration
}

// Result is the outcome of one detection request. Exactly one of
// Predictions (State == Ranked) or Failure (State == Failed) is set.
type Result struct {
	State       State
	Predictions emotion.Ranked
	Face        *detector.Face
	Region      *crop.Region
	Failure     *Failure
	Timing      Timing
}

// Err returns the failure as an error, or nil on success
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// Reason returns the failure reason, or ReasonNone on success
func (r Result) Reason() Reason {
	if r.Failure == nil {
		return ReasonNone
	}
	return r.Failure.Reason
}

// Status returns the user facing message for the result
func (r Result) Status() string {
	switch {
	case r.State == Ranked:
		return StatusAnalyzed
	case r.Reason() == ReasonNoFaceDetected:
		return StatusNoFace
	default:
		return StatusError
	}
}
