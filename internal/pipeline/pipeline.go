package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dudu/moodface/internal/crop"
	"github.com/dudu/moodface/internal/emotion"
	"github.com/dudu/moodface/internal/preprocess"
)

// Option configures a Pipeline
type Option func(*Pipeline)

// WithMargin sets the crop margin in pixels
func WithMargin(margin float32) Option {
	return func(p *Pipeline) {
		p.geometry.Margin = margin
	}
}

// WithThreshold sets the minimum visible probability in percent
func WithThreshold(threshold float64) Option {
	return func(p *Pipeline) {
		p.ranker.Threshold = threshold
	}
}

// WithLogger sets the logger used for request outcomes
func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithCloser registers a cleanup step run by Close after the collaborators
func WithCloser(fn func() error) Option {
	return func(p *Pipeline) {
		p.closers = append(p.closers, fn)
	}
}

// Pipeline runs face localization, cropping, normalization, classification
// and ranking for one image at a time.
type Pipeline struct {
	localizer  FaceLocalizer
	classifier EmotionClassifier
	geometry   crop.Geometry
	normalizer preprocess.Normalizer
	ranker     emotion.Ranker
	log        logrus.FieldLogger
	closers    []func() error

	mu         sync.Mutex
	state      State
	inFlight   bool
	lastTiming Timing
}

// New creates a pipeline around loaded models. Both collaborators are required.
func New(localizer FaceLocalizer, classifier EmotionClassifier, opts ...Option) (*Pipeline, error) {
	if localizer == nil || classifier == nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", ErrModelsNotReady)
	}

	p := &Pipeline{
		localizer:  localizer,
		classifier: classifier,
		geometry:   crop.NewGeometry(),
		normalizer: preprocess.NewNormalizer(),
		ranker:     emotion.NewRanker(),
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// State returns the state of the current or most recent request
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Ready reports whether both models are loaded
func (p *Pipeline) Ready() bool {
	return p.checkReady() == nil
}

// Detect runs one detection request to completion. A call made while another
// request is still running returns a PipelineBusy failure at once.
func (p *Pipeline) Detect(ctx context.Context, img image.Image) Result {
	if !p.acquire() {
		res := Result{State: Failed, Failure: fail(ReasonPipelineBusy, nil)}
		p.report(res)
		return res
	}

	res := p.run(ctx, img)
	p.release(res)
	p.report(res)

	return res
}

// LastTiming returns timing from the last completed request
func (p *Pipeline) LastTiming() Timing {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTiming
}

func (p *Pipeline) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inFlight {
		return false
	}
	p.inFlight = true
	return true
}

func (p *Pipeline) release(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = res.State
	p.lastTiming = res.Timing
	p.inFlight = false
}

// advance applies ev to the pipeline state
func (p *Pipeline) advance(ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next, err := Transition(p.state, ev)
	if err != nil {
		return err
	}
	p.state = next
	return nil
}

func (p *Pipeline) checkReady() error {
	if p.localizer == nil || p.classifier == nil {
		return errors.New("localizer or classifier missing")
	}
	if r, ok := p.localizer.(readiness); ok && !r.Ready() {
		return errors.New("face localizer not loaded")
	}
	if r, ok := p.classifier.(readiness); ok && !r.Ready() {
		return errors.New("emotion classifier not loaded")
	}
	return nil
}

// run walks the state machine for one request
func (p *Pipeline) run(ctx context.Context, img image.Image) (res Result) {
	totalStart := time.Now()

	finish := func(f *Failure) Result {
		res.Timing.Total = time.Since(totalStart)
		if f != nil {
			p.advance(EventFail)
			res.State = Failed
			res.Failure = f
			res.Predictions = nil
		}
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			res = finish(fail(ReasonDetectionFailed, fmt.Errorf("panic: %v", r)))
		}
	}()

	if err := p.checkReady(); err != nil {
		return finish(fail(ReasonModelsNotReady, err))
	}
	if err := p.advance(EventRequest); err != nil {
		return finish(fail(ReasonDetectionFailed, err))
	}
	if img == nil || img.Bounds().Empty() {
		return finish(fail(ReasonDetectionFailed, errors.New("image is empty")))
	}

	// Localize
	start := time.Now()
	faces, err := p.localizer.Locate(ctx, img)
	res.Timing.Localize = time.Since(start)
	if err != nil {
		return finish(fail(ReasonDetectionFailed, fmt.Errorf("face localization failed: %w", err)))
	}
	if len(faces) == 0 {
		return finish(fail(ReasonNoFaceDetected, nil))
	}
	face := faces[0]
	res.Face = &face
	if err := p.advance(EventFaceFound); err != nil {
		return finish(fail(ReasonDetectionFailed, err))
	}

	// Crop
	start = time.Now()
	region, err := p.geometry.Region(face.Landmarks)
	if err != nil {
		return finish(fail(ReasonInvalidGeometry, err))
	}
	res.Region = &region
	if err := p.advance(EventRegionReady); err != nil {
		return finish(fail(ReasonDetectionFailed, err))
	}
	pixels := crop.Extract(img, region)
	res.Timing.Crop = time.Since(start)

	// Normalize
	start = time.Now()
	tensor, err := p.normalizer.Normalize(pixels)
	res.Timing.Normalize = time.Since(start)
	if err != nil {
		if errors.Is(err, preprocess.ErrEmptyCrop) {
			return finish(fail(ReasonEmptyCrop, err))
		}
		return finish(fail(ReasonDetectionFailed, err))
	}
	if err := p.advance(EventTensorReady); err != nil {
		return finish(fail(ReasonDetectionFailed, err))
	}

	// Classify
	start = time.Now()
	probs, err := p.classifier.Predict(ctx, tensor)
	res.Timing.Classify = time.Since(start)
	if err != nil {
		if errors.Is(err, emotion.ErrOutputShape) {
			return finish(fail(ReasonClassifierOutputShape, err))
		}
		return finish(fail(ReasonClassifierInvocation, err))
	}

	ranked, err := p.ranker.Rank(probs)
	if err != nil {
		return finish(fail(ReasonClassifierOutputShape, err))
	}
	if err := p.advance(EventRanked); err != nil {
		return finish(fail(ReasonDetectionFailed, err))
	}

	res.State = Ranked
	res.Predictions = ranked
	return finish(nil)
}

// report logs the request outcome. A missing face is an expected result and
// is not logged as an error.
func (p *Pipeline) report(res Result) {
	log := p.log
	if log == nil {
		log = logrus.StandardLogger()
	}

	fields := logrus.Fields{
		"state":      res.State.String(),
		"localize":   res.Timing.Localize,
		"classify":   res.Timing.Classify,
		"total_time": res.Timing.Total,
	}

	switch res.Reason() {
	case ReasonNone:
		if top, ok := res.Predictions.Top(); ok {
			fields["emotion"] = top.Emotion.String()
			fields["probability"] = top.Probability
		}
		log.WithFields(fields).Info("[pipeline.Detect] emotion analyzed")
	case ReasonNoFaceDetected:
		log.WithFields(fields).Info("[pipeline.Detect] no faces detected")
	case ReasonPipelineBusy:
		log.WithFields(fields).Warn("[pipeline.Detect] request rejected, pipeline busy")
	default:
		fields["reason"] = res.Reason().String()
		fields["error"] = res.Failure.Error()
		log.WithFields(fields).Error("[pipeline.Detect] detection failed")
	}
}

// Close releases pipeline resources
func (p *Pipeline) Close() error {
	var errs []error

	if p.localizer != nil {
		if err := p.localizer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.classifier != nil {
		if err := p.classifier.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, fn := range p.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}
