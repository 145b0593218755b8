package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/moodface/internal/detector"
	"github.com/dudu/moodface/internal/emotion"
	"github.com/dudu/moodface/internal/preprocess"
)

type fakeLocalizer struct {
	faces  []detector.Face
	err    error
	panics bool
	ready  bool
	closed bool
}

func (f *fakeLocalizer) Locate(ctx context.Context, img image.Image) ([]detector.Face, error) {
	if f.panics {
		panic("localizer exploded")
	}
	return f.faces, f.err
}

func (f *fakeLocalizer) Ready() bool  { return f.ready }
func (f *fakeLocalizer) Close() error { f.closed = true; return nil }

type fakeClassifier struct {
	probs   []float32
	err     error
	calls   int
	inputs  []preprocess.Tensor
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeClassifier) Predict(ctx context.Context, input preprocess.Tensor) ([]float32, error) {
	f.calls++
	f.inputs = append(f.inputs, input)
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	return f.probs, f.err
}

func (f *fakeClassifier) Close() error { return errors.New("classifier close failed") }

func face(noseX, noseY, rightX, leftX float32) detector.Face {
	return detector.Face{
		BoundingBox: detector.BoundingBox{X1: rightX, Y1: noseY - 40, X2: leftX, Y2: noseY + 40},
		Landmarks: detector.Landmarks{
			{X: noseX - 15, Y: noseY - 15},
			{X: noseX + 15, Y: noseY - 15},
			{X: noseX, Y: noseY},
			{X: noseX, Y: noseY + 20},
			{X: rightX, Y: noseY - 15},
			{X: leftX, Y: noseY - 15},
		},
		Score: 0.9,
	}
}

func testImage() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 200, 160))
	for y := 0; y < 160; y++ {
		for x := 0; x < 200; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 60, A: 255})
		}
	}
	return img
}

func newTestPipeline(t *testing.T, loc *fakeLocalizer, cls *fakeClassifier, opts ...Option) (*Pipeline, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	p, err := New(loc, cls, append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	return p, hook
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, &fakeClassifier{})
	assert.ErrorIs(t, err, ErrModelsNotReady)

	_, err = New(&fakeLocalizer{ready: true}, nil)
	assert.ErrorIs(t, err, ErrModelsNotReady)
}

func TestDetect_Ranked(t *testing.T) {
	loc := &fakeLocalizer{ready: true, faces: []detector.Face{face(100, 80, 60, 140), face(10, 10, 0, 20)}}
	cls := &fakeClassifier{probs: []float32{0.01, 0, 0, 0.95, 0.02, 0.01, 0.01}}
	p, hook := newTestPipeline(t, loc, cls)

	res := p.Detect(context.Background(), testImage())

	require.NoError(t, res.Err())
	assert.Equal(t, Ranked, res.State)
	assert.Equal(t, Ranked, p.State())
	assert.Equal(t, StatusAnalyzed, res.Status())
	assert.Equal(t, ReasonNone, res.Reason())

	require.Len(t, res.Predictions, 5)
	assert.Equal(t, emotion.Happy, res.Predictions[0].Emotion)
	assert.InDelta(t, 95, res.Predictions[0].Probability, 1e-4)
	assert.Equal(t, emotion.Neutral, res.Predictions[1].Emotion)

	// Only the first face is used: half = 40 + 5 around (100, 80)
	require.NotNil(t, res.Region)
	assert.Equal(t, float32(55), res.Region.X)
	assert.Equal(t, float32(35), res.Region.Y)
	assert.Equal(t, float32(90), res.Region.Width)

	require.Len(t, cls.inputs, 1)
	assert.Equal(t, [4]int{1, 48, 48, 1}, cls.inputs[0].Shape)

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "Happy", hook.LastEntry().Data["emotion"])
}

func TestDetect_NoFaceDetected(t *testing.T) {
	cls := &fakeClassifier{probs: make([]float32, 7)}
	p, hook := newTestPipeline(t, &fakeLocalizer{ready: true}, cls)

	res := p.Detect(context.Background(), testImage())

	assert.Equal(t, Failed, res.State)
	assert.Equal(t, ReasonNoFaceDetected, res.Reason())
	assert.ErrorIs(t, res.Err(), ErrNoFaceDetected)
	assert.Equal(t, StatusNoFace, res.Status())
	assert.Nil(t, res.Predictions)
	assert.Zero(t, cls.calls)

	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.ErrorLevel, e.Level)
	}
}

func TestDetect_Failures(t *testing.T) {
	valid := []detector.Face{face(100, 80, 60, 140)}
	good := []float32{0.1, 0.1, 0.1, 0.4, 0.1, 0.1, 0.1}

	tests := []struct {
		name      string
		localizer *fakeLocalizer
		cls       *fakeClassifier
		opts      []Option
		img       image.Image
		reason    Reason
		sentinel  error
		classify  bool
	}{
		{
			name:      "localizer not ready",
			localizer: &fakeLocalizer{ready: false, faces: valid},
			cls:       &fakeClassifier{probs: good},
			reason:    ReasonModelsNotReady,
			sentinel:  ErrModelsNotReady,
		},
		{
			name:      "localizer error",
			localizer: &fakeLocalizer{ready: true, err: errors.New("boom")},
			cls:       &fakeClassifier{probs: good},
			reason:    ReasonDetectionFailed,
			sentinel:  ErrDetectionFailed,
		},
		{
			name:      "localizer panic",
			localizer: &fakeLocalizer{ready: true, panics: true},
			cls:       &fakeClassifier{probs: good},
			reason:    ReasonDetectionFailed,
			sentinel:  ErrDetectionFailed,
		},
		{
			name:      "mirrored landmarks",
			localizer: &fakeLocalizer{ready: true, faces: []detector.Face{face(100, 80, 140, 60)}},
			cls:       &fakeClassifier{probs: good},
			reason:    ReasonInvalidGeometry,
			sentinel:  ErrInvalidGeometry,
		},
		{
			name:      "nan nose",
			localizer: &fakeLocalizer{ready: true, faces: []detector.Face{face(float32(math.NaN()), 80, 60, 140)}},
			cls:       &fakeClassifier{probs: good},
			reason:    ReasonInvalidGeometry,
			sentinel:  ErrInvalidGeometry,
		},
		{
			name:      "infinite nose",
			localizer: &fakeLocalizer{ready: true, faces: []detector.Face{face(100, float32(math.Inf(1)), 60, 140)}},
			cls:       &fakeClassifier{probs: good},
			reason:    ReasonInvalidGeometry,
			sentinel:  ErrInvalidGeometry,
		},
		{
			name:      "infinite reference",
			localizer: &fakeLocalizer{ready: true, faces: []detector.Face{face(100, 80, float32(math.Inf(-1)), 140)}},
			cls:       &fakeClassifier{probs: good},
			reason:    ReasonInvalidGeometry,
			sentinel:  ErrInvalidGeometry,
		},
		{
			name:      "short landmark set",
			localizer: &fakeLocalizer{ready: true, faces: []detector.Face{{Landmarks: detector.Landmarks{{X: 1, Y: 1}}}}},
			cls:       &fakeClassifier{probs: good},
			reason:    ReasonInvalidGeometry,
			sentinel:  ErrInvalidGeometry,
		},
		{
			name:      "sub pixel crop",
			localizer: &fakeLocalizer{ready: true, faces: valid},
			cls:       &fakeClassifier{probs: good},
			opts:      []Option{WithMargin(-39.8)},
			reason:    ReasonEmptyCrop,
			sentinel:  ErrEmptyCrop,
		},
		{
			name:      "wrong output length",
			localizer: &fakeLocalizer{ready: true, faces: valid},
			cls:       &fakeClassifier{probs: []float32{1, 0, 0}},
			reason:    ReasonClassifierOutputShape,
			sentinel:  ErrClassifierOutputShape,
			classify:  true,
		},
		{
			name:      "classifier error",
			localizer: &fakeLocalizer{ready: true, faces: valid},
			cls:       &fakeClassifier{err: errors.New("session lost")},
			reason:    ReasonClassifierInvocation,
			sentinel:  ErrClassifierInvocation,
			classify:  true,
		},
		{
			name:      "empty image",
			localizer: &fakeLocalizer{ready: true, faces: valid},
			cls:       &fakeClassifier{probs: good},
			img:       image.NewNRGBA(image.Rectangle{}),
			reason:    ReasonDetectionFailed,
			sentinel:  ErrDetectionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, hook := newTestPipeline(t, tt.localizer, tt.cls, tt.opts...)

			img := tt.img
			if img == nil {
				img = testImage()
			}
			res := p.Detect(context.Background(), img)

			assert.Equal(t, Failed, res.State)
			assert.Equal(t, Failed, p.State())
			assert.Equal(t, tt.reason, res.Reason())
			assert.ErrorIs(t, res.Err(), tt.sentinel)
			assert.Equal(t, StatusError, res.Status())
			assert.Nil(t, res.Predictions)

			if tt.classify {
				assert.Equal(t, 1, tt.cls.calls)
			} else {
				assert.Zero(t, tt.cls.calls)
			}

			require.NotNil(t, hook.LastEntry())
			assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
			assert.Equal(t, tt.reason.String(), hook.LastEntry().Data["reason"])
		})
	}
}

func TestDetect_NonFiniteNoseLeavesNoRegion(t *testing.T) {
	loc := &fakeLocalizer{ready: true, faces: []detector.Face{face(float32(math.NaN()), 80, 60, 140)}}
	cls := &fakeClassifier{probs: []float32{0.1, 0.1, 0.1, 0.4, 0.1, 0.1, 0.1}}
	p, _ := newTestPipeline(t, loc, cls)

	res := p.Detect(context.Background(), testImage())

	assert.Equal(t, Failed, res.State)
	assert.Equal(t, ReasonInvalidGeometry, res.Reason())
	assert.Nil(t, res.Region)
	assert.Zero(t, cls.calls)
	assert.Empty(t, cls.inputs)
}

func TestDetect_ZeroValuePipeline(t *testing.T) {
	var p Pipeline
	res := p.Detect(context.Background(), testImage())

	assert.Equal(t, ReasonModelsNotReady, res.Reason())
	assert.False(t, p.Ready())
}

func TestDetect_PipelineBusy(t *testing.T) {
	loc := &fakeLocalizer{ready: true, faces: []detector.Face{face(100, 80, 60, 140)}}
	cls := &fakeClassifier{
		probs:   []float32{0, 0, 0, 1, 0, 0, 0},
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	p, _ := newTestPipeline(t, loc, cls)

	var (
		wg    sync.WaitGroup
		first Result
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = p.Detect(context.Background(), testImage())
	}()

	select {
	case <-cls.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never reached the classifier")
	}
	assert.Equal(t, Classifying, p.State())

	second := p.Detect(context.Background(), testImage())
	assert.Equal(t, ReasonPipelineBusy, second.Reason())
	assert.ErrorIs(t, second.Err(), ErrPipelineBusy)
	assert.Equal(t, StatusError, second.Status())

	// The rejected request must not disturb the one in flight
	assert.Equal(t, Classifying, p.State())

	close(cls.block)
	wg.Wait()

	assert.Equal(t, Ranked, first.State)
	assert.Equal(t, 1, cls.calls)

	// A finished pipeline accepts new work
	cls.block = nil
	cls.entered = nil
	third := p.Detect(context.Background(), testImage())
	assert.Equal(t, Ranked, third.State)
}

func TestDetect_TimingRecorded(t *testing.T) {
	loc := &fakeLocalizer{ready: true, faces: []detector.Face{face(100, 80, 60, 140)}}
	cls := &fakeClassifier{probs: []float32{0, 0, 0, 1, 0, 0, 0}}
	p, _ := newTestPipeline(t, loc, cls)

	res := p.Detect(context.Background(), testImage())
	assert.Equal(t, res.Timing, p.LastTiming())
	assert.GreaterOrEqual(t, res.Timing.Total, res.Timing.Localize)
}

func TestDetect_ThresholdOption(t *testing.T) {
	loc := &fakeLocalizer{ready: true, faces: []detector.Face{face(100, 80, 60, 140)}}
	cls := &fakeClassifier{probs: []float32{0.01, 0.02, 0.02, 0.9, 0.05, 0, 0}}
	p, _ := newTestPipeline(t, loc, cls, WithThreshold(3))

	res := p.Detect(context.Background(), testImage())
	require.Len(t, res.Predictions, 2)
	assert.Equal(t, emotion.Neutral, res.Predictions[1].Emotion)
}

func TestClose_CollectsErrors(t *testing.T) {
	loc := &fakeLocalizer{ready: true}
	called := false
	p, _ := newTestPipeline(t, loc, &fakeClassifier{}, WithCloser(func() error {
		called = true
		return nil
	}))

	err := p.Close()
	assert.ErrorContains(t, err, "classifier close failed")
	assert.True(t, loc.closed)
	assert.True(t, called)
}
