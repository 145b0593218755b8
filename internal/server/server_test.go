package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/moodface/internal/crop"
	"github.com/dudu/moodface/internal/emotion"
	"github.com/dudu/moodface/internal/pipeline"
	"github.com/dudu/moodface/internal/server"
)

type mockDetector struct {
	DetectFunc func(ctx context.Context, img image.Image) pipeline.Result
	ready      bool
	calls      int
}

func (m *mockDetector) Detect(ctx context.Context, img image.Image) pipeline.Result {
	m.calls++
	return m.DetectFunc(ctx, img)
}

func (m *mockDetector) Ready() bool {
	return m.ready
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	img.Set(3, 3, color.NRGBA{G: 200, A: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, field, name string, content []byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = io.Copy(part, bytes.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/emotions", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func ranked() pipeline.Result {
	return pipeline.Result{
		State: pipeline.Ranked,
		Predictions: emotion.Ranked{
			{Emotion: emotion.Happy, Probability: 92.5},
			{Emotion: emotion.Neutral, Probability: 7.5},
		},
		Region: &crop.Region{X: 10, Y: 12, Width: 30, Height: 30},
		Timing: pipeline.Timing{Total: 1500 * time.Microsecond},
	}
}

func failed(reason pipeline.Reason) pipeline.Result {
	return pipeline.Result{
		State:   pipeline.Failed,
		Failure: &pipeline.Failure{Reason: reason},
	}
}

func TestServer_Emotions(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		setupRequest   func(t *testing.T) *http.Request
		result         pipeline.Result
		expectedStatus int
		expectedReason string
		expectCalled   bool
	}{
		{
			name:           "success: ranked",
			setupRequest:   func(t *testing.T) *http.Request { return multipartRequest(t, "image", "face.png", pngBytes(t)) },
			result:         ranked(),
			expectedStatus: http.StatusOK,
			expectCalled:   true,
		},
		{
			name:           "no face is not an error",
			setupRequest:   func(t *testing.T) *http.Request { return multipartRequest(t, "image", "face.png", pngBytes(t)) },
			result:         failed(pipeline.ReasonNoFaceDetected),
			expectedStatus: http.StatusOK,
			expectedReason: "NoFaceDetected",
			expectCalled:   true,
		},
		{
			name:           "busy",
			setupRequest:   func(t *testing.T) *http.Request { return multipartRequest(t, "image", "face.png", pngBytes(t)) },
			result:         failed(pipeline.ReasonPipelineBusy),
			expectedStatus: http.StatusTooManyRequests,
			expectedReason: "PipelineBusy",
			expectCalled:   true,
		},
		{
			name:           "invalid geometry",
			setupRequest:   func(t *testing.T) *http.Request { return multipartRequest(t, "image", "face.png", pngBytes(t)) },
			result:         failed(pipeline.ReasonInvalidGeometry),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedReason: "InvalidGeometry",
			expectCalled:   true,
		},
		{
			name: "error: no image field",
			setupRequest: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/v1/emotions", nil)
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "error: wrong field name",
			setupRequest: func(t *testing.T) *http.Request {
				return multipartRequest(t, "file", "face.png", pngBytes(t))
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "error: not an image",
			setupRequest: func(t *testing.T) *http.Request {
				return multipartRequest(t, "image", "notes.txt", []byte("hello there"))
			},
			expectedStatus: http.StatusUnsupportedMediaType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := &mockDetector{
				ready: true,
				DetectFunc: func(ctx context.Context, img image.Image) pipeline.Result {
					assert.Equal(t, 16, img.Bounds().Dx())
					return tt.result
				},
			}
			log, _ := test.NewNullLogger()
			srv := server.New(det, log)

			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, tt.setupRequest(t))

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.NotEmpty(t, w.Header().Get(server.RequestIDHeader))
			assert.Equal(t, tt.expectCalled, det.calls == 1)

			if !tt.expectCalled {
				var body server.ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.NotEmpty(t, body.Error)
				return
			}

			var body server.EmotionResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.expectedReason, body.Reason)
			assert.Equal(t, w.Header().Get(server.RequestIDHeader), body.RequestID)
			assert.Equal(t, "face.png", body.Source)
		})
	}
}

func TestServer_EmotionsBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	det := &mockDetector{ready: true, DetectFunc: func(context.Context, image.Image) pipeline.Result { return ranked() }}
	log, _ := test.NewNullLogger()
	srv := server.New(det, log)

	req := multipartRequest(t, "image", "face.png", pngBytes(t))
	req.Header.Set(server.RequestIDHeader, "req-42")

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body server.EmotionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "req-42", body.RequestID)
	assert.Equal(t, "ranked", body.State)
	assert.Equal(t, pipeline.StatusAnalyzed, body.Status)
	assert.Empty(t, body.Reason)
	require.NotNil(t, body.Region)
	assert.Equal(t, float32(30), body.Region.Width)
	require.Len(t, body.Predictions, 2)
	assert.Equal(t, server.PredictionResponse{Emotion: "Happy", Glyph: "😄", Probability: 92.5}, body.Predictions[0])
	assert.InDelta(t, 1.5, body.TimingMS.Total, 1e-9)
}

func TestServer_RequestTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)

	det := &mockDetector{ready: true, DetectFunc: func(ctx context.Context, _ image.Image) pipeline.Result {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return ranked()
	}}
	srv := server.New(det, nil, server.WithRequestTimeout(time.Second))

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, multipartRequest(t, "image", "face.png", pngBytes(t)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_Health(t *testing.T) {
	gin.SetMode(gin.TestMode)

	det := &mockDetector{ready: true}
	srv := server.New(det, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	det.ready = false
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodHead, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		reason pipeline.Reason
		want   int
	}{
		{pipeline.ReasonModelsNotReady, http.StatusServiceUnavailable},
		{pipeline.ReasonPipelineBusy, http.StatusTooManyRequests},
		{pipeline.ReasonNoFaceDetected, http.StatusOK},
		{pipeline.ReasonInvalidGeometry, http.StatusUnprocessableEntity},
		{pipeline.ReasonEmptyCrop, http.StatusUnprocessableEntity},
		{pipeline.ReasonClassifierOutputShape, http.StatusBadGateway},
		{pipeline.ReasonClassifierInvocation, http.StatusBadGateway},
		{pipeline.ReasonDetectionFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.reason.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, server.StatusCode(failed(tt.reason)))
		})
	}
	assert.Equal(t, http.StatusOK, server.StatusCode(ranked()))
}

func TestNewEmotionResponse_Failure(t *testing.T) {
	res := pipeline.Result{
		State:   pipeline.Failed,
		Failure: &pipeline.Failure{Reason: pipeline.ReasonClassifierInvocation, Err: errors.New("socket closed")},
	}

	body := server.NewEmotionResponse("id", res)
	assert.Equal(t, "failed", body.State)
	assert.Equal(t, pipeline.StatusError, body.Status)
	assert.Equal(t, "ClassifierInvocationError", body.Reason)
	assert.Contains(t, body.Error, "socket closed")
	assert.NotNil(t, body.Predictions)
	assert.Empty(t, body.Predictions)

	noFace := server.NewEmotionResponse("id", failed(pipeline.ReasonNoFaceDetected))
	assert.Equal(t, pipeline.StatusNoFace, noFace.Status)
	assert.Empty(t, noFace.Error)
}
