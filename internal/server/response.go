package server

import (
	"net/http"
	"time"

	"github.com/dudu/moodface/internal/crop"
	"github.com/dudu/moodface/internal/pipeline"
)

// PredictionResponse is one ranked emotion
type PredictionResponse struct {
	Emotion     string  `json:"emotion"`
	Glyph       string  `json:"glyph"`
	Probability float64 `json:"probability"`
}

// TimingResponse reports stage durations in milliseconds
type TimingResponse struct {
	Localize  float64 `json:"localize"`
	Crop      float64 `json:"crop"`
	Normalize float64 `json:"normalize"`
	Classify  float64 `json:"classify"`
	Total     float64 `json:"total"`
}

// EmotionResponse is the body returned for every detection request
type EmotionResponse struct {
	RequestID   string               `json:"request_id"`
	Source      string               `json:"source,omitempty"`
	State       string               `json:"state"`
	Status      string               `json:"status"`
	Reason      string               `json:"reason,omitempty"`
	Error       string               `json:"error,omitempty"`
	Region      *crop.Region         `json:"region,omitempty"`
	Predictions []PredictionResponse `json:"predictions"`
	TimingMS    TimingResponse       `json:"timing_ms"`
}

// ErrorResponse is returned when a request never reaches the pipeline
type ErrorResponse struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

// NewEmotionResponse converts a pipeline result into its wire form
func NewEmotionResponse(requestID string, res pipeline.Result) EmotionResponse {
	out := EmotionResponse{
		RequestID:   requestID,
		State:       res.State.String(),
		Status:      res.Status(),
		Region:      res.Region,
		Predictions: make([]PredictionResponse, 0, len(res.Predictions)),
		TimingMS: TimingResponse{
			Localize:  millis(res.Timing.Localize),
			Crop:      millis(res.Timing.Crop),
			Normalize: millis(res.Timing.Normalize),
			Classify:  millis(res.Timing.Classify),
			Total:     millis(res.Timing.Total),
		},
	}

	if res.Failure != nil {
		out.Reason = res.Reason().String()
		if res.Reason() != pipeline.ReasonNoFaceDetected {
			out.Error = res.Failure.Error()
		}
	}

	for _, p := range res.Predictions {
		out.Predictions = append(out.Predictions, PredictionResponse{
			Emotion:     p.Emotion.String(),
			Glyph:       p.Glyph(),
			Probability: p.Probability,
		})
	}
	return out
}

// StatusCode maps a pipeline outcome to an HTTP status
func StatusCode(res pipeline.Result) int {
	switch res.Reason() {
	case pipeline.ReasonNone, pipeline.ReasonNoFaceDetected:
		return http.StatusOK
	case pipeline.ReasonInvalidGeometry, pipeline.ReasonEmptyCrop:
		return http.StatusUnprocessableEntity
	case pipeline.ReasonPipelineBusy:
		return http.StatusTooManyRequests
	case pipeline.ReasonClassifierOutputShape, pipeline.ReasonClassifierInvocation:
		return http.StatusBadGateway
	case pipeline.ReasonModelsNotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
