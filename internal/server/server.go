// Package server exposes the emotion pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"image"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dudu/moodface/internal/imageio"
	"github.com/dudu/moodface/internal/logging"
	"github.com/dudu/moodface/internal/pipeline"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

const shutdownTimeout = 10 * time.Second

// Detector runs one detection request
type Detector interface {
	Detect(ctx context.Context, img image.Image) pipeline.Result
	Ready() bool
}

// Option configures a Server
type Option func(*Server)

// WithRequestTimeout bounds each detection; zero disables the bound
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

// Server serves the emotion API
type Server struct {
	det     Detector
	log     logrus.FieldLogger
	timeout time.Duration
	router  *gin.Engine
}

// New creates a server around det
func New(det Detector, log logrus.FieldLogger, opts ...Option) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{det: det, log: log}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(requestID(), accessLog(log), gin.Recovery())
	r.MaxMultipartMemory = imageio.MaxBytes

	r.GET("/healthz", s.Health)
	r.HEAD("/healthz", s.Health)
	v1 := r.Group("/v1")
	v1.POST("/emotions", s.Emotions)

	s.router = r
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("[server.Run] listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("[server.Run] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Health reports whether the models are loaded
func (s *Server) Health(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	status, body := http.StatusOK, "ok"
	if !s.det.Ready() {
		status, body = http.StatusServiceUnavailable, "models not ready"
	}

	if c.Request.Method == http.MethodHead {
		c.Status(status)
		return
	}
	c.JSON(status, gin.H{"status": body})
}

// Emotions classifies the face in an uploaded image.
//
// Endpoint: POST /v1/emotions
// Content-Type: multipart/form-data
// Field: image
func (s *Server) Emotions(c *gin.Context) {
	ctx := c.Request.Context()
	reqID := logging.RequestID(ctx)
	log := logging.WithRequestID(ctx, s.log)

	file, err := c.FormFile("image")
	if err != nil {
		log.WithField("error", err.Error()).Warn("[server.Emotions] missing image field")
		c.JSON(http.StatusBadRequest, ErrorResponse{RequestID: reqID, Error: "image file is required"})
		return
	}
	if file.Size > imageio.MaxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{RequestID: reqID, Error: "image is too large"})
		return
	}

	f, err := file.Open()
	if err != nil {
		log.WithField("error", err.Error()).Error("[server.Emotions] failed to open upload")
		c.JSON(http.StatusInternalServerError, ErrorResponse{RequestID: reqID, Error: "failed to read image"})
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithField("error", err.Error()).Warn("[server.Emotions] failed to close upload")
		}
	}()

	img, err := imageio.Decode(f)
	if err != nil {
		log.WithFields(logrus.Fields{
			"error":    err.Error(),
			"filename": file.Filename,
		}).Warn("[server.Emotions] failed to decode upload")

		status := http.StatusBadRequest
		if errors.Is(err, imageio.ErrNotImage) {
			status = http.StatusUnsupportedMediaType
		}
		c.JSON(status, ErrorResponse{RequestID: reqID, Error: err.Error()})
		return
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res := s.det.Detect(ctx, img.Image)
	body := NewEmotionResponse(reqID, res)
	body.Source = file.Filename
	c.JSON(StatusCode(res), body)
}
