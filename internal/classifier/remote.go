package classifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/dudu/moodface/internal/preprocess"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrClosed is returned by a classifier used after Close
var ErrClosed = errors.New("classifier is closed")

// RemoteConfig describes a websocket inference endpoint
type RemoteConfig struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	// PingInterval keeps idle connections alive; zero disables pings.
	PingInterval time.Duration
	Logger       logrus.FieldLogger
}

type predictRequest struct {
	ID    string    `json:"id"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type predictResponse struct {
	ID          string    `json:"id"`
	Predictions []float32 `json:"predictions"`
	Error       string    `json:"error,omitempty"`
}

// Remote sends tensors to an inference service over a websocket. One
// exchange runs at a time; a broken connection is redialled on next use.
type Remote struct {
	cfg    RemoteConfig
	dialer *websocket.Dialer
	log    logrus.FieldLogger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	stop   chan struct{}
	done   sync.WaitGroup
}

// NewRemote dials the service and starts the keep-alive loop
func NewRemote(ctx context.Context, cfg RemoteConfig) (*Remote, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote classifier URL is empty")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := &Remote{
		cfg:  cfg,
		log:  log,
		stop: make(chan struct{}),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}

	r.mu.Lock()
	err := r.connect(ctx)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if cfg.PingInterval > 0 {
		r.done.Add(1)
		go r.keepAlive()
	}

	return r, nil
}

// Ready reports whether the classifier can accept requests
func (r *Remote) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// connect dials a fresh connection. Callers hold r.mu.
func (r *Remote) connect(ctx context.Context) error {
	conn, _, err := r.dialer.DialContext(ctx, r.cfg.URL, r.cfg.Header)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", r.cfg.URL, err)
	}

	conn.SetPongHandler(func(string) error {
		r.log.Debug("[classifier.Remote] pong received")
		return nil
	})

	r.conn = conn
	r.log.WithField("url", r.cfg.URL).Info("[classifier.Remote] connected")
	return nil
}

// dropConn discards a connection after a failed exchange. Callers hold r.mu.
func (r *Remote) dropConn() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// Predict sends the tensor and waits for the matching response
func (r *Remote) Predict(ctx context.Context, input preprocess.Tensor) ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if r.conn == nil {
		if err := r.connect(ctx); err != nil {
			return nil, err
		}
	}

	deadline, _ := ctx.Deadline()
	if err := r.conn.SetWriteDeadline(deadline); err != nil {
		r.dropConn()
		return nil, fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := r.conn.SetReadDeadline(deadline); err != nil {
		r.dropConn()
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	req := predictRequest{
		ID:    uuid.NewString(),
		Shape: input.Shape[:],
		Data:  input.Data,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	if err := r.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		r.dropConn()
		return nil, fmt.Errorf("failed to send tensor: %w", err)
	}

	for {
		_, msg, err := r.conn.ReadMessage()
		if err != nil {
			r.dropConn()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				return nil, context.DeadlineExceeded
			}
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		var resp predictResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			r.dropConn()
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}

		if resp.ID != req.ID {
			// Late reply to an exchange that already gave up
			r.log.WithFields(logrus.Fields{"want": req.ID, "got": resp.ID}).
				Warn("[classifier.Remote] discarding stale response")
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("remote inference failed: %s", resp.Error)
		}
		return resp.Predictions, nil
	}
}

// keepAlive pings idle connections until Close
func (r *Remote) keepAlive() {
	defer r.done.Done()

	ticker := time.NewTicker(r.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			// A running exchange is traffic enough
			if !r.mu.TryLock() {
				continue
			}
			if r.conn != nil {
				deadline := time.Now().Add(r.cfg.PingInterval / 2)
				if err := r.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					r.log.WithField("error", err).Warn("[classifier.Remote] ping failed, dropping connection")
					r.dropConn()
				}
			}
			r.mu.Unlock()
		}
	}
}

// Close stops the keep-alive loop and closes the connection
func (r *Remote) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.stop)

	var err error
	if r.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = r.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = r.conn.Close()
		r.conn = nil
	}
	r.mu.Unlock()

	r.done.Wait()
	return err
}
