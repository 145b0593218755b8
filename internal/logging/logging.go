// Package logging builds the process logger shared by the CLI and the server.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

type ctxKey struct{}

// RequestIDKey is the field name carrying the request id
const RequestIDKey = "request_id"

type Fields = logrus.Fields

// Options controls where and how verbosely the logger writes
type Options struct {
	Level    string
	File     string // empty disables the rotating file sink
	NoColors bool
	Output   io.Writer // defaults to stderr
}

// New builds a logger from opts. The file sink is skipped when APP_ENV=test.
func New(opts Options) (*logrus.Logger, error) {
	l := logrus.New()

	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	l.SetLevel(level)

	l.SetFormatter(&formatter.Formatter{
		NoColors:        opts.NoColors,
		TimestampFormat: "02 Jan 06 - 15:04:05",
		HideKeys:        false,
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			if opts.NoColors {
				return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
			}
			return fmt.Sprintf(" \x1b[%dm[%s:%d][%s()]", 34, path.Base(f.File), f.Line, funcName)
		},
	})

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	writers := []io.Writer{out}

	if opts.File != "" && os.Getenv("APP_ENV") != "test" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}

	l.SetOutput(io.MultiWriter(writers...))
	l.SetReportCaller(true)
	return l, nil
}

// Init installs the process logger once. Later calls return the first logger.
func Init(opts Options) (*logrus.Logger, error) {
	var err error
	once.Do(func() {
		logger, err = New(opts)
	})
	if err != nil {
		return nil, err
	}
	return Default(), nil
}

// Default returns the process logger, falling back to stderr at info level
func Default() *logrus.Logger {
	once.Do(func() {
		logger, _ = New(Options{})
	})
	return logger
}

// NewRequestID returns a fresh request id
func NewRequestID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return "unknown"
	}
	return id.String()
}

// ContextWithRequestID stores id on ctx
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID returns the id stored on ctx, if any
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithRequestID scopes l to the request id carried by ctx
func WithRequestID(ctx context.Context, l logrus.FieldLogger) *logrus.Entry {
	if l == nil {
		l = Default()
	}
	requestID := RequestID(ctx)
	if requestID == "" {
		requestID = "unknown"
	}
	return l.WithField(RequestIDKey, requestID)
}
