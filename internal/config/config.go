// Package config holds runtime settings for the CLI and the HTTP server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "MOODFACE_"

// Config is the full set of runtime settings
type Config struct {
	Localizer      string `validate:"oneof=blazeface yunet pigo"`
	LocalizerModel string `validate:"required"`
	PuplocCascade  string

	Classifier       string `validate:"oneof=onnx remote"`
	ClassifierModel  string `validate:"required_if=Classifier onnx"`
	ClassifierInput  string `validate:"required_if=Classifier onnx"`
	ClassifierOutput string `validate:"required_if=Classifier onnx"`
	Softmax          bool

	RemoteURL     string        `validate:"required_if=Classifier remote"`
	RemoteTimeout time.Duration `validate:"gte=0"`

	ORTLibrary string
	CoreML     bool
	Threads    int `validate:"gte=0"`

	Margin    float64 `validate:"gte=0"`
	Threshold float64 `validate:"gte=0,lt=100"`

	LogLevel string `validate:"oneof=trace debug info warn warning error"`
	LogFile  string

	Addr           string        `validate:"required,hostname_port"`
	RequestTimeout time.Duration `validate:"gte=0"`
}

// Default returns the settings used when nothing is configured
func Default() Config {
	return Config{
		Localizer:        "blazeface",
		LocalizerModel:   "models/face_detection_front.onnx",
		Classifier:       "onnx",
		ClassifierModel:  "models/emotion.onnx",
		ClassifierInput:  "input",
		ClassifierOutput: "output",
		RemoteTimeout:    10 * time.Second,
		Margin:           5,
		Threshold:        0.0001,
		LogLevel:         "info",
		Addr:             "127.0.0.1:8080",
		RequestTimeout:   30 * time.Second,
	}
}

// Load reads envFile (".env" when empty, skipped if absent) and applies
// MOODFACE_* variables on top of the defaults. Existing process variables win
// over the file.
func Load(envFile string) (Config, error) {
	name := envFile
	if name == "" {
		name = ".env"
	}
	if err := godotenv.Load(name); err != nil {
		if envFile != "" || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", name, err)
		}
	}

	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("LOCALIZER", &c.Localizer)
	str("LOCALIZER_MODEL", &c.LocalizerModel)
	str("PUPLOC_CASCADE", &c.PuplocCascade)
	str("CLASSIFIER", &c.Classifier)
	str("CLASSIFIER_MODEL", &c.ClassifierModel)
	str("CLASSIFIER_INPUT", &c.ClassifierInput)
	str("CLASSIFIER_OUTPUT", &c.ClassifierOutput)
	boolean("SOFTMAX", &c.Softmax)
	str("REMOTE_URL", &c.RemoteURL)
	duration("REMOTE_TIMEOUT", &c.RemoteTimeout)
	str("ORT_LIBRARY", &c.ORTLibrary)
	boolean("COREML", &c.CoreML)
	integer("THREADS", &c.Threads)
	float("MARGIN", &c.Margin)
	float("THRESHOLD", &c.Threshold)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FILE", &c.LogFile)
	str("ADDR", &c.Addr)
	duration("REQUEST_TIMEOUT", &c.RequestTimeout)

	return errors.Join(errs...)
}

var validate = validator.New()

// Validate checks field constraints
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Classifier == "remote" {
		u, err := url.Parse(c.RemoteURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("invalid config: RemoteURL must be a ws:// or wss:// URL, got %q", c.RemoteURL)
		}
	}
	return nil
}
