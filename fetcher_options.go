package pulsesync

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// fetcherConfig holds mutable state during fetcher construction.
type fetcherConfig struct {
	headers   map[string]string
	timeout   time.Duration
	method    string
	envelope  *Envelope
	dataPath  string
	required  []string
	numeric   []string
	transform Transform
}

// FetcherOption configures an [HTTPFetcher] during construction.
//
// Options return an error if validation fails.
type FetcherOption func(*fetcherConfig) error

// WithHeaders adds custom HTTP headers to every request.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
//
// Example:
//
//	f, err := pulsesync.NewHTTPFetcher(url,
//	    pulsesync.WithHeaders("Authorization", "Bearer token123"),
//	)
func WithHeaders(keyValues ...string) FetcherOption {
	return func(cfg *fetcherConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithTimeout sets the per-request timeout. A request that does not finish
// in time fails with [ErrNetwork]. Defaults to 10 seconds.
func WithTimeout(d time.Duration) FetcherOption {
	return func(cfg *fetcherConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithMethod sets the HTTP method. GET (default) and POST are supported.
func WithMethod(method string) FetcherOption {
	return func(cfg *fetcherConfig) error {
		switch method {
		case http.MethodGet, http.MethodPost:
			cfg.method = method
			return nil
		default:
			return errors.New("method must be GET or POST")
		}
	}
}

// WithEnvelope makes the fetcher treat responses whose statusField is not
// successValue as failures, reporting the text in messageField.
//
// Example:
//
//	pulsesync.WithEnvelope("status", "success", "message")
func WithEnvelope(statusField, successValue, messageField string) FetcherOption {
	return func(cfg *fetcherConfig) error {
		if statusField == "" || successValue == "" {
			return errors.New("envelope status field and success value are required")
		}
		cfg.envelope = &Envelope{
			StatusField:  statusField,
			SuccessValue: successValue,
			MessageField: messageField,
		}
		return nil
	}
}

// WithDataPath selects a nested object (or array) of the response as the
// snapshot, e.g. "data" for {"data": {...}, "meta": {...}}.
func WithDataPath(path string) FetcherOption {
	return func(cfg *fetcherConfig) error {
		if strings.TrimSpace(path) == "" {
			return errors.New("data path cannot be empty")
		}
		cfg.dataPath = path
		return nil
	}
}

// WithRequiredParams lists params that must be present for Configure to
// accept them.
func WithRequiredParams(keys ...string) FetcherOption {
	return func(cfg *fetcherConfig) error {
		cfg.required = append(cfg.required, keys...)
		return nil
	}
}

// WithNumericParams lists params that must parse as finite numbers when
// present, e.g. "lat" and "lon".
func WithNumericParams(keys ...string) FetcherOption {
	return func(cfg *fetcherConfig) error {
		cfg.numeric = append(cfg.numeric, keys...)
		return nil
	}
}

// WithTransform sets a post-processing step applied to every decoded snapshot.
func WithTransform(t Transform) FetcherOption {
	return func(cfg *fetcherConfig) error {
		if t == nil {
			return errors.New("transform cannot be nil")
		}
		cfg.transform = t
		return nil
	}
}
