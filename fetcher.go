package pulsesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/pulsesync/internal/transport"
)

const defaultFetchTimeout = 10 * time.Second

// sharedClient pools connections across every HTTPFetcher in the process.
var sharedClient = transport.NewClient()

type correlationKey struct{}

// WithCorrelationID returns a context carrying the correlation ID used by
// [HTTPFetcher] in request headers and error messages.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation ID stored in ctx, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Envelope describes a response wrapper of the form
// {"status": "success", ...} / {"status": "error", "message": "..."}.
type Envelope struct {
	// StatusField names the top-level field holding the outcome.
	StatusField string

	// SuccessValue is the value StatusField holds on success.
	SuccessValue string

	// MessageField names the top-level field holding the failure message.
	MessageField string
}

// Transform post-processes a decoded snapshot, e.g. to derive totals that
// the equality fields can address. An error is reported as [ErrBadResponse].
type Transform func(Snapshot) (Snapshot, error)

// HTTPFetcher is a [Fetcher] that GETs (or POSTs) a JSON resource and
// decodes it into a [Snapshot].
//
// Params are sent as query parameters. Transport failures and timeouts
// wrap [ErrNetwork]; non-2xx statuses, bodies over 1MB, invalid JSON and
// error envelopes wrap [ErrBadResponse]. A top-level JSON array is wrapped
// as {"items": [...], "count": n} so list resources can be diffed too.
//
// HTTPFetcher is immutable after creation via [NewHTTPFetcher].
type HTTPFetcher struct {
	url       string
	method    string
	headers   map[string]string
	timeout   time.Duration
	envelope  *Envelope
	dataPath  string
	required  []string
	numeric   []string
	transform Transform
	client    *transport.Client
}

// NewHTTPFetcher creates an [HTTPFetcher] for rawURL.
//
// rawURL must be absolute with an http or https scheme. Options are applied
// in order; see [WithHeaders], [WithTimeout], [WithMethod], [WithEnvelope],
// [WithDataPath], [WithRequiredParams], [WithNumericParams] and [WithTransform].
//
// Example:
//
//	f, err := pulsesync.NewHTTPFetcher("http://localhost:8000/api/traffic/",
//	    pulsesync.WithEnvelope("status", "success", "message"),
//	    pulsesync.WithNumericParams("lat", "lon"),
//	)
func NewHTTPFetcher(rawURL string, opts ...FetcherOption) (*HTTPFetcher, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.New("invalid URL: " + err.Error())
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, errors.New("URL must have a scheme (http:// or https://)")
	}
	if parsedURL.Host == "" {
		return nil, errors.New("URL must have a host")
	}

	cfg := &fetcherConfig{
		headers: make(map[string]string),
		timeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return &HTTPFetcher{
		url:       rawURL,
		method:    cfg.method,
		headers:   cfg.headers,
		timeout:   cfg.timeout,
		envelope:  cfg.envelope,
		dataPath:  cfg.dataPath,
		required:  cfg.required,
		numeric:   cfg.numeric,
		transform: cfg.transform,
		client:    sharedClient,
	}, nil
}

// URL returns the fetcher's target URL without params.
func (f *HTTPFetcher) URL() string {
	return f.url
}

// Timeout returns the per-request timeout. Defaults to 10 seconds.
func (f *HTTPFetcher) Timeout() time.Duration {
	return f.timeout
}

// Headers returns a copy of the custom HTTP headers.
func (f *HTTPFetcher) Headers() map[string]string {
	return copyMap(f.headers)
}

// ValidateParams implements [ParamsValidator]. It rejects params missing a
// required key and params whose numeric keys do not parse as finite numbers.
func (f *HTTPFetcher) ValidateParams(params Params) error {
	for _, key := range f.required {
		if _, ok := params[key]; !ok {
			return fmt.Errorf("missing required param %q", key)
		}
	}
	for _, key := range f.numeric {
		v, ok := params[key]
		if !ok {
			continue
		}
		if _, isNum := asNumber(v); !isNum {
			return fmt.Errorf("param %q must be numeric, got %q", key, v)
		}
	}
	return nil
}

// Fetch implements [Fetcher].
func (f *HTTPFetcher) Fetch(ctx context.Context, params Params) (Snapshot, error) {
	id := CorrelationID(ctx)
	if id == "" {
		id = uuid.NewString()
	}

	headers := make(map[string]string, len(f.headers)+1)
	headers["X-Request-ID"] = id
	for k, v := range f.headers {
		headers[k] = v
	}

	query := make(url.Values, len(params))
	for k, v := range params {
		query.Set(k, v)
	}

	resp := f.client.Do(ctx, transport.Request{
		Method:  f.method,
		URL:     f.url,
		Query:   query,
		Headers: headers,
		Timeout: f.timeout,
	})

	switch {
	case errors.Is(resp.Error, transport.ErrBodyTooLarge):
		return nil, fmt.Errorf("%w: %w (correlation_id: %s)", ErrBadResponse, resp.Error, id)
	case resp.Error != nil:
		return nil, fmt.Errorf("%w: %w (correlation_id: %s)", ErrNetwork, resp.Error, id)
	case !resp.OK():
		msg := f.envelopeMessage(resp.Body)
		if msg != "" {
			return nil, fmt.Errorf("%w: status %d: %s (correlation_id: %s)", ErrBadResponse, resp.StatusCode, msg, id)
		}
		return nil, fmt.Errorf("%w: status %d (correlation_id: %s)", ErrBadResponse, resp.StatusCode, id)
	}

	snap, err := f.decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w (correlation_id: %s)", ErrBadResponse, err, id)
	}
	return snap, nil
}

// decode turns a 2xx body into a snapshot: unwrap the envelope, select the
// data path and run the transform.
func (f *HTTPFetcher) decode(body []byte) (Snapshot, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var snap Snapshot
	switch v := raw.(type) {
	case map[string]any:
		snap = Snapshot(v)
	case []any:
		snap = Snapshot{"items": v, "count": float64(len(v))}
	default:
		return nil, fmt.Errorf("expected JSON object or array, got %T", raw)
	}

	if f.envelope != nil {
		status := snap.String(f.envelope.StatusField)
		if status != f.envelope.SuccessValue {
			msg := snap.String(f.envelope.MessageField)
			if msg == "" {
				msg = "no message"
			}
			return nil, fmt.Errorf("%s %q: %s", f.envelope.StatusField, status, msg)
		}
	}

	if f.dataPath != "" {
		v, ok := snap.Lookup(f.dataPath)
		if !ok {
			return nil, fmt.Errorf("data path %q not found", f.dataPath)
		}
		switch t := v.(type) {
		case map[string]any:
			snap = Snapshot(t)
		case []any:
			snap = Snapshot{"items": t, "count": float64(len(t))}
		default:
			return nil, fmt.Errorf("data path %q is not an object or array", f.dataPath)
		}
	}

	if f.transform != nil {
		out, err := f.transform(snap)
		if err != nil {
			return nil, fmt.Errorf("transform: %w", err)
		}
		if out == nil {
			return nil, errors.New("transform returned nil snapshot")
		}
		snap = out
	}

	return snap, nil
}

// envelopeMessage extracts the failure message from a non-2xx body, if the
// fetcher has an envelope and the body carries one.
func (f *HTTPFetcher) envelopeMessage(body []byte) string {
	if f.envelope == nil || len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}
	return Snapshot(obj).String(f.envelope.MessageField)
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
