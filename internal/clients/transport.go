// internal/clients/transport.go
package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"librarylink/internal/apierr"
)

const instrumentationName = "librarylink/clients"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrEmptyBaseURL is returned when a client is built without a base URL.
	ErrEmptyBaseURL = errors.New("base url must not be empty")

	// ErrNilHTTPClient is returned when a nil http.Client is provided to WithHTTPClient.
	ErrNilHTTPClient = errors.New("http client must not be nil")

	// ErrNilLogger is returned when a nil logger is provided to WithLogger.
	ErrNilLogger = errors.New("logger must not be nil")
)

// Option configures a client using the functional options pattern.
type Option func(*transport) error

// WithHTTPClient sets the http.Client used for every request. Its Timeout is
// the only request timeout; the zero value leaves the transport default.
func WithHTTPClient(c *http.Client) Option {
	return func(t *transport) error {
		if c == nil {
			return ErrNilHTTPClient
		}
		t.httpClient = c
		return nil
	}
}

// WithLogger sets the logger for per-request debug lines.
func WithLogger(l *slog.Logger) Option {
	return func(t *transport) error {
		if l == nil {
			return ErrNilLogger
		}
		t.logger = l
		return nil
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *transport) error {
		t.tracer = tp.Tracer(instrumentationName)
		return nil
	}
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(t *transport) error {
		t.meter = mp.Meter(instrumentationName)
		return nil
	}
}

// transport issues single-attempt JSON requests against the library service
// and turns failures into *apierr.Error values.
type transport struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	calls      metric.Int64Counter
}

func newTransport(baseURL string, opts ...Option) (*transport, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrEmptyBaseURL
	}

	t := &transport{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		logger:     slog.New(slog.DiscardHandler),
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}

	calls, err := t.meter.Int64Counter("librarylink.client.calls",
		metric.WithDescription("Library service calls by operation and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create call counter: %w", err)
	}
	t.calls = calls

	return t, nil
}

// call describes one request.
type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   interface{}
	attrs  []attribute.KeyValue
}

type response struct {
	status int
	body   []byte
}

func (r *response) ok() bool { return r.status >= 200 && r.status < 300 }

// empty reports whether the body carries nothing but whitespace.
func (r *response) empty() bool { return len(bytes.TrimSpace(r.body)) == 0 }

func (r *response) decode(op string, v interface{}) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return apierr.Decode(op, err)
	}
	return nil
}

// message extracts the server's explanation of a failure: a JSON "message"
// or "error" field, else the raw body text, else the status text.
func (r *response) message() string {
	var parsed struct {
		Message string              `json:"message"`
		Error   jsoniter.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(r.body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if msg := errorFieldMessage(parsed.Error); msg != "" {
			return msg
		}
	}
	if text := strings.TrimSpace(string(r.body)); text != "" && !strings.HasPrefix(text, "{") {
		return text
	}
	return http.StatusText(r.status)
}

// errorFieldMessage reads "error" as either a string or {"message": ...}.
func errorFieldMessage(raw jsoniter.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Message
	}
	return ""
}

// statusError maps a non-2xx response to NotFound or ServerError.
func statusError(op string, r *response) error {
	if r.status == http.StatusNotFound {
		return apierr.NotFound(op, r.status, r.message())
	}
	return apierr.Server(op, r.status, r.message())
}

// exec performs c once and hands the response to handle. Transport failures
// become NetworkError; handle decides what a status means.
func (t *transport) exec(ctx context.Context, c call, handle func(*response) error) (err error) {
	ctx, span := t.tracer.Start(ctx, "clients."+c.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("http.request.method", c.method),
			attribute.String("url.path", c.path),
		}, c.attrs...)...),
	)
	defer func() { t.finish(ctx, span, c.op, err) }()

	req, err := t.newRequest(ctx, c)
	if err != nil {
		return apierr.Network(c.op, err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return apierr.Network(c.op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apierr.Network(c.op, fmt.Errorf("read response body: %w", err))
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	t.logger.DebugContext(ctx, "library service call",
		"op", c.op,
		"method", c.method,
		"path", c.path,
		"status", resp.StatusCode,
	)

	return handle(&response{status: resp.StatusCode, body: body})
}

func (t *transport) newRequest(ctx context.Context, c call) (*http.Request, error) {
	target := t.baseURL + c.path
	if len(c.query) > 0 {
		target += "?" + c.query.Encode()
	}

	var body io.Reader
	if c.body != nil {
		payload, err := json.Marshal(c.body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, target, body)
	if err != nil {
		return nil, err
	}
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (t *transport) finish(ctx context.Context, span trace.Span, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apierr.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("librarylink.outcome", outcome))
	span.End()

	t.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

// segment escapes one path segment.
func segment(s string) string { return url.PathEscape(s) }
