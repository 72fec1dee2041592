// Package transport sends JSON requests to the analysis service and maps
// failures onto *cover.APIError.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/julianshen/coverclient/pkg/cover"
)

const (
	// RequestIDHeader carries a unique id for every request.
	RequestIDHeader = "X-Request-ID"

	defaultTimeout   = 5 * time.Minute
	defaultUserAgent = "coverclient"
	maxErrorBodySize = 64 << 10 // 64 KB
)

// Options configures a Client.
type Options struct {
	// Timeout bounds a whole request, including reading the body.
	Timeout time.Duration
	// AllowUnauthorizedHTTPS disables TLS certificate verification.
	AllowUnauthorizedHTTPS bool
	// RequestsPerSecond limits the request rate; zero means unlimited.
	RequestsPerSecond float64
	UserAgent         string
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
	// HTTPClient replaces the client built from the options above.
	HTTPClient *http.Client
}

// Client performs requests against the service.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	tracer    trace.Tracer
}

// New creates a Client.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if opts.AllowUnauthorizedHTTPS {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed deployments
		}
		hc = &http.Client{Timeout: timeout, Transport: tr}
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Client{
		http:      hc,
		limiter:   limiter,
		userAgent: ua,
		tracer:    tp.Tracer("github.com/julianshen/coverclient/internal/transport"),
	}
}

// Get issues a GET request and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values, out any) error {
	if len(query) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return &cover.APIError{Code: cover.CodeRequestFailed, Message: fmt.Sprintf("parse url %q", rawURL), Err: err}
		}
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		rawURL = u.String()
	}
	return c.do(ctx, http.MethodGet, rawURL, "", nil, out)
}

// Post issues a POST request with the given body and decodes the JSON
// response into out. A nil body sends an empty request.
func (c *Client) Post(ctx context.Context, rawURL, contentType string, body io.Reader, out any) error {
	return c.do(ctx, http.MethodPost, rawURL, contentType, body, out)
}

func (c *Client) do(ctx context.Context, method, rawURL, contentType string, body io.Reader, out any) error {
	requestID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "cover.http "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", rawURL),
			attribute.String("cover.request_id", requestID),
		),
	)
	defer span.End()

	err := c.send(ctx, span, requestID, method, rawURL, contentType, body, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (c *Client) send(ctx context.Context, span trace.Span, requestID, method, rawURL, contentType string, body io.Reader, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &cover.APIError{Code: cover.CodeRequestFailed, Message: "rate limit wait", Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return &cover.APIError{Code: cover.CodeRequestFailed, Message: "create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(RequestIDHeader, requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &cover.APIError{Code: cover.CodeRequestFailed, Message: fmt.Sprintf("%s %s", method, rawURL), Err: err}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &cover.APIError{
			Code:    cover.CodeResponseInvalid,
			Message: fmt.Sprintf("decode response from %s", rawURL),
			Status:  resp.StatusCode,
			Err:     err,
		}
	}
	return nil
}

// errorFromResponse reads the service error body. The service answers
// failures with {"code": "...", "message": "..."}; anything else falls back
// to the HTTP status text.
func errorFromResponse(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	apiErr := &cover.APIError{Status: resp.StatusCode, Code: cover.CodeHTTPStatus}
	if err := json.Unmarshal(data, &body); err == nil && (body.Code != "" || body.Message != "") {
		if body.Code != "" {
			apiErr.Code = body.Code
		}
		apiErr.Message = body.Message
		return apiErr
	}
	apiErr.Message = http.StatusText(resp.StatusCode)
	return apiErr
}
