package traffic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/torosent/limitprobe/internal/contract"
	"github.com/torosent/limitprobe/internal/metrics"
	"github.com/torosent/limitprobe/internal/runner"
	"github.com/torosent/limitprobe/internal/tracing"
)

const (
	// maxBodyBytes bounds how much of a response body is read for the
	// optional body check; the remainder is discarded.
	maxBodyBytes = 64 << 10
	// maxDrainBytes bounds how much is discarded to keep the connection
	// reusable.
	maxDrainBytes = 1 << 20

	DefaultTimeout = 10 * time.Second
)

// Options configure a Client.
type Options struct {
	Target string
	Method string
	// Headers are sent on every request.
	Headers http.Header
	// ClientHeader, when set, carries a per-worker client identity of the
	// form "<ClientPrefix>-<worker>" so the limiter sees distinct clients.
	ClientHeader string
	ClientPrefix string
	Timeout      time.Duration

	Names    contract.HeaderNames
	BodyPath string

	Collector  *metrics.Collector
	Tracer     trace.Tracer
	Propagate  bool
	Logger     *zap.Logger
	HTTPClient *http.Client
	// Now drives the classifier's clock; defaults to time.Now.
	Now func() time.Time
}

// Client issues one GET per call against the target and records the
// classified result.
type Client struct {
	method       string
	target       string
	headers      http.Header
	clientHeader string
	clientPrefix string

	http       *http.Client
	classifier *contract.Classifier
	collector  *metrics.Collector
	tracer     trace.Tracer
	propagate  bool
	log        *zap.Logger
}

// NewHTTPClient returns an http.Client tuned for sustained load against a
// single host.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   128,
		MaxConnsPerHost:       0,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		// The limiter's own responses are under test; redirects are not followed.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// NewClient validates opt and builds a Client.
func NewClient(opt Options) (*Client, error) {
	target := strings.TrimSpace(opt.Target)
	if target == "" {
		return nil, errors.New("target URL is required")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("target URL must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("target URL %q has no host", target)
	}

	method := strings.ToUpper(strings.TrimSpace(opt.Method))
	if method == "" {
		method = http.MethodGet
	}

	headers := http.Header{}
	for key, values := range opt.Headers {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" || strings.ContainsAny(trimmed, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		for _, v := range values {
			if strings.ContainsAny(v, "\r\n") {
				return nil, fmt.Errorf("invalid header value for %s", http.CanonicalHeaderKey(trimmed))
			}
			headers.Add(trimmed, v)
		}
	}

	classifier := contract.NewClassifier(opt.Names)
	classifier.BodyPath = strings.TrimSpace(opt.BodyPath)
	if opt.Now != nil {
		classifier.Now = opt.Now
	}

	c := &Client{
		method:       method,
		target:       u.String(),
		headers:      headers,
		clientHeader: strings.TrimSpace(opt.ClientHeader),
		clientPrefix: strings.TrimSpace(opt.ClientPrefix),
		http:         opt.HTTPClient,
		classifier:   classifier,
		collector:    opt.Collector,
		tracer:       opt.Tracer,
		propagate:    opt.Propagate,
		log:          opt.Logger,
	}
	if c.http == nil {
		c.http = NewHTTPClient(opt.Timeout)
	}
	if c.collector == nil {
		c.collector = metrics.NewCollector()
	}
	if c.tracer == nil {
		c.tracer = noop.NewTracerProvider().Tracer("limitprobe")
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.clientPrefix == "" {
		c.clientPrefix = "client"
	}
	return c, nil
}

// Target returns the normalized target URL.
func (c *Client) Target() string {
	return c.target
}

// Collector returns the collector outcomes are recorded into.
func (c *Client) Collector() *metrics.Collector {
	return c.collector
}

// Fire issues one request, classifies it and records it. It returns false
// when the request was torn down by its context before a response was
// classified, or when the scenario wrote it off as abandoned while it was in
// flight; such requests are counted as abandoned, never as outcomes.
func (c *Client) Fire(ctx context.Context) (contract.Outcome, bool) {
	scenario := runner.ScenarioName(ctx)
	ctx, span := tracing.StartRequestSpan(ctx, c.tracer, c.method, scenario, c.target)
	pending := c.collector.Begin(scenario)

	req, err := c.newRequest(ctx)
	if err != nil {
		out := c.classifier.ClassifyError(err, 0)
		return out, c.record(pending, scenario, span, out)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			c.abandon(ctx, pending, span)
			return contract.Outcome{}, false
		}
		out := c.classifier.ClassifyError(err, time.Since(start))
		return out, c.record(pending, scenario, span, out)
	}

	body, readErr := c.readBody(resp)
	latency := time.Since(start)
	if readErr != nil && ctx.Err() != nil {
		c.abandon(ctx, pending, span)
		return contract.Outcome{}, false
	}

	out := c.classifier.Classify(resp, body, latency)
	return out, c.record(pending, scenario, span, out)
}

// Do implements runner.Requester. Blocked responses are expected and are not
// errors; contract violations are.
func (c *Client) Do(ctx context.Context) error {
	out, ok := c.Fire(ctx)
	if !ok {
		return context.Cause(ctx)
	}
	return out.Error()
}

func (c *Client) newRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, c.method, c.target, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range c.headers {
		req.Header[key] = append([]string(nil), values...)
	}
	if c.clientHeader != "" {
		if id, ok := runner.WorkerID(ctx); ok {
			req.Header.Set(c.clientHeader, c.clientPrefix+"-"+strconv.Itoa(id))
		}
	}
	if c.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}
	return req, nil
}

// readBody returns the first maxBodyBytes of the body when a body check is
// configured and discards the rest so the connection can be reused.
func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	var body []byte
	if c.classifier.BodyPath != "" {
		var err error
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return body, err
		}
	}
	_, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	return body, err
}

// record counts out and ends the span. It reports false when the request had
// already been written off as abandoned.
func (c *Client) record(pending *metrics.Pending, scenario string, span trace.Span, out contract.Outcome) bool {
	if !pending.Record(out) {
		tracing.EndSpan(span, runner.ErrGraceExpired, tracing.AttrOutcome.String("abandoned"))
		return false
	}

	attrs := []attribute.KeyValue{tracing.AttrOutcome.String(out.Kind.String())}
	if out.StatusCode != 0 {
		attrs = append(attrs, tracing.AttrStatusCode.Int(out.StatusCode))
	}
	if out.Flagged() {
		names := make([]string, len(out.Violations))
		for i, v := range out.Violations {
			names[i] = string(v)
		}
		attrs = append(attrs, tracing.AttrViolations.StringSlice(names))
		c.log.Debug("contract violation",
			zap.String("scenario", scenario),
			zap.Int("status", out.StatusCode),
			zap.Strings("violations", names),
			zap.Error(out.Err),
		)
	}
	tracing.EndSpan(span, out.Error(), attrs...)
	return true
}

func (c *Client) abandon(ctx context.Context, pending *metrics.Pending, span trace.Span) {
	pending.Abandon()
	tracing.EndSpan(span, context.Cause(ctx), tracing.AttrOutcome.String("abandoned"))
}

// Preflight checks that the target answers at all, retrying with exponential
// backoff for up to maxElapsed. Any HTTP response counts as reachable. The
// probe is not recorded.
func (c *Client) Preflight(ctx context.Context, maxElapsed time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = maxElapsed
	bo.Reset()

	for attempt := 1; ; attempt++ {
		err := c.ping(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return fmt.Errorf("preflight %s: %w", c.target, permanent.Err)
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("target %s unreachable after %d attempts: %w", c.target, attempt, err)
		}
		c.log.Warn("target not reachable yet, retrying",
			zap.String("target", c.target),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (c *Client) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, c.method, c.target, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	for key, values := range c.headers {
		req.Header[key] = append([]string(nil), values...)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	return resp.Body.Close()
}
