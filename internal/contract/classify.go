package contract

import (
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Classifier turns HTTP responses into Outcomes. The zero value is usable and
// checks the default header names against the wall clock.
type Classifier struct {
	Names HeaderNames
	// Now supplies the reference time for HTTP-date retry hints.
	Now func() time.Time
	// BodyPath, when set, is a gjson path that allowed responses must contain.
	BodyPath string
}

// NewClassifier creates a Classifier for the given header names.
func NewClassifier(names HeaderNames) *Classifier {
	return &Classifier{Names: names.withDefaults(), Now: time.Now}
}

func (c *Classifier) now() time.Time {
	if c == nil || c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// referenceTime anchors date-valued headers. The response's own Date header is
// preferred so the same response always classifies the same way; the clock is
// the fallback.
func (c *Classifier) referenceTime(resp *http.Response) time.Time {
	if raw, ok := LookupHeader(resp.Header, "Date"); ok {
		if t, err := http.ParseTime(raw); err == nil {
			return t
		}
	}
	return c.now()
}

func (c *Classifier) names() HeaderNames {
	if c == nil {
		return DefaultHeaderNames()
	}
	return c.Names.withDefaults()
}

// Classify evaluates a completed response. body may be nil when no body check
// is configured. A nil resp is treated as a transport failure.
//
// Rules, in order: the status must be 200 (allowed) or 429 (blocked), anything
// else is malformed; every response must carry the remaining-quota header; a
// blocked response must carry a non-empty retry hint header. HTTP-date hints
// are measured from the response's Date header when it has one.
func (c *Classifier) Classify(resp *http.Response, body []byte, latency time.Duration) Outcome {
	if resp == nil {
		return c.ClassifyError(nil, latency)
	}

	now := c.referenceTime(resp)
	names := c.names()
	out := Outcome{
		StatusCode: resp.StatusCode,
		Latency:    latency,
		Headers:    ParseHeaders(resp.Header, names, now),
	}

	switch resp.StatusCode {
	case http.StatusOK:
		out.Kind = KindAllowed
	case http.StatusTooManyRequests:
		out.Kind = KindBlocked
	default:
		out.Kind = KindMalformed
		out.Violations = append(out.Violations, ViolationUnexpectedStatus)
	}

	if !out.Headers.HasRemaining {
		out.Violations = append(out.Violations, ViolationMissingRemaining)
	}

	if out.Kind == KindBlocked {
		if out.Headers.HasRetryAfter {
			out.RetryAfter = ParseRetryAfter(out.Headers.RetryAfter, now)
		} else {
			out.Violations = append(out.Violations, ViolationMissingRetryAfter)
		}
	}

	if out.Kind == KindAllowed && c != nil && strings.TrimSpace(c.BodyPath) != "" {
		if !gjson.ValidBytes(body) || !gjson.GetBytes(body, c.BodyPath).Exists() {
			out.Violations = append(out.Violations, ViolationMissingBodyField)
		}
	}

	return out
}

// ClassifyError records a request that produced no response at all.
func (c *Classifier) ClassifyError(err error, latency time.Duration) Outcome {
	return Outcome{
		Kind:       KindMalformed,
		Latency:    latency,
		Violations: []Violation{ViolationTransport},
		Err:        err,
	}
}
