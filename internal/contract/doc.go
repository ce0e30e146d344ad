// Package contract encodes the response contract of the rate limiter under test.
//
// Every response must be either 200 (allowed) or 429 (blocked), carry a
// remaining-quota header, and, when blocked, a retry hint. The hint is
// either delta-seconds or an HTTP-date; [ParseRetryAfter] normalizes both
// into a wait in whole seconds and never fails.
//
// [Classifier.Classify] is a pure function of the response and the clock, so
// classification stays independent of how traffic is scheduled.
package contract
