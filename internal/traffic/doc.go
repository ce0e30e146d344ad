// Package traffic implements the traffic functions run by scenarios.
//
// [Client] sends one GET to the target, classifies the response against the
// rate-limit contract and records it. [Sustained] adds a pacing delay after
// each request. [BoundaryProber] probes for the retry hint, sleeps until the
// window should reset and then fires a small concurrent batch to observe the
// transition.
package traffic
