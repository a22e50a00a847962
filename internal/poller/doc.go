// Package poller implements the deployment-status polling lifecycle.
//
// A [Session] tracks one entity (a challenge, or a challenge and team pair).
// It fetches the entity's status, turns the answer into an [Outcome], and
// lets [Decide] choose what happens next: render and stop, or render and
// poll again after a delay. At most one poll timer and one in-flight request
// exist per session; every request is tagged with the session generation and
// results from a superseded generation are dropped.
//
// A running deployment with an expiration time also gets a countdown: a
// one-second ticker that reports the remaining time and, once it reaches
// zero, asks for one follow-up status fetch.
//
// All timing goes through [Clock], so the policy is testable without real
// timers.
package poller
