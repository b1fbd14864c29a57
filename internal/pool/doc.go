// Package pool multiplexes a bounded set of reusable asynchronous inference
// requests ("slots") for the load scenarios.
//
// A ClosedPool accumulates every response of a wave and hands them back in one
// Drain. An OpenPool reports each completed item to a Sink as soon as it ends.
// In both, AcquireIdle is the only point where an issuer blocks, and the first
// backend or post-processing failure is recorded as a sticky SlotFault that
// every later acquire or wait returns until Reset.
//
// Completion callbacks run on goroutines owned by the backend. They touch pool
// state only under the pool mutex; the Sink is always called without it.
package pool
