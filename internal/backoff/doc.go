// Package backoff computes reconnect delays.
//
// Two policies are provided:
//   - Plateau: exponential for the first few attempts, then a fixed
//     ceiling forever, with 10-20% jitter. This is the default.
//   - Bounded: exponential up to a ceiling with 0-1s jitter, giving up
//     after a fixed number of attempts.
package backoff
