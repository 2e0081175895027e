// Package eventloop provides a single-goroutine task loop.
//
// Every task posted to a Loop runs on the loop goroutine, one at a time,
// in posting order. Timers created with AfterFunc deliver their callback
// as a task, so state touched only from tasks needs no locking.
package eventloop
