// Package clock abstracts timer scheduling so the reconnect, heartbeat,
// and retry timers can be driven deterministically in tests.
//
// Production code uses Real(). Tests use NewFake and move time forward
// with Advance; due callbacks run synchronously in the advancing
// goroutine, in deadline order.
package clock
