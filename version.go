package streamstore

import "fmt"

const (
	expectedAny      int64 = -2
	expectedNoStream int64 = -1
)

// ExpectedVersion is the optimistic concurrency precondition asserted when
// appending to a stream. Construct values with Any, NoStream or Exact.
type ExpectedVersion struct {
	v int64
}

// Any disables the concurrency check for an append.
func Any() ExpectedVersion { return ExpectedVersion{v: expectedAny} }

// NoStream asserts that the stream does not exist yet.
func NoStream() ExpectedVersion { return ExpectedVersion{v: expectedNoStream} }

// Exact asserts that the stream is currently at exactly version v.
// Version counts appended events, so Exact(0) behaves like NoStream for
// streams that were never written to.
func Exact(v int64) ExpectedVersion {
	if v < 0 {
		v = expectedNoStream
	}

	return ExpectedVersion{v: v}
}

// IsAny reports whether the precondition is disabled.
func (e ExpectedVersion) IsAny() bool { return e.v == expectedAny }

// IsNoStream reports whether the precondition requires an absent stream.
func (e ExpectedVersion) IsNoStream() bool { return e.v == expectedNoStream }

// Version returns the asserted exact version and whether one was set.
func (e ExpectedVersion) Version() (int64, bool) {
	if e.v < 0 {
		return 0, false
	}

	return e.v, true
}

func (e ExpectedVersion) String() string {
	switch {
	case e.IsAny():
		return "any"
	case e.IsNoStream():
		return "no-stream"
	default:
		return fmt.Sprintf("%d", e.v)
	}
}

const (
	startOrigin  int64 = -2
	startCurrent int64 = -1
)

// StartFrom indicates where a durable subscription begins delivering when no
// acknowledged position exists yet. Construct values with Origin, Current or
// Position.
type StartFrom struct {
	p int64
}

// Origin replays the entire history before going live.
func Origin() StartFrom { return StartFrom{p: startOrigin} }

// Current skips history and goes live from the tail at subscribe time.
func Current() StartFrom { return StartFrom{p: startCurrent} }

// Position starts delivery strictly after the given global position.
func Position(p uint64) StartFrom { return StartFrom{p: int64(p)} }

func (s StartFrom) isOrigin() bool  { return s.p == startOrigin }
func (s StartFrom) isCurrent() bool { return s.p == startCurrent }

func (s StartFrom) position() (uint64, bool) {
	if s.p < 0 {
		return 0, false
	}

	return uint64(s.p), true
}
