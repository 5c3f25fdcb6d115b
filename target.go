package streamstore

// Target designates what a subscription follows: a single stream or the
// whole log. The all-streams variant is a distinct value, not a reserved
// stream name, so it can never collide with an application stream id.
type Target struct {
	all    bool
	stream string
}

// AllStreams targets every stream in position order.
func AllStreams() Target { return Target{all: true} }

// Stream targets a single stream by id.
func Stream(id string) Target { return Target{stream: id} }

// IsAll reports whether the target covers the whole log.
func (t Target) IsAll() bool { return t.all }

// StreamID returns the targeted stream id; empty for the all-streams target.
func (t Target) StreamID() string { return t.stream }

func (t Target) String() string {
	if t.all {
		return "$all"
	}

	return t.stream
}

func (t Target) matches(streamID string) bool {
	return t.all || t.stream == streamID
}
