package aggregate

import "time"

// Event represents a domain event
type Event struct {
	ID         string
	E          any
	OccurredOn time.Time

	CorrelationID string
	CausationID   string
	Meta          []byte
}
